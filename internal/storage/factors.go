package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/verdantis/emissary/internal/model"
)

const factorColumns = `uuid, level_1, level_2, level_3, level_4, scope, text, year,
	activity_uom, co2_equivalent_emissions, co2_equivalent_emissions_uom`

// FactorByUUID returns the emission factor with the given uuid, or
// ErrNotFound.
func (db *DB) FactorByUUID(ctx context.Context, uuid string) (model.EmissionFactor, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+factorColumns+` FROM emission_factors WHERE uuid = $1`, uuid)
	f, err := scanFactor(row)
	if err == pgx.ErrNoRows {
		return model.EmissionFactor{}, ErrNotFound
	}
	if err != nil {
		return model.EmissionFactor{}, fmt.Errorf("storage: factor by uuid: %w", err)
	}
	return f, nil
}

// Factors returns every emission factor matching the non-empty fields of the
// query.
func (db *DB) Factors(ctx context.Context, q model.FactorQuery) ([]model.EmissionFactor, error) {
	where, args := buildFactorWhereClause(q)
	rows, err := db.pool.Query(ctx,
		`SELECT `+factorColumns+` FROM emission_factors`+where+` ORDER BY uuid`, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query factors: %w", err)
	}
	defer rows.Close()

	var out []model.EmissionFactor
	for rows.Next() {
		f, err := scanFactor(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan factor: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ActivityFactorLookup maps a lookup category and activity key to the factor
// query curated for it, or ErrNotFound.
func (db *DB) ActivityFactorLookup(ctx context.Context, category, key string) (model.FactorQuery, error) {
	var q model.FactorQuery
	err := db.pool.QueryRow(ctx,
		`SELECT level_1, level_2, level_3, level_4, scope, text, activity_uom
		 FROM activity_factor_lookups WHERE category = $1 AND activity = $2`,
		category, key,
	).Scan(&q.Level1, &q.Level2, &q.Level3, &q.Level4, &q.Scope, &q.Text, &q.ActivityUOM)
	if err == pgx.ErrNoRows {
		return model.FactorQuery{}, ErrNotFound
	}
	if err != nil {
		return model.FactorQuery{}, fmt.Errorf("storage: activity factor lookup: %w", err)
	}
	return q, nil
}

// InsertFactor stores an emission factor. Used by seed tooling and tests.
func (db *DB) InsertFactor(ctx context.Context, f model.EmissionFactor) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO emission_factors (`+factorColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.UUID, f.Level1, f.Level2, f.Level3, f.Level4, f.Scope, f.Text, f.Year,
		f.ActivityUOM, f.CO2EquivalentEmissions, f.CO2EquivalentEmissionsUOM,
	)
	if err != nil {
		return fmt.Errorf("storage: insert factor: %w", err)
	}
	return nil
}

// InsertActivityFactorLookup stores a lookup-table row. Used by seed tooling
// and tests.
func (db *DB) InsertActivityFactorLookup(ctx context.Context, category, key string, q model.FactorQuery) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO activity_factor_lookups
		 (category, activity, level_1, level_2, level_3, level_4, scope, text, activity_uom)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		category, key, q.Level1, q.Level2, q.Level3, q.Level4, q.Scope, q.Text, q.ActivityUOM,
	)
	if err != nil {
		return fmt.Errorf("storage: insert activity factor lookup: %w", err)
	}
	return nil
}

func buildFactorWhereClause(q model.FactorQuery) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, col+" = $"+strconv.Itoa(len(args)))
	}
	add("uuid", q.UUID)
	add("level_1", q.Level1)
	add("level_2", q.Level2)
	add("level_3", q.Level3)
	add("level_4", q.Level4)
	add("scope", q.Scope)
	add("text", q.Text)
	add("year", q.Year)
	add("activity_uom", q.ActivityUOM)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanFactor(row pgx.Row) (model.EmissionFactor, error) {
	var f model.EmissionFactor
	err := row.Scan(
		&f.UUID, &f.Level1, &f.Level2, &f.Level3, &f.Level4, &f.Scope, &f.Text, &f.Year,
		&f.ActivityUOM, &f.CO2EquivalentEmissions, &f.CO2EquivalentEmissionsUOM,
	)
	return f, err
}

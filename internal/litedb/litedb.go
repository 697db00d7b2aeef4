// Package litedb is a single-file SQLite emission-factor catalog. It serves
// the same lookups as the Postgres repository so the processing pipeline can
// run offline, with a factor snapshot shipped next to the binary.
package litedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/verdantis/emissary/internal/model"
	"github.com/verdantis/emissary/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS emission_factors (
	uuid TEXT PRIMARY KEY,
	level_1 TEXT NOT NULL DEFAULT '',
	level_2 TEXT NOT NULL DEFAULT '',
	level_3 TEXT NOT NULL DEFAULT '',
	level_4 TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	year TEXT NOT NULL DEFAULT '',
	activity_uom TEXT NOT NULL DEFAULT '',
	co2_equivalent_emissions TEXT NOT NULL DEFAULT '',
	co2_equivalent_emissions_uom TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS activity_factor_lookups (
	category TEXT NOT NULL,
	activity TEXT NOT NULL,
	level_1 TEXT NOT NULL DEFAULT '',
	level_2 TEXT NOT NULL DEFAULT '',
	level_3 TEXT NOT NULL DEFAULT '',
	level_4 TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	activity_uom TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (category, activity)
);`

const factorColumns = `uuid, level_1, level_2, level_3, level_4, scope, text, year,
	activity_uom, co2_equivalent_emissions, co2_equivalent_emissions_uom`

// Catalog is a SQLite-backed factor catalog.
type Catalog struct {
	db *sql.DB
}

// Open opens or creates the catalog at path and ensures its schema.
func Open(ctx context.Context, path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("litedb: open %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("litedb: ensure schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// FactorByUUID returns the factor with the given uuid, or storage.ErrNotFound.
func (c *Catalog) FactorByUUID(ctx context.Context, uuid string) (model.EmissionFactor, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+factorColumns+` FROM emission_factors WHERE uuid = ?`, uuid)
	f, err := scanFactor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EmissionFactor{}, storage.ErrNotFound
	}
	if err != nil {
		return model.EmissionFactor{}, fmt.Errorf("litedb: factor by uuid: %w", err)
	}
	return f, nil
}

// Factors returns every factor matching the non-empty fields of the query.
func (c *Catalog) Factors(ctx context.Context, q model.FactorQuery) ([]model.EmissionFactor, error) {
	where, args := buildWhere(q)
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+factorColumns+` FROM emission_factors`+where+` ORDER BY uuid`, args...)
	if err != nil {
		return nil, fmt.Errorf("litedb: query factors: %w", err)
	}
	defer rows.Close()

	var out []model.EmissionFactor
	for rows.Next() {
		f, err := scanFactor(rows)
		if err != nil {
			return nil, fmt.Errorf("litedb: scan factor: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ActivityFactorLookup maps a lookup category and activity key to its curated
// factor query, or storage.ErrNotFound.
func (c *Catalog) ActivityFactorLookup(ctx context.Context, category, key string) (model.FactorQuery, error) {
	var q model.FactorQuery
	err := c.db.QueryRowContext(ctx,
		`SELECT level_1, level_2, level_3, level_4, scope, text, activity_uom
		 FROM activity_factor_lookups WHERE category = ? AND activity = ?`,
		category, key,
	).Scan(&q.Level1, &q.Level2, &q.Level3, &q.Level4, &q.Scope, &q.Text, &q.ActivityUOM)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FactorQuery{}, storage.ErrNotFound
	}
	if err != nil {
		return model.FactorQuery{}, fmt.Errorf("litedb: activity factor lookup: %w", err)
	}
	return q, nil
}

// InsertFactor stores an emission factor, used when building a snapshot.
func (c *Catalog) InsertFactor(ctx context.Context, f model.EmissionFactor) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO emission_factors (`+factorColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.UUID, f.Level1, f.Level2, f.Level3, f.Level4, f.Scope, f.Text, f.Year,
		f.ActivityUOM, f.CO2EquivalentEmissions, f.CO2EquivalentEmissionsUOM,
	)
	if err != nil {
		return fmt.Errorf("litedb: insert factor: %w", err)
	}
	return nil
}

// InsertActivityFactorLookup stores a lookup-table row.
func (c *Catalog) InsertActivityFactorLookup(ctx context.Context, category, key string, q model.FactorQuery) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO activity_factor_lookups
		 (category, activity, level_1, level_2, level_3, level_4, scope, text, activity_uom)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		category, key, q.Level1, q.Level2, q.Level3, q.Level4, q.Scope, q.Text, q.ActivityUOM,
	)
	if err != nil {
		return fmt.Errorf("litedb: insert activity factor lookup: %w", err)
	}
	return nil
}

func buildWhere(q model.FactorQuery) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, col+" = ?")
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

type scannable interface {
	Scan(dest ...any) error
}

func scanFactor(row scannable) (model.EmissionFactor, error) {
	var f model.EmissionFactor
	err := row.Scan(
		&f.UUID, &f.Level1, &f.Level2, &f.Level3, &f.Level4, &f.Scope, &f.Text, &f.Year,
		&f.ActivityUOM, &f.CO2EquivalentEmissions, &f.CO2EquivalentEmissionsUOM,
	)
	return f, err
}

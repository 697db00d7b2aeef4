package storage

import (
	"context"
	"fmt"

	"github.com/verdantis/emissary/internal/model"
)

// AuditorsWithPublicKey returns every auditor wallet that carries a public
// key. Only these wallets can receive encrypted request content.
func (db *DB) AuditorsWithPublicKey(ctx context.Context) ([]model.Wallet, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT address, name, public_key, public_key_name FROM wallets
		 WHERE is_auditor AND public_key <> '' ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("storage: select auditors: %w", err)
	}
	defer rows.Close()

	var out []model.Wallet
	for rows.Next() {
		var w model.Wallet
		if err := rows.Scan(&w.Address, &w.Name, &w.PublicKey, &w.PublicKeyName); err != nil {
			return nil, fmt.Errorf("storage: scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpsertWallet stores or updates a wallet record. Used by seed tooling and
// tests.
func (db *DB) UpsertWallet(ctx context.Context, w model.Wallet, isAuditor bool) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO wallets (address, name, public_key, public_key_name, is_auditor)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (address) DO UPDATE
		 SET name = $2, public_key = $3, public_key_name = $4, is_auditor = $5`,
		w.Address, w.Name, w.PublicKey, w.PublicKeyName, isAuditor,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert wallet: %w", err)
	}
	return nil
}

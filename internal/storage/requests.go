package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/verdantis/emissary/internal/model"
)

const requestColumns = `uuid, input_content, issued_from, issued_to, status,
	emission_auditor, public_key, public_key_name,
	token_from_date, token_thru_date, token_total_emissions,
	token_metadata, token_manifest, token_description, created_at, updated_at`

// InsertEmissionsRequest stores a new request and returns it with its
// generated uuid and timestamps filled in.
func (db *DB) InsertEmissionsRequest(ctx context.Context, r model.EmissionsRequest) (model.EmissionsRequest, error) {
	if r.UUID == uuid.Nil {
		r.UUID = uuid.New()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO emissions_requests (`+requestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.UUID, r.InputContent, r.IssuedFrom, r.IssuedTo, r.Status,
		r.EmissionAuditor, r.PublicKey, r.PublicKeyName,
		r.TokenFromDate, r.TokenThruDate, r.TokenTotalEmissions,
		r.TokenMetadata, r.TokenManifest, r.TokenDescription, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return model.EmissionsRequest{}, fmt.Errorf("storage: insert emissions request: %w", err)
	}
	return r, nil
}

// EmissionsRequest retrieves a request by uuid, or ErrNotFound.
func (db *DB) EmissionsRequest(ctx context.Context, id uuid.UUID) (model.EmissionsRequest, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM emissions_requests WHERE uuid = $1`, id)
	r, err := scanRequest(row)
	if err == pgx.ErrNoRows {
		return model.EmissionsRequest{}, ErrNotFound
	}
	if err != nil {
		return model.EmissionsRequest{}, fmt.Errorf("storage: get emissions request: %w", err)
	}
	return r, nil
}

// SelectCreated returns every request still in the CREATED state, oldest
// first.
func (db *DB) SelectCreated(ctx context.Context) ([]model.EmissionsRequest, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM emissions_requests
		 WHERE status = $1 ORDER BY created_at`, model.RequestCreated)
	if err != nil {
		return nil, fmt.Errorf("storage: select created requests: %w", err)
	}
	defer rows.Close()

	var out []model.EmissionsRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan emissions request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateToPending moves a request to PENDING, recording the assigned auditor
// and the manifest built for it.
func (db *DB) UpdateToPending(ctx context.Context, id uuid.UUID, auditorAddress, publicKey, publicKeyName, manifest string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE emissions_requests
		 SET status = $1, emission_auditor = $2,
		     public_key = $3, public_key_name = $4, token_manifest = $5, updated_at = now()
		 WHERE uuid = $6`,
		model.RequestPending, auditorAddress, publicKey, publicKeyName, manifest, id,
	)
	if err != nil {
		return fmt.Errorf("storage: update request to pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateToIssued marks a request ISSUED after a successful ledger call.
func (db *DB) UpdateToIssued(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE emissions_requests SET status = $1, updated_at = now() WHERE uuid = $2`,
		model.RequestIssued, id,
	)
	if err != nil {
		return fmt.Errorf("storage: update request to issued: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SupportingDocuments returns the documents attached to a request.
func (db *DB) SupportingDocuments(ctx context.Context, requestID uuid.UUID) ([]model.SupportingDocument, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT d.uuid, d.name FROM supporting_documents d
		 WHERE d.request_uuid = $1 ORDER BY d.created_at`, requestID)
	if err != nil {
		return nil, fmt.Errorf("storage: select supporting documents: %w", err)
	}
	defer rows.Close()

	var out []model.SupportingDocument
	for rows.Next() {
		var d model.SupportingDocument
		if err := rows.Scan(&d.UUID, &d.Name); err != nil {
			return nil, fmt.Errorf("storage: scan supporting document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AttachSupportingDocument links an uploaded file to a request.
func (db *DB) AttachSupportingDocument(ctx context.Context, requestID uuid.UUID, d model.SupportingDocument) error {
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO supporting_documents (uuid, request_uuid, name, created_at)
		 VALUES ($1, $2, $3, now())`,
		d.UUID, requestID, d.Name,
	)
	if err != nil {
		return fmt.Errorf("storage: attach supporting document: %w", err)
	}
	return nil
}

func scanRequest(row pgx.Row) (model.EmissionsRequest, error) {
	var r model.EmissionsRequest
	err := row.Scan(
		&r.UUID, &r.InputContent, &r.IssuedFrom, &r.IssuedTo, &r.Status,
		&r.EmissionAuditor, &r.PublicKey, &r.PublicKeyName,
		&r.TokenFromDate, &r.TokenThruDate, &r.TokenTotalEmissions,
		&r.TokenMetadata, &r.TokenManifest, &r.TokenDescription, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

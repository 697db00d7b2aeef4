// Package requests drives the emissions-request lifecycle: CREATED requests
// get an auditor assigned and their content encrypted to them (PENDING), and
// a PENDING request can then be issued to the ledger (ISSUED).
package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/verdantis/emissary/internal/model"
	"github.com/verdantis/emissary/internal/service/issuance"
	"github.com/verdantis/emissary/internal/service/manifest"
)

// ErrNoAuditorsAvailable means no auditor wallet carries a public key, so no
// request can be moved to PENDING.
var ErrNoAuditorsAvailable = errors.New("requests: no auditors available")

// ErrInvalidRequestState is returned when a request is asked to do something
// its status does not allow.
var ErrInvalidRequestState = errors.New("requests: request not in a valid state")

// Store is the persistence the lifecycle needs.
type Store interface {
	SelectCreated(ctx context.Context) ([]model.EmissionsRequest, error)
	EmissionsRequest(ctx context.Context, id uuid.UUID) (model.EmissionsRequest, error)
	AuditorsWithPublicKey(ctx context.Context) ([]model.Wallet, error)
	SupportingDocuments(ctx context.Context, requestID uuid.UUID) ([]model.SupportingDocument, error)
	UpdateToPending(ctx context.Context, id uuid.UUID, auditorAddress, publicKey, publicKeyName, manifestJSON string) error
	UpdateToIssued(ctx context.Context, id uuid.UUID) error
}

// DocumentReader loads the raw bytes of an uploaded supporting document.
type DocumentReader interface {
	ReadDocument(ctx context.Context, doc model.SupportingDocument) ([]byte, error)
}

// Service runs the request lifecycle.
type Service struct {
	store     Store
	docs      DocumentReader
	manifests *manifest.Service
	issuer    *issuance.Service
	rng       *rand.Rand
	logger    *slog.Logger
}

// New creates a request lifecycle Service. rng picks auditors; pass a seeded
// source in tests for deterministic assignment. docs may be nil when
// supporting documents are not configured.
func New(store Store, docs DocumentReader, manifests *manifest.Service, issuer *issuance.Service, rng *rand.Rand, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		docs:      docs,
		manifests: manifests,
		issuer:    issuer,
		rng:       rng,
		logger:    logger,
	}
}

// ProcessCreated assigns an auditor to every CREATED request, uploads its
// content encrypted to that auditor, and moves it to PENDING. Auditors are
// picked uniformly at random per request. When no auditor is available the
// whole run is skipped; individual request failures are collected and do not
// stop the others.
func (s *Service) ProcessCreated(ctx context.Context) error {
	created, err := s.store.SelectCreated(ctx)
	if err != nil {
		return fmt.Errorf("requests: select created: %w", err)
	}
	if len(created) == 0 {
		s.logger.Info("no created emissions requests")
		return nil
	}
	auditors, err := s.store.AuditorsWithPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("requests: select auditors: %w", err)
	}
	if len(auditors) == 0 {
		s.logger.Warn("skipping request processing", "error", ErrNoAuditorsAvailable)
		return nil
	}

	var errs []error
	for _, req := range created {
		auditor := auditors[s.rng.IntN(len(auditors))]
		if err := s.assign(ctx, req, auditor); err != nil {
			s.logger.Error("failed to process request", "uuid", req.UUID, "error", err)
			errs = append(errs, fmt.Errorf("request %s: %w", req.UUID, err))
		}
	}
	return errors.Join(errs...)
}

// assign uploads the request content for one auditor and moves the request to
// PENDING. When supporting documents are attached the first one is uploaded
// instead of the input content; its name is normalized so the stored filename
// reveals only the extension.
func (s *Service) assign(ctx context.Context, req model.EmissionsRequest, auditor model.Wallet) error {
	content := []byte(req.InputContent)
	filename := "content.json"

	docs, err := s.store.SupportingDocuments(ctx, req.UUID)
	if err != nil {
		return fmt.Errorf("select supporting documents: %w", err)
	}
	if len(docs) > 0 {
		if len(docs) > 1 {
			s.logger.Warn("request has multiple supporting documents, using the first",
				"uuid", req.UUID, "count", len(docs))
		}
		if s.docs == nil {
			return errors.New("supporting documents attached but no document reader configured")
		}
		content, err = s.docs.ReadDocument(ctx, docs[0])
		if err != nil {
			return fmt.Errorf("read supporting document %s: %w", docs[0].UUID, err)
		}
		filename = "content" + filepath.Ext(docs[0].Name)
	}

	recipients := []manifest.RecipientKey{{Name: auditor.PublicKeyName, Key: auditor.PublicKey}}
	obj, hash, err := s.manifests.Upload(ctx, filename, content, recipients)
	if err != nil {
		return err
	}
	manifestJSON, err := manifest.Marshal(manifest.Build(recipients, obj, hash))
	if err != nil {
		return err
	}
	if err := s.store.UpdateToPending(ctx, req.UUID, auditor.Address, auditor.PublicKey, auditor.PublicKeyName, manifestJSON); err != nil {
		return err
	}
	s.logger.Info("assigned auditor", "uuid", req.UUID, "auditor", auditor.Address)
	return nil
}

// Issue submits a PENDING request to the ledger and marks it ISSUED. A
// failed ledger call leaves the request PENDING so it can be retried.
func (s *Service) Issue(ctx context.Context, id uuid.UUID, caller model.Caller) (model.TokenReceipt, error) {
	req, err := s.store.EmissionsRequest(ctx, id)
	if err != nil {
		return model.TokenReceipt{}, fmt.Errorf("requests: get request: %w", err)
	}
	if req.Status != model.RequestPending {
		return model.TokenReceipt{}, fmt.Errorf("%w: status %s, want %s",
			ErrInvalidRequestState, req.Status, model.RequestPending)
	}
	if req.IssuedFrom == "" {
		return model.TokenReceipt{}, fmt.Errorf("%w: no issued_from account", ErrInvalidRequestState)
	}

	receipt, err := s.issuer.Issue(ctx, caller, model.TokenIssueInput{
		IssuedFrom:  req.IssuedFrom,
		IssuedTo:    req.IssuedTo,
		Quantity:    req.TokenTotalEmissions,
		FromDate:    req.TokenFromDate.Unix(),
		ThruDate:    req.TokenThruDate.Unix(),
		Manifest:    req.TokenManifest,
		Metadata:    req.TokenMetadata,
		Description: req.TokenDescription,
	})
	if err != nil {
		return model.TokenReceipt{}, err
	}
	if err := s.store.UpdateToIssued(ctx, id); err != nil {
		return model.TokenReceipt{}, fmt.Errorf("requests: mark issued: %w", err)
	}
	s.logger.Info("issued emissions request", "uuid", id, "token_id", receipt.TokenID)
	return receipt, nil
}

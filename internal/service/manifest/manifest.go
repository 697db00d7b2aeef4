// Package manifest uploads batch content to an encrypted object store and
// builds the manifest that lets auditors locate and verify it.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/verdantis/emissary/internal/model"
)

// RecipientKey is a public key the uploaded content is encrypted to, with the
// name the key was registered under.
type RecipientKey struct {
	Name string
	Key  string
}

// ObjectStore stores content encrypted to a set of recipients and retrieves
// it for a holder of a matching private key.
type ObjectStore interface {
	Upload(ctx context.Context, filename string, content []byte, recipients []RecipientKey) (model.StoredObject, error)
	Download(ctx context.Context, locator string, privateKey string) ([]byte, error)
}

// Hasher digests raw content for tamper evidence.
type Hasher interface {
	Hash(content []byte) model.ContentHash
}

// Service uploads content and derives manifests.
type Service struct {
	store  ObjectStore
	hasher Hasher
	logger *slog.Logger
}

// New creates a manifest Service.
func New(store ObjectStore, hasher Hasher, logger *slog.Logger) *Service {
	return &Service{store: store, hasher: hasher, logger: logger}
}

// Upload hashes the plaintext content and stores it encrypted to the given
// recipients. The hash always covers the plaintext, never the ciphertext, so
// a recipient can verify what they decrypt.
func (s *Service) Upload(ctx context.Context, filename string, content []byte, recipients []RecipientKey) (model.StoredObject, model.ContentHash, error) {
	hash := s.hasher.Hash(content)
	obj, err := s.store.Upload(ctx, filename, content, recipients)
	if err != nil {
		return model.StoredObject{}, model.ContentHash{}, fmt.Errorf("manifest: upload %s: %w", filename, err)
	}
	s.logger.Debug("uploaded content", "filename", filename, "locator", obj.Locator, "sha256", hash.Value)
	return obj, hash, nil
}

// Download retrieves and decrypts stored content.
func (s *Service) Download(ctx context.Context, locator, privateKey string) ([]byte, error) {
	content, err := s.store.Download(ctx, locator, privateKey)
	if err != nil {
		return nil, fmt.Errorf("manifest: download %s: %w", locator, err)
	}
	return content, nil
}

// Build assembles the manifest for an uploaded object: the name of the first
// recipient key ("unknown" when none was given), the object locator, and the
// plaintext digest.
func Build(recipients []RecipientKey, obj model.StoredObject, hash model.ContentHash) map[string]any {
	keyName := "unknown"
	if len(recipients) > 0 && recipients[0].Name != "" {
		keyName = recipients[0].Name
	}
	return map[string]any{
		"Public Key": keyName,
		"Location":   obj.Locator,
		"SHA256":     hash.Value,
	}
}

// Marshal renders a manifest as the JSON string stored on requests and
// passed to the ledger.
func Marshal(m map[string]any) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("manifest: marshal: %w", err)
	}
	return string(b), nil
}

// Package factors resolves emission-factor records for activities. A
// Resolver wraps a Catalog (Postgres, SQLite, or a test fake) and enforces
// that direct lookups match exactly one curated record.
package factors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/verdantis/emissary/internal/model"
	"github.com/verdantis/emissary/internal/storage"
)

// ErrFactorNotFound is returned when no factor matches a lookup.
var ErrFactorNotFound = errors.New("factors: no emission factor found")

// ErrAmbiguousFactor is returned when a lookup matches more than one factor.
var ErrAmbiguousFactor = errors.New("factors: more than one emission factor found")

// ErrFactorUOMMismatch is returned when a resolved factor's activity_uom is
// not the one the computation requires.
var ErrFactorUOMMismatch = errors.New("factors: unexpected factor activity uom")

// Lookup categories for the per-activity factor lookup table.
const (
	CategoryCarrier = "carrier"
	CategoryFlight  = "flight"
)

// Catalog is the externally-owned emission-factor repository.
type Catalog interface {
	// FactorByUUID returns the factor with the given uuid, or
	// storage.ErrNotFound.
	FactorByUUID(ctx context.Context, uuid string) (model.EmissionFactor, error)
	// Factors returns every factor matching the non-empty query fields.
	Factors(ctx context.Context, q model.FactorQuery) ([]model.EmissionFactor, error)
	// ActivityFactorLookup maps a lookup category ("carrier", "flight") and
	// key (transport mode, seat class) to the factor query for that
	// activity, or storage.ErrNotFound.
	ActivityFactorLookup(ctx context.Context, category, key string) (model.FactorQuery, error)
}

// Resolver performs factor lookups against a catalog.
type Resolver struct {
	catalog Catalog
}

// NewResolver creates a Resolver over the given catalog.
func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// ByUUID returns the factor with the given uuid.
func (r *Resolver) ByUUID(ctx context.Context, uuid string) (model.EmissionFactor, error) {
	f, err := r.catalog.FactorByUUID(ctx, uuid)
	if errors.Is(err, storage.ErrNotFound) {
		return model.EmissionFactor{}, fmt.Errorf("%w: uuid %q", ErrFactorNotFound, uuid)
	}
	if err != nil {
		return model.EmissionFactor{}, fmt.Errorf("factors: lookup by uuid: %w", err)
	}
	return f, nil
}

// Resolve returns the single factor matching the query. Zero matches and
// multiple matches are both fatal for the activity; the catalog is assumed
// curated to be unambiguous for direct lookups.
func (r *Resolver) Resolve(ctx context.Context, q model.FactorQuery) (model.EmissionFactor, error) {
	if q.UUID != "" {
		return r.ByUUID(ctx, q.UUID)
	}
	matches, err := r.catalog.Factors(ctx, q)
	if err != nil {
		return model.EmissionFactor{}, fmt.Errorf("factors: query catalog: %w", err)
	}
	switch len(matches) {
	case 0:
		return model.EmissionFactor{}, fmt.Errorf("%w: %+v", ErrFactorNotFound, q)
	case 1:
		return matches[0], nil
	}
	return model.EmissionFactor{}, fmt.Errorf("%w: %+v", ErrAmbiguousFactor, q)
}

// FreightQuery returns the factor query for a freight transport mode.
func (r *Resolver) FreightQuery(ctx context.Context, mode string) (model.FactorQuery, error) {
	q, err := r.catalog.ActivityFactorLookup(ctx, CategoryCarrier, mode)
	if errors.Is(err, storage.ErrNotFound) {
		return model.FactorQuery{}, fmt.Errorf("%w: distance mode %q not supported", ErrFactorNotFound, mode)
	}
	if err != nil {
		return model.FactorQuery{}, fmt.Errorf("factors: freight lookup: %w", err)
	}
	return q, nil
}

// FlightQuery returns the factor query for a flight seat class.
func (r *Resolver) FlightQuery(ctx context.Context, seatClass string) (model.FactorQuery, error) {
	q, err := r.catalog.ActivityFactorLookup(ctx, CategoryFlight, seatClass)
	if errors.Is(err, storage.ErrNotFound) {
		return model.FactorQuery{}, fmt.Errorf("%w: flight class %q not supported", ErrFactorNotFound, seatClass)
	}
	if err != nil {
		return model.FactorQuery{}, fmt.Errorf("factors: flight lookup: %w", err)
	}
	return q, nil
}

// ModeFromFactor infers a shipping mode from the factor's classification
// hierarchy by case-insensitive substring search, checking each level in
// order. Anything unmatched ships by ground.
func ModeFromFactor(f model.EmissionFactor) string {
	for _, level := range []string{f.Level1, f.Level2, f.Level3, f.Level4} {
		if level == "" {
			continue
		}
		l := strings.ToLower(level)
		switch {
		case strings.Contains(l, "air"):
			return "air"
		case strings.Contains(l, "ship"), strings.Contains(l, "sea"):
			return "sea"
		case strings.Contains(l, "rail"):
			return "rail"
		case strings.Contains(l, "truck"):
			return "ground"
		}
	}
	return "ground"
}

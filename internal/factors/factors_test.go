package factors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/verdantis/emissary/internal/model"
	"github.com/verdantis/emissary/internal/storage"
)

type mapCatalog struct {
	factors []model.EmissionFactor
	lookups map[string]model.FactorQuery
}

func (c mapCatalog) FactorByUUID(_ context.Context, uuid string) (model.EmissionFactor, error) {
	for _, f := range c.factors {
		if f.UUID == uuid {
			return f, nil
		}
	}
	return model.EmissionFactor{}, storage.ErrNotFound
}

func (c mapCatalog) Factors(_ context.Context, q model.FactorQuery) ([]model.EmissionFactor, error) {
	var out []model.EmissionFactor
	for _, f := range c.factors {
		if (q.Level1 == "" || q.Level1 == f.Level1) && (q.Level2 == "" || q.Level2 == f.Level2) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (c mapCatalog) ActivityFactorLookup(_ context.Context, category, key string) (model.FactorQuery, error) {
	q, ok := c.lookups[category+"/"+key]
	if !ok {
		return model.FactorQuery{}, storage.ErrNotFound
	}
	return q, nil
}

func TestResolveSingleMatch(t *testing.T) {
	r := NewResolver(mapCatalog{factors: []model.EmissionFactor{
		{UUID: "a", Level1: "Freighting goods", Level2: "Cargo ship"},
		{UUID: "b", Level1: "Freighting goods", Level2: "Rail"},
	}})

	f, err := r.Resolve(context.Background(), model.FactorQuery{Level1: "Freighting goods", Level2: "Rail"})
	require.NoError(t, err)
	require.Equal(t, "b", f.UUID)
}

func TestResolveAmbiguous(t *testing.T) {
	r := NewResolver(mapCatalog{factors: []model.EmissionFactor{
		{UUID: "a", Level1: "Freighting goods"},
		{UUID: "b", Level1: "Freighting goods"},
	}})

	_, err := r.Resolve(context.Background(), model.FactorQuery{Level1: "Freighting goods"})
	require.ErrorIs(t, err, ErrAmbiguousFactor)
}

func TestResolveNotFound(t *testing.T) {
	r := NewResolver(mapCatalog{})
	_, err := r.Resolve(context.Background(), model.FactorQuery{Level1: "Unknown"})
	require.ErrorIs(t, err, ErrFactorNotFound)

	_, err = r.ByUUID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrFactorNotFound)
}

func TestLookupQueries(t *testing.T) {
	r := NewResolver(mapCatalog{lookups: map[string]model.FactorQuery{
		"carrier/sea":    {Level2: "Cargo ship", ActivityUOM: "tonne.km"},
		"flight/economy": {Level3: "Economy class", ActivityUOM: "passenger.km"},
	}})

	q, err := r.FreightQuery(context.Background(), "sea")
	require.NoError(t, err)
	require.Equal(t, "tonne.km", q.ActivityUOM)

	q, err = r.FlightQuery(context.Background(), "economy")
	require.NoError(t, err)
	require.Equal(t, "passenger.km", q.ActivityUOM)

	_, err = r.FreightQuery(context.Background(), "teleport")
	require.ErrorIs(t, err, ErrFactorNotFound)
}

func TestModeFromFactor(t *testing.T) {
	tests := []struct {
		name   string
		factor model.EmissionFactor
		want   string
	}{
		{"air from level 2", model.EmissionFactor{Level1: "Business travel", Level2: "Air travel"}, "air"},
		{"sea from ship", model.EmissionFactor{Level2: "Cargo ship"}, "sea"},
		{"sea keyword", model.EmissionFactor{Level3: "Sea tanker"}, "sea"},
		{"rail", model.EmissionFactor{Level2: "Rail freight"}, "rail"},
		{"truck maps to ground", model.EmissionFactor{Level3: "HGV truck"}, "ground"},
		{"default ground", model.EmissionFactor{Level1: "Vans"}, "ground"},
		{"earlier level wins", model.EmissionFactor{Level1: "Airborne", Level2: "Cargo ship"}, "air"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ModeFromFactor(tc.factor))
		})
	}
}

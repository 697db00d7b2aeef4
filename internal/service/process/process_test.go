package process

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/verdantis/emissary/internal/factors"
	"github.com/verdantis/emissary/internal/model"
	"github.com/verdantis/emissary/internal/storage"
)

type fakeCatalog struct {
	factors []model.EmissionFactor
	lookups map[string]model.FactorQuery // "category/key"
}

func (c *fakeCatalog) FactorByUUID(_ context.Context, uuid string) (model.EmissionFactor, error) {
	for _, f := range c.factors {
		if f.UUID == uuid {
			return f, nil
		}
	}
	return model.EmissionFactor{}, storage.ErrNotFound
}

func (c *fakeCatalog) Factors(_ context.Context, q model.FactorQuery) ([]model.EmissionFactor, error) {
	var out []model.EmissionFactor
	for _, f := range c.factors {
		if matches(f, q) {
			out = append(out, f)
		}
	}
	return out, nil
}

func matches(f model.EmissionFactor, q model.FactorQuery) bool {
	match := func(want, got string) bool { return want == "" || want == got }
	return match(q.UUID, f.UUID) &&
		match(q.Level1, f.Level1) && match(q.Level2, f.Level2) &&
		match(q.Level3, f.Level3) && match(q.Level4, f.Level4) &&
		match(q.Scope, f.Scope) && match(q.Text, f.Text) &&
		match(q.ActivityUOM, f.ActivityUOM)
}

func (c *fakeCatalog) ActivityFactorLookup(_ context.Context, category, key string) (model.FactorQuery, error) {
	q, ok := c.lookups[category+"/"+key]
	if !ok {
		return model.FactorQuery{}, storage.ErrNotFound
	}
	return q, nil
}

// fixedDistance resolves every leg to the same number of kilometers.
type fixedDistance struct{ km float64 }

func (d fixedDistance) DirectDistance(_ context.Context, _, _, mode string) (model.Distance, error) {
	return model.Distance{Value: d.km, Unit: "km", Mode: mode}, nil
}

func (d fixedDistance) RouteDistance(_ context.Context, _, _, mode string) (model.Distance, error) {
	return model.Distance{Value: d.km, Unit: "km", Mode: mode}, nil
}

type fakeTracker struct {
	carrier  string
	shipment model.CarrierShipment
}

func (t fakeTracker) Supports(carrier string) bool { return carrier == t.carrier }

func (t fakeTracker) Track(_ context.Context, _, _ string) (model.CarrierShipment, error) {
	return t.shipment, nil
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{
		factors: []model.EmissionFactor{
			{
				UUID:                      "sea-freight",
				Level1:                    "Freighting goods",
				Level2:                    "Cargo ship",
				ActivityUOM:               "tonne.km",
				CO2EquivalentEmissions:    "0.1",
				CO2EquivalentEmissionsUOM: "kg CO2e",
			},
			{
				UUID:                      "flight-economy",
				Level1:                    "Business travel- air",
				ActivityUOM:               "passenger.km",
				CO2EquivalentEmissions:    "0.15",
				CO2EquivalentEmissionsUOM: "kg CO2e",
			},
			{
				UUID:                      "electricity",
				Level1:                    "UK electricity",
				ActivityUOM:               "kWh",
				CO2EquivalentEmissions:    "0.2",
				CO2EquivalentEmissionsUOM: "kg CO2e",
			},
		},
		lookups: map[string]model.FactorQuery{
			"carrier/sea":    {UUID: "sea-freight", ActivityUOM: "tonne.km"},
			"flight/economy": {UUID: "flight-economy", ActivityUOM: "passenger.km"},
			"flight/first":   {UUID: "sea-freight", ActivityUOM: "tonne.km"},
		},
	}
}

func newTestService(t *testing.T, km float64, tracker CarrierTracker) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(factors.NewResolver(testCatalog()), fixedDistance{km: km}, tracker, 4, logger)
}

func TestProcessEmissionsFactorActivity(t *testing.T) {
	svc := newTestService(t, 0, nil)

	res, err := svc.Process(context.Background(), model.Activity{
		ID:   "a1",
		Kind: model.KindEmissionsFactor,
		Factor: &model.EmissionsFactorActivity{
			EmissionsFactorUUID: "sea-freight",
			Weight:              2000,
			WeightUOM:           "kg",
			Distance:            100,
			DistanceUOM:         "km",
		},
	})
	require.NoError(t, err)

	// 0.1 kgCO2e per tonne.km, 2 tonnes over 100 km.
	require.InDelta(t, 20, res.Emissions.Amount.Value, 1e-9)
	require.Equal(t, "kgCO2e", res.Emissions.Amount.Unit)
	require.Equal(t, "sea-freight", res.Emissions.Factor.UUID)
	require.InDelta(t, 2000, res.Weight.Value, 1e-9)
	require.Equal(t, "kg", res.Weight.Unit)
	require.InDelta(t, 100, res.Distance.Value, 1e-9)
	require.Equal(t, "sea", res.Distance.Mode)
}

func TestProcessEmissionsFactorOpaqueDimension(t *testing.T) {
	svc := newTestService(t, 0, nil)

	res, err := svc.Process(context.Background(), model.Activity{
		ID:   "a1",
		Kind: model.KindEmissionsFactor,
		Factor: &model.EmissionsFactorActivity{
			EmissionsFactorUUID: "electricity",
			ActivityAmount:      50,
			ActivityUOM:         "kWh",
		},
	})
	require.NoError(t, err)
	require.InDelta(t, 10, res.Emissions.Amount.Value, 1e-9)
}

func TestProcessEmissionsFactorMissingInput(t *testing.T) {
	svc := newTestService(t, 0, nil)

	tests := []struct {
		name     string
		activity model.EmissionsFactorActivity
	}{
		{"no weight", model.EmissionsFactorActivity{
			EmissionsFactorUUID: "sea-freight", Distance: 100, DistanceUOM: "km",
		}},
		{"no distance", model.EmissionsFactorActivity{
			EmissionsFactorUUID: "sea-freight", Weight: 2, WeightUOM: "tonne",
		}},
		{"no activity amount", model.EmissionsFactorActivity{
			EmissionsFactorUUID: "electricity",
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			activity := tc.activity
			_, err := svc.Process(context.Background(), model.Activity{
				ID: "a1", Kind: model.KindEmissionsFactor, Factor: &activity,
			})
			require.ErrorIs(t, err, ErrMissingActivityInput)
		})
	}
}

func TestProcessFlight(t *testing.T) {
	svc := newTestService(t, 500, nil)

	res, err := svc.Process(context.Background(), model.Activity{
		ID:   "f1",
		Kind: model.KindFlight,
		Flight: &model.FlightActivity{
			From: "SFO", To: "SEA", NumberOfPassengers: 2,
		},
	})
	require.NoError(t, err)

	// 2 passengers over 500 km at 0.15 kgCO2e per passenger.km.
	require.InDelta(t, 150, res.Emissions.Amount.Value, 1e-9)
	require.Equal(t, 2, res.Flight.NumberOfPassengers)
	require.Equal(t, "economy", res.Flight.Class, "class defaults to economy")
	require.Equal(t, "air", res.Distance.Mode)
}

func TestProcessFlightDefaultsToOnePassenger(t *testing.T) {
	svc := newTestService(t, 500, nil)

	res, err := svc.Process(context.Background(), model.Activity{
		ID:     "f1",
		Kind:   model.KindFlight,
		Flight: &model.FlightActivity{From: "SFO", To: "SEA"},
	})
	require.NoError(t, err)
	require.InDelta(t, 75, res.Emissions.Amount.Value, 1e-9)
	require.Equal(t, 1, res.Flight.NumberOfPassengers)
}

func TestProcessFlightFactorUOMMismatch(t *testing.T) {
	svc := newTestService(t, 500, nil)

	_, err := svc.Process(context.Background(), model.Activity{
		ID:     "f1",
		Kind:   model.KindFlight,
		Flight: &model.FlightActivity{From: "SFO", To: "SEA", Class: "first"},
	})
	require.ErrorIs(t, err, factors.ErrFactorUOMMismatch)
}

func TestProcessShipmentByMode(t *testing.T) {
	svc := newTestService(t, 2000, nil)

	res, err := svc.Process(context.Background(), model.Activity{
		ID:   "s1",
		Kind: model.KindShipment,
		Shipment: &model.ShipmentActivity{
			From: "0,0", To: "1,1", Mode: "sea",
			Weight: 1000, WeightUOM: "kg",
		},
	})
	require.NoError(t, err)

	// 1000 kg = 1 tonne, over 2000 km at 0.1 kgCO2e per tonne.km.
	require.InDelta(t, 200, res.Emissions.Amount.Value, 1e-9)
	require.InDelta(t, 1000, res.Weight.Value, 1e-9)
	require.Equal(t, "sea", res.Distance.Mode)
}

func TestProcessShipmentMissingMode(t *testing.T) {
	svc := newTestService(t, 2000, nil)

	_, err := svc.Process(context.Background(), model.Activity{
		ID:   "s1",
		Kind: model.KindShipment,
		Shipment: &model.ShipmentActivity{
			From: "0,0", To: "1,1", Weight: 1000, WeightUOM: "kg",
		},
	})
	require.ErrorIs(t, err, ErrMissingActivityInput)
}

func TestProcessShipmentWithCarrierTracker(t *testing.T) {
	tracked := model.CarrierShipment{
		Distance:  model.Distance{Value: 800, Unit: "km", Mode: "ground"},
		Weight:    model.ValueAndUnit{Value: 5, Unit: "kg"},
		Emissions: model.Emissions{Amount: model.ValueAndUnit{Value: 1.2, Unit: "kgCO2e"}},
		Details:   map[string]any{"tracking": "1Z999"},
	}
	svc := newTestService(t, 0, fakeTracker{carrier: "ups", shipment: tracked})

	res, err := svc.Process(context.Background(), model.Activity{
		ID:   "s1",
		Kind: model.KindShipment,
		Shipment: &model.ShipmentActivity{
			Carrier: "ups", Tracking: "1Z999",
		},
	})
	require.NoError(t, err)
	require.InDelta(t, 1.2, res.Emissions.Amount.Value, 1e-9)
	require.Equal(t, "ground", res.Distance.Mode)
	require.Equal(t, "1Z999", res.Details["tracking"])
}

func TestProcessRejectsMissingID(t *testing.T) {
	svc := newTestService(t, 0, nil)

	_, err := svc.Process(context.Background(), model.Activity{
		Kind:   model.KindFlight,
		Flight: &model.FlightActivity{From: "SFO", To: "SEA"},
	})
	require.ErrorIs(t, err, model.ErrMissingID)
}

func TestProcessAllIsolatesFailures(t *testing.T) {
	svc := newTestService(t, 500, nil)

	activities := []model.Activity{
		{ID: "ok-1", Kind: model.KindFlight, Flight: &model.FlightActivity{From: "SFO", To: "SEA"}},
		{Kind: model.KindFlight, Flight: &model.FlightActivity{From: "SFO", To: "SEA"}},
		{ID: "ok-2", Kind: model.KindEmissionsFactor, Factor: &model.EmissionsFactorActivity{
			EmissionsFactorUUID: "electricity", ActivityAmount: 10, ActivityUOM: "kWh",
		}},
		{ID: "bad-factor", Kind: model.KindEmissionsFactor, Factor: &model.EmissionsFactorActivity{
			EmissionsFactorUUID: "does-not-exist", ActivityAmount: 1, ActivityUOM: "kWh",
		}},
	}

	results := svc.ProcessAll(context.Background(), activities)
	require.Len(t, results, len(activities))

	// Results come back in input order regardless of completion order.
	require.Equal(t, "ok-1", results[0].Activity.ID)
	require.NotNil(t, results[0].Result)
	require.Empty(t, results[0].Error)

	require.NotEmpty(t, results[1].Error)
	require.Nil(t, results[1].Result)

	require.NotNil(t, results[2].Result)
	require.InDelta(t, 2, results[2].Result.Emissions.Amount.Value, 1e-9)

	require.NotEmpty(t, results[3].Error)
	require.Contains(t, results[3].Error, "no emission factor found")
}

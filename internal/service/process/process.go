// Package process turns raw activities into computed emission results.
//
// Per-activity computation is side-effect-free apart from read-only factor
// lookups, so a batch fans out across all activities concurrently. A bad
// activity never fails the batch: its error is captured on its own
// ProcessedActivity and its siblings proceed.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/verdantis/emissary/internal/factors"
	"github.com/verdantis/emissary/internal/model"
	"github.com/verdantis/emissary/internal/telemetry"
	"github.com/verdantis/emissary/internal/units"
)

// ErrMissingActivityInput is returned when a factor dimension requires an
// input the activity did not supply.
var ErrMissingActivityInput = errors.New("process: emissions factor requires an input")

// FlightFactorUOM is the activity uom every flight factor must carry.
const FlightFactorUOM = "passenger.km"

// DistanceResolver computes travel distances between activity endpoints.
type DistanceResolver interface {
	// DirectDistance is the great-circle distance, used for flights.
	DirectDistance(ctx context.Context, from, to, mode string) (model.Distance, error)
	// RouteDistance is the travel distance for a freight mode.
	RouteDistance(ctx context.Context, from, to, mode string) (model.Distance, error)
}

// CarrierTracker looks up tracked shipments with an external carrier, which
// reports distance, weight and emissions directly.
type CarrierTracker interface {
	Supports(carrier string) bool
	Track(ctx context.Context, carrier, tracking string) (model.CarrierShipment, error)
}

// Service processes activities into emission results.
type Service struct {
	resolver *factors.Resolver
	distance DistanceResolver
	carriers CarrierTracker // may be nil
	logger   *slog.Logger
	limit    int

	processed metric.Int64Counter
}

// New creates a processing Service. carriers may be nil when no external
// carrier integration is configured. limit bounds batch concurrency; values
// below 1 mean unbounded.
func New(resolver *factors.Resolver, dist DistanceResolver, carriers CarrierTracker, limit int, logger *slog.Logger) *Service {
	meter := telemetry.Meter("emissary/process")
	processed, _ := meter.Int64Counter("emissary.activities.processed",
		metric.WithDescription("Activities processed, by outcome"),
	)
	return &Service{
		resolver:  resolver,
		distance:  dist,
		carriers:  carriers,
		logger:    logger,
		limit:     limit,
		processed: processed,
	}
}

// ProcessAll computes every activity of a batch concurrently. Completion
// order is unspecified; the returned slice follows input order. It never
// fails as a whole: each activity's error is captured on its entry.
func (s *Service) ProcessAll(ctx context.Context, activities []model.Activity) []model.ProcessedActivity {
	results := make([]model.ProcessedActivity, len(activities))

	g := new(errgroup.Group)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}
	for i, a := range activities {
		g.Go(func() error {
			res, err := s.Process(ctx, a)
			if err != nil {
				s.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
				results[i] = model.ProcessedActivity{Activity: a, Error: err.Error()}
				s.logger.Debug("activity failed", "id", a.ID, "error", err)
				return nil
			}
			s.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
			results[i] = model.ProcessedActivity{Activity: a, Result: res}
			return nil
		})
	}
	_ = g.Wait() // workers never return an error; failures are captured per entry

	return results
}

// Process computes one activity. The id check runs before any other
// processing.
func (s *Service) Process(ctx context.Context, a model.Activity) (*model.ActivityResult, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	switch a.Kind {
	case model.KindShipment:
		return s.processShipment(ctx, *a.Shipment)
	case model.KindFlight:
		return s.processFlight(ctx, *a.Flight)
	case model.KindEmissionsFactor:
		return s.processEmissionsFactor(ctx, *a.Factor)
	}
	return nil, fmt.Errorf("%w: id %q", model.ErrUnrecognizedActivity, a.ID)
}

func (s *Service) processShipment(ctx context.Context, a model.ShipmentActivity) (*model.ActivityResult, error) {
	if a.Carrier != "" && s.carriers != nil && s.carriers.Supports(a.Carrier) {
		shipment, err := s.carriers.Track(ctx, a.Carrier, a.Tracking)
		if err != nil {
			return nil, fmt.Errorf("process: track %s shipment: %w", a.Carrier, err)
		}
		return &model.ActivityResult{
			Distance:  &shipment.Distance,
			Weight:    &shipment.Weight,
			Emissions: shipment.Emissions,
			Details:   shipment.Details,
		}, nil
	}

	if a.Mode == "" {
		return nil, fmt.Errorf("%w: shipment mode", ErrMissingActivityInput)
	}
	dist, err := s.distance.RouteDistance(ctx, a.From, a.To, a.Mode)
	if err != nil {
		return nil, err
	}
	weightKg, err := units.WeightToKg(a.Weight, a.WeightUOM)
	if err != nil {
		return nil, err
	}
	emissions, err := s.calcFreightEmissions(ctx, weightKg, dist)
	if err != nil {
		return nil, err
	}
	return &model.ActivityResult{
		Distance:  &dist,
		Weight:    &model.ValueAndUnit{Value: weightKg, Unit: "kg"},
		Emissions: emissions,
	}, nil
}

func (s *Service) processFlight(ctx context.Context, a model.FlightActivity) (*model.ActivityResult, error) {
	dist, err := s.distance.DirectDistance(ctx, a.From, a.To, "air")
	if err != nil {
		return nil, err
	}
	passengers := a.NumberOfPassengers
	if passengers == 0 {
		passengers = 1
	}
	seatClass := a.Class
	if seatClass == "" {
		seatClass = "economy"
	}
	emissions, err := s.calcFlightEmissions(ctx, passengers, seatClass, dist)
	if err != nil {
		return nil, err
	}
	return &model.ActivityResult{
		Distance:  &dist,
		Flight:    &model.FlightInfo{NumberOfPassengers: passengers, Class: seatClass},
		Emissions: emissions,
	}, nil
}

// calcFlightEmissions prices a flight: passengers x km x factor rate,
// normalized to kgCO2e.
func (s *Service) calcFlightEmissions(ctx context.Context, passengers int, seatClass string, dist model.Distance) (model.Emissions, error) {
	distKm, err := units.DistanceToKm(dist.Value, dist.Unit)
	if err != nil {
		return model.Emissions{}, err
	}
	q, err := s.resolver.FlightQuery(ctx, seatClass)
	if err != nil {
		return model.Emissions{}, err
	}
	if q.ActivityUOM != FlightFactorUOM {
		return model.Emissions{}, fmt.Errorf("%w: expected %s but got %q",
			factors.ErrFactorUOMMismatch, FlightFactorUOM, q.ActivityUOM)
	}
	factor, err := s.resolver.Resolve(ctx, q)
	if err != nil {
		return model.Emissions{}, err
	}
	rate, err := factorRate(factor)
	if err != nil {
		return model.Emissions{}, err
	}
	amount := float64(passengers) * distKm * rate
	kg, err := normalizeToKgCO2e(amount, factor.CO2EquivalentEmissionsUOM)
	if err != nil {
		return model.Emissions{}, err
	}
	return model.Emissions{
		Amount: model.ValueAndUnit{Value: kg, Unit: "kgCO2e"},
		Factor: factor,
	}, nil
}

// calcFreightEmissions prices freight: kg x factor-uom conversion x km x
// factor rate. Freight factors are assumed to yield kgCO2e directly.
func (s *Service) calcFreightEmissions(ctx context.Context, weightKg float64, dist model.Distance) (model.Emissions, error) {
	distKm, err := units.DistanceToKm(dist.Value, dist.Unit)
	if err != nil {
		return model.Emissions{}, err
	}
	q, err := s.resolver.FreightQuery(ctx, dist.Mode)
	if err != nil {
		return model.Emissions{}, err
	}
	convert, err := units.ConvertKgForUOM(q.ActivityUOM)
	if err != nil {
		return model.Emissions{}, err
	}
	factor, err := s.resolver.Resolve(ctx, q)
	if err != nil {
		return model.Emissions{}, err
	}
	rate, err := factorRate(factor)
	if err != nil {
		return model.Emissions{}, err
	}
	return model.Emissions{
		Amount: model.ValueAndUnit{Value: weightKg * convert * distKm * rate, Unit: "kgCO2e"},
		Factor: factor,
	}, nil
}

// processEmissionsFactor scales the factor's raw emission value through each
// of the factor's activity_uom dimensions. Each dimension token requires its
// matching activity input; an unrecognized token falls through to the opaque
// activity-amount dimension.
func (s *Service) processEmissionsFactor(ctx context.Context, a model.EmissionsFactorActivity) (*model.ActivityResult, error) {
	factor, err := s.resolveFactorActivity(ctx, a)
	if err != nil {
		return nil, err
	}
	if factor.CO2EquivalentEmissions == "" || factor.CO2EquivalentEmissionsUOM == "" {
		return nil, fmt.Errorf("process: factor %s does not have a co2_equivalent_emissions", factor.UUID)
	}
	if factor.ActivityUOM == "" {
		return nil, fmt.Errorf("process: factor %s does not have an activity_uom", factor.UUID)
	}
	amount, err := factorRate(factor)
	if err != nil {
		return nil, err
	}

	var distKm, weightKg float64
	for _, uom := range strings.Split(strings.ToLower(factor.ActivityUOM), ".") {
		switch uom {
		case "passenger":
			if a.NumberOfPassengers == 0 {
				return nil, fmt.Errorf("%w: number_of_passengers", ErrMissingActivityInput)
			}
			amount *= float64(a.NumberOfPassengers)
		case "kg", "tonne", "lbs":
			if a.Weight == 0 || a.WeightUOM == "" {
				return nil, fmt.Errorf("%w: weight and weight_uom", ErrMissingActivityInput)
			}
			w, err := units.WeightInUOM(a.Weight, a.WeightUOM, uom)
			if err != nil {
				return nil, err
			}
			amount *= w
			if weightKg, err = units.WeightToKg(a.Weight, a.WeightUOM); err != nil {
				return nil, err
			}
		case "km", "miles", "mi":
			if a.Distance == 0 || a.DistanceUOM == "" {
				return nil, fmt.Errorf("%w: distance and distance_uom", ErrMissingActivityInput)
			}
			d, err := units.DistanceInUOM(a.Distance, a.DistanceUOM, uom)
			if err != nil {
				return nil, err
			}
			amount *= d
			if distKm, err = units.DistanceToKm(a.Distance, a.DistanceUOM); err != nil {
				return nil, err
			}
		default:
			if a.ActivityAmount == 0 || a.ActivityUOM == "" {
				return nil, fmt.Errorf("%w: activity_amount and activity_uom", ErrMissingActivityInput)
			}
			amount *= a.ActivityAmount
		}
	}

	kg, err := normalizeToKgCO2e(amount, factor.CO2EquivalentEmissionsUOM)
	if err != nil {
		return nil, err
	}
	emissions := model.Emissions{
		Amount: model.ValueAndUnit{Value: kg, Unit: "kgCO2e"},
		Factor: factor,
	}

	if a.NumberOfPassengers > 0 {
		return &model.ActivityResult{
			Distance:  &model.Distance{Value: distKm, Unit: "km", Mode: "air"},
			Flight:    &model.FlightInfo{NumberOfPassengers: a.NumberOfPassengers, Class: a.Class},
			Emissions: emissions,
		}, nil
	}
	return &model.ActivityResult{
		Distance:  &model.Distance{Value: distKm, Unit: "km", Mode: factors.ModeFromFactor(factor)},
		Weight:    &model.ValueAndUnit{Value: weightKg, Unit: "kg"},
		Emissions: emissions,
	}, nil
}

func (s *Service) resolveFactorActivity(ctx context.Context, a model.EmissionsFactorActivity) (model.EmissionFactor, error) {
	if a.EmissionsFactorUUID != "" {
		return s.resolver.ByUUID(ctx, a.EmissionsFactorUUID)
	}
	return s.resolver.Resolve(ctx, model.FactorQuery{
		Level1: a.Level1,
		Level2: a.Level2,
		Level3: a.Level3,
		Level4: a.Level4,
		Scope:  a.Scope,
		Text:   a.Text,
	})
}

func factorRate(f model.EmissionFactor) (float64, error) {
	rate, err := strconv.ParseFloat(f.CO2EquivalentEmissions, 64)
	if err != nil {
		return 0, fmt.Errorf("process: factor %s does not have a co2_equivalent_emissions", f.UUID)
	}
	return rate, nil
}

// normalizeToKgCO2e converts a computed amount into kgCO2e based on the
// factor's emission uom: any trailing "co2..." token is stripped and the
// residual mass unit converted to kg.
func normalizeToKgCO2e(amount float64, emissionsUOM string) (float64, error) {
	uom := strings.ToLower(emissionsUOM)
	if i := strings.Index(uom, "co2"); i >= 0 {
		uom = uom[:i]
	}
	uom = strings.TrimSpace(uom)
	if uom == "" || uom == "kg" {
		return amount, nil
	}
	return units.WeightToKg(amount, uom)
}

// Package distance computes great-circle distances between geographic
// coordinates. It is the default distance capability; deployments with a
// geocoding or routing service plug their own resolver into the pipeline.
package distance

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/verdantis/emissary/internal/model"
)

const earthRadiusKm = 6371.0

// Haversine resolves distances between endpoints given as "lat,lon"
// coordinate pairs. Route distances are approximated by the great-circle
// distance; no road or sea routing is attempted.
type Haversine struct{}

// DirectDistance returns the great-circle distance between two coordinate
// endpoints.
func (Haversine) DirectDistance(_ context.Context, from, to, mode string) (model.Distance, error) {
	lat1, lon1, err := parseCoord(from)
	if err != nil {
		return model.Distance{}, err
	}
	lat2, lon2, err := parseCoord(to)
	if err != nil {
		return model.Distance{}, err
	}
	return model.Distance{
		Value: haversineKm(lat1, lon1, lat2, lon2),
		Unit:  "km",
		Mode:  mode,
	}, nil
}

// RouteDistance approximates the travel distance between two endpoints for
// the given transport mode.
func (h Haversine) RouteDistance(ctx context.Context, from, to, mode string) (model.Distance, error) {
	return h.DirectDistance(ctx, from, to, mode)
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func parseCoord(s string) (lat, lon float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("distance: endpoint %q is not a lat,lon pair", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("distance: endpoint %q: bad latitude", s)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("distance: endpoint %q: bad longitude", s)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("distance: endpoint %q: out of range", s)
	}
	return lat, lon, nil
}

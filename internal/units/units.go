// Package units converts weights and distances between the units of measure
// supported by the emissions pipeline. All functions are pure; kilograms and
// kilometers are the normal forms everything else converts through.
package units

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedUnit is returned when a unit token is not recognized.
var ErrUnsupportedUnit = errors.New("units: unsupported unit")

// ErrInvalidQuantity is returned when a weight value is zero or missing.
var ErrInvalidQuantity = errors.New("units: invalid quantity")

// WeightToKg converts a weight to kilograms. An empty uom means the value is
// already in kilograms. Matching is case-insensitive.
func WeightToKg(weight float64, uom string) (float64, error) {
	if weight == 0 {
		return 0, fmt.Errorf("%w: weight %v", ErrInvalidQuantity, weight)
	}
	if uom == "" {
		return weight, nil
	}
	switch strings.ToLower(uom) {
	case "kg":
		return weight, nil
	case "lb", "lbs", "pound":
		return weight * 0.453592, nil
	case "t", "tonne":
		return weight * 1000.0, nil
	case "g":
		return weight / 1000.0, nil
	}
	return 0, fmt.Errorf("%w: weight uom %q", ErrUnsupportedUnit, uom)
}

// WeightInUOM converts a weight from one uom into another.
// E.g. 1 g is 0.001 kg, and 1 tonne is 1000 kg, so 1 g is 0.000001 tonne.
func WeightInUOM(weight float64, uom, toUOM string) (float64, error) {
	w1, err := WeightToKg(weight, uom)
	if err != nil {
		return 0, err
	}
	w2, err := WeightToKg(1, toUOM)
	if err != nil {
		return 0, err
	}
	return w1 / w2, nil
}

// ConvertKgForUOM returns the multiplier that converts kilograms into the
// given weight uom. Composite factor dimensions like "tonne.km" resolve on
// their leading token.
func ConvertKgForUOM(uom string) (float64, error) {
	if i := strings.Index(uom, "."); i >= 0 {
		return ConvertKgForUOM(uom[:i])
	}
	switch strings.ToLower(uom) {
	case "kg":
		return 1, nil
	case "lb", "lbs", "pound":
		return 2.20462, nil
	case "t", "tonne":
		return 0.001, nil
	case "g":
		return 1000.0, nil
	}
	return 0, fmt.Errorf("%w: weight uom %q", ErrUnsupportedUnit, uom)
}

// DistanceToKm converts a distance to kilometers. An empty unit means the
// value is already in kilometers. Matching is case-insensitive.
func DistanceToKm(distance float64, unit string) (float64, error) {
	switch strings.ToLower(unit) {
	case "", "km":
		return distance, nil
	case "mi", "miles":
		return distance * 1.60934, nil
	}
	return 0, fmt.Errorf("%w: distance uom %q", ErrUnsupportedUnit, unit)
}

// DistanceInUOM converts a distance from one uom into another.
func DistanceInUOM(distance float64, uom, toUOM string) (float64, error) {
	d1, err := DistanceToKm(distance, uom)
	if err != nil {
		return 0, err
	}
	d2, err := DistanceToKm(1, toUOM)
	if err != nil {
		return 0, err
	}
	return d1 / d2, nil
}

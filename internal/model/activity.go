// Package model defines the domain types of the emissions pipeline: the
// activity union, emission factors, processed results, grouped batches, and
// the emissions-request lifecycle records.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissingID is returned when an activity has no id.
var ErrMissingID = errors.New("model: activity must have an id")

// ErrUnrecognizedActivity is returned when an activity matches none of the
// known shapes.
var ErrUnrecognizedActivity = errors.New("model: activity not recognized")

// Kind discriminates the activity union. It is resolved exactly once, when
// raw input is parsed; downstream code switches on it instead of re-probing
// field presence.
type Kind string

const (
	KindShipment        Kind = "shipment"
	KindFlight          Kind = "flight"
	KindEmissionsFactor Kind = "emissions_factor"
)

// ShipmentActivity describes a freight shipment. Either a recognized carrier
// plus tracking code, or explicit endpoints with a transport mode and weight.
type ShipmentActivity struct {
	Carrier   string  `json:"carrier,omitempty"`
	Tracking  string  `json:"tracking,omitempty"`
	Mode      string  `json:"mode,omitempty"`
	From      string  `json:"from,omitempty"`
	To        string  `json:"to,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
	WeightUOM string  `json:"weight_uom,omitempty"`
}

// FlightActivity describes a passenger flight between two endpoints.
type FlightActivity struct {
	From               string `json:"from,omitempty"`
	To                 string `json:"to,omitempty"`
	NumberOfPassengers int    `json:"number_of_passengers,omitempty"`
	Class              string `json:"class,omitempty"`
}

// EmissionsFactorActivity is a generic metered activity priced against an
// emission factor, selected either directly by uuid or by structured match
// fields. Which quantity inputs are required depends on the matched factor's
// activity_uom dimensions.
type EmissionsFactorActivity struct {
	EmissionsFactorUUID string `json:"emissions_factor_uuid,omitempty"`

	// Structured match fields, used when no uuid is given.
	Level1 string `json:"level_1,omitempty"`
	Level2 string `json:"level_2,omitempty"`
	Level3 string `json:"level_3,omitempty"`
	Level4 string `json:"level_4,omitempty"`
	Scope  string `json:"scope,omitempty"`
	Text   string `json:"text,omitempty"`

	ActivityAmount     float64 `json:"activity_amount,omitempty"`
	ActivityUOM        string  `json:"activity_uom,omitempty"`
	Weight             float64 `json:"weight,omitempty"`
	WeightUOM          string  `json:"weight_uom,omitempty"`
	Distance           float64 `json:"distance,omitempty"`
	DistanceUOM        string  `json:"distance_uom,omitempty"`
	NumberOfPassengers int     `json:"number_of_passengers,omitempty"`
	Class              string  `json:"class,omitempty"`
}

// Activity is the tagged union over the three activity shapes.
// Exactly one of Shipment, Flight, Factor is non-nil, matching Kind.
type Activity struct {
	ID       string     `json:"id"`
	Kind     Kind       `json:"type"`
	FromDate *time.Time `json:"from_date,omitempty"`
	ThruDate *time.Time `json:"thru_date,omitempty"`

	Shipment *ShipmentActivity        `json:"-"`
	Flight   *FlightActivity          `json:"-"`
	Factor   *EmissionsFactorActivity `json:"-"`
}

// rawActivity is the flat wire shape an activity arrives in. Classification
// into a Kind happens here, once, so the rest of the pipeline never probes
// field presence again.
type rawActivity struct {
	ID       string    `json:"id"`
	Type     string    `json:"type,omitempty"`
	FromDate *FlexTime `json:"from_date,omitempty"`
	ThruDate *FlexTime `json:"thru_date,omitempty"`

	Carrier   string  `json:"carrier,omitempty"`
	Tracking  string  `json:"tracking,omitempty"`
	Mode      string  `json:"mode,omitempty"`
	From      string  `json:"from,omitempty"`
	To        string  `json:"to,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
	WeightUOM string  `json:"weight_uom,omitempty"`

	NumberOfPassengers int    `json:"number_of_passengers,omitempty"`
	Class              string `json:"class,omitempty"`

	EmissionsFactorUUID string  `json:"emissions_factor_uuid,omitempty"`
	Level1              string  `json:"level_1,omitempty"`
	Level2              string  `json:"level_2,omitempty"`
	Level3              string  `json:"level_3,omitempty"`
	Level4              string  `json:"level_4,omitempty"`
	Scope               string  `json:"scope,omitempty"`
	Text                string  `json:"text,omitempty"`
	ActivityAmount      float64 `json:"activity_amount,omitempty"`
	ActivityUOM         string  `json:"activity_uom,omitempty"`
	Distance            float64 `json:"distance,omitempty"`
	DistanceUOM         string  `json:"distance_uom,omitempty"`
}

// FlexTime is a timestamp that unmarshals from RFC 3339 or plain dates.
type FlexTime time.Time

// UnmarshalJSON accepts RFC 3339, "2006-01-02 15:04:05" and "2006-01-02".
func (f *FlexTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			*f = FlexTime(t)
			return nil
		}
	}
	return fmt.Errorf("model: cannot read as a date: %q", s)
}

// MarshalJSON renders the timestamp as RFC 3339.
func (f FlexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(f).Format(time.RFC3339))
}

func flexTime(t *time.Time) *FlexTime {
	if t == nil {
		return nil
	}
	ft := FlexTime(*t)
	return &ft
}

func stdTime(f *FlexTime) *time.Time {
	if f == nil {
		return nil
	}
	t := time.Time(*f)
	return &t
}

// UnmarshalJSON decodes the flat wire shape and resolves the variant tag.
// An explicit "type" field wins; otherwise the shape is classified by its
// distinguishing fields. Generic-factor records never carry a type name.
func (a *Activity) UnmarshalJSON(data []byte) error {
	var raw rawActivity
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.ID = raw.ID
	a.FromDate = stdTime(raw.FromDate)
	a.ThruDate = stdTime(raw.ThruDate)

	switch classify(raw) {
	case KindShipment:
		a.Kind = KindShipment
		a.Shipment = &ShipmentActivity{
			Carrier:   raw.Carrier,
			Tracking:  raw.Tracking,
			Mode:      raw.Mode,
			From:      raw.From,
			To:        raw.To,
			Weight:    raw.Weight,
			WeightUOM: raw.WeightUOM,
		}
	case KindFlight:
		a.Kind = KindFlight
		a.Flight = &FlightActivity{
			From:               raw.From,
			To:                 raw.To,
			NumberOfPassengers: raw.NumberOfPassengers,
			Class:              raw.Class,
		}
	case KindEmissionsFactor:
		a.Kind = KindEmissionsFactor
		a.Factor = &EmissionsFactorActivity{
			EmissionsFactorUUID: raw.EmissionsFactorUUID,
			Level1:              raw.Level1,
			Level2:              raw.Level2,
			Level3:              raw.Level3,
			Level4:              raw.Level4,
			Scope:               raw.Scope,
			Text:                raw.Text,
			ActivityAmount:      raw.ActivityAmount,
			ActivityUOM:         raw.ActivityUOM,
			Weight:              raw.Weight,
			WeightUOM:           raw.WeightUOM,
			Distance:            raw.Distance,
			DistanceUOM:         raw.DistanceUOM,
			NumberOfPassengers:  raw.NumberOfPassengers,
			Class:               raw.Class,
		}
	default:
		// Leave the union empty; Validate reports ErrUnrecognizedActivity.
		a.Kind = ""
	}
	return nil
}

func classify(raw rawActivity) Kind {
	switch Kind(raw.Type) {
	case KindShipment, KindFlight, KindEmissionsFactor:
		return Kind(raw.Type)
	}
	if raw.Carrier != "" || raw.Tracking != "" {
		return KindShipment
	}
	if raw.EmissionsFactorUUID != "" || raw.Level1 != "" || raw.Level2 != "" ||
		raw.Text != "" || raw.Scope != "" || raw.ActivityAmount != 0 {
		return KindEmissionsFactor
	}
	if raw.From != "" && raw.To != "" {
		if raw.Weight != 0 || raw.Mode != "" {
			return KindShipment
		}
		return KindFlight
	}
	return ""
}

// MarshalJSON renders the activity back into its flat wire shape with an
// explicit type tag, so serialized batch content is self-describing.
func (a Activity) MarshalJSON() ([]byte, error) {
	raw := rawActivity{
		ID:       a.ID,
		Type:     string(a.Kind),
		FromDate: flexTime(a.FromDate),
		ThruDate: flexTime(a.ThruDate),
	}
	switch {
	case a.Shipment != nil:
		s := a.Shipment
		raw.Carrier, raw.Tracking, raw.Mode = s.Carrier, s.Tracking, s.Mode
		raw.From, raw.To = s.From, s.To
		raw.Weight, raw.WeightUOM = s.Weight, s.WeightUOM
	case a.Flight != nil:
		f := a.Flight
		raw.From, raw.To = f.From, f.To
		raw.NumberOfPassengers, raw.Class = f.NumberOfPassengers, f.Class
	case a.Factor != nil:
		ef := a.Factor
		raw.EmissionsFactorUUID = ef.EmissionsFactorUUID
		raw.Level1, raw.Level2, raw.Level3, raw.Level4 = ef.Level1, ef.Level2, ef.Level3, ef.Level4
		raw.Scope, raw.Text = ef.Scope, ef.Text
		raw.ActivityAmount, raw.ActivityUOM = ef.ActivityAmount, ef.ActivityUOM
		raw.Weight, raw.WeightUOM = ef.Weight, ef.WeightUOM
		raw.Distance, raw.DistanceUOM = ef.Distance, ef.DistanceUOM
		raw.NumberOfPassengers, raw.Class = ef.NumberOfPassengers, ef.Class
	}
	return json.Marshal(raw)
}

// Validate checks the invariants every activity must satisfy before
// processing: a non-empty id and a recognized shape.
func (a Activity) Validate() error {
	if a.ID == "" {
		return ErrMissingID
	}
	if a.Kind == "" || (a.Shipment == nil && a.Flight == nil && a.Factor == nil) {
		return fmt.Errorf("%w: id %q", ErrUnrecognizedActivity, a.ID)
	}
	return nil
}

// ParseActivities decodes a JSON document of the form {"activities": [...]}
// or a bare JSON array of activities.
func ParseActivities(data []byte) ([]Activity, error) {
	var doc struct {
		Activities []Activity `json:"activities"`
	}
	if err := json.Unmarshal(data, &doc); err == nil && doc.Activities != nil {
		return doc.Activities, nil
	}
	var list []Activity
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("model: parse activities: %w", err)
	}
	return list, nil
}

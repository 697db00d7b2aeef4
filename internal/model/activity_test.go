package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseActivitiesClassification(t *testing.T) {
	input := []byte(`{"activities": [
		{"id": "1", "carrier": "ups", "tracking": "1Z999"},
		{"id": "2", "mode": "ground", "from": "Paris", "to": "Lyon", "weight": 10, "weight_uom": "kg"},
		{"id": "3", "from": "CDG", "to": "JFK", "number_of_passengers": 2, "class": "business"},
		{"id": "4", "emissions_factor_uuid": "abc", "activity_amount": 100, "activity_uom": "kWh"},
		{"id": "5", "level_1": "Business travel- air", "distance": 100, "distance_uom": "km"},
		{"id": "6", "type": "flight", "from": "SFO", "to": "LAX"}
	]}`)

	acts, err := ParseActivities(input)
	require.NoError(t, err)
	require.Len(t, acts, 6)

	wantKinds := []Kind{KindShipment, KindShipment, KindFlight, KindEmissionsFactor, KindEmissionsFactor, KindFlight}
	for i, k := range wantKinds {
		require.Equal(t, k, acts[i].Kind, "activity %d", i)
		require.NoError(t, acts[i].Validate())
	}

	require.Equal(t, "ups", acts[0].Shipment.Carrier)
	require.Equal(t, "ground", acts[1].Shipment.Mode)
	require.Equal(t, 2, acts[2].Flight.NumberOfPassengers)
	require.Equal(t, "abc", acts[3].Factor.EmissionsFactorUUID)
	require.Equal(t, "Business travel- air", acts[4].Factor.Level1)
	require.Equal(t, "SFO", acts[5].Flight.From)
}

func TestParseActivitiesBareArray(t *testing.T) {
	acts, err := ParseActivities([]byte(`[{"id": "x", "carrier": "ups", "tracking": "t"}]`))
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.Equal(t, KindShipment, acts[0].Kind)
}

func TestActivityValidate(t *testing.T) {
	var a Activity
	require.NoError(t, json.Unmarshal([]byte(`{"carrier": "ups", "tracking": "t"}`), &a))
	if err := a.Validate(); !errors.Is(err, ErrMissingID) {
		t.Errorf("missing id: got %v, want ErrMissingID", err)
	}

	require.NoError(t, json.Unmarshal([]byte(`{"id": "z", "note": "nothing recognizable"}`), &a))
	if err := a.Validate(); !errors.Is(err, ErrUnrecognizedActivity) {
		t.Errorf("unrecognized shape: got %v, want ErrUnrecognizedActivity", err)
	}
}

func TestActivityDates(t *testing.T) {
	var a Activity
	require.NoError(t, json.Unmarshal([]byte(
		`{"id": "d", "carrier": "ups", "tracking": "t", "from_date": "2022-01-02", "thru_date": "2022-02-03T10:00:00Z"}`), &a))
	require.NotNil(t, a.FromDate)
	require.NotNil(t, a.ThruDate)
	require.Equal(t, 2022, a.FromDate.Year())
	require.Equal(t, 10, a.ThruDate.Hour())

	require.Error(t, json.Unmarshal([]byte(`{"id": "d", "from_date": "not a date"}`), &a))
}

func TestActivityMarshalRoundTrip(t *testing.T) {
	in := []byte(`{"id": "7", "mode": "sea", "from": "Rotterdam", "to": "Singapore", "weight": 3, "weight_uom": "tonne"}`)
	var a Activity
	require.NoError(t, json.Unmarshal(in, &a))

	out, err := json.Marshal(a)
	require.NoError(t, err)

	var b Activity
	require.NoError(t, json.Unmarshal(out, &b))
	require.Equal(t, a.Kind, b.Kind)
	require.Equal(t, a.Shipment, b.Shipment)
}

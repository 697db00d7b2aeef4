package model

// ValueAndUnit is a generic quantity carrier (weights in kg, emissions in
// kgCO2e).
type ValueAndUnit struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Distance is a travel distance, always normalizable to kilometers.
type Distance struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Mode  string  `json:"mode,omitempty"`
}

// EmissionFactor is a catalog record mapping an activity unit of measure
// (e.g. "tonne.km") to a CO2-equivalent emission rate. The level fields form
// a free-text classification hierarchy.
type EmissionFactor struct {
	UUID        string `json:"uuid"`
	Level1      string `json:"level_1,omitempty"`
	Level2      string `json:"level_2,omitempty"`
	Level3      string `json:"level_3,omitempty"`
	Level4      string `json:"level_4,omitempty"`
	Scope       string `json:"scope,omitempty"`
	Text        string `json:"text,omitempty"`
	Year        string `json:"year,omitempty"`
	ActivityUOM string `json:"activity_uom"`

	// The emission rate is kept as stored in the catalog; the processor
	// parses it and rejects factors without one.
	CO2EquivalentEmissions    string `json:"co2_equivalent_emissions"`
	CO2EquivalentEmissionsUOM string `json:"co2_equivalent_emissions_uom"`
}

// FactorQuery selects emission factors by exact match on its non-empty
// fields. Factor catalogs are curated so a direct lookup matches exactly one
// record.
type FactorQuery struct {
	UUID        string
	Level1      string
	Level2      string
	Level3      string
	Level4      string
	Scope       string
	Text        string
	Year        string
	ActivityUOM string
}

// Emissions is a computed emission amount together with the factor that
// priced it.
type Emissions struct {
	Amount ValueAndUnit   `json:"amount"`
	Factor EmissionFactor `json:"factor"`
}

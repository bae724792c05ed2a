package engine

import (
	"strings"

	"github.com/verdantiq/nexus/internal/domain"
)

// emissionFactor converts an activity quantity into kg CO2e.
type emissionFactor struct {
	Scope  int
	Unit   string
	KgCO2e float64
}

// Static factor table, keyed by file category then activity name.
// Values follow the usual GHG-protocol reference factors.
var factors = map[domain.FileCategory]map[string]emissionFactor{
	domain.CategoryFuel: {
		"diesel":      {Scope: 1, Unit: "l", KgCO2e: 2.68},
		"petrol":      {Scope: 1, Unit: "l", KgCO2e: 2.31},
		"natural_gas": {Scope: 1, Unit: "m3", KgCO2e: 2.02},
		"lpg":         {Scope: 1, Unit: "l", KgCO2e: 1.51},
	},
	domain.CategoryElectricity: {
		"grid_electricity": {Scope: 2, Unit: "kwh", KgCO2e: 0.39},
		"district_heating": {Scope: 2, Unit: "kwh", KgCO2e: 0.17},
	},
	domain.CategoryTravel: {
		"flight_short_haul": {Scope: 3, Unit: "km", KgCO2e: 0.255},
		"flight_long_haul":  {Scope: 3, Unit: "km", KgCO2e: 0.195},
		"rail":              {Scope: 3, Unit: "km", KgCO2e: 0.041},
		"car":               {Scope: 3, Unit: "km", KgCO2e: 0.171},
	},
}

// factorFor looks up the emission factor for an activity row. The unit
// must match the factor's reference unit; mismatched rows are skipped
// rather than silently converted.
func factorFor(category domain.FileCategory, activity, unit string) (emissionFactor, bool) {
	byActivity, ok := factors[category]
	if !ok {
		return emissionFactor{}, false
	}
	f, ok := byActivity[strings.ToLower(strings.TrimSpace(activity))]
	if !ok {
		return emissionFactor{}, false
	}
	if !strings.EqualFold(strings.TrimSpace(unit), f.Unit) {
		return emissionFactor{}, false
	}
	return f, true
}

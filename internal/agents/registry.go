// Package agents holds the static agent network description.
//
// Agents are backend processing units described only by metadata: name,
// domain, capabilities, and the activity-data categories they handle.
// There is no runtime computation here; the engine decides which agents
// to assign when a session starts processing.
package agents

import (
	"github.com/verdantiq/nexus/internal/domain"
)

var network = []domain.Agent{
	{
		ID:           "intake-validator",
		Name:         "Intake Validator",
		Domain:       "data-quality",
		Capabilities: []string{"schema validation", "unit normalization", "duplicate detection"},
		Handles: []domain.FileCategory{
			domain.CategoryFuel, domain.CategoryElectricity,
			domain.CategoryTravel, domain.CategoryGeneral,
		},
	},
	{
		ID:           "scope1-combustion",
		Name:         "Scope 1 Combustion Analyst",
		Domain:       "carbon-accounting",
		Capabilities: []string{"stationary combustion", "mobile combustion", "fuel factor lookup"},
		Handles:      []domain.FileCategory{domain.CategoryFuel},
	},
	{
		ID:           "scope2-energy",
		Name:         "Scope 2 Energy Analyst",
		Domain:       "carbon-accounting",
		Capabilities: []string{"purchased electricity", "grid factor lookup", "location-based method"},
		Handles:      []domain.FileCategory{domain.CategoryElectricity},
	},
	{
		ID:           "scope3-travel",
		Name:         "Scope 3 Travel Analyst",
		Domain:       "carbon-accounting",
		Capabilities: []string{"business travel", "employee commuting", "distance-based method"},
		Handles:      []domain.FileCategory{domain.CategoryTravel},
	},
	{
		ID:           "report-composer",
		Name:         "Report Composer",
		Domain:       "reporting",
		Capabilities: []string{"scope aggregation", "category rollup", "export generation"},
		Handles: []domain.FileCategory{
			domain.CategoryFuel, domain.CategoryElectricity,
			domain.CategoryTravel, domain.CategoryGeneral,
		},
	},
}

// All returns the full agent network description.
func All() []domain.Agent {
	out := make([]domain.Agent, len(network))
	copy(out, network)
	return out
}

// Get looks up an agent by ID. Returns nil if unknown.
func Get(id string) *domain.Agent {
	for i := range network {
		if network[i].ID == id {
			a := network[i]
			return &a
		}
	}
	return nil
}

// Assign selects the agents for a session based on the categories of its
// uploaded files. The intake validator and report composer bracket every
// run; scope analysts join only when their category is present.
func Assign(files []domain.UploadedFile) []string {
	present := make(map[domain.FileCategory]bool, len(files))
	for _, f := range files {
		present[f.Category] = true
	}

	assigned := []string{"intake-validator"}
	for _, a := range network {
		if a.ID == "intake-validator" || a.ID == "report-composer" {
			continue
		}
		for c := range present {
			if a.HandlesCategory(c) {
				assigned = append(assigned, a.ID)
				break
			}
		}
	}
	return append(assigned, "report-composer")
}

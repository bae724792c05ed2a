package client

import (
	"context"
	"errors"
	"time"
)

// Placeholder fallbacks used by dashboard helper utilities when the
// backend is unreachable. Not representative of production error policy;
// real failures should surface APIError to the user.

// PlaceholderAgents returns a local copy of the agent network for
// rendering agent-selection views offline.
func PlaceholderAgents() []Agent {
	return []Agent{
		{
			ID:           "intake-validator",
			Name:         "Intake Validator",
			Domain:       "data-quality",
			Capabilities: []string{"schema validation", "unit normalization", "duplicate detection"},
		},
		{
			ID:           "scope1-combustion",
			Name:         "Scope 1 Combustion Analyst",
			Domain:       "carbon-accounting",
			Capabilities: []string{"stationary combustion", "mobile combustion", "fuel factor lookup"},
		},
		{
			ID:           "scope2-energy",
			Name:         "Scope 2 Energy Analyst",
			Domain:       "carbon-accounting",
			Capabilities: []string{"purchased electricity", "grid factor lookup", "location-based method"},
		},
		{
			ID:           "scope3-travel",
			Name:         "Scope 3 Travel Analyst",
			Domain:       "carbon-accounting",
			Capabilities: []string{"business travel", "employee commuting", "distance-based method"},
		},
		{
			ID:           "report-composer",
			Name:         "Report Composer",
			Domain:       "reporting",
			Capabilities: []string{"scope aggregation", "category rollup", "export generation"},
		},
	}
}

// PlaceholderResults returns sample results for preview rendering.
func PlaceholderResults(sessionID string) *Results {
	return &Results{
		SessionID:   sessionID,
		TotalCO2eKg: 1284.5,
		ScopeTotals: map[int]float64{1: 536.0, 2: 546.0, 3: 202.5},
		ByCategory: map[string]float64{
			"fuel":        536.0,
			"electricity": 546.0,
			"travel":      202.5,
		},
		Records: []EmissionRecord{
			{Scope: 1, Category: "fuel", Activity: "diesel", Quantity: 200, Unit: "l", Factor: 2.68, CO2eKg: 536.0, Agent: "scope1-combustion"},
			{Scope: 2, Category: "electricity", Activity: "grid_electricity", Quantity: 1400, Unit: "kwh", Factor: 0.39, CO2eKg: 546.0, Agent: "scope2-energy"},
			{Scope: 3, Category: "travel", Activity: "flight_long_haul", Quantity: 1038, Unit: "km", Factor: 0.195, CO2eKg: 202.41, Agent: "scope3-travel"},
		},
		GeneratedAt: time.Now(),
	}
}

// ListAgentsOrPlaceholder fetches the agent network, falling back to the
// local placeholder copy on network failure. The bool reports whether
// live data was returned.
func (c *Client) ListAgentsOrPlaceholder(ctx context.Context) ([]Agent, bool) {
	agents, err := c.ListAgents(ctx)
	if err != nil {
		return PlaceholderAgents(), false
	}
	return agents, true
}

// GetResultsOrPlaceholder fetches results, falling back to placeholder
// data on network failure only. API errors (e.g. results not ready) are
// returned as-is so callers can distinguish them.
func (c *Client) GetResultsOrPlaceholder(ctx context.Context, sessionID string) (*Results, bool, error) {
	results, err := c.GetResults(ctx, sessionID)
	if err == nil {
		return results, true, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return nil, false, err
	}
	return PlaceholderResults(sessionID), false, nil
}

package domain

import (
	"time"
)

// EmissionRecord is one computed line item: an activity row with its
// calculated CO2-equivalent emissions.
type EmissionRecord struct {
	Scope    int     `json:"scope"`
	Category string  `json:"category"`
	Activity string  `json:"activity"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Factor   float64 `json:"factor"`
	CO2eKg   float64 `json:"co2e_kg"`
	Agent    string  `json:"agent"`
	SourceID string  `json:"source_file_id"`
}

// Results is the aggregate output of a completed processing run.
type Results struct {
	SessionID   string             `json:"session_id"`
	TotalCO2eKg float64            `json:"total_co2e_kg"`
	ScopeTotals map[int]float64    `json:"scope_totals"`
	ByCategory  map[string]float64 `json:"by_category"`
	Records     []EmissionRecord   `json:"records"`
	RowsSkipped int                `json:"rows_skipped"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Export describes one downloadable artifact produced for a session.
type Export struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

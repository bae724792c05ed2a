package domain

import (
	"strings"
	"time"
)

// FileCategory classifies an uploaded activity-data file. The category
// drives agent assignment when processing starts.
type FileCategory string

const (
	CategoryFuel        FileCategory = "fuel"
	CategoryElectricity FileCategory = "electricity"
	CategoryTravel      FileCategory = "travel"
	CategoryGeneral     FileCategory = "general"
)

// UploadedFile is the metadata record for one uploaded activity-data file.
// File bytes live on disk under the session's upload directory.
type UploadedFile struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Category   FileCategory `json:"category"`
	SizeBytes  int64        `json:"size_bytes"`
	UploadedAt time.Time    `json:"uploaded_at"`
}

// CategorizeFilename infers a file category from the uploaded filename.
// Unrecognized names fall back to CategoryGeneral.
func CategorizeFilename(name string) FileCategory {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "fuel") || strings.Contains(lower, "diesel") || strings.Contains(lower, "gas"):
		return CategoryFuel
	case strings.Contains(lower, "electric") || strings.Contains(lower, "energy") || strings.Contains(lower, "utility"):
		return CategoryElectricity
	case strings.Contains(lower, "travel") || strings.Contains(lower, "flight") || strings.Contains(lower, "commut"):
		return CategoryTravel
	}
	return CategoryGeneral
}

package engine

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/verdantiq/nexus/internal/domain"
)

// Export artifact names produced for every completed session.
const (
	ExportResultsJSON  = "results.json"
	ExportEmissionsCSV = "emissions.csv"
)

// writeExports generates the downloadable artifacts for a session.
func (e *Engine) writeExports(sessionID string, results *domain.Results) error {
	dir := ExportDir(e.cfg.DataDir, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	if err := writeResultsJSON(filepath.Join(dir, ExportResultsJSON), results); err != nil {
		return err
	}
	if err := writeEmissionsCSV(filepath.Join(dir, ExportEmissionsCSV), results); err != nil {
		return err
	}

	slog.Info("Export artifacts written", "session_id", sessionID, "dir", dir)
	return nil
}

func writeResultsJSON(path string, results *domain.Results) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results export: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write results export: %w", err)
	}
	return nil
}

func writeEmissionsCSV(path string, results *domain.Results) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create emissions export: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Debug("failed to close emissions export", "error", closeErr, "path", path)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"scope", "category", "activity", "quantity", "unit", "factor", "co2e_kg", "agent"}); err != nil {
		return fmt.Errorf("write emissions header: %w", err)
	}
	for _, rec := range results.Records {
		row := []string{
			strconv.Itoa(rec.Scope),
			rec.Category,
			rec.Activity,
			strconv.FormatFloat(rec.Quantity, 'f', -1, 64),
			rec.Unit,
			strconv.FormatFloat(rec.Factor, 'f', -1, 64),
			strconv.FormatFloat(rec.CO2eKg, 'f', 3, 64),
			rec.Agent,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write emissions row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush emissions export: %w", err)
	}
	return nil
}

// ListExports enumerates the export artifacts available for a session.
func ListExports(dataDir, sessionID string) ([]domain.Export, error) {
	dir := ExportDir(dataDir, sessionID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read export directory: %w", err)
	}

	var exports []domain.Export
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat export %s: %w", entry.Name(), err)
		}
		exports = append(exports, domain.Export{
			Name:      entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().Truncate(time.Second),
		})
	}

	sort.Slice(exports, func(i, j int) bool { return exports[i].Name < exports[j].Name })
	return exports, nil
}

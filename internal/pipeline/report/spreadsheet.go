// Package report builds the daily report artifacts: a CSV spreadsheet of
// the day's leads and the HTML email body that summarizes them.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/acem-systems/agentd/internal/pipeline/ai"
	"github.com/acem-systems/agentd/internal/pipeline/store"
)

var spreadsheetHeader = []string{
	"Empresa", "Contacto", "Email", "Website", "Telefono", "Ciudad", "Pais",
	"Resumen", "Automatizacion 1", "Automatizacion 2", "Automatizacion 3", "Fecha",
}

// automationCells renders the stored automation JSON into three columns.
func automationCells(raw string) [3]string {
	var cells [3]string
	if raw == "" {
		return cells
	}
	var autos []ai.Automation
	if err := json.Unmarshal([]byte(raw), &autos); err != nil {
		return cells
	}
	for i, a := range autos {
		if i >= 3 {
			break
		}
		cells[i] = fmt.Sprintf("%s: %s (%s)", a.Name, a.Description, a.Value)
	}
	return cells
}

// WriteSpreadsheet writes the leads to dir/leads_{runDate}.csv and returns
// the file path. An empty lead list writes nothing and returns "".
func WriteSpreadsheet(dir string, leads []store.Lead, runDate string) (string, error) {
	if len(leads) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: create dir: %w", err)
	}

	path := filepath.Join(dir, "leads_"+runDate+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("report: create spreadsheet: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(spreadsheetHeader); err != nil {
		return "", fmt.Errorf("report: write header: %w", err)
	}
	for _, l := range leads {
		autos := automationCells(l.AutomationSuggestions)
		date := l.DiscoveredDate
		if date == "" {
			date = runDate
		}
		row := []string{
			l.CompanyName, l.ContactName, l.Email, l.Website, l.Phone,
			l.City, l.Country, l.AISummary, autos[0], autos[1], autos[2], date,
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("report: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("report: flush spreadsheet: %w", err)
	}
	return path, nil
}

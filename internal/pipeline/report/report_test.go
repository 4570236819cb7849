package report

import (
	"encoding/csv"
	"os"
	"strings"
	"testing"

	"github.com/acem-systems/agentd/internal/pipeline/store"
)

const sampleAutomations = `[
	{"name": "Reportes automaticos", "description": "Genera informes", "value": "Ahorra 5 horas"},
	{"name": "Secuencias de email", "description": "Nutre leads", "value": "Mas conversiones"}
]`

func sampleLead() store.Lead {
	return store.Lead{
		CompanyName:           "Agencia Norte",
		ContactName:           "Ana Ruiz",
		Email:                 "ana@norte.es",
		Website:               "https://norte.es",
		Phone:                 "+34 91 555 0101",
		City:                  "Madrid",
		Country:               "Espana",
		AISummary:             "Agencia especializada en SEO.",
		AutomationSuggestions: sampleAutomations,
		DiscoveredDate:        "2026-02-17",
	}
}

func TestWriteSpreadsheet(t *testing.T) {
	dir := t.TempDir()
	leads := []store.Lead{
		sampleLead(),
		{CompanyName: "Sur", Domain: "sur.mx", Country: "Mexico"},
	}

	path, err := WriteSpreadsheet(dir, leads, "2026-02-18")
	if err != nil {
		t.Fatalf("WriteSpreadsheet: %v", err)
	}
	if !strings.HasSuffix(path, "leads_2026-02-18.csv") {
		t.Errorf("path = %q", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(records))
	}
	if records[0][0] != "Empresa" || records[0][11] != "Fecha" {
		t.Errorf("header = %v", records[0])
	}
	if records[1][8] != "Reportes automaticos: Genera informes (Ahorra 5 horas)" {
		t.Errorf("automation cell = %q", records[1][8])
	}
	if records[1][10] != "" {
		t.Errorf("third automation should be empty, got %q", records[1][10])
	}
	if records[1][11] != "2026-02-17" {
		t.Errorf("date = %q, want discovered date", records[1][11])
	}
	// No discovered date falls back to the run date.
	if records[2][11] != "2026-02-18" {
		t.Errorf("fallback date = %q", records[2][11])
	}
}

func TestWriteSpreadsheetEmpty(t *testing.T) {
	path, err := WriteSpreadsheet(t.TempDir(), nil, "2026-02-18")
	if err != nil {
		t.Fatalf("WriteSpreadsheet: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
}

func TestBuildEmailBody(t *testing.T) {
	leads := []store.Lead{sampleLead(), {CompanyName: "Sur", Country: "Mexico"}}
	body := BuildEmailBody(leads, "2026-02-18")

	for _, want := range []string{
		"Informe Diario de Leads",
		"2026-02-18 &nbsp;|&nbsp; 2 agencias de marketing digital",
		"Agencia Norte",
		"Madrid, Espana",
		"ana@norte.es",
		`<a href="https://norte.es"`,
		"Reportes automaticos",
		"No encontrado", // lead without email
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}

	// Stats bar: 2 leads, 1 with email, 6 automations.
	if !strings.Contains(body, `color:#059669;">1</div>`) {
		t.Error("with-email stat missing")
	}
	if !strings.Contains(body, `color:#2563EB;">6</div>`) {
		t.Error("automation stat missing")
	}

	// Lead without a city shows only the country.
	if !strings.Contains(body, "📍 Mexico ") {
		t.Error("country-only location missing")
	}
}

func TestBuildEmailBodyEscapesContent(t *testing.T) {
	body := BuildEmailBody([]store.Lead{{
		CompanyName: `<script>alert("x")</script>`,
		Country:     "Espana",
	}}, "2026-02-18")
	if strings.Contains(body, "<script>alert") {
		t.Error("company name not escaped")
	}
}

func TestSubject(t *testing.T) {
	got := Subject("2026-02-18", 12)
	if got != "Informe Diario de Leads - 2026-02-18 - 12 Agencias de Marketing" {
		t.Errorf("Subject = %q", got)
	}
}

package facade

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/store"
)

// StatusRow is one agent-status sync row: one pipeline execution bucketed
// to 10-minute intervals.
type StatusRow struct {
	ClientExternalID string  `json:"client_external_id"`
	ClientName       string  `json:"client_name"`
	AgentExternalID  string  `json:"agent_external_id"`
	AgentName        string  `json:"agent_name"`
	Status           string  `json:"status"`
	BucketStart      string  `json:"bucket_start"`
	RunsTotal        int     `json:"runs_total"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
	TasksCompleted   int     `json:"tasks_completed"`
	EstImpactValue   float64 `json:"est_impact_value"`
	CurrencyCode     string  `json:"currency_code"`
	UpdatedAt        string  `json:"updated_at"`
}

// EventRow is one agent-event sync row.
type EventRow struct {
	ClientExternalID string         `json:"client_external_id"`
	ClientName       string         `json:"client_name"`
	AgentExternalID  string         `json:"agent_external_id"`
	AgentName        string         `json:"agent_name"`
	Status           string         `json:"status"`
	SourceEventID    string         `json:"source_event_id"`
	OccurredAt       string         `json:"occurred_at"`
	UpdatedAt        string         `json:"updated_at"`
	EventType        string         `json:"event_type"`
	Severity         string         `json:"severity"`
	Title            string         `json:"title"`
	Summary          string         `json:"summary"`
	Payload          map[string]any `json:"payload_json"`
}

// Reporter translates pipeline runs into sync rows.
type Reporter struct {
	cfg config.Config
	st  *store.Store
	now func() time.Time
}

// NewReporter builds a reporter over the pipeline store.
func NewReporter(cfg config.Config, st *store.Store) *Reporter {
	return &Reporter{cfg: cfg, st: st, now: time.Now}
}

func isoZ(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func bucketStart(t time.Time) time.Time {
	t = t.UTC()
	return t.Truncate(time.Minute).Add(-time.Duration(t.Minute()%10) * time.Minute)
}

func statusFromErrors(count int) string {
	switch {
	case count == 0:
		return "Activo"
	case count <= 2:
		return "Optimizando"
	default:
		return "En revision"
	}
}

func severityFromError(text string) string {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "critical") || strings.Contains(lower, "fatal") || strings.Contains(lower, "traceback") {
		return "critical"
	}
	return "warning"
}

func successRate(errorCount int) float64 {
	rate := 100.0 - math.Min(100.0, float64(errorCount)*25.0)
	return math.Round(math.Max(0, rate)*100) / 100
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (r *Reporter) mock() (enabled bool, runsTotal, tasksCompleted int) {
	if !r.cfg.MetricsMock {
		return false, 0, 0
	}
	runsTotal = r.cfg.MetricsMockRunsTotal
	if runsTotal <= 0 {
		runsTotal = 80
	}
	tasksCompleted = r.cfg.MetricsMockTasksCompleted
	if tasksCompleted <= 0 {
		tasksCompleted = 80
	}
	return true, runsTotal, tasksCompleted
}

// tasksForRun resolves the tasks_completed figure for one run: the stored
// outreach count, or a retroactive count of initial outreach rows between
// this run and the next when the stored count is missing.
func (r *Reporter) tasksForRun(runs []store.PipelineRun, i int) int {
	run := runs[i]
	if run.OutreachSent > 0 {
		return run.OutreachSent
	}
	next := r.now()
	if i+1 < len(runs) {
		next = runs[i+1].RunDate
	}
	n, err := r.st.OutreachSentBetween(run.RunDate, next)
	if err != nil {
		return 0
	}
	return n
}

// StatusRows returns one status row per run at or after updatedAfter,
// falling back to a store snapshot when no runs match.
func (r *Reporter) StatusRows(updatedAfter time.Time) ([]StatusRow, error) {
	runs, err := r.st.RunsSince(updatedAfter)
	if err != nil {
		return nil, err
	}

	mockEnabled, _, mockTasks := r.mock()
	rows := []StatusRow{}
	for i, run := range runs {
		tasks := 0
		if mockEnabled {
			tasks = mockTasks
		} else {
			tasks = r.tasksForRun(runs, i)
		}
		rows = append(rows, StatusRow{
			ClientExternalID: r.cfg.ClientExternalID,
			ClientName:       r.cfg.ClientName,
			AgentExternalID:  r.cfg.AgentExternalID,
			AgentName:        r.cfg.AgentName,
			Status:           statusFromErrors(len(run.Errors)),
			BucketStart:      isoZ(bucketStart(run.RunDate)),
			RunsTotal:        1,
			SuccessRate:      successRate(len(run.Errors)),
			AvgLatencyMS:     round2(math.Max(run.DurationSeconds, 0) * 1000),
			TasksCompleted:   tasks,
			EstImpactValue:   0,
			CurrencyCode:     r.cfg.CurrencyCode,
			UpdatedAt:        isoZ(run.RunDate),
		})
	}
	if len(rows) > 0 {
		return rows, nil
	}

	statusRow, _, err := r.snapshot(updatedAfter)
	if err != nil || statusRow == nil {
		return []StatusRow{}, err
	}
	return []StatusRow{*statusRow}, nil
}

// EventRows returns one pipeline_run event per run plus one pipeline_error
// event per recorded error, with the same snapshot fallback.
func (r *Reporter) EventRows(updatedAfter time.Time) ([]EventRow, error) {
	runs, err := r.st.RunsSince(updatedAfter)
	if err != nil {
		return nil, err
	}

	mockEnabled, mockRuns, mockTasks := r.mock()
	events := []EventRow{}
	for i, run := range runs {
		runISO := isoZ(run.RunDate)
		status := statusFromErrors(len(run.Errors))

		discovered := run.Discovered
		tasks := r.tasksForRun(runs, i)
		if mockEnabled {
			discovered = mockRuns
			tasks = mockTasks
		}

		events = append(events, EventRow{
			ClientExternalID: r.cfg.ClientExternalID,
			ClientName:       r.cfg.ClientName,
			AgentExternalID:  r.cfg.AgentExternalID,
			AgentName:        r.cfg.AgentName,
			Status:           status,
			SourceEventID:    fmt.Sprintf("run:%s:summary", runISO),
			OccurredAt:       runISO,
			UpdatedAt:        runISO,
			EventType:        "pipeline_run",
			Severity:         "info",
			Title:            "Ejecucion de pipeline completada",
			Summary: fmt.Sprintf("Leads descubiertos: %d. Correos enviados: %d. Errores: %d.",
				discovered, tasks, len(run.Errors)),
			Payload: map[string]any{
				"leads_discovered":  discovered,
				"leads_enriched":    run.Enriched,
				"leads_with_email":  run.WithEmail,
				"leads_ai_analyzed": run.AIAnalyzed,
				"outreach_sent":     tasks,
				"duration_seconds":  run.DurationSeconds,
			},
		})

		for j, errText := range run.Errors {
			events = append(events, EventRow{
				ClientExternalID: r.cfg.ClientExternalID,
				ClientName:       r.cfg.ClientName,
				AgentExternalID:  r.cfg.AgentExternalID,
				AgentName:        r.cfg.AgentName,
				Status:           status,
				SourceEventID:    fmt.Sprintf("run:%s:error:%d", runISO, j),
				OccurredAt:       runISO,
				UpdatedAt:        runISO,
				EventType:        "pipeline_error",
				Severity:         severityFromError(errText),
				Title:            "Error reportado en pipeline",
				Summary:          errText,
				Payload:          map[string]any{"error": errText},
			})
		}
	}
	if len(events) > 0 {
		return events, nil
	}

	_, eventRow, err := r.snapshot(updatedAfter)
	if err != nil || eventRow == nil {
		return []EventRow{}, err
	}
	return []EventRow{*eventRow}, nil
}

// snapshot synthesizes a single status/event pair from store totals when
// there are no runs in the window. Returns nils when the cursor lies in
// the future.
func (r *Reporter) snapshot(updatedAfter time.Time) (*StatusRow, *EventRow, error) {
	now := r.now().UTC()
	if now.Before(updatedAfter) {
		return nil, nil, nil
	}

	total, sent, pending, err := r.st.LeadTotals()
	if err != nil {
		return nil, nil, err
	}
	outreachStats, err := r.st.GetOutreachStats()
	if err != nil {
		return nil, nil, err
	}
	latest, err := r.st.LatestRun()
	if err != nil {
		return nil, nil, err
	}

	mockEnabled, mockRuns, mockTasks := r.mock()
	if mockEnabled {
		total = mockRuns
		sent = mockTasks
		pending = total - sent
		if pending < 0 {
			pending = 0
		}
	}

	var latestErrors []string
	var latestOutreach int
	var latestDuration float64
	latestDiscovered, latestSent := 0, 0
	status := "Optimizando"
	if sent > 0 {
		status = "Activo"
	}
	if latest != nil {
		latestErrors = latest.Errors
		latestOutreach = latest.OutreachSent
		latestDuration = latest.DurationSeconds
		latestDiscovered = latest.Discovered
		latestSent = latest.Sent
		status = statusFromErrors(len(latestErrors))
	}
	if mockEnabled {
		latestDiscovered = total
		latestSent = sent
	}
	if latestOutreach < 0 {
		latestOutreach = 0
	}

	bucketISO := isoZ(bucketStart(now))
	nowISO := isoZ(now)

	statusRow := &StatusRow{
		ClientExternalID: r.cfg.ClientExternalID,
		ClientName:       r.cfg.ClientName,
		AgentExternalID:  r.cfg.AgentExternalID,
		AgentName:        r.cfg.AgentName,
		Status:           status,
		BucketStart:      bucketISO,
		RunsTotal:        1,
		SuccessRate:      successRate(len(latestErrors)),
		AvgLatencyMS:     round2(math.Max(latestDuration, 0) * 1000),
		TasksCompleted:   latestOutreach,
		EstImpactValue:   0,
		CurrencyCode:     r.cfg.CurrencyCode,
		UpdatedAt:        nowISO,
	}
	eventRow := &EventRow{
		ClientExternalID: r.cfg.ClientExternalID,
		ClientName:       r.cfg.ClientName,
		AgentExternalID:  r.cfg.AgentExternalID,
		AgentName:        r.cfg.AgentName,
		Status:           status,
		SourceEventID:    "snapshot:" + bucketISO,
		OccurredAt:       nowISO,
		UpdatedAt:        nowISO,
		EventType:        "pipeline_snapshot",
		Severity:         "info",
		Title:            "Resumen operativo actualizado",
		Summary: fmt.Sprintf(
			"Leads totales: %d. Informes enviados: %d. Correos enviados: %d. Pendientes: %d. Errores recientes: %d.",
			total, sent, latestOutreach, pending, len(latestErrors)),
		Payload: map[string]any{
			"leads_total":              total,
			"leads_sent_total":         sent,
			"outreach_sent_total":      outreachStats.InitialSent,
			"leads_pending_total":      pending,
			"latest_run_errors":        len(latestErrors),
			"latest_run_discovered":    latestDiscovered,
			"latest_run_sent":          latestSent,
			"latest_run_outreach_sent": latestOutreach,
		},
	}
	return statusRow, eventRow, nil
}

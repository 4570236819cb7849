package collector

import "time"

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// AgentRun is one execution of an agent.
type AgentRun struct {
	ID           int64      `json:"id"`
	AgentName    string     `json:"agent_name"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AgentMetric is a single key/value observation tied to a run. Exactly one
// of Value/Text is set.
type AgentMetric struct {
	ID         int64     `json:"id"`
	RunID      int64     `json:"run_id"`
	AgentName  string    `json:"agent_name"`
	MetricName string    `json:"metric_name"`
	Value      *float64  `json:"metric_value,omitempty"`
	Text       *string   `json:"metric_text,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RunSummary is a run with its metrics flattened back into a mapping.
type RunSummary struct {
	RunID        int64          `json:"run_id"`
	AgentName    string         `json:"agent_name"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metrics      map[string]any `json:"metrics"`
}

// DailySummary is the pre-aggregated per-day roll-up for one agent.
type DailySummary struct {
	AgentName      string   `json:"agent_name"`
	SummaryDate    string   `json:"summary_date"`
	TotalRuns      int      `json:"total_runs"`
	SuccessfulRuns int      `json:"successful_runs"`
	FailedRuns     int      `json:"failed_runs"`
	AvgDurationS   *float64 `json:"avg_duration_s,omitempty"`
}

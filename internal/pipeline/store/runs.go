package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RunStats is the per-run summary the driver accumulates and logs.
type RunStats struct {
	Discovered      int
	Enriched        int
	WithEmail       int
	AIAnalyzed      int
	Sent            int
	OutreachSent    int
	Errors          []string
	DurationSeconds float64
}

// PipelineRun is one recorded end-to-end run.
type PipelineRun struct {
	ID              int64
	RunDate         time.Time
	Discovered      int
	Enriched        int
	WithEmail       int
	AIAnalyzed      int
	Sent            int
	OutreachSent    int
	Errors          []string
	DurationSeconds float64
}

// LogPipelineRun records a run row with its stats.
func (s *Store) LogPipelineRun(stats RunStats) error {
	var errorsJSON sql.NullString
	if len(stats.Errors) > 0 {
		raw, err := json.Marshal(stats.Errors)
		if err != nil {
			return fmt.Errorf("encode errors: %w", err)
		}
		errorsJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.Exec(s.rebind(`
		INSERT INTO pipeline_runs
		(run_date, leads_discovered, leads_enriched, leads_with_email,
		 leads_ai_analyzed, leads_sent, outreach_sent, errors, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		s.now().Format(dateTimeFormat),
		stats.Discovered, stats.Enriched, stats.WithEmail,
		stats.AIAnalyzed, stats.Sent, stats.OutreachSent,
		errorsJSON, stats.DurationSeconds)
	if err != nil {
		return fmt.Errorf("log pipeline run: %w", err)
	}
	return nil
}

// LatestRun returns the most recent pipeline run, or nil when none exist.
func (s *Store) LatestRun() (*PipelineRun, error) {
	runs, err := s.RunsSince(time.Time{})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[len(runs)-1], nil
}

// RunsSince returns pipeline runs with run_date at or after cutoff, oldest
// first.
func (s *Store) RunsSince(cutoff time.Time) ([]PipelineRun, error) {
	rows, err := s.db.Query(s.rebind(`
		SELECT id, run_date, leads_discovered, leads_enriched, leads_with_email,
		       leads_ai_analyzed, leads_sent, COALESCE(outreach_sent, 0),
		       errors, COALESCE(duration_seconds, 0)
		FROM pipeline_runs
		WHERE run_date >= ?
		ORDER BY run_date ASC`),
		cutoff.Format(dateTimeFormat))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []PipelineRun{}
	for rows.Next() {
		var (
			run        PipelineRun
			runDate    sql.NullString
			errorsJSON sql.NullString
		)
		if err := rows.Scan(&run.ID, &runDate, &run.Discovered, &run.Enriched,
			&run.WithEmail, &run.AIAnalyzed, &run.Sent, &run.OutreachSent,
			&errorsJSON, &run.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if runDate.Valid {
			t, err := time.ParseInLocation(dateTimeFormat, runDate.String, time.Local)
			if err != nil {
				return nil, fmt.Errorf("parse run_date: %w", err)
			}
			run.RunDate = t
		}
		if errorsJSON.Valid && errorsJSON.String != "" {
			if err := json.Unmarshal([]byte(errorsJSON.String), &run.Errors); err != nil {
				run.Errors = []string{errorsJSON.String}
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

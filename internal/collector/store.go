// Package collector implements the metrics collector: a relational store of
// agent runs with an extensible key/value metric schema, and the HTTP
// service that ingests and serves them.
package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "pgx"

	defaultRunLimit = 50
	maxRunLimit     = 500
)

// Store persists agent runs and their metrics. It supports an embedded
// SQLite file for development and Postgres for production.
type Store struct {
	db     *sql.DB
	driver string
}

// OpenStore opens the collector store. A non-empty databaseURL selects the
// Postgres backend; otherwise an SQLite file at dbPath is used.
func OpenStore(databaseURL, dbPath string) (*Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return openPostgres(databaseURL)
	}
	return openSQLite(dbPath)
}

func openSQLite(dbPath string) (*Store, error) {
	db, err := sql.Open(driverSQLite, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db, driver: driverSQLite}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func openPostgres(url string) (*Store, error) {
	db, err := sql.Open(driverPostgres, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db, driver: driverPostgres}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) ensureSchema() error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == driverPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agent_runs (
			id %s,
			agent_name TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			error_message TEXT,
			created_at TEXT NOT NULL
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agent_metrics (
			id %s,
			run_id BIGINT NOT NULL REFERENCES agent_runs(id) ON DELETE CASCADE,
			agent_name TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			metric_value DOUBLE PRECISION,
			metric_text TEXT,
			recorded_at TEXT NOT NULL
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agent_daily_summaries (
			id %s,
			agent_name TEXT NOT NULL,
			summary_date TEXT NOT NULL,
			total_runs INTEGER NOT NULL DEFAULT 0,
			successful_runs INTEGER NOT NULL DEFAULT 0,
			failed_runs INTEGER NOT NULL DEFAULT 0,
			avg_duration_s DOUBLE PRECISION,
			UNIQUE (agent_name, summary_date)
		)`, pk),
		`CREATE INDEX IF NOT EXISTS idx_agent_runs_agent_name ON agent_runs(agent_name)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_runs_started_at ON agent_runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_runs_status ON agent_runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_metrics_run_id ON agent_metrics(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_metrics_agent_name ON agent_metrics(agent_name)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_metrics_metric_name ON agent_metrics(metric_name)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to the $n style when talking to Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

// IngestRun records one agent run and its metric entries in a single
// transaction. Status is derived from errMsg: failed when non-empty,
// success otherwise. Returns the new run id.
func (s *Store) IngestRun(ctx context.Context, agentName string, startedAt, finishedAt time.Time, errMsg string, metrics map[string]any) (int64, error) {
	status := StatusSuccess
	var errVal sql.NullString
	if errMsg != "" {
		status = StatusFailed
		errVal = sql.NullString{String: errMsg, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	var runID int64
	err = tx.QueryRowContext(ctx, s.rebind(
		`INSERT INTO agent_runs (agent_name, started_at, finished_at, status, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		agentName, formatTime(startedAt), formatTime(finishedAt), status, errVal, now,
	).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	// Deterministic insert order for stable reads.
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, text := ClassifyMetric(metrics[name])
		_, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO agent_metrics (run_id, agent_name, metric_name, metric_value, metric_text, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?)`),
			runID, agentName, name, value, text, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert metric %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// ClassifyMetric splits a scalar into the value/text columns. Numbers
// (excluding booleans) populate metric_value; everything else renders into
// metric_text, booleans as "True"/"False".
func ClassifyMetric(v any) (sql.NullFloat64, sql.NullString) {
	switch x := v.(type) {
	case bool:
		text := "False"
		if x {
			text = "True"
		}
		return sql.NullFloat64{}, sql.NullString{String: text, Valid: true}
	case float64:
		return sql.NullFloat64{Float64: x, Valid: true}, sql.NullString{}
	case float32:
		return sql.NullFloat64{Float64: float64(x), Valid: true}, sql.NullString{}
	case int:
		return sql.NullFloat64{Float64: float64(x), Valid: true}, sql.NullString{}
	case int64:
		return sql.NullFloat64{Float64: float64(x), Valid: true}, sql.NullString{}
	case string:
		return sql.NullFloat64{}, sql.NullString{String: x, Valid: true}
	default:
		return sql.NullFloat64{}, sql.NullString{String: fmt.Sprintf("%v", v), Valid: true}
	}
}

// RunQuery filters ListRuns.
type RunQuery struct {
	AgentName    string
	StartedAfter *time.Time
	Limit        int
}

func normalizeRunLimit(limit int) int {
	if limit <= 0 {
		return defaultRunLimit
	}
	if limit > maxRunLimit {
		return maxRunLimit
	}
	return limit
}

// ListRuns returns run summaries ordered by started_at ascending, each with
// its metrics flattened back into a map. metric_value wins over metric_text.
func (s *Store) ListRuns(ctx context.Context, q RunQuery) ([]RunSummary, error) {
	clauses := []string{}
	args := []any{}
	if q.AgentName != "" {
		clauses = append(clauses, "agent_name = ?")
		args = append(args, q.AgentName)
	}
	if q.StartedAfter != nil {
		clauses = append(clauses, "started_at > ?")
		args = append(args, formatTime(*q.StartedAfter))
	}

	query := `SELECT id, agent_name, started_at, finished_at, status, error_message FROM agent_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at ASC LIMIT ?"
	args = append(args, normalizeRunLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	summaries := []RunSummary{}
	ids := []int64{}
	for rows.Next() {
		var (
			sum         RunSummary
			startedAt   string
			finishedAt  sql.NullString
			errMsg      sql.NullString
		)
		if err := rows.Scan(&sum.RunID, &sum.AgentName, &startedAt, &finishedAt, &sum.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if sum.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if finishedAt.Valid {
			t, err := parseTime(finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at: %w", err)
			}
			sum.FinishedAt = &t
		}
		sum.ErrorMessage = errMsg.String
		sum.Metrics = map[string]any{}
		summaries = append(summaries, sum)
		ids = append(ids, sum.RunID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return summaries, nil
	}

	if err := s.attachMetrics(ctx, ids, summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *Store) attachMetrics(ctx context.Context, ids []int64, summaries []RunSummary) error {
	byID := map[int64]*RunSummary{}
	for i := range summaries {
		byID[summaries[i].RunID] = &summaries[i]
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT run_id, metric_name, metric_value, metric_text FROM agent_metrics WHERE run_id IN (`+placeholders+`)`), args...)
	if err != nil {
		return fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			runID int64
			name  string
			value sql.NullFloat64
			text  sql.NullString
		)
		if err := rows.Scan(&runID, &name, &value, &text); err != nil {
			return fmt.Errorf("scan metric: %w", err)
		}
		sum, ok := byID[runID]
		if !ok {
			continue
		}
		if value.Valid {
			sum.Metrics[name] = value.Float64
		} else if text.Valid {
			sum.Metrics[name] = text.String
		}
	}
	return rows.Err()
}

// GetRun fetches a single run row.
func (s *Store) GetRun(ctx context.Context, id int64) (*AgentRun, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, agent_name, started_at, finished_at, status, error_message, created_at FROM agent_runs WHERE id = ?`), id)

	var (
		run        AgentRun
		startedAt  string
		finishedAt sql.NullString
		errMsg     sql.NullString
		createdAt  string
	)
	err := row.Scan(&run.ID, &run.AgentName, &startedAt, &finishedAt, &run.Status, &errMsg, &createdAt)
	if err != nil {
		return nil, err
	}
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = &t
	}
	run.ErrorMessage = errMsg.String
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &run, nil
}

// DeleteRun removes a run; its metrics cascade.
func (s *Store) DeleteRun(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM agent_runs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountMetrics returns the number of metric rows for a run.
func (s *Store) CountMetrics(ctx context.Context, runID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM agent_metrics WHERE run_id = ?`), runID).Scan(&n)
	return n, err
}

// SummarizeDay recomputes the daily roll-up row for one agent and date
// (YYYY-MM-DD). Safe to re-run; the row is replaced.
func (s *Store) SummarizeDay(ctx context.Context, agentName, date string) error {
	dayStart := date + "T00:00:00Z"
	dayEnd := date + "T23:59:59.999999999Z"

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT status, started_at, finished_at FROM agent_runs
		 WHERE agent_name = ? AND started_at >= ? AND started_at <= ?`),
		agentName, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("summarize day: %w", err)
	}
	defer rows.Close()

	var total, succeeded, failed, timed int
	var durationSum float64
	for rows.Next() {
		var status, startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&status, &startedAt, &finishedAt); err != nil {
			return fmt.Errorf("scan run: %w", err)
		}
		total++
		switch status {
		case StatusSuccess:
			succeeded++
		case StatusFailed:
			failed++
		}
		if finishedAt.Valid {
			start, err1 := parseTime(startedAt)
			finish, err2 := parseTime(finishedAt.String)
			if err1 == nil && err2 == nil && !finish.Before(start) {
				durationSum += finish.Sub(start).Seconds()
				timed++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var avg sql.NullFloat64
	if timed > 0 {
		avg = sql.NullFloat64{Float64: durationSum / float64(timed), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO agent_daily_summaries (agent_name, summary_date, total_runs, successful_runs, failed_runs, avg_duration_s)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (agent_name, summary_date) DO UPDATE SET
		   total_runs = excluded.total_runs,
		   successful_runs = excluded.successful_runs,
		   failed_runs = excluded.failed_runs,
		   avg_duration_s = excluded.avg_duration_s`),
		agentName, date, total, succeeded, failed, avg)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// GetDailySummary reads one roll-up row.
func (s *Store) GetDailySummary(ctx context.Context, agentName, date string) (*DailySummary, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT agent_name, summary_date, total_runs, successful_runs, failed_runs, avg_duration_s
		 FROM agent_daily_summaries WHERE agent_name = ? AND summary_date = ?`), agentName, date)

	var sum DailySummary
	var avg sql.NullFloat64
	if err := row.Scan(&sum.AgentName, &sum.SummaryDate, &sum.TotalRuns, &sum.SuccessfulRuns, &sum.FailedRuns, &avg); err != nil {
		return nil, err
	}
	if avg.Valid {
		sum.AvgDurationS = &avg.Float64
	}
	return &sum, nil
}

// IsNotFound reports whether err indicates a missing row.
func IsNotFound(err error) bool { return errors.Is(err, sql.ErrNoRows) }

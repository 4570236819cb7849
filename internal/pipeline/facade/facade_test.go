package facade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/store"
)

func TestParseClockTime(t *testing.T) {
	cases := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{"09:00", ClockTime{9, 0}, false},
		{"23:59", ClockTime{23, 59}, false},
		{"0:5", ClockTime{0, 5}, false},
		{"24:00", ClockTime{}, true},
		{"09:60", ClockTime{}, true},
		{"nueve", ClockTime{}, true},
		{"", ClockTime{}, true},
	}
	for _, c := range cases {
		got, err := ParseClockTime(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseClockTime(%q) err = %v", c.in, err)
			continue
		}
		if !c.wantErr && got != c.want {
			t.Errorf("ParseClockTime(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseDaySet(t *testing.T) {
	cases := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"*", []int{1, 2, 3, 4, 5, 6, 7}, false},
		{"1-5", []int{1, 2, 3, 4, 5}, false},
		{"6,7", []int{6, 7}, false},
		{"1-5,7", []int{1, 2, 3, 4, 5, 7}, false},
		// Wrapped range: Friday through Monday.
		{"5-1", []int{1, 5, 6, 7}, false},
		{"0", nil, true},
		{"8", nil, true},
		{"1-9", nil, true},
		{"", nil, true},
		{",", nil, true},
	}
	for _, c := range cases {
		got, err := ParseDaySet(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseDaySet(%q) err = %v", c.in, err)
			continue
		}
		if !c.wantErr && !reflect.DeepEqual(got.Days(), c.want) {
			t.Errorf("ParseDaySet(%q) = %v, want %v", c.in, got.Days(), c.want)
		}
	}
}

func TestLoopTriggerSemantics(t *testing.T) {
	days, _ := ParseDaySet("1-5")
	l := &Loop{Time: ClockTime{9, 0}, Days: days}

	// 2026-02-18 is a Wednesday.
	wednesday := time.Date(2026, 2, 18, 9, 0, 0, 0, time.UTC)
	if !l.shouldTrigger(wednesday) {
		t.Error("exact schedule time on an allowed day should trigger")
	}
	if l.shouldTrigger(wednesday.Add(-time.Minute)) {
		t.Error("before schedule time should not trigger")
	}
	// 2026-02-21 is a Saturday.
	if l.shouldTrigger(time.Date(2026, 2, 21, 10, 0, 0, 0, time.UTC)) {
		t.Error("disallowed weekday should not trigger")
	}

	l.lastRunDate = "2026-02-18"
	if l.shouldTrigger(wednesday.Add(time.Hour)) {
		t.Error("same day must not trigger twice")
	}
	if !l.shouldTrigger(wednesday.AddDate(0, 0, 1)) {
		t.Error("next allowed day should trigger again")
	}
}

func TestLoopBootCatchupDisabled(t *testing.T) {
	days, _ := ParseDaySet("*")
	fired := 0
	boot := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	current := boot
	l := &Loop{
		Run:  func(context.Context) store.RunStats { fired++; return store.RunStats{} },
		Log:  zap.NewNop(),
		Time: ClockTime{9, 0},
		Days: days,
		Loc:  time.UTC,
		Poll: time.Millisecond,
		now:  func() time.Time { return current },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { l.Start(ctx); close(done) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if fired != 0 {
		t.Errorf("fired = %d, want 0: boot after schedule time with catch-up disabled", fired)
	}
	if l.lastRunDate != "2026-02-18" {
		t.Errorf("lastRunDate = %q", l.lastRunDate)
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("", filepath.Join(t.TempDir(), "leads.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testReporter(t *testing.T, st *store.Store, now time.Time) *Reporter {
	t.Helper()
	r := NewReporter(config.Default(), st)
	r.now = func() time.Time { return now }
	return r
}

func TestStatusRowsFromRun(t *testing.T) {
	st := newTestStore(t)
	runTime := time.Date(2026, 2, 18, 12, 37, 4, 0, time.UTC)
	st.SetClock(func() time.Time { return runTime })
	if err := st.LogPipelineRun(store.RunStats{
		Discovered:      12,
		OutreachSent:    4,
		DurationSeconds: 2.5,
	}); err != nil {
		t.Fatalf("LogPipelineRun: %v", err)
	}

	r := testReporter(t, st, runTime.Add(time.Hour))
	rows, err := r.StatusRows(time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("StatusRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	row := rows[0]
	// The store round-trips run_date as a local wall-clock string.
	wantBucket := isoZ(bucketStart(time.Date(2026, 2, 18, 12, 37, 4, 0, time.Local)))
	if row.BucketStart != wantBucket {
		t.Errorf("bucket_start = %q, want %q", row.BucketStart, wantBucket)
	}
	if row.SuccessRate != 100.0 {
		t.Errorf("success_rate = %v", row.SuccessRate)
	}
	if row.AvgLatencyMS != 2500.0 {
		t.Errorf("avg_latency_ms = %v", row.AvgLatencyMS)
	}
	if row.TasksCompleted != 4 {
		t.Errorf("tasks_completed = %d", row.TasksCompleted)
	}
	if row.Status != "Activo" {
		t.Errorf("status = %q", row.Status)
	}
	if row.RunsTotal != 1 {
		t.Errorf("runs_total = %d", row.RunsTotal)
	}
}

func TestStatusDegradesWithErrors(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2026, 2, 18, 9, 0, 0, 0, time.UTC)
	for i, errs := range [][]string{
		{"Discovery: apollo down"},
		{"a", "b", "c"},
	} {
		st.SetClock(func() time.Time { return base.Add(time.Duration(i) * time.Hour) })
		if err := st.LogPipelineRun(store.RunStats{Errors: errs}); err != nil {
			t.Fatalf("LogPipelineRun: %v", err)
		}
	}

	r := testReporter(t, st, base.Add(2*time.Hour))
	rows, err := r.StatusRows(base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("StatusRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Status != "Optimizando" || rows[0].SuccessRate != 75.0 {
		t.Errorf("one error: %+v", rows[0])
	}
	if rows[1].Status != "En revision" || rows[1].SuccessRate != 25.0 {
		t.Errorf("three errors: %+v", rows[1])
	}
}

func TestTasksCompletedRetroactiveCount(t *testing.T) {
	st := newTestStore(t)
	runTime := time.Date(2026, 2, 18, 9, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return runTime })
	// Run row without an outreach count.
	if err := st.LogPipelineRun(store.RunStats{}); err != nil {
		t.Fatalf("LogPipelineRun: %v", err)
	}

	// Outreach sent shortly after the run.
	st.SetClock(func() time.Time { return runTime.Add(10 * time.Minute) })
	id, _, err := st.InsertLead(store.Lead{Domain: "norte.es", CompanyName: "Norte", Email: "a@norte.es"})
	if err != nil {
		t.Fatalf("InsertLead: %v", err)
	}
	if _, err := st.InsertOutreach(id, "a@norte.es", "s", "b", store.OutreachInitial, ""); err != nil {
		t.Fatalf("InsertOutreach: %v", err)
	}

	r := testReporter(t, st, runTime.Add(time.Hour))
	rows, err := r.StatusRows(runTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("StatusRows: %v", err)
	}
	if len(rows) != 1 || rows[0].TasksCompleted != 1 {
		t.Errorf("rows = %+v, want retroactive tasks_completed 1", rows)
	}
}

func TestEventRowsIncludeErrors(t *testing.T) {
	st := newTestStore(t)
	runTime := time.Date(2026, 2, 18, 9, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return runTime })
	if err := st.LogPipelineRun(store.RunStats{
		Discovered: 5,
		Errors:     []string{"Discovery: timeout", "AI analysis: FATAL quota"},
	}); err != nil {
		t.Fatalf("LogPipelineRun: %v", err)
	}

	r := testReporter(t, st, runTime.Add(time.Hour))
	events, err := r.EventRows(runTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("EventRows: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want run + 2 errors", len(events))
	}
	if events[0].EventType != "pipeline_run" || events[0].Severity != "info" {
		t.Errorf("run event = %+v", events[0])
	}
	if events[1].EventType != "pipeline_error" || events[1].Severity != "warning" {
		t.Errorf("first error event = %+v", events[1])
	}
	if events[2].Severity != "critical" {
		t.Errorf("fatal error severity = %q", events[2].Severity)
	}
	wantID := "run:" + events[0].OccurredAt + ":error:1"
	if events[2].SourceEventID != wantID {
		t.Errorf("source_event_id = %q, want %q", events[2].SourceEventID, wantID)
	}
}

func TestSnapshotFallback(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2026, 2, 18, 12, 34, 0, 0, time.UTC)
	r := testReporter(t, st, now)

	rows, err := r.StatusRows(time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatalf("StatusRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want synthesized snapshot", len(rows))
	}
	if rows[0].BucketStart != "2026-02-18T12:30:00Z" {
		t.Errorf("bucket_start = %q", rows[0].BucketStart)
	}
	if rows[0].Status != "Optimizando" {
		t.Errorf("status = %q for an empty store", rows[0].Status)
	}

	events, err := r.EventRows(time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatalf("EventRows: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "pipeline_snapshot" {
		t.Errorf("events = %+v", events)
	}

	// Future cursor: nothing to report.
	rows, err = r.StatusRows(now.Add(time.Hour))
	if err != nil || len(rows) != 0 {
		t.Errorf("future cursor rows = %v, %v", rows, err)
	}
}

func TestMetricsMockOverrides(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	cfg := config.Default()
	cfg.MetricsMock = true
	cfg.MetricsMockRunsTotal = 40
	cfg.MetricsMockTasksCompleted = 35
	r := NewReporter(cfg, st)
	r.now = func() time.Time { return now }

	rows, err := r.StatusRows(time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatalf("StatusRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Status != "Activo" {
		t.Errorf("mocked status = %q", rows[0].Status)
	}

	events, err := r.EventRows(time.Unix(0, 0).UTC())
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, %v", events, err)
	}
	payload := events[0].Payload
	if payload["leads_total"] != 40 || payload["leads_sent_total"] != 35 {
		t.Errorf("payload = %v", payload)
	}
	if payload["leads_pending_total"] != 5 {
		t.Errorf("pending = %v", payload["leads_pending_total"])
	}
}

func newTestServer(t *testing.T, st *store.Store, runNow func(ctx context.Context) (store.RunStats, error)) *httptest.Server {
	t.Helper()
	srv := NewServer(config.Default(), st, runNow, zap.NewNop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestServerEndpoints(t *testing.T) {
	st := newTestStore(t)
	ran := 0
	ts := newTestServer(t, st, func(context.Context) (store.RunStats, error) {
		ran++
		return store.RunStats{Sent: 1}, nil
	})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]any
	json.NewDecoder(resp.Body).Decode(&health)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	resp, err = http.Get(ts.URL + "/api/acem/agent-status?updated_after=2026-02-18T00:00:00Z")
	if err != nil {
		t.Fatalf("agent-status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("agent-status code = %d", resp.StatusCode)
	}
	var rows []StatusRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}

	resp, err = http.Get(ts.URL + "/api/acem/agent-status?updated_after=mañana")
	if err != nil {
		t.Fatalf("bad cursor: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad cursor code = %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/acem/run-now", "application/json", nil)
	if err != nil {
		t.Fatalf("run-now: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || ran != 1 {
		t.Errorf("run-now code = %d, ran = %d", resp.StatusCode, ran)
	}
	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	if result["ok"] != true {
		t.Errorf("run-now body = %v", result)
	}
}

func TestParseRotationReset(t *testing.T) {
	city, country := ParseRotationReset("Madrid, Espana")
	if city != "Madrid" || country != "Espana" {
		t.Errorf("got %q, %q", city, country)
	}
	city, country = ParseRotationReset("Lima")
	if city != "Lima" || country != "" {
		t.Errorf("got %q, %q", city, country)
	}
	city, _ = ParseRotationReset("  ")
	if city != "" {
		t.Errorf("blank input city = %q", city)
	}
}

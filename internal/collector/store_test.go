package collector

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore("", filepath.Join(t.TempDir(), "collector.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIngestRunClassifiesMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 2, 18, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(2 * time.Second)
	runID, err := store.IngestRun(ctx, "a", t0, t1, "", map[string]any{
		"x":      float64(3),
		"y":      "ok",
		"status": true,
	})
	if err != nil {
		t.Fatalf("IngestRun: %v", err)
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != StatusSuccess {
		t.Errorf("status = %q, want success", run.Status)
	}
	if run.ErrorMessage != "" {
		t.Errorf("error_message = %q, want empty", run.ErrorMessage)
	}

	runs, err := store.ListRuns(ctx, RunQuery{AgentName: "a", Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	m := runs[0].Metrics
	if got, ok := m["x"].(float64); !ok || got != 3.0 {
		t.Errorf("metrics[x] = %v, want 3.0", m["x"])
	}
	if m["y"] != "ok" {
		t.Errorf("metrics[y] = %v, want ok", m["y"])
	}
	if m["status"] != "True" {
		t.Errorf("metrics[status] = %v, want True", m["status"])
	}
}

func TestIngestRunFailedHasNoMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t0 := time.Now().UTC()
	runID, err := store.IngestRun(ctx, "a", t0, t0.Add(time.Second), "boom", nil)
	if err != nil {
		t.Fatalf("IngestRun: %v", err)
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != StatusFailed {
		t.Errorf("status = %q, want failed", run.Status)
	}
	if run.ErrorMessage != "boom" {
		t.Errorf("error_message = %q, want boom", run.ErrorMessage)
	}

	n, err := store.CountMetrics(ctx, runID)
	if err != nil {
		t.Fatalf("CountMetrics: %v", err)
	}
	if n != 0 {
		t.Errorf("metric rows = %d, want 0", n)
	}
}

func TestStatusErrorMessageInvariant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	okID, err := store.IngestRun(ctx, "inv", t0, t0, "", nil)
	if err != nil {
		t.Fatalf("IngestRun: %v", err)
	}
	badID, err := store.IngestRun(ctx, "inv", t0, t0, "broke", nil)
	if err != nil {
		t.Fatalf("IngestRun: %v", err)
	}

	okRun, _ := store.GetRun(ctx, okID)
	badRun, _ := store.GetRun(ctx, badID)
	if (okRun.Status == StatusFailed) != (okRun.ErrorMessage != "") {
		t.Errorf("success run violates status/error invariant: %+v", okRun)
	}
	if (badRun.Status == StatusFailed) != (badRun.ErrorMessage != "") {
		t.Errorf("failed run violates status/error invariant: %+v", badRun)
	}
}

func TestListRunsFiltersAndLimits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 18, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		if _, err := store.IngestRun(ctx, "a", start, start.Add(time.Minute), "", nil); err != nil {
			t.Fatalf("IngestRun: %v", err)
		}
	}
	if _, err := store.IngestRun(ctx, "b", base, base, "", nil); err != nil {
		t.Fatalf("IngestRun: %v", err)
	}

	runs, err := store.ListRuns(ctx, RunQuery{AgentName: "a"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 5 {
		t.Fatalf("got %d runs for a, want 5", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if runs[i].StartedAt.Before(runs[i-1].StartedAt) {
			t.Fatalf("runs not ordered by started_at ascending")
		}
	}

	// started_after is strictly greater-than.
	after := base.Add(2 * time.Hour)
	runs, err = store.ListRuns(ctx, RunQuery{AgentName: "a", StartedAfter: &after})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs after cutoff, want 2", len(runs))
	}

	runs, err = store.ListRuns(ctx, RunQuery{AgentName: "a", Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs with limit 2, want 2", len(runs))
	}
}

func TestDeleteRunCascadesMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	runID, err := store.IngestRun(ctx, "a", t0, t0, "", map[string]any{"x": float64(1)})
	if err != nil {
		t.Fatalf("IngestRun: %v", err)
	}
	if err := store.DeleteRun(ctx, runID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	n, err := store.CountMetrics(ctx, runID)
	if err != nil {
		t.Fatalf("CountMetrics: %v", err)
	}
	if n != 0 {
		t.Errorf("metrics survived run deletion: %d rows", n)
	}
	if err := store.DeleteRun(ctx, runID); !IsNotFound(err) {
		t.Errorf("second delete = %v, want not-found", err)
	}
}

func TestSummarizeDayIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)
	if _, err := store.IngestRun(ctx, "s", day, day.Add(2*time.Second), "", nil); err != nil {
		t.Fatalf("IngestRun: %v", err)
	}
	if _, err := store.IngestRun(ctx, "s", day.Add(time.Hour), day.Add(time.Hour+4*time.Second), "oops", nil); err != nil {
		t.Fatalf("IngestRun: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.SummarizeDay(ctx, "s", "2026-02-18"); err != nil {
			t.Fatalf("SummarizeDay: %v", err)
		}
	}

	sum, err := store.GetDailySummary(ctx, "s", "2026-02-18")
	if err != nil {
		t.Fatalf("GetDailySummary: %v", err)
	}
	if sum.TotalRuns != 2 || sum.SuccessfulRuns != 1 || sum.FailedRuns != 1 {
		t.Errorf("summary counts = %+v", sum)
	}
	if sum.AvgDurationS == nil || *sum.AvgDurationS != 3.0 {
		t.Errorf("avg_duration_s = %v, want 3.0", sum.AvgDurationS)
	}
}

package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", filepath.Join(t.TempDir(), "leads.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsert(t *testing.T, s *Store, l Lead) int64 {
	t.Helper()
	id, ok, err := s.InsertLead(l)
	if err != nil {
		t.Fatalf("InsertLead(%s): %v", l.Domain, err)
	}
	if !ok {
		t.Fatalf("InsertLead(%s): unexpected duplicate", l.Domain)
	}
	return id
}

func TestInsertLeadDuplicateDomainIsNoOp(t *testing.T) {
	s := newTestStore(t)

	mustInsert(t, s, Lead{Domain: "acme.es", CompanyName: "Acme"})

	_, ok, err := s.InsertLead(Lead{Domain: "acme.es", CompanyName: "Acme Again"})
	if err != nil {
		t.Fatalf("InsertLead duplicate: %v", err)
	}
	if ok {
		t.Fatal("duplicate domain inserted")
	}

	exists, err := s.LeadExists("acme.es")
	if err != nil || !exists {
		t.Fatalf("LeadExists = %v, %v", exists, err)
	}
	n, err := s.TotalLeads()
	if err != nil {
		t.Fatalf("TotalLeads: %v", err)
	}
	if n != 1 {
		t.Errorf("lead count = %d, want 1", n)
	}
}

func TestInsertLeadsBatchCountsOnlyNewRows(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s, Lead{Domain: "dup.es", CompanyName: "Dup"})

	n, err := s.InsertLeadsBatch([]Lead{
		{Domain: "a.es", CompanyName: "A"},
		{Domain: "dup.es", CompanyName: "Dup Again"},
		{Domain: "b.es", CompanyName: "B"},
	})
	if err != nil {
		t.Fatalf("InsertLeadsBatch: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}
}

func TestLeadsNeedingEmailEnrichmentIgnoresEmailSource(t *testing.T) {
	s := newTestStore(t)

	// The regression case: a past Apollo match that returned no email must
	// stay retryable.
	apolloID := mustInsert(t, s, Lead{Domain: "m1.es", CompanyName: "M1", Website: "https://m1.es"})
	if err := s.UpdateLead(apolloID, map[string]string{"email_source": SourceApollo}); err != nil {
		t.Fatalf("UpdateLead: %v", err)
	}

	withEmail := mustInsert(t, s, Lead{Domain: "m2.es", CompanyName: "M2", Website: "https://m2.es"})
	if err := s.UpdateLead(withEmail, map[string]string{"email": "info@m2.es", "email_source": SourceWebsite}); err != nil {
		t.Fatalf("UpdateLead: %v", err)
	}
	mustInsert(t, s, Lead{Domain: "m3.es", CompanyName: "M3"}) // no website

	leads, err := s.LeadsNeedingEmailEnrichment(10)
	if err != nil {
		t.Fatalf("LeadsNeedingEmailEnrichment: %v", err)
	}
	if len(leads) != 1 {
		t.Fatalf("got %d leads, want 1", len(leads))
	}
	if leads[0].ID != apolloID {
		t.Errorf("got lead %d, want the apollo-matched one %d", leads[0].ID, apolloID)
	}
	for _, l := range leads {
		if l.Email != "" {
			t.Errorf("lead %d has an email and still came back", l.ID)
		}
	}
}

func TestUnsentLeadsPrioritizesContactability(t *testing.T) {
	s := newTestStore(t)

	neither := mustInsert(t, s, Lead{Domain: "n.es", CompanyName: "N"})
	phoneOnly := mustInsert(t, s, Lead{Domain: "p.es", CompanyName: "P", Phone: "+34 600 000 001"})
	emailOnly := mustInsert(t, s, Lead{Domain: "e.es", CompanyName: "E", Email: "info@e.es"})
	both := mustInsert(t, s, Lead{Domain: "b.es", CompanyName: "B", Email: "info@b.es", Phone: "+34 600 000 002"})
	notAnalyzed := mustInsert(t, s, Lead{Domain: "x.es", CompanyName: "X", Email: "info@x.es"})

	for _, id := range []int64{neither, phoneOnly, emailOnly, both} {
		if err := s.UpdateLead(id, map[string]string{"ai_summary": "resumen"}); err != nil {
			t.Fatalf("UpdateLead: %v", err)
		}
	}

	leads, err := s.UnsentLeads(10)
	if err != nil {
		t.Fatalf("UnsentLeads: %v", err)
	}
	if len(leads) != 4 {
		t.Fatalf("got %d leads, want 4", len(leads))
	}
	wantOrder := []int64{both, emailOnly, phoneOnly, neither}
	for i, want := range wantOrder {
		if leads[i].ID != want {
			t.Errorf("position %d = lead %d, want %d", i, leads[i].ID, want)
		}
	}
	for _, l := range leads {
		if l.ID == notAnalyzed {
			t.Error("lead without ai_summary is report-eligible")
		}
	}
}

func TestMarkLeadsSentRemovesFromUnsent(t *testing.T) {
	s := newTestStore(t)

	id := mustInsert(t, s, Lead{Domain: "s.es", CompanyName: "S", Email: "info@s.es"})
	if err := s.UpdateLead(id, map[string]string{"ai_summary": "resumen"}); err != nil {
		t.Fatalf("UpdateLead: %v", err)
	}
	if err := s.MarkLeadsSent([]int64{id}); err != nil {
		t.Fatalf("MarkLeadsSent: %v", err)
	}

	leads, err := s.UnsentLeads(10)
	if err != nil {
		t.Fatalf("UnsentLeads: %v", err)
	}
	if len(leads) != 0 {
		t.Errorf("sent lead still report-eligible")
	}

	got, err := s.GetLead(id)
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if got.Status != LeadStatusSent || got.SentDate == "" {
		t.Errorf("lead after send = status %q, sent_date %q", got.Status, got.SentDate)
	}
}

func TestLogPipelineRunAndRunsSince(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Date(2026, 2, 18, 12, 37, 4, 0, time.Local) }

	err := s.LogPipelineRun(RunStats{
		Discovered:      5,
		OutreachSent:    4,
		Errors:          []string{"Discover: timeout"},
		DurationSeconds: 2.5,
	})
	if err != nil {
		t.Fatalf("LogPipelineRun: %v", err)
	}

	runs, err := s.RunsSince(time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local))
	if err != nil {
		t.Fatalf("RunsSince: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	run := runs[0]
	if run.Discovered != 5 || run.OutreachSent != 4 || run.DurationSeconds != 2.5 {
		t.Errorf("run = %+v", run)
	}
	if len(run.Errors) != 1 || run.Errors[0] != "Discover: timeout" {
		t.Errorf("errors = %v", run.Errors)
	}
	if !run.RunDate.Equal(time.Date(2026, 2, 18, 12, 37, 4, 0, time.Local)) {
		t.Errorf("run_date = %v", run.RunDate)
	}

	later, err := s.RunsSince(time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local))
	if err != nil {
		t.Fatalf("RunsSince: %v", err)
	}
	if len(later) != 0 {
		t.Errorf("future cutoff returned %d runs", len(later))
	}
}

func TestSchemaOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leads.db")

	s1, err := Open("", path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	mustInsert(t, s1, Lead{Domain: "keep.es", CompanyName: "Keep"})
	s1.Close()

	s2, err := Open("", path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	exists, err := s2.LeadExists("keep.es")
	if err != nil || !exists {
		t.Fatalf("data lost across reopen: %v, %v", exists, err)
	}
	cities, err := s2.CityCount()
	if err != nil {
		t.Fatalf("CityCount: %v", err)
	}
	if cities != 30 {
		t.Errorf("city rotation reseeded or lost: %d rows", cities)
	}
}

package store

import (
	"testing"
	"time"
)

func sentLead(t *testing.T, s *Store, domain, email string) int64 {
	t.Helper()
	id := mustInsert(t, s, Lead{Domain: domain, CompanyName: domain, Email: email})
	if err := s.UpdateLead(id, map[string]string{"ai_summary": "resumen"}); err != nil {
		t.Fatalf("UpdateLead: %v", err)
	}
	if err := s.MarkLeadsSent([]int64{id}); err != nil {
		t.Fatalf("MarkLeadsSent: %v", err)
	}
	return id
}

func TestLeadsForOutreachExcludesContactedAndEmailless(t *testing.T) {
	s := newTestStore(t)

	eligible := sentLead(t, s, "go.es", "info@go.es")
	contacted := sentLead(t, s, "done.es", "info@done.es")
	sentLead(t, s, "nomail.es", "")

	// An unsent lead with an email must never appear.
	mustInsert(t, s, Lead{Domain: "fresh.es", CompanyName: "Fresh", Email: "info@fresh.es"})

	if _, err := s.InsertOutreach(contacted, "info@done.es", "Hola", "body", OutreachInitial, ""); err != nil {
		t.Fatalf("InsertOutreach: %v", err)
	}

	leads, err := s.LeadsForOutreach(10)
	if err != nil {
		t.Fatalf("LeadsForOutreach: %v", err)
	}
	if len(leads) != 1 || leads[0].ID != eligible {
		t.Fatalf("leads = %+v, want only %d", leads, eligible)
	}
}

func TestAtMostOneInitialPerLead(t *testing.T) {
	s := newTestStore(t)
	id := sentLead(t, s, "one.es", "info@one.es")

	if _, err := s.InsertOutreach(id, "info@one.es", "Hola", "body", OutreachInitial, ""); err != nil {
		t.Fatalf("InsertOutreach: %v", err)
	}
	has, err := s.HasInitialOutreach(id)
	if err != nil || !has {
		t.Fatalf("HasInitialOutreach = %v, %v", has, err)
	}

	// The outreach stage guards on LeadsForOutreach, so the lead is gone
	// from the candidate set after its initial row exists.
	leads, err := s.LeadsForOutreach(10)
	if err != nil {
		t.Fatalf("LeadsForOutreach: %v", err)
	}
	if len(leads) != 0 {
		t.Errorf("contacted lead still an outreach candidate")
	}
}

func TestFollowupEligibilityWindow(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 10, 10, 0, 0, 0, time.Local)
	s.now = func() time.Time { return base }

	oldLead := sentLead(t, s, "old.es", "info@old.es")
	oldOutreach, err := s.InsertOutreach(oldLead, "info@old.es", "Propuesta", "body", OutreachInitial, "")
	if err != nil {
		t.Fatalf("InsertOutreach: %v", err)
	}

	s.now = func() time.Time { return base.AddDate(0, 0, 2) }
	freshLead := sentLead(t, s, "fresh2.es", "info@fresh2.es")
	if _, err := s.InsertOutreach(freshLead, "info@fresh2.es", "Propuesta", "body", OutreachInitial, ""); err != nil {
		t.Fatalf("InsertOutreach: %v", err)
	}

	// Three days after the first send: only the old outreach is due.
	s.now = func() time.Time { return base.AddDate(0, 0, 3) }
	due, err := s.OutreachNeedingFollowup(3)
	if err != nil {
		t.Fatalf("OutreachNeedingFollowup: %v", err)
	}
	if len(due) != 1 || due[0].OutreachID != oldOutreach {
		t.Fatalf("due = %+v, want only outreach %d", due, oldOutreach)
	}

	if err := s.MarkFollowupSent(oldOutreach); err != nil {
		t.Fatalf("MarkFollowupSent: %v", err)
	}
	due, err = s.OutreachNeedingFollowup(3)
	if err != nil {
		t.Fatalf("OutreachNeedingFollowup: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("followed-up outreach still due: %+v", due)
	}

	o, err := s.GetOutreach(oldOutreach)
	if err != nil {
		t.Fatalf("GetOutreach: %v", err)
	}
	if !o.FollowupSent || o.FollowupDate == "" {
		t.Errorf("outreach after followup = %+v", o)
	}
}

func TestRepliedOutreachIsNeverDue(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 10, 10, 0, 0, 0, time.Local)
	s.now = func() time.Time { return base }

	id := sentLead(t, s, "reply.es", "info@reply.es")
	outreachID, err := s.InsertOutreach(id, "info@reply.es", "Propuesta", "body", OutreachInitial, "")
	if err != nil {
		t.Fatalf("InsertOutreach: %v", err)
	}
	if err := s.MarkOutreachReplied(outreachID); err != nil {
		t.Fatalf("MarkOutreachReplied: %v", err)
	}

	s.now = func() time.Time { return base.AddDate(0, 0, 10) }
	due, err := s.OutreachNeedingFollowup(3)
	if err != nil {
		t.Fatalf("OutreachNeedingFollowup: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("replied outreach is followup-due: %+v", due)
	}

	o, err := s.GetOutreach(outreachID)
	if err != nil {
		t.Fatalf("GetOutreach: %v", err)
	}
	if !o.Replied || o.Status != OutreachStatusReplied || o.ReplyDate == "" {
		t.Errorf("outreach after reply = %+v", o)
	}
}

func TestOutreachSentBetweenAndStats(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 18, 12, 0, 0, 0, time.Local)

	id := sentLead(t, s, "win.es", "info@win.es")
	s.now = func() time.Time { return base.Add(5 * time.Minute) }
	if _, err := s.InsertOutreach(id, "info@win.es", "Hola", "body", OutreachInitial, ""); err != nil {
		t.Fatalf("InsertOutreach: %v", err)
	}
	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := s.InsertOutreach(id, "info@win.es", "Re: Hola", "body", OutreachFollowup, ""); err != nil {
		t.Fatalf("InsertOutreach: %v", err)
	}

	n, err := s.OutreachSentBetween(base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("OutreachSentBetween: %v", err)
	}
	if n != 1 {
		t.Errorf("sent in window = %d, want 1", n)
	}

	stats, err := s.GetOutreachStats()
	if err != nil {
		t.Fatalf("GetOutreachStats: %v", err)
	}
	if stats.TotalSent != 2 || stats.InitialSent != 1 || stats.FollowupsSent != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

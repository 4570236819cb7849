package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Outreach types and statuses.
const (
	OutreachInitial  = "initial"
	OutreachFollowup = "followup"

	OutreachStatusPending = "pending"
	OutreachStatusSent    = "sent"
	OutreachStatusReplied = "replied"
)

// Outreach is one email-level interaction with a lead.
type Outreach struct {
	ID             int64
	LeadID         int64
	EmailTo        string
	Subject        string
	Body           string
	Type           string
	SentDate       string
	GMassMessageID string
	Opened         bool
	Clicked        bool
	Replied        bool
	ReplyDate      string
	FollowupSent   bool
	FollowupDate   string
	Status         string
}

// FollowupCandidate joins an initial outreach with its lead.
type FollowupCandidate struct {
	OutreachID            int64
	LeadID                int64
	EmailTo               string
	Subject               string
	Body                  string
	CompanyName           string
	ContactName           string
	AISummary             string
	AutomationSuggestions string
}

// LeadsForOutreach returns leads included in a sent report that have an
// email and no initial outreach row yet.
func (s *Store) LeadsForOutreach(limit int) ([]Lead, error) {
	rows, err := s.db.Query(s.rebind(`
		SELECT l.id, l.domain, l.company_name, COALESCE(l.website, ''), COALESCE(l.phone, ''),
		       COALESCE(l.address, ''), COALESCE(l.city, ''), COALESCE(l.country, ''), COALESCE(l.snippet, ''),
		       COALESCE(l.contact_name, ''), COALESCE(l.email, ''), COALESCE(l.email_source, ''),
		       COALESCE(l.scraped_text, ''), COALESCE(l.ai_summary, ''), COALESCE(l.automation_suggestions, ''),
		       COALESCE(l.discovered_date, ''), COALESCE(l.sent_date, ''), COALESCE(l.status, 'new')
		FROM leads l
		LEFT JOIN outreach o ON l.id = o.lead_id AND o.outreach_type = 'initial'
		WHERE l.sent_date IS NOT NULL
		  AND l.email IS NOT NULL
		  AND o.id IS NULL
		ORDER BY l.sent_date DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("leads for outreach: %w", err)
	}
	defer rows.Close()

	leads := []Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// InsertOutreach records a sent outreach email and returns its id.
func (s *Store) InsertOutreach(leadID int64, emailTo, subject, body, outreachType, gmassID string) (int64, error) {
	var id int64
	err := s.db.QueryRow(s.rebind(`
		INSERT INTO outreach
		(lead_id, email_to, email_subject, email_body, outreach_type,
		 sent_date, gmass_message_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'sent')
		RETURNING id`),
		leadID, emailTo, nullify(subject), nullify(body), outreachType,
		s.now().Format(dateTimeFormat), nullify(gmassID)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert outreach: %w", err)
	}
	return id, nil
}

// OutreachNeedingFollowup returns initial outreach rows sent at least
// followupDays ago with no reply and no followup yet, oldest first.
func (s *Store) OutreachNeedingFollowup(followupDays int) ([]FollowupCandidate, error) {
	cutoff := s.now().AddDate(0, 0, -followupDays).Format(dateFormat)
	rows, err := s.db.Query(s.rebind(`
		SELECT o.id, o.lead_id, o.email_to, COALESCE(o.email_subject, ''), COALESCE(o.email_body, ''),
		       l.company_name, COALESCE(l.contact_name, ''), COALESCE(l.ai_summary, ''),
		       COALESCE(l.automation_suggestions, '')
		FROM outreach o
		JOIN leads l ON o.lead_id = l.id
		WHERE o.outreach_type = 'initial'
		  AND o.replied = 0
		  AND o.followup_sent = 0
		  AND o.status = 'sent'
		  AND substr(o.sent_date, 1, 10) <= ?
		ORDER BY o.sent_date ASC`), cutoff)
	if err != nil {
		return nil, fmt.Errorf("followup candidates: %w", err)
	}
	defer rows.Close()

	out := []FollowupCandidate{}
	for rows.Next() {
		var c FollowupCandidate
		if err := rows.Scan(&c.OutreachID, &c.LeadID, &c.EmailTo, &c.Subject, &c.Body,
			&c.CompanyName, &c.ContactName, &c.AISummary, &c.AutomationSuggestions); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkFollowupSent flags an initial outreach as followed up.
func (s *Store) MarkFollowupSent(outreachID int64) error {
	_, err := s.db.Exec(s.rebind(`
		UPDATE outreach
		SET followup_sent = 1, followup_date = ?
		WHERE id = ?`),
		s.now().Format(dateTimeFormat), outreachID)
	if err != nil {
		return fmt.Errorf("mark followup sent: %w", err)
	}
	return nil
}

// MarkOutreachReplied records a reply (webhook or manual).
func (s *Store) MarkOutreachReplied(outreachID int64) error {
	_, err := s.db.Exec(s.rebind(`
		UPDATE outreach
		SET replied = 1, reply_date = ?, status = 'replied'
		WHERE id = ?`),
		s.now().Format(dateTimeFormat), outreachID)
	if err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	return nil
}

// GetOutreach fetches one outreach row.
func (s *Store) GetOutreach(id int64) (Outreach, error) {
	row := s.db.QueryRow(s.rebind(`
		SELECT id, lead_id, email_to, COALESCE(email_subject, ''), COALESCE(email_body, ''),
		       outreach_type, COALESCE(sent_date, ''), COALESCE(gmass_message_id, ''),
		       opened, clicked, replied, COALESCE(reply_date, ''),
		       followup_sent, COALESCE(followup_date, ''), status
		FROM outreach WHERE id = ?`), id)

	var (
		o                             Outreach
		opened, clicked, replied, fup int
	)
	err := row.Scan(&o.ID, &o.LeadID, &o.EmailTo, &o.Subject, &o.Body,
		&o.Type, &o.SentDate, &o.GMassMessageID,
		&opened, &clicked, &replied, &o.ReplyDate,
		&fup, &o.FollowupDate, &o.Status)
	if err != nil {
		return Outreach{}, err
	}
	o.Opened = opened != 0
	o.Clicked = clicked != 0
	o.Replied = replied != 0
	o.FollowupSent = fup != 0
	return o, nil
}

// HasInitialOutreach reports whether a lead already has an initial row.
func (s *Store) HasInitialOutreach(leadID int64) (bool, error) {
	var id int64
	err := s.db.QueryRow(s.rebind(
		`SELECT id FROM outreach WHERE lead_id = ? AND outreach_type = 'initial' LIMIT 1`), leadID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// OutreachSentBetween counts initial outreach rows sent in [from, to).
// Used to retroactively attribute sends to a run that predates the
// outreach_sent column.
func (s *Store) OutreachSentBetween(from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(s.rebind(`
		SELECT COUNT(*) FROM outreach
		WHERE sent_date IS NOT NULL
		  AND outreach_type = 'initial'
		  AND sent_date >= ? AND sent_date < ?`),
		from.Format(dateTimeFormat), to.Format(dateTimeFormat)).Scan(&n)
	return n, err
}

// OutreachStats aggregates outreach totals.
type OutreachStats struct {
	TotalSent     int
	InitialSent   int
	FollowupsSent int
	TotalReplied  int
	TotalOpened   int
}

// GetOutreachStats returns overall outreach counters.
func (s *Store) GetOutreachStats() (OutreachStats, error) {
	var st OutreachStats
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outreach_type = 'initial' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outreach_type = 'followup' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(replied), 0),
			COALESCE(SUM(opened), 0)
		FROM outreach`).Scan(&st.TotalSent, &st.InitialSent, &st.FollowupsSent, &st.TotalReplied, &st.TotalOpened)
	if err != nil {
		return OutreachStats{}, fmt.Errorf("outreach stats: %w", err)
	}
	return st, nil
}

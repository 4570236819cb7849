package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Lead is one discovered agency. Empty strings stand for NULL columns.
type Lead struct {
	ID                    int64
	Domain                string
	CompanyName           string
	Website               string
	Phone                 string
	Address               string
	City                  string
	Country               string
	Snippet               string
	ContactName           string
	Email                 string
	EmailSource           string
	ScrapedText           string
	AISummary             string
	AutomationSuggestions string
	DiscoveredDate        string
	SentDate              string
	Status                string
}

const leadColumns = `id, domain, company_name, COALESCE(website, ''), COALESCE(phone, ''),
	COALESCE(address, ''), COALESCE(city, ''), COALESCE(country, ''), COALESCE(snippet, ''),
	COALESCE(contact_name, ''), COALESCE(email, ''), COALESCE(email_source, ''),
	COALESCE(scraped_text, ''), COALESCE(ai_summary, ''), COALESCE(automation_suggestions, ''),
	COALESCE(discovered_date, ''), COALESCE(sent_date, ''), COALESCE(status, 'new')`

type scanner interface {
	Scan(dest ...any) error
}

func scanLead(row scanner) (Lead, error) {
	var l Lead
	err := row.Scan(&l.ID, &l.Domain, &l.CompanyName, &l.Website, &l.Phone,
		&l.Address, &l.City, &l.Country, &l.Snippet,
		&l.ContactName, &l.Email, &l.EmailSource,
		&l.ScrapedText, &l.AISummary, &l.AutomationSuggestions,
		&l.DiscoveredDate, &l.SentDate, &l.Status)
	return l, err
}

func (s *Store) queryLeads(query string, args ...any) ([]Lead, error) {
	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
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

// LeadExists reports whether a lead with this domain is already recorded.
func (s *Store) LeadExists(domain string) (bool, error) {
	var id int64
	err := s.db.QueryRow(s.rebind("SELECT id FROM leads WHERE domain = ?"), domain).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lead exists: %w", err)
	}
	return true, nil
}

// InsertLead records a new lead with status 'new' and today's discovery
// date. A duplicate domain is a no-op returning (0, false, nil).
func (s *Store) InsertLead(l Lead) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(s.rebind(
		`INSERT INTO leads
		 (domain, company_name, website, phone, address, city, country,
		  snippet, contact_name, email, email_source, discovered_date, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'new')
		 RETURNING id`),
		nullify(l.Domain), l.CompanyName, nullify(l.Website), nullify(l.Phone),
		nullify(l.Address), nullify(l.City), nullify(l.Country),
		nullify(l.Snippet), nullify(l.ContactName), nullify(l.Email),
		nullify(l.EmailSource), s.today(),
	).Scan(&id)
	if err != nil {
		if s.isDuplicateKey(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert lead: %w", err)
	}
	return id, true, nil
}

// InsertLeadsBatch inserts leads one row at a time, swallowing duplicates.
// Returns the number actually inserted.
func (s *Store) InsertLeadsBatch(leads []Lead) (int, error) {
	inserted := 0
	for _, l := range leads {
		_, ok, err := s.InsertLead(l)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// GetLead fetches one lead by id.
func (s *Store) GetLead(id int64) (Lead, error) {
	row := s.db.QueryRow(s.rebind(`SELECT `+leadColumns+` FROM leads WHERE id = ?`), id)
	return scanLead(row)
}

// UpdateLead applies the given column values to one lead. Keys are column
// names; empty string values write NULL.
func (s *Store) UpdateLead(id int64, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	allowed := map[string]bool{
		"website": true, "phone": true, "address": true, "contact_name": true,
		"email": true, "email_source": true, "scraped_text": true,
		"ai_summary": true, "automation_suggestions": true, "status": true,
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !allowed[col] {
			return fmt.Errorf("update lead: unknown column %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, nullify(fields[col]))
	}
	args = append(args, id)

	_, err := s.db.Exec(s.rebind(`UPDATE leads SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	return nil
}

// LeadsNeedingWebsiteEnrichment returns 'new' leads with a website that are
// missing an email or scraped text, email-less ones first.
func (s *Store) LeadsNeedingWebsiteEnrichment(limit int) ([]Lead, error) {
	return s.queryLeads(`
		SELECT `+leadColumns+`
		FROM leads
		WHERE (email IS NULL OR scraped_text IS NULL)
		  AND website IS NOT NULL AND status = 'new'
		ORDER BY
			CASE WHEN email IS NULL THEN 0 ELSE 1 END,
			discovered_date DESC
		LIMIT ?`, limit)
}

// LeadsNeedingEmailEnrichment returns leads still without an email that
// should be retried.
//
// Do not filter by email_source here. Historically, some leads ended up with
// email_source='apollo' but email still NULL (a match that returned
// name/title/phone but no address). Filtering by email_source would
// permanently exclude those leads from future attempts.
func (s *Store) LeadsNeedingEmailEnrichment(limit int) ([]Lead, error) {
	return s.queryLeads(`
		SELECT `+leadColumns+`
		FROM leads
		WHERE email IS NULL
		  AND website IS NOT NULL
		  AND status = 'new'
		ORDER BY discovered_date DESC
		LIMIT ?`, limit)
}

// LeadsMissingPhone returns 'new' leads without a phone number.
func (s *Store) LeadsMissingPhone(limit int) ([]Lead, error) {
	return s.queryLeads(`
		SELECT `+leadColumns+`
		FROM leads
		WHERE phone IS NULL
		  AND domain IS NOT NULL
		  AND status = 'new'
		ORDER BY discovered_date DESC
		LIMIT ?`, limit)
}

// LeadsNeedingAI returns 'new' leads without an AI summary.
func (s *Store) LeadsNeedingAI(limit int) ([]Lead, error) {
	return s.queryLeads(`
		SELECT `+leadColumns+`
		FROM leads
		WHERE ai_summary IS NULL AND status = 'new'
		ORDER BY discovered_date DESC
		LIMIT ?`, limit)
}

// UnsentLeads returns analyzed, not-yet-sent leads, best contactable first:
// email and phone, then email only, then phone only, then neither.
func (s *Store) UnsentLeads(limit int) ([]Lead, error) {
	return s.queryLeads(`
		SELECT `+leadColumns+`
		FROM leads
		WHERE sent_date IS NULL AND status = 'new' AND ai_summary IS NOT NULL
		ORDER BY
			CASE
				WHEN email IS NOT NULL AND phone IS NOT NULL THEN 0
				WHEN email IS NOT NULL THEN 1
				WHEN phone IS NOT NULL THEN 2
				ELSE 3
			END,
			discovered_date DESC
		LIMIT ?`, limit)
}

// MarkLeadsSent stamps the leads with a sent date and status 'sent'.
func (s *Store) MarkLeadsSent(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.today())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.Exec(s.rebind(
		`UPDATE leads SET sent_date = ?, status = 'sent' WHERE id IN (`+placeholders+`)`), args...)
	if err != nil {
		return fmt.Errorf("mark leads sent: %w", err)
	}
	return nil
}

// TotalLeads counts every lead.
func (s *Store) TotalLeads() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM leads").Scan(&n)
	return n, err
}

// LeadTotals returns overall lead counts for the status snapshot.
func (s *Store) LeadTotals() (total, sent, pending int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN sent_date IS NOT NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN sent_date IS NULL THEN 1 ELSE 0 END), 0)
		FROM leads`).Scan(&total, &sent, &pending)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("lead totals: %w", err)
	}
	return total, sent, pending, nil
}

// UnsentCount counts analyzed leads awaiting a report.
func (s *Store) UnsentCount() (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM leads WHERE sent_date IS NULL AND status = 'new' AND ai_summary IS NOT NULL").Scan(&n)
	return n, err
}

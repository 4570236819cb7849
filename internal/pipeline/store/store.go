// Package store is the persistence layer of the lead-generation pipeline:
// leads, city rotation, pipeline runs, and outreach tracking. It supports an
// embedded SQLite file for development and Postgres for production, selected
// by connection string; all queries use ? placeholders which are rewritten
// for the Postgres backend.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/acem-systems/agentd/internal/pipeline/config"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "pgx"

	dateFormat     = "2006-01-02"
	dateTimeFormat = "2006-01-02 15:04:05"
)

// Lead statuses.
const (
	LeadStatusNew     = "new"
	LeadStatusSent    = "sent"
	LeadStatusReplied = "replied"
)

// Email sources.
const (
	SourceApollo       = "apollo"
	SourceWebsite      = "website_scrape"
	SourceSerper       = "serper_search"
	SourceSMTPVerified = "smtp_verified"
	SourcePatternGuess = "pattern_guess"
	SourceNone         = "none"
)

// Store owns the pipeline database.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open selects the backend: Postgres when databaseURL is set, otherwise an
// SQLite file at dbPath (parent directory created as needed). The schema is
// ensured idempotently and the city rotation is seeded on first open.
func Open(databaseURL, dbPath string) (*Store, error) {
	var (
		db     *sql.DB
		driver string
		err    error
	)
	if strings.TrimSpace(databaseURL) != "" {
		driver = driverPostgres
		db, err = sql.Open(driverPostgres, databaseURL)
	} else {
		driver = driverSQLite
		if mkErr := os.MkdirAll(filepath.Dir(dbPath), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create data dir: %w", mkErr)
		}
		db, err = sql.Open(driverSQLite, dbPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, driver: driver, now: time.Now}

	if driver == driverSQLite {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("set pragma: %w", err)
			}
		}
	}

	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.seedCities(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the store is reachable.
func (s *Store) Ping() error { return s.db.Ping() }

func (s *Store) ensureSchema() error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == driverPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS leads (
			id %s,
			domain TEXT UNIQUE,
			company_name TEXT NOT NULL,
			website TEXT,
			phone TEXT,
			address TEXT,
			city TEXT,
			country TEXT,
			snippet TEXT,
			contact_name TEXT,
			email TEXT,
			email_source TEXT,
			scraped_text TEXT,
			ai_summary TEXT,
			automation_suggestions TEXT,
			discovered_date TEXT,
			sent_date TEXT,
			status TEXT DEFAULT 'new'
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS city_rotation (
			id %s,
			city_name TEXT NOT NULL,
			country TEXT NOT NULL,
			language TEXT DEFAULT 'es',
			last_searched TEXT,
			search_count INTEGER DEFAULT 0,
			UNIQUE (city_name, country)
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id %s,
			run_date TEXT,
			leads_discovered INTEGER DEFAULT 0,
			leads_enriched INTEGER DEFAULT 0,
			leads_with_email INTEGER DEFAULT 0,
			leads_ai_analyzed INTEGER DEFAULT 0,
			leads_sent INTEGER DEFAULT 0,
			errors TEXT,
			duration_seconds DOUBLE PRECISION
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS outreach (
			id %s,
			lead_id BIGINT NOT NULL REFERENCES leads(id),
			email_to TEXT NOT NULL,
			email_subject TEXT,
			email_body TEXT,
			outreach_type TEXT DEFAULT 'initial',
			sent_date TEXT,
			gmass_message_id TEXT,
			opened INTEGER DEFAULT 0,
			clicked INTEGER DEFAULT 0,
			replied INTEGER DEFAULT 0,
			reply_date TEXT,
			followup_sent INTEGER DEFAULT 0,
			followup_date TEXT,
			status TEXT DEFAULT 'pending'
		)`, pk),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	// outreach_sent on pipeline_runs arrived after v1; add it when missing.
	if err := s.ensureColumn("pipeline_runs", "outreach_sent", "INTEGER DEFAULT 0"); err != nil {
		return err
	}
	return nil
}

func (s *Store) ensureColumn(table, column, definition string) error {
	if s.driver == driverPostgres {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, column, definition))
		if err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, column, err)
		}
		return nil
	}

	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &primaryKey); err != nil {
			return fmt.Errorf("inspect %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

func (s *Store) seedCities() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM city_rotation").Scan(&count); err != nil {
		return fmt.Errorf("count cities: %w", err)
	}
	if count > 0 {
		return nil
	}

	insert := `INSERT INTO city_rotation (city_name, country, language) VALUES (?, ?, ?) ON CONFLICT (city_name, country) DO NOTHING`
	if s.driver == driverSQLite {
		insert = `INSERT OR IGNORE INTO city_rotation (city_name, country, language) VALUES (?, ?, ?)`
	}
	for _, city := range config.Cities {
		if _, err := s.db.Exec(s.rebind(insert), city.Name, city.Country, city.Language); err != nil {
			return fmt.Errorf("seed city %s: %w", city.Name, err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for the Postgres backend.
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

func (s *Store) isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

func nullify(v string) sql.NullString {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func (s *Store) today() string { return s.now().Format(dateFormat) }

// SetClock overrides the store's time source, for tests that need
// deterministic dates.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// IsNotFound reports whether err indicates a missing row.
func IsNotFound(err error) bool { return errors.Is(err, sql.ErrNoRows) }

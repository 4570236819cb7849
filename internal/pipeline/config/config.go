// Package config centralizes configuration for the lead-generation
// pipeline: environment variables, tuning constants, and the seed data the
// discovery and enrichment stages share.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults and tuning constants.
const (
	DefaultLeadsPerDay       = 30
	MaxSearchResultsPerQuery = 20
	WebsiteScrapeTimeout     = 10 * time.Second
	WebsiteScrapeDelay       = time.Second
	AIRequestDelay           = 4 * time.Second
	ApolloRateLimitDelay     = time.Second

	GeminiModel   = "gemini-2.0-flash"
	OpenAIModel   = "gpt-4o-mini"
	AIMaxTokens   = 1500
	AITemperature = 0.7

	ApolloAPIBase = "https://api.apollo.io/api/v1"
	GMassAPIBase  = "https://api.gmass.co/api"
	GMassFromName = "Luka Radeljak"
	SenderCompany = "ACEM Systems"

	DefaultFollowupDays = 3

	defaultOversampleFactor = 3
)

// Config is the pipeline process configuration, loaded once at startup.
type Config struct {
	// Storage. A non-empty DatabaseURL switches the store to Postgres.
	DatabaseURL string
	DataDir     string

	// API keys.
	ApolloAPIKey string
	GeminiAPIKey string
	OpenAIAPIKey string
	SerperAPIKey string
	GMassAPIKey  string

	// Report email.
	GmailAddress     string
	GmailAppPassword string
	RecipientEmail   string

	// Pipeline tuning.
	LeadsPerDay      int
	FollowupDays     int
	OversampleFactor int

	// Outreach.
	OutreachTransport string // gmass|smtp
	TrackOpens        bool
	TrackClicks       bool

	// Schedule loop.
	ScheduleTime    string // HH:MM
	ScheduleDays    string // ISO weekday set: "*", "1-5", "6,7", wrap "5-1"
	Timezone        string
	PollSeconds     int
	RunOnStartup    bool
	CatchupOnBoot   bool
	RotationResetTo string // "City" or "City, Country"

	// Facade.
	ListenAddr string
	LogLevel   string

	// External-identity fields reported by the snapshot facade.
	ClientExternalID string
	ClientName       string
	AgentExternalID  string
	AgentName        string
	CurrencyCode     string

	// Testing-only numeric overrides for the snapshot facade.
	MetricsMock               bool
	MetricsMockRunsTotal      int
	MetricsMockTasksCompleted int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:           filepath.Join(os.TempDir(), "leadgen"),
		LeadsPerDay:       DefaultLeadsPerDay,
		FollowupDays:      DefaultFollowupDays,
		OversampleFactor:  defaultOversampleFactor,
		OutreachTransport: "gmass",
		ScheduleTime:      "09:00",
		ScheduleDays:      "1-5",
		PollSeconds:       30,
		ListenAddr:        ":8090",
		LogLevel:          "info",
		ClientExternalID:  "acem_default_client",
		ClientName:        "ACEM Systems",
		AgentExternalID:   "acem_lead_generation",
		AgentName:         "ACEM lead generation",
		CurrencyCode:      "USD",
	}
}

// FromEnv overlays environment variables onto the defaults. Malformed
// values that would silently change behavior are fatal.
func FromEnv() (Config, error) {
	cfg := Default()

	cfg.DatabaseURL = firstNonEmpty(os.Getenv("SUPABASE_DB_URL"), os.Getenv("DATABASE_URL"))
	if v := os.Getenv("PIPELINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	cfg.ApolloAPIKey = os.Getenv("APOLLO_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.SerperAPIKey = os.Getenv("SERPER_API_KEY")
	cfg.GMassAPIKey = strings.TrimSpace(os.Getenv("GMASS_API_KEY"))

	cfg.GmailAddress = os.Getenv("GMAIL_ADDRESS")
	cfg.GmailAppPassword = os.Getenv("GMAIL_APP_PASSWORD")
	cfg.RecipientEmail = firstNonEmpty(os.Getenv("RECIPIENT_EMAIL"), cfg.GmailAddress)

	cfg.LeadsPerDay = intEnv("LEADS_PER_DAY", cfg.LeadsPerDay)
	cfg.FollowupDays = intEnv("FOLLOWUP_DAYS", cfg.FollowupDays)
	cfg.OversampleFactor = clamp(intEnv("APOLLO_PEOPLE_OVERSAMPLE_FACTOR", cfg.OversampleFactor), 1, 10)

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("OUTREACH_TRANSPORT"))); v != "" {
		if v != "gmass" && v != "smtp" {
			return cfg, fmt.Errorf("OUTREACH_TRANSPORT must be gmass or smtp, got %q", v)
		}
		cfg.OutreachTransport = v
	}
	cfg.TrackOpens = boolEnv("GMASS_TRACK_OPENS", false)
	cfg.TrackClicks = boolEnv("GMASS_TRACK_CLICKS", false)

	// SCHEDULE_TIME_OVERRIDE wins over SCHEDULE_TIME.
	if v := firstNonEmpty(os.Getenv("SCHEDULE_TIME_OVERRIDE"), os.Getenv("SCHEDULE_TIME")); v != "" {
		cfg.ScheduleTime = v
	}
	if v := os.Getenv("SCHEDULE_DAYS"); v != "" {
		cfg.ScheduleDays = v
	}
	cfg.Timezone = os.Getenv("TZ")
	cfg.PollSeconds = intEnv("SCHEDULER_POLL_SECONDS", cfg.PollSeconds)
	if cfg.PollSeconds < 5 {
		cfg.PollSeconds = 5
	}
	cfg.RunOnStartup = boolEnv("RUN_ON_STARTUP", false)
	cfg.CatchupOnBoot = boolEnv("SCHEDULE_CATCHUP_ON_BOOT", false)
	cfg.RotationResetTo = strings.TrimSpace(os.Getenv("CITY_ROTATION_RESET_TO"))

	if v := os.Getenv("PIPELINE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("ACEM_CLIENT_EXTERNAL_ID"); v != "" {
		cfg.ClientExternalID = v
	}
	if v := os.Getenv("ACEM_AGENT_EXTERNAL_ID"); v != "" {
		cfg.AgentExternalID = v
	}
	if v := os.Getenv("ACEM_CLIENT_NAME"); v != "" {
		cfg.ClientName = v
	}
	if v := os.Getenv("ACEM_AGENT_NAME"); v != "" {
		cfg.AgentName = v
	}
	if v := os.Getenv("ACEM_CURRENCY_CODE"); v != "" {
		cfg.CurrencyCode = v
	}
	cfg.MetricsMock = boolEnv("ACEM_METRICS_MOCK", false)
	cfg.MetricsMockRunsTotal = intEnv("ACEM_METRICS_MOCK_RUNS_TOTAL", 0)
	cfg.MetricsMockTasksCompleted = intEnv("ACEM_METRICS_MOCK_TASKS_COMPLETED", 0)

	return cfg, nil
}

// DBPath is the embedded store's on-disk location.
func (c Config) DBPath() string { return filepath.Join(c.DataDir, "leads.db") }

// LogPath is the rotating pipeline log file.
func (c Config) LogPath() string { return filepath.Join(c.DataDir, "pipeline.log") }

// Location resolves the configured timezone, defaulting to local time.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// intEnv reads a positive integer env var with a safe fallback.
func intEnv(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func boolEnv(name string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

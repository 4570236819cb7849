// Package sched dispatches registered agents on cron-like schedules through
// a durable Redis queue: a beat producer evaluates triggers every second and
// enqueues run-agent tasks; workers pop tasks, serialize per-agent
// execution, and retry failures a bounded number of times.
package sched

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 60 * time.Second
	defaultWorkers    = 4
)

// Entry is one schedule-configuration row: fire agent AgentName whenever
// Trigger is due. Trigger is a standard 5-field cron expression or a fixed
// interval in time.ParseDuration syntax.
type Entry struct {
	Name      string `json:"-"`
	AgentName string `json:"agent"`
	Trigger   string `json:"trigger"`

	schedule cron.Schedule
}

// Config holds scheduler settings.
type Config struct {
	RedisURL     string
	CollectorURL string
	Workers      int
	MaxRetries   int
	RetryDelay   time.Duration
	LogLevel     string
	Entries      []Entry
}

// DefaultConfig returns the built-in schedule: the lead-generation agent
// every weekday morning plus the example agent hourly.
func DefaultConfig() Config {
	return Config{
		RedisURL:     "redis://localhost:6379/0",
		CollectorURL: "http://localhost:8000",
		Workers:      defaultWorkers,
		MaxRetries:   defaultMaxRetries,
		RetryDelay:   defaultRetryDelay,
		LogLevel:     "info",
		Entries: []Entry{
			{Name: "lead_generation_daily", AgentName: "lead_generation", Trigger: "0 9 * * 1-5"},
			{Name: "example_hourly", AgentName: "example", Trigger: "1h"},
		},
	}
}

// ConfigFromEnv overlays environment variables onto the defaults.
// SCHED_ENTRIES replaces the whole schedule with a JSON mapping of entry
// name to {"agent": …, "trigger": …}.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("COLLECTOR_URL"); v != "" {
		cfg.CollectorURL = v
	}
	if v := os.Getenv("SCHED_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("SCHED_WORKERS must be a positive integer")
		}
		cfg.Workers = n
	}
	if v := os.Getenv("SCHED_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("SCHED_RETRY_DELAY must be a positive duration")
		}
		cfg.RetryDelay = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SCHED_ENTRIES"); v != "" {
		entries := map[string]Entry{}
		if err := json.Unmarshal([]byte(v), &entries); err != nil {
			return cfg, fmt.Errorf("parse SCHED_ENTRIES: %w", err)
		}
		cfg.Entries = cfg.Entries[:0]
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			e := entries[name]
			e.Name = name
			cfg.Entries = append(cfg.Entries, e)
		}
	}

	if err := cfg.resolveTriggers(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// resolveTriggers parses every entry's trigger. Malformed triggers are fatal
// at startup, never at fire time.
func (c *Config) resolveTriggers() error {
	for i := range c.Entries {
		e := &c.Entries[i]
		if strings.TrimSpace(e.AgentName) == "" {
			return fmt.Errorf("schedule entry %q: missing agent name", e.Name)
		}
		sched, err := parseTrigger(e.Trigger)
		if err != nil {
			return fmt.Errorf("schedule entry %q: %w", e.Name, err)
		}
		e.schedule = sched
	}
	return nil
}

func parseTrigger(trigger string) (cron.Schedule, error) {
	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		return nil, fmt.Errorf("empty trigger")
	}
	if sched, err := cron.ParseStandard(trigger); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(trigger)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("trigger %q is neither a cron expression nor a positive duration", trigger)
	}
	return cron.Every(d), nil
}

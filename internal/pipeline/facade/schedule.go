// Package facade exposes the pipeline over HTTP for the ACEM sync
// endpoints and runs the daily schedule loop.
package facade

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/store"
)

// ClockTime is a wall-clock HH:MM target.
type ClockTime struct {
	Hour   int
	Minute int
}

func (t ClockTime) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// ParseClockTime parses "HH:MM" in 24h format.
func ParseClockTime(value string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid schedule time %q, use HH:MM", value)
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return ClockTime{}, fmt.Errorf("invalid schedule time %q, use HH:MM", value)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("schedule time %q out of range", value)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

// DaySet is a set of ISO weekdays (Monday=1 .. Sunday=7).
type DaySet map[int]bool

// Days returns the sorted members.
func (d DaySet) Days() []int {
	out := make([]int, 0, len(d))
	for day := range d {
		out = append(out, day)
	}
	sort.Ints(out)
	return out
}

func expandDayRange(start, end int) []int {
	if start <= end {
		out := []int{}
		for day := start; day <= end; day++ {
			out = append(out, day)
		}
		return out
	}
	// Wrapped range, e.g. 5-1 = Fri..Mon.
	out := []int{}
	for day := start; day <= 7; day++ {
		out = append(out, day)
	}
	for day := 1; day <= end; day++ {
		out = append(out, day)
	}
	return out
}

// ParseDaySet parses an ISO weekday set: "*" for all days, comma lists,
// ranges, and wrapped ranges ("5-1" = Fri through Mon).
func ParseDaySet(value string) (DaySet, error) {
	raw := strings.TrimSpace(value)
	if raw == "*" {
		all := DaySet{}
		for day := 1; day <= 7; day++ {
			all[day] = true
		}
		return all, nil
	}

	set := DaySet{}
	for _, part := range strings.Split(raw, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		if strings.Contains(token, "-") {
			bounds := strings.SplitN(token, "-", 2)
			start, err1 := strconv.Atoi(strings.TrimSpace(bounds[0]))
			end, err2 := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err1 != nil || err2 != nil || start < 1 || start > 7 || end < 1 || end > 7 {
				return nil, fmt.Errorf("invalid day range %q, use values 1-7", token)
			}
			for _, day := range expandDayRange(start, end) {
				set[day] = true
			}
			continue
		}
		day, err := strconv.Atoi(token)
		if err != nil || day < 1 || day > 7 {
			return nil, fmt.Errorf("invalid day %q, use values 1-7", token)
		}
		set[day] = true
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("schedule days %q resolved to an empty set", value)
	}
	return set, nil
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func atOrAfter(now time.Time, target ClockTime) bool {
	if now.Hour() != target.Hour {
		return now.Hour() > target.Hour
	}
	return now.Minute() >= target.Minute
}

// Loop fires the pipeline once per allowed day at the configured time.
type Loop struct {
	Run  func(ctx context.Context) store.RunStats
	Log  *zap.Logger
	Time ClockTime
	Days DaySet
	Loc  *time.Location

	Poll          time.Duration
	RunOnStartup  bool
	CatchupOnBoot bool

	now         func() time.Time
	lastRunDate string
}

// NewLoop builds the schedule loop from configuration.
func NewLoop(cfg config.Config, run func(ctx context.Context) store.RunStats, logger *zap.Logger) (*Loop, error) {
	clock, err := ParseClockTime(cfg.ScheduleTime)
	if err != nil {
		return nil, err
	}
	days, err := ParseDaySet(cfg.ScheduleDays)
	if err != nil {
		return nil, err
	}
	return &Loop{
		Run:           run,
		Log:           logger,
		Time:          clock,
		Days:          days,
		Loc:           cfg.Location(),
		Poll:          time.Duration(cfg.PollSeconds) * time.Second,
		RunOnStartup:  cfg.RunOnStartup,
		CatchupOnBoot: cfg.CatchupOnBoot,
		now:           time.Now,
	}, nil
}

func (l *Loop) shouldTrigger(now time.Time) bool {
	if !l.Days[isoWeekday(now)] {
		return false
	}
	if l.lastRunDate == now.Format("2006-01-02") {
		return false
	}
	return atOrAfter(now, l.Time)
}

func (l *Loop) fire(ctx context.Context, reason string) {
	l.Log.Info("schedule trigger", zap.String("reason", reason))
	start := l.now()
	stats := l.Run(ctx)
	l.Log.Info("scheduled run complete",
		zap.Duration("took", l.now().Sub(start)),
		zap.Int("errors", len(stats.Errors)))
}

// Start runs the loop until the context is canceled. When catch-up is
// disabled and the process boots after today's target time, today counts
// as already fired so redeploys do not trigger duplicate runs.
func (l *Loop) Start(ctx context.Context) {
	boot := l.now().In(l.Loc)
	if !l.CatchupOnBoot && l.Days[isoWeekday(boot)] && atOrAfter(boot, l.Time) {
		l.lastRunDate = boot.Format("2006-01-02")
		l.Log.Info("boot after schedule time, waiting for the next scheduled day",
			zap.String("time", l.Time.String()))
	}

	l.Log.Info("schedule loop started",
		zap.String("time", l.Time.String()),
		zap.Ints("days", l.Days.Days()),
		zap.Duration("poll", l.Poll))

	if l.RunOnStartup {
		l.fire(ctx, "startup")
	}

	ticker := time.NewTicker(l.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Log.Info("schedule loop stopped")
			return
		case <-ticker.C:
		}

		now := l.now().In(l.Loc)
		if l.shouldTrigger(now) {
			// Mark the date first so a slow run cannot double-fire.
			l.lastRunDate = now.Format("2006-01-02")
			l.fire(ctx, "daily schedule")
		}
	}
}

// ParseRotationReset splits CITY_ROTATION_RESET_TO into city and optional
// country ("Madrid" or "Madrid, Espana").
func ParseRotationReset(value string) (city, country string) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return "", ""
	}
	if i := strings.Index(raw, ","); i >= 0 {
		return strings.TrimSpace(raw[:i]), strings.TrimSpace(raw[i+1:])
	}
	return raw, ""
}

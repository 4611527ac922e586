// Package heartbeat runs the scheduled jobs that keep the agent alive
// between conversations: reviews, sweeps, syncs, and health probes.
package heartbeat

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aria-ai/aria/internal/errdefs"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is a parsed job schedule. Two kinds: cron expressions
// (including @hourly style descriptors) and fixed intervals written as
// "every 5m".
type Schedule struct {
	Kind  string // "cron" or "every"
	Expr  string
	Every time.Duration

	cronSched cron.Schedule
}

// ParseSchedule accepts five-field cron expressions, @descriptors, and
// "every <duration>" intervals.
func ParseSchedule(raw string) (Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Schedule{}, errdefs.New(errdefs.KindConfiguration, "schedule is required")
	}

	if rest, ok := strings.CutPrefix(raw, "every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return Schedule{}, errdefs.Wrap(errdefs.KindConfiguration, err,
				"invalid interval %q", raw)
		}
		if d < time.Minute {
			return Schedule{}, errdefs.New(errdefs.KindConfiguration,
				"interval %q is below the one minute floor", raw)
		}
		return Schedule{Kind: "every", Expr: raw, Every: d}, nil
	}

	sched, err := cronParser.Parse(raw)
	if err != nil {
		return Schedule{}, errdefs.Wrap(errdefs.KindConfiguration, err,
			"invalid cron expression %q", raw)
	}
	return Schedule{Kind: "cron", Expr: raw, cronSched: sched}, nil
}

// Next returns the first fire time strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	switch s.Kind {
	case "every":
		return t.Add(s.Every)
	case "cron":
		return s.cronSched.Next(t)
	default:
		return time.Time{}
	}
}

// String returns the original expression.
func (s Schedule) String() string { return s.Expr }

// MissedRuns counts fire times in (last, now]. The scheduler catches up
// at most one of them.
func (s Schedule) MissedRuns(last, now time.Time) int {
	if last.IsZero() || !now.After(last) {
		return 0
	}
	n := 0
	t := last
	for {
		t = s.Next(t)
		if t.After(now) {
			return n
		}
		n++
		if n > 10000 {
			// Degenerate schedule; the count is only used to log and
			// cap catch-up at one anyway.
			return n
		}
	}
}

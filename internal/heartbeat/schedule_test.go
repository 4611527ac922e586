package heartbeat

import (
	"testing"
	"time"

	"github.com/aria-ai/aria/internal/errdefs"
)

func TestParseScheduleEvery(t *testing.T) {
	s, err := ParseSchedule("every 5m")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Kind != "every" || s.Every != 5*time.Minute {
		t.Errorf("schedule = %+v, want every 5m", s)
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if next := s.Next(base); !next.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("next = %v, want 09:05", next)
	}
}

func TestParseScheduleFloorsSubMinuteIntervals(t *testing.T) {
	_, err := ParseSchedule("every 10s")
	if errdefs.KindOf(err) != errdefs.KindConfiguration {
		t.Errorf("kind = %v, want Configuration", errdefs.KindOf(err))
	}
}

func TestParseScheduleCron(t *testing.T) {
	s, err := ParseSchedule("30 9 * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	next := s.Next(base)
	want := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestParseScheduleDescriptor(t *testing.T) {
	s, err := ParseSchedule("@hourly")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	base := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if next := s.Next(base); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "every banana", "not a cron", "* * *"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Errorf("ParseSchedule(%q) accepted, want error", raw)
		}
	}
}

func TestMissedRuns(t *testing.T) {
	s, err := ParseSchedule("every 10m")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	last := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		now  time.Time
		want int
	}{
		{last, 0},
		{last.Add(5 * time.Minute), 0},
		{last.Add(10 * time.Minute), 1},
		{last.Add(35 * time.Minute), 3},
	}
	for _, tc := range tests {
		if got := s.MissedRuns(last, tc.now); got != tc.want {
			t.Errorf("MissedRuns(now=%v) = %d, want %d", tc.now, got, tc.want)
		}
	}

	if got := s.MissedRuns(time.Time{}, last); got != 0 {
		t.Errorf("zero last should report 0 missed, got %d", got)
	}
}

package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   CadenceKind
		source string
		every  time.Duration
	}{
		{name: "cron", raw: "0 8 * * *", kind: CadenceCron, source: "cron"},
		{name: "descriptor", raw: "@daily", kind: CadenceCron, source: "cron"},
		{name: "every descriptor", raw: "@every 1m", kind: CadenceCron, source: "cron"},
		{name: "prefixed cron", raw: "CRON:0 0 * * *", kind: CadenceCron, source: "cron"},
		{name: "duration", raw: "6h", kind: CadenceInterval, source: "duration", every: 6 * time.Hour},
		{name: "prefixed interval", raw: "interval:45s", kind: CadenceInterval, source: "duration", every: 45 * time.Second},
		{name: "every prefix hhmm", raw: "Every: 00:50", kind: CadenceInterval, source: "hhmm", every: 50 * time.Minute},
		{name: "hhmm", raw: "24:00", kind: CadenceInterval, source: "hhmm", every: 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == CadenceInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "  ", "not-a-schedule", "01:75", "00:00", "-5m", "0s", "interval:", "every:soon", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestCompile(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)
	sched, _, err := Compile("0 8 * * *")
	if err != nil {
		t.Fatal(err)
	}
	if next := sched.Next(base); !next.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("next = %v", next)
	}

	sched, c, err := Compile("90m")
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind.String() != "interval" {
		t.Fatalf("kind = %s", c.Kind)
	}
	if next := sched.Next(base); next.Sub(base) != 90*time.Minute {
		t.Fatalf("interval next = %v", next)
	}

	if _, _, err := Compile("61 * * * *"); err == nil {
		t.Fatalf("expected cron parse error")
	}
}

package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type CadenceKind int

const (
	CadenceCron CadenceKind = iota
	CadenceInterval
)

func (k CadenceKind) String() string {
	if k == CadenceInterval {
		return "interval"
	}
	return "cron"
}

// Cadence is a normalized broadcast schedule.
//
// Accepted forms:
//   - cron with optional seconds: "0 8 * * *", "*/30 * * * * *"
//   - descriptors: "@daily", "@hourly", "@every 6h"
//   - Go durations: "55m", "2h30m"
//   - HH:MM intervals: "00:50" is fifty minutes, "24:00" one day
//
// A "cron:" prefix forces cron, "interval:" or "every:" forces an interval.
type Cadence struct {
	Kind  CadenceKind
	Cron  string
	Every time.Duration
	// Source is "cron", "duration" or "hhmm".
	Source string
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var intervalPrefixes = []string{"interval:", "every:"}

// cutPrefixFold is strings.CutPrefix ignoring ASCII case.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

// ParseSchedule normalizes raw without compiling cron expressions; use
// Compile for full validation.
func ParseSchedule(raw string) (Cadence, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Cadence{}, errors.New("schedule required")
	}

	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return Cadence{}, errors.New("cron expression required after 'cron:'")
		}
		return Cadence{Kind: CadenceCron, Cron: rest, Source: "cron"}, nil
	}
	for _, p := range intervalPrefixes {
		if rest, ok := cutPrefixFold(s, p); ok {
			return intervalCadence(rest)
		}
	}

	if s[0] == '@' || strings.ContainsAny(s, " \t") {
		return Cadence{Kind: CadenceCron, Cron: s, Source: "cron"}, nil
	}
	if c, err := intervalCadence(s); err == nil {
		return c, nil
	}
	return Cadence{}, fmt.Errorf("invalid schedule %q: want cron ('0 8 * * *', '@daily'), HH:MM ('02:30') or a duration ('6h')", raw)
}

func intervalCadence(v string) (Cadence, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Cadence{}, errors.New("interval required")
	}
	d, src, err := parseHHMM(v)
	if err != nil {
		return Cadence{}, err
	}
	if src == "" {
		if d, err = time.ParseDuration(v); err != nil {
			return Cadence{}, fmt.Errorf("invalid interval %q: want HH:MM or a duration like '55m'", v)
		}
		src = "duration"
	}
	if d <= 0 {
		return Cadence{}, fmt.Errorf("interval %q must be positive", v)
	}
	return Cadence{Kind: CadenceInterval, Every: d, Source: src}, nil
}

// parseHHMM returns src == "" when v is not in HH:MM form at all.
func parseHHMM(v string) (time.Duration, string, error) {
	hh, mm, ok := strings.Cut(v, ":")
	if !ok || len(hh) == 0 || len(hh) > 3 || len(mm) != 2 {
		return 0, "", nil
	}
	h, err1 := strconv.ParseUint(hh, 10, 16)
	m, err2 := strconv.ParseUint(mm, 10, 8)
	if err1 != nil || err2 != nil {
		return 0, "", nil
	}
	if m > 59 {
		return 0, "hhmm", fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, "hhmm", nil
}

// Compile parses raw and builds the cron.Schedule that drives it.
func Compile(raw string) (cron.Schedule, Cadence, error) {
	c, err := ParseSchedule(raw)
	if err != nil {
		return nil, c, err
	}
	if c.Kind == CadenceInterval {
		return cron.Every(c.Every), c, nil
	}
	sched, err := cronParser.Parse(c.Cron)
	if err != nil {
		return nil, c, fmt.Errorf("invalid cron %q: %w", c.Cron, err)
	}
	return sched, c, nil
}

package scheduler

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	// reLongUnits matches durations that use day, week or year units, e.g. "1d", "2w3d12h".
	reLongUnits = regexp.MustCompile(`^(?:\d+(?:\.\d+)?(?:ns|us|µs|ms|s|m|h|d|w|y))+$`)
	reUnitPart  = regexp.MustCompile(`(\d+(?:\.\d+)?)(ns|us|µs|ms|s|m|h|d|w|y)`)
)

const day = 24 * time.Hour

var unitLen = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  day,
	"w":  7 * day,
	"y":  365 * day,
}

// ParseInterval parses a run interval.
//
// Supported forms:
//   - Go duration: "5s", "1m30s"
//   - durations with day, week and year units: "1d", "2w", "1d12h" (a day is 24h, a year 365d)
//   - HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - cron descriptor: "@every 5m"
//
// Calendar cron specs ("*/5 * * * *", "@hourly") are rejected: they have no fixed period.
// "@every" is parsed by robfig/cron, which only keeps whole seconds, so "@every" values
// below 1s or with a fractional second are rejected instead of being rounded.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("interval required")
	}

	if strings.HasPrefix(s, "@") {
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", raw, err)
		}
		cd, ok := sched.(cron.ConstantDelaySchedule)
		if !ok {
			return 0, fmt.Errorf("invalid interval %q: only @every descriptors are supported", raw)
		}
		if want, err := parseDuration(strings.TrimSpace(strings.TrimPrefix(s, "@every"))); err == nil && want != cd.Delay {
			return 0, fmt.Errorf("invalid interval %q: @every needs whole seconds of at least 1s (use %q without @every)", raw, want.String())
		}
		return cd.Delay, nil
	}
	if strings.ContainsAny(s, " \t\n\r") {
		return 0, fmt.Errorf("invalid interval %q: calendar cron specs are not supported", raw)
	}

	if reHHMM.MatchString(s) {
		return parseHHMMDuration(s)
	}

	d, err := parseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use a duration like '5s', HH:MM like '02:30', or '@every 5m')", raw)
	}
	if d <= 0 {
		return 0, ErrInvalidInterval
	}
	return d, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, ErrInvalidInterval
	}
	return d, nil
}

// parseDuration is time.ParseDuration plus the d, w and y units.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil || !reLongUnits.MatchString(s) {
		return d, err
	}
	var total time.Duration
	for _, m := range reUnitPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, err
		}
		part := n * float64(unitLen[m[2]])
		if part > math.MaxInt64-float64(total) {
			return 0, fmt.Errorf("duration %q overflows", s)
		}
		total += time.Duration(part)
	}
	return total, nil
}

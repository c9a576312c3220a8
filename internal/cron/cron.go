// Package cron implements a minimal five-field cron expression evaluator.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldBounds is {min, max} for minute, hour, day-of-month, month, day-of-week.
var fieldBounds = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week, 0 = Sunday
}

// Schedule is a parsed five-field cron expression.
type Schedule struct {
	minute, hour, dom, month, dow [61]bool // indexed up to the field's max
}

// Parse parses a five-field cron expression: minute hour dom month dow.
// Each field accepts *, N, N-M, N,M,..., and */N.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}
	s := &Schedule{}
	sets := [5]*[61]bool{&s.minute, &s.hour, &s.dom, &s.month, &s.dow}
	for i, f := range fields {
		if err := parseField(f, fieldBounds[i], sets[i]); err != nil {
			return nil, fmt.Errorf("cron: field %d (%q): %w", i, f, err)
		}
	}
	return s, nil
}

func parseField(field string, bounds [2]int, out *[61]bool) error {
	for _, part := range strings.Split(field, ",") {
		if err := parsePart(part, bounds, out); err != nil {
			return err
		}
	}
	return nil
}

func parsePart(part string, bounds [2]int, out *[61]bool) error {
	step := 1
	rangePart := part
	if idx := strings.IndexByte(part, '/'); idx >= 0 {
		rangePart = part[:idx]
		n, err := strconv.Atoi(part[idx+1:])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step %q", part[idx+1:])
		}
		step = n
	}

	lo, hi := bounds[0], bounds[1]
	switch {
	case rangePart == "*":
		// lo/hi already the full range
	case strings.Contains(rangePart, "-"):
		parts := strings.SplitN(rangePart, "-", 2)
		a, err1 := strconv.Atoi(parts[0])
		b, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("invalid range %q", rangePart)
		}
		lo, hi = a, b
	default:
		n, err := strconv.Atoi(rangePart)
		if err != nil {
			return fmt.Errorf("invalid value %q", rangePart)
		}
		lo, hi = n, n
	}
	if lo < bounds[0] || hi > bounds[1] || lo > hi {
		return fmt.Errorf("value out of range [%d,%d]: %q", bounds[0], bounds[1], rangePart)
	}
	for v := lo; v <= hi; v += step {
		out[v] = true
	}
	return nil
}

func (s *Schedule) matches(t time.Time) bool {
	if !s.minute[t.Minute()] {
		return false
	}
	if !s.hour[t.Hour()] {
		return false
	}
	if !s.month[int(t.Month())] {
		return false
	}
	domMatch := s.dom[t.Day()]
	dowMatch := s.dow[int(t.Weekday())]
	// Standard cron semantics: when both day-of-month and day-of-week are
	// restricted (not "*"), a match on either is sufficient.
	if s.isDomWildcard() || s.isDowWildcard() {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

func (s *Schedule) isDomWildcard() bool {
	for v := fieldBounds[2][0]; v <= fieldBounds[2][1]; v++ {
		if !s.dom[v] {
			return false
		}
	}
	return true
}

func (s *Schedule) isDowWildcard() bool {
	for v := fieldBounds[4][0]; v <= fieldBounds[4][1]; v++ {
		if !s.dow[v] {
			return false
		}
	}
	return true
}

// NextAfter returns the smallest instant strictly greater than t that
// matches expr, truncated to minute resolution. It scans minute-by-minute,
// bounded so sparse expressions (e.g. a single Feb 29 match) do not loop
// forever: four years comfortably spans any possible combination of
// fields including leap-year-only day/month pairs.
func NextAfter(expr string, t time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.NextAfter(t), nil
}

// NextAfter returns the next match after t for an already-parsed Schedule.
func (s *Schedule) NextAfter(t time.Time) time.Time {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate
		}
		candidate = candidate.Add(time.Minute)
	}
	// No match found within the bound; callers should treat this as
	// "never" by checking against the limit, but we return the limit
	// itself rather than a zero value to keep callers simple.
	return limit
}

// EstimateIntervalMinutes derives an approximate firing cadence by sampling
// a handful of consecutive matches from a reference instant and averaging
// the gaps. Used for tier-gating: free tier rejects schedules estimated
// faster than hourly.
func EstimateIntervalMinutes(expr string, from time.Time) (float64, error) {
	s, err := Parse(expr)
	if err != nil {
		return 0, err
	}
	const samples = 5
	cur := s.NextAfter(from)
	var total time.Duration
	n := 0
	for i := 0; i < samples; i++ {
		next := s.NextAfter(cur)
		if next.Sub(cur) <= 0 {
			break
		}
		total += next.Sub(cur)
		cur = next
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("cron: could not estimate interval for %q", expr)
	}
	return total.Minutes() / float64(n), nil
}

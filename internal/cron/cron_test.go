package cron

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, layout, val string) time.Time {
	tm, err := time.Parse(layout, val)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return tm
}

func TestNextAfterEveryMinute(t *testing.T) {
	from := mustParse(t, time.RFC3339, "2026-01-01T00:00:30Z")
	next, err := NextAfter("* * * * *", from)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	want := mustParse(t, time.RFC3339, "2026-01-01T00:01:00Z")
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestNextAfterHourly(t *testing.T) {
	from := mustParse(t, time.RFC3339, "2026-01-01T00:05:00Z")
	next, err := NextAfter("0 * * * *", from)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	want := mustParse(t, time.RFC3339, "2026-01-01T01:00:00Z")
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestNextAfterSparseYearly(t *testing.T) {
	from := mustParse(t, time.RFC3339, "2026-01-01T00:00:00Z")
	next, err := NextAfter("0 0 1 1 *", from)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	want := mustParse(t, time.RFC3339, "2027-01-01T00:00:00Z")
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestNextAfterStep(t *testing.T) {
	from := mustParse(t, time.RFC3339, "2026-01-01T00:00:00Z")
	next, err := NextAfter("*/15 * * * *", from)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	want := mustParse(t, time.RFC3339, "2026-01-01T00:15:00Z")
	if !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestDomOrDowUnion(t *testing.T) {
	// "0 0 1 * 1" means midnight on the 1st OR any Monday.
	s, err := Parse("0 0 1 * 1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	monday := mustParse(t, time.RFC3339, "2026-01-05T00:00:00Z") // a Monday
	if !s.matches(monday) {
		t.Errorf("expected Monday to match union rule")
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("* * * *"); err == nil {
		t.Error("expected error for wrong field count")
	}
	if _, err := Parse("60 * * * *"); err == nil {
		t.Error("expected error for out-of-range minute")
	}
}

func TestEstimateIntervalMinutesHourly(t *testing.T) {
	from := mustParse(t, time.RFC3339, "2026-01-01T00:00:00Z")
	got, err := EstimateIntervalMinutes("0 * * * *", from)
	if err != nil {
		t.Fatalf("EstimateIntervalMinutes: %v", err)
	}
	if got != 60 {
		t.Errorf("got %v, want 60", got)
	}
}

func TestEstimateIntervalMinutesSubHourly(t *testing.T) {
	from := mustParse(t, time.RFC3339, "2026-01-01T00:00:00Z")
	got, err := EstimateIntervalMinutes("*/5 * * * *", from)
	if err != nil {
		t.Fatalf("EstimateIntervalMinutes: %v", err)
	}
	if got != 5 {
		t.Errorf("got %v, want 5", got)
	}
}

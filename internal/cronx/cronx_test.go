package cronx

import (
	"testing"
	"time"
)

func TestNextAfter_Exclusive(t *testing.T) {
	// "after" falls exactly on a tick (every minute); the result must be the
	// *next* minute, not the same instant (spec.md §8 invariant 10).
	after := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	next, err := NextAfter("*/1 * * * *", "", after)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	if !next.After(after) {
		t.Fatalf("expected next (%s) strictly after after (%s)", next, after)
	}
	want := time.Date(2024, 1, 1, 0, 2, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %s, want %s", next, want)
	}
}

func TestNextAfter_UTCDefault(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	next, err := NextAfter("*/1 * * * *", "", after)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	want := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %s, want %s", next, want)
	}
}

func TestNextAfter_Timezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 9am New York on a January day.
	after := time.Date(2024, 1, 15, 8, 0, 0, 0, loc).In(time.UTC)
	next, err := NextAfter("0 9 * * *", "America/New_York", after)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	gotLocal := next.In(loc)
	if gotLocal.Hour() != 9 || gotLocal.Minute() != 0 {
		t.Fatalf("next in zone = %s, want 09:00 local", gotLocal)
	}
}

func TestNextAfter_DSTSpringForward(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2024-03-10: US spring-forward day, 02:00 -> 03:00 local. A tick
	// targeting 02:30 never occurs in local wall-clock time; the evaluator
	// must still return a valid, later instant rather than erroring.
	after := time.Date(2024, 3, 10, 1, 0, 0, 0, loc).In(time.UTC)
	next, err := NextAfter("30 2 10 3 *", "America/New_York", after)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	if !next.After(after) {
		t.Fatalf("next (%s) must be after after (%s)", next, after)
	}
}

func TestNextAfter_DSTFallBack(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2024-11-03: US fall-back day, 01:00-02:00 local occurs twice. A tick
	// at 01:30 must resolve to the first (pre-shift, EDT) occurrence.
	after := time.Date(2024, 11, 3, 0, 0, 0, 0, loc).In(time.UTC)
	next, err := NextAfter("30 1 3 11 *", "America/New_York", after)
	if err != nil {
		t.Fatalf("NextAfter: %v", err)
	}
	_, offset := next.In(loc).Zone()
	if offset != -4*3600 {
		t.Fatalf("expected pre-shift EDT offset (-4h), got %d", offset/3600)
	}
}

func TestNextAfter_InvalidSchedule(t *testing.T) {
	if _, err := NextAfter("not a cron", "", time.Now()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestNextAfter_InvalidZone(t *testing.T) {
	if _, err := NextAfter("* * * * *", "Not/AZone", time.Now()); err == nil {
		t.Fatal("expected error for invalid zone")
	}
}

// Package cronx computes the next occurrence of a cron expression, with
// IANA-timezone-aware semantics (spec.md §4.4).
//
// Parsing is delegated to github.com/robfig/cron/v3 — the same parser the
// teacher's internal/task/scheduler wires up with SecondOptional so both
// 5-field and 6-field expressions are accepted. Unlike the teacher, this
// package never hands the parsed Schedule to cron.Cron's own goroutine —
// spec.md §4.8 mandates a custom sleep-until-next-due loop, so NextAfter is
// a pure function the Scheduler calls itself.
package cronx

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse validates a 5- or 6-field cron expression (or a "@every"/"@hourly"
// style descriptor) without needing a timezone.
func Parse(schedule string) (cron.Schedule, error) {
	sch, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("cron: invalid schedule %q: %w", schedule, err)
	}
	return sch, nil
}

// ResolveZone looks up an IANA zone name, defaulting to UTC when zone is
// empty (spec.md §3: "absent means UTC").
func ResolveZone(zone string) (*time.Location, error) {
	if zone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("cron: unknown timezone %q: %w", zone, err)
	}
	return loc, nil
}

// NextAfter returns the first instant strictly after `after` at which
// `schedule` ticks, interpreting the schedule in `zone` (UTC if zone is
// empty).
//
// Exclusivity: if `after` itself falls exactly on a tick, the *next* tick is
// returned, never `after` (spec.md §4.4, §8 invariant 10). robfig/cron's
// Schedule.Next already has this property for the locations it's handed, so
// NextAfter's job is purely the UTC<->local conversion dance: convert
// `after` into local time, ask the schedule for the next local tick, and
// convert the result back to UTC. DST gaps and repeated hours are handled
// entirely by time.Time's own normalization once the schedule is evaluated
// in the target Location — a tick that lands in a skipped spring-forward
// hour normalizes forward to a real instant, and cron.Schedule.Next never
// revisits an already-passed repeated hour on fall-back.
func NextAfter(schedule string, zone string, after time.Time) (time.Time, error) {
	sch, err := Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := ResolveZone(zone)
	if err != nil {
		return time.Time{}, err
	}

	local := after.In(loc)
	next := sch.Next(local)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron: schedule %q never fires after %s", schedule, after)
	}
	return next.In(time.UTC), nil
}

package resolve

import (
	"time"

	"statusd/internal/model"
	"statusd/internal/workhours"
)

// Options controls event filtering during interval resolution.
type Options struct {
	// AllDayOnlyCountsIfOOO drops all-day events unless they are
	// out-of-office.
	AllDayOnlyCountsIfOOO bool
}

// Current returns the active event at now: start <= now < end (end is
// exclusive), earliest start wins among overlapping candidates, ties broken
// by feed order. Returns nil when nothing qualifies.
func Current(events []model.CalendarEvent, now time.Time, opts Options) *model.CalendarEvent {
	var best *model.CalendarEvent
	for i := range events {
		ev := &events[i]
		if ev.Start.After(now) || !now.Before(ev.End) {
			continue
		}
		if !includable(ev, opts) {
			continue
		}
		if best == nil || ev.Start.Before(best.Start) {
			best = ev
		}
	}
	return copyOf(best)
}

// Next returns the nearest future event (start > now) under the same
// filters as Current, or nil.
func Next(events []model.CalendarEvent, now time.Time, opts Options) *model.CalendarEvent {
	var best *model.CalendarEvent
	for i := range events {
		ev := &events[i]
		if !ev.Start.After(now) {
			continue
		}
		if !includable(ev, opts) {
			continue
		}
		if best == nil || ev.Start.Before(best.Start) {
			best = ev
		}
	}
	return copyOf(best)
}

// includable applies the shared filters: explicit-free events never count,
// and all-day events only count when out-of-office (if so configured).
func includable(ev *model.CalendarEvent, opts Options) bool {
	if ev.Busy == model.BusyFree {
		return false
	}
	if opts.AllDayOnlyCountsIfOOO && ev.AllDay && ev.Busy != model.BusyOOO {
		return false
	}
	return true
}

func copyOf(ev *model.CalendarEvent) *model.CalendarEvent {
	if ev == nil {
		return nil
	}
	out := *ev
	return &out
}

// Displayable reports whether a next event should be surfaced as a display
// hint: it must start on the same local calendar day as now and, when a
// working-hours policy is configured, inside that policy's window.
// Withheld events are not deferred to a later day.
func Displayable(next *model.CalendarEvent, now time.Time, loc *time.Location, policy *workhours.Policy) bool {
	if next == nil {
		return false
	}
	localNow := now.In(loc)
	localStart := next.Start.In(loc)

	ny, nm, nd := localNow.Date()
	sy, sm, sd := localStart.Date()
	if ny != sy || nm != sm || nd != sd {
		return false
	}

	if policy != nil && !policy.Contains(localStart) {
		return false
	}
	return true
}

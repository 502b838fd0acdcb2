package status

import (
	"fmt"
	"time"

	"statusd/internal/model"
	"statusd/internal/override"
	"statusd/internal/resolve"
	"statusd/internal/workhours"
)

// Display labels for the calendar-derived states.
const (
	labelAvailable = "AVAILABLE"
	labelMeeting   = "IN A MEETING"
	labelOOO       = "OUT OF OFFICE"
	labelError     = "STATUS ERROR"
)

// errorDetailLimit caps the error summary carried in an error record.
const errorDetailLimit = 100

// Inputs is everything one merge pass needs. All fields are read-only; a
// pass with identical inputs and the same Now yields an identical record.
type Inputs struct {
	Now          time.Time
	Location     *time.Location
	TimezoneName string

	// Events is the extracted feed; ResolveErr records a fetch or parse
	// failure for this cycle. When ResolveErr is set, Events is ignored.
	Events     []model.CalendarEvent
	ResolveErr error

	Override *override.Record
	Policy   *workhours.Policy

	AllDayOnlyCountsIfOOO bool
	ShowEventDetails      bool
}

// Merge evaluates the precedence chain and produces this cycle's record:
//
//  1. a calendar failure is remembered but overrides and working hours are
//     still consulted as safety nets before it surfaces;
//  2. an active calendar event wins outright;
//  3. then a valid, unexpired override;
//  4. then an outside-working-hours verdict;
//  5. then the remembered calendar error;
//  6. otherwise the entity is available.
func Merge(in Inputs) model.StatusRecord {
	rec := model.StatusRecord{
		State:    model.StateAvailable,
		Label:    labelAvailable,
		Source:   model.SourceDefault,
		TimeZone: in.TimezoneName,
		Updated:  in.Now.In(in.Location).Format(time.RFC3339),
	}

	ropts := resolve.Options{AllDayOnlyCountsIfOOO: in.AllDayOnlyCountsIfOOO}

	var nextEventAt string
	if in.ResolveErr == nil {
		next := resolve.Next(in.Events, in.Now, ropts)
		if resolve.Displayable(next, in.Now, in.Location, in.Policy) {
			nextEventAt = model.FormatUTC(next.Start)
		}

		if cur := resolve.Current(in.Events, in.Now, ropts); cur != nil {
			if cur.Busy == model.BusyOOO {
				rec.State = model.StateOOO
				rec.Label = labelOOO
			} else {
				rec.State = model.StateMeeting
				rec.Label = labelMeeting
			}
			if in.ShowEventDetails {
				rec.Detail = cur.Name
			}
			rec.Source = model.SourceCalendar
			rec.Until = model.FormatUTC(cur.End)
			rec.NextEventAt = nextEventAt
			return rec
		}
	}

	if o := in.Override; o != nil {
		rec.State = model.State(o.State)
		if o.State == "" {
			rec.State = "busy"
		}
		rec.Label = o.Label
		if o.Label == "" {
			rec.Label = "BUSY"
		}
		rec.Detail = o.Detail
		rec.Source = model.SourceOverride
		rec.Until = o.Until
		rec.NextEventAt = nextEventAt
		return rec
	}

	if in.Policy != nil {
		local := in.Now.In(in.Location)
		if !in.Policy.Contains(local) {
			rec.State = model.StateOOO
			rec.Label = labelOOO
			rec.Detail = in.Policy.Detail()
			rec.Source = model.SourceWorkingHours
			if next, ok := in.Policy.NextStart(local); ok {
				rec.Until = model.FormatUTC(next)
			}
			rec.NextEventAt = nextEventAt
			return rec
		}
	}

	if in.ResolveErr != nil {
		rec.State = model.StateError
		rec.Label = labelError
		rec.Detail = truncateError(in.ResolveErr)
		rec.Source = model.SourceError
		return rec
	}

	rec.NextEventAt = nextEventAt
	return rec
}

// Boot is the initial record emitted for every entity before the first
// cycle completes, so consumers never see an unset status.
func Boot(name, timezoneName string, loc *time.Location, now time.Time) model.StatusRecord {
	return model.StatusRecord{
		Name:     name,
		State:    model.StateAvailable,
		Label:    labelAvailable,
		Source:   model.SourceBoot,
		TimeZone: timezoneName,
		Updated:  now.In(loc).Format(time.RFC3339),
	}
}

func truncateError(err error) string {
	detail := fmt.Sprintf("%v", err)
	if len(detail) > errorDetailLimit {
		detail = detail[:errorDetailLimit]
	}
	return detail
}

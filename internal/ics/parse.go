package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "statusd/internal/log"
	"statusd/internal/model"
)

// Keyword sets used for event classification. Matching is case-insensitive
// substring matching against the event name.
var (
	oooKeywords    = []string{"out of office", "ooo", "vacation", "leave", "pto", "sick"}
	ignoreKeywords = []string{"cancelled", "canceled"}
)

// defaultEventName is used when a VEVENT carries no SUMMARY.
const defaultEventName = "Meeting"

// ExtractOptions controls event extraction for a single feed.
type ExtractOptions struct {
	// DefaultLocation is the feed-wide zone applied to floating times and
	// to TZID values that cannot be resolved. Nil means UTC.
	DefaultLocation *time.Location

	// UseMSBusyStatus enables interpretation of X-MICROSOFT-CDO-BUSYSTATUS.
	UseMSBusyStatus bool
}

// IsOOOName reports whether an event name indicates out-of-office.
func IsOOOName(name string) bool {
	return matchesAny(name, oooKeywords)
}

// isCancelledName reports whether an event name indicates a cancellation.
func isCancelledName(name string) bool {
	return matchesAny(name, ignoreKeywords)
}

func matchesAny(text string, keywords []string) bool {
	t := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

// Extract parses calendar text into CalendarEvents in feed order.
//
// Per event it resolves start/end to zoned instants (per-property TZID wins
// over the feed default, legacy Windows zone names map through a fixed
// table), classifies all-day events, derives the busy signal, and discards
// cancelled events before any other filtering. Individual malformed events
// are skipped; a calendar-level parse failure is returned as an error.
func Extract(body []byte, opts ExtractOptions) ([]model.CalendarEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty calendar body")
	}
	if opts.DefaultLocation == nil {
		opts.DefaultLocation = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]model.CalendarEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve, opts)
		if perr != nil {
			appLog.Debug("skipping unparsable vevent", "err", perr)
			continue
		}
		if isCancelledName(ev.Name) {
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

func parseVEvent(ve *ical.VEvent, opts ExtractOptions) (model.CalendarEvent, error) {
	var out model.CalendarEvent

	out.Name = defaultEventName
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil && p.Value != "" {
		out.Name = p.Value
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, errors.New("missing DTSTART")
	}
	start, startDateOnly, err := parseEventTime(startProp, opts.DefaultLocation)
	if err != nil {
		return out, err
	}

	end := start
	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		end, _, err = parseEventTime(endProp, opts.DefaultLocation)
		if err != nil {
			return out, err
		}
	} else if startDateOnly {
		// DATE-valued DTSTART without DTEND spans one full day.
		end = start.Add(24 * time.Hour)
	}

	out.Start = start
	out.End = end
	out.AllDay = isAllDay(start, end)
	out.Busy = busySignal(out.Name, ve, opts)

	return out, nil
}

// isAllDay classifies an event as all-day when it starts at local midnight
// and lasts at least 23 hours. The 23h floor keeps single-day events that
// cross a DST transition classified correctly.
func isAllDay(start, end time.Time) bool {
	if start.Hour() != 0 || start.Minute() != 0 || start.Second() != 0 {
		return false
	}
	return end.Sub(start) >= 23*time.Hour
}

// busySignal derives the event's availability hint. The out-of-office
// keyword check on the name takes precedence; the vendor busy-status
// property is consulted second, and only when enabled.
func busySignal(name string, ve *ical.VEvent, opts ExtractOptions) model.BusySignal {
	if IsOOOName(name) {
		return model.BusyOOO
	}
	if opts.UseMSBusyStatus {
		if s := microsoftBusyStatus(ve); s != model.BusyUnknown {
			return s
		}
	}
	return model.BusyUnknown
}

// microsoftBusyStatus reads X-MICROSOFT-CDO-BUSYSTATUS from the event's raw
// property list. FREE and BUSY map literally; the Exchange out-of-office
// spellings collapse to BusyOOO.
func microsoftBusyStatus(ve *ical.VEvent) model.BusySignal {
	p := ve.GetProperty("X-MICROSOFT-CDO-BUSYSTATUS")
	if p == nil {
		return model.BusyUnknown
	}
	switch strings.ToLower(strings.TrimSpace(p.Value)) {
	case "free":
		return model.BusyFree
	case "busy":
		return model.BusyBusy
	case "oof", "out of office", "outofoffice":
		return model.BusyOOO
	default:
		return model.BusyUnknown
	}
}

// parseEventTime resolves a DTSTART/DTEND property into a zoned instant.
// A TZID parameter on the property takes precedence over the feed default.
// The returned bool reports whether the value was DATE-only.
func parseEventTime(prop *ical.IANAProperty, def *time.Location) (time.Time, bool, error) {
	val := strings.TrimSpace(prop.Value)
	if val == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	loc := def
	dateOnly := false
	if params := prop.ICalParameters; params != nil {
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			loc = resolveLocation(tzs[0], def)
		}
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			dateOnly = true
		}
	}

	// UTC form, e.g. 20250101T090000Z
	if strings.HasSuffix(val, "Z") {
		t, err := time.Parse("20060102T150405Z", val)
		return t, false, err
	}

	// Floating or TZID-local date-time, e.g. 20250101T090000
	if strings.Contains(val, "T") {
		t, err := time.ParseInLocation("20060102T150405", val, loc)
		return t, dateOnly, err
	}

	// Date-only (all-day), e.g. 20250101
	t, err := time.ParseInLocation("20060102", val, loc)
	return t, true, err
}

// resolveLocation turns a TZID value into a *time.Location. It tries the
// identifier as-is, then the legacy Windows-name table, then falls back to
// the feed default.
func resolveLocation(tzid string, def *time.Location) *time.Location {
	tzid = strings.TrimSpace(tzid)
	if tzid == "" {
		return def
	}
	if loc, err := time.LoadLocation(tzid); err == nil {
		return loc
	}
	if iana, ok := windowsZones[tzid]; ok {
		if loc, err := time.LoadLocation(iana); err == nil {
			return loc
		}
	}
	appLog.Debug("unrecognized TZID, using feed default", "tzid", tzid)
	return def
}

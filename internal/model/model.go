package model

import "time"

// BusySignal is the availability hint carried by a single calendar event.
// It is derived at extraction time from the event name and, optionally,
// from the Microsoft busy-status property.
type BusySignal string

const (
	BusyUnknown BusySignal = "unknown"
	BusyFree    BusySignal = "free"
	BusyBusy    BusySignal = "busy"
	BusyOOO     BusySignal = "out_of_office"
)

// CalendarEvent is one parsed feed event, normalized to zoned instants.
// Events are immutable once extracted and live for a single resolution pass.
type CalendarEvent struct {
	Name   string
	Start  time.Time
	End    time.Time
	AllDay bool
	Busy   BusySignal
}

// State is the final availability state of an entity.
type State string

const (
	StateAvailable State = "available"
	StateMeeting   State = "meeting"
	StateOOO       State = "ooo"
	StateError     State = "error"
)

// Source identifies which branch of the precedence chain produced a record.
type Source string

const (
	SourceCalendar     Source = "calendar"
	SourceOverride     Source = "override"
	SourceWorkingHours Source = "working_hours"
	SourceError        Source = "error"
	SourceDefault      Source = "default"
	SourceBoot         Source = "boot"
)

// StatusRecord is the per-entity output written every poll cycle. Each cycle
// fully supersedes the previous record; nothing is merged across cycles.
//
// Until and NextEventAt are UTC RFC 3339 strings ("Z" suffix) so downstream
// displays can compare them textually.
type StatusRecord struct {
	Name        string `json:"name,omitempty"`
	State       State  `json:"state"`
	Label       string `json:"label"`
	Detail      string `json:"detail"`
	Source      Source `json:"source"`
	TimeZone    string `json:"time_zone"`
	Updated     string `json:"updated"`
	Until       string `json:"until,omitempty"`
	NextEventAt string `json:"next_event_at,omitempty"`
}

// Snapshot is the combined multi-entity payload written after each cycle.
type Snapshot struct {
	Generated string         `json:"generated"`
	People    []StatusRecord `json:"people"`
}

// FormatUTC renders an instant as a UTC RFC 3339 string with second
// precision, the wire format used for until / next_event_at / generated.
func FormatUTC(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

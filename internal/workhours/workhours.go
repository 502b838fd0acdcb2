package workhours

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// nextStartHorizon caps the forward search for the next window start.
const nextStartHorizon = 14 * 24 * time.Hour

// Policy is a recurring weekly working-hours window. It is built once at
// startup per entity and immutable thereafter. An overnight window (end at
// or before start) crosses midnight into the following day.
type Policy struct {
	startHour, startMinute int
	endHour, endMinute     int
	days                   map[time.Weekday]bool

	startMinutes int
	endMinutes   int
	overnight    bool
}

// dayNames accepts the spellings the configuration surface allows.
var dayNames = map[string]int{
	"mon": 0, "monday": 0,
	"tue": 1, "tues": 1, "tuesday": 1,
	"wed": 2, "wednesday": 2,
	"thu": 3, "thur": 3, "thurs": 3, "thursday": 3,
	"fri": 4, "friday": 4,
	"sat": 5, "saturday": 5,
	"sun": 6, "sunday": 6,
}

// Parse builds a Policy from "HH:MM" start/end strings and a day spec.
// The day spec is comma-separated names, indexes (0=Monday .. 6=Sunday) or
// ranges ("mon-fri"; "fri-mon" wraps the week); empty or fully invalid
// specs default to Monday through Friday. Invalid start/end values are a
// configuration error: the caller is expected to disable the policy.
func Parse(start, end, days string) (*Policy, error) {
	sh, sm, err := parseHHMM(start)
	if err != nil {
		return nil, fmt.Errorf("invalid window start %q: %w", start, err)
	}
	eh, em, err := parseHHMM(end)
	if err != nil {
		return nil, fmt.Errorf("invalid window end %q: %w", end, err)
	}

	p := &Policy{
		startHour:   sh,
		startMinute: sm,
		endHour:     eh,
		endMinute:   em,
		days:        parseDays(days),
	}
	p.startMinutes = sh*60 + sm
	p.endMinutes = eh*60 + em
	p.overnight = p.endMinutes <= p.startMinutes
	return p, nil
}

func parseHHMM(value string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, 0, fmt.Errorf("want HH:MM")
	}
	hour, err = strconv.Atoi(hs)
	if err != nil {
		return 0, 0, err
	}
	minute, err = strconv.Atoi(ms)
	if err != nil {
		return 0, 0, err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("out of range")
	}
	return hour, minute, nil
}

// parseDays returns the active weekday set, defaulting to Mon-Fri when the
// spec is empty or yields nothing. Unparsable tokens are skipped.
func parseDays(value string) map[time.Weekday]bool {
	days := make(map[time.Weekday]bool)
	for _, raw := range strings.Split(value, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		if from, to, ok := strings.Cut(token, "-"); ok {
			start, serr := parseDayToken(from)
			end, eerr := parseDayToken(to)
			if serr != nil || eerr != nil {
				continue
			}
			for _, i := range expandDayRange(start, end) {
				days[weekdayFromIndex(i)] = true
			}
			continue
		}
		if i, err := parseDayToken(token); err == nil {
			days[weekdayFromIndex(i)] = true
		}
	}
	if len(days) == 0 {
		for i := 0; i < 5; i++ {
			days[weekdayFromIndex(i)] = true
		}
	}
	return days
}

// parseDayToken resolves one token to a Monday-based index 0..6.
func parseDayToken(token string) (int, error) {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" {
		return 0, fmt.Errorf("empty day token")
	}
	if i, ok := dayNames[t]; ok {
		return i, nil
	}
	i, err := strconv.Atoi(t)
	if err != nil {
		return 0, err
	}
	if i < 0 || i > 6 {
		return 0, fmt.Errorf("day index %d out of range", i)
	}
	return i, nil
}

// expandDayRange expands start..end inclusive in Monday-based indexes,
// wrapping across the week boundary when start > end.
func expandDayRange(start, end int) []int {
	out := make([]int, 0, 7)
	for i := start; ; i = (i + 1) % 7 {
		out = append(out, i)
		if i == end {
			return out
		}
	}
}

// weekdayFromIndex converts a Monday-based index 0..6 to time.Weekday.
func weekdayFromIndex(i int) time.Weekday {
	return time.Weekday((i + 1) % 7)
}

// Contains reports whether the given local time falls inside the window.
// For overnight windows the pre-midnight part belongs to the configured
// weekday and the post-midnight part to the following day.
func (p *Policy) Contains(local time.Time) bool {
	minutes := local.Hour()*60 + local.Minute()
	day := local.Weekday()

	if !p.overnight {
		return p.days[day] && p.startMinutes <= minutes && minutes < p.endMinutes
	}

	prev := time.Weekday((int(day) + 6) % 7)
	inToday := p.days[day] && minutes >= p.startMinutes
	inPrev := p.days[prev] && minutes < p.endMinutes
	return inToday || inPrev
}

// NextStart returns the next window start strictly after the given local
// time, computed as a weekly recurrence on the active weekdays at the
// window's start time. The search is capped at 14 days; with a non-empty
// weekday set the cap is never hit, but a rule failure reports false.
func (p *Policy) NextStart(local time.Time) (time.Time, bool) {
	weekdays := make([]rrule.Weekday, 0, len(p.days))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if p.days[wd] {
			weekdays = append(weekdays, rruleWeekdays[wd])
		}
	}
	if len(weekdays) == 0 {
		return time.Time{}, false
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.DAILY,
		Dtstart:   local,
		Byweekday: weekdays,
		Byhour:    []int{p.startHour},
		Byminute:  []int{p.startMinute},
		Bysecond:  []int{0},
	})
	if err != nil {
		return time.Time{}, false
	}

	next := r.After(local, false)
	if next.IsZero() || next.Sub(local) > nextStartHorizon {
		return time.Time{}, false
	}
	return next, true
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Detail is the human-displayable description of the window, used as the
// status detail while outside working hours.
func (p *Policy) Detail() string {
	return fmt.Sprintf("Outside working hours (%02d:%02d-%02d:%02d)",
		p.startHour, p.startMinute, p.endHour, p.endMinute)
}

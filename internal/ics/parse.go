package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "agendalive/internal/log"
	"agendalive/internal/model"
)

// rruleDays is indexed like model.Weekdays (MO=0).
var rruleDays = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// ParseWeekly converts an ICS payload into weekly schedule entries.
//
//   - Each VEVENT yields one entry per weekday it recurs on.
//   - The weekday comes from RRULE BYDAY (FREQ=WEEKLY, INTERVAL=1 only) or,
//     without BYDAY, from DTSTART in loc.
//   - All-day events, other recurrence frequencies and events without
//     DTSTART / DTEND are skipped and logged; they never fail the payload.
func ParseWeekly(body []byte, loc *time.Location) ([]model.ScheduleEntry, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar: %w", err)
	}

	out := make([]model.ScheduleEntry, 0)
	for _, ve := range cal.Events() {
		entries, perr := weeklyEntries(ve, loc)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Warn("ics vevent skipped", "uid", propValue(ve, ical.ComponentPropertyUniqueId), "reason", perr.Error())
			continue
		}
		out = append(out, entries...)
	}

	appLog.Debug("ics weekly parse completed", "entry_count", len(out))
	return out, nil
}

func weeklyEntries(ve *ical.VEvent, loc *time.Location) ([]model.ScheduleEntry, error) {
	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return nil, errors.New("missing DTSTART")
	}
	// VALUE=DATE or no 'T' in the value -> all-day, not a class slot.
	if !strings.Contains(dtStart.Value, "T") {
		return nil, errors.New("all-day event")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("DTSTART: %w", err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return nil, fmt.Errorf("DTEND: %w", err)
	}
	// BYDAY is relative to DTSTART's own zone; shift it to loc's calendar.
	shift := dayShift(start, start.In(loc))
	start = start.In(loc)
	end = end.In(loc)

	days, err := recurrenceDays(ve, start, shift)
	if err != nil {
		return nil, err
	}

	base := model.ScheduleEntry{
		Start:      clock(start),
		End:        clock(end),
		Activity:   strings.TrimSpace(propValue(ve, ical.ComponentPropertySummary)),
		Instructor: instructor(ve),
		Location:   strings.TrimSpace(propValue(ve, ical.ComponentPropertyLocation)),
		Tag:        category(ve),
	}

	entries := make([]model.ScheduleEntry, 0, len(days))
	for _, d := range days {
		e := base
		e.Day = string(d)
		entries = append(entries, e)
	}
	return entries, nil
}

// dayShift is the calendar day difference between the same instant seen in
// two zones, in [-1, 1].
func dayShift(native, local time.Time) int {
	ny, nm, nd := native.Date()
	ly, lm, ld := local.Date()
	a := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func recurrenceDays(ve *ical.VEvent, start time.Time, shift int) ([]model.Weekday, error) {
	fallback := []model.Weekday{model.WeekdayOf(start.Weekday())}

	prop := ve.GetProperty(ical.ComponentPropertyRrule)
	if prop == nil || strings.TrimSpace(prop.Value) == "" {
		return fallback, nil
	}

	opt, err := rrule.StrToROption(prop.Value)
	if err != nil {
		return nil, fmt.Errorf("RRULE: %w", err)
	}
	if opt.Freq != rrule.WEEKLY {
		return nil, fmt.Errorf("unsupported RRULE frequency %s", opt.Freq)
	}
	if opt.Interval > 1 {
		return nil, fmt.Errorf("unsupported RRULE interval %d", opt.Interval)
	}
	if len(opt.Byweekday) == 0 {
		return fallback, nil
	}

	days := make([]model.Weekday, 0, len(opt.Byweekday))
	seen := make(map[model.Weekday]bool)
	for i := range opt.Byweekday {
		idx := opt.Byweekday[i].Day()
		if idx < 0 || idx >= len(model.Weekdays) {
			continue
		}
		d := model.Weekdays[((idx+shift)%7+7)%7]
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	return days, nil
}

// instructor prefers the ORGANIZER common name, then DESCRIPTION.
func instructor(ve *ical.VEvent) string {
	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		if cns, ok := p.ICalParameters["CN"]; ok && len(cns) > 0 && strings.TrimSpace(cns[0]) != "" {
			return strings.TrimSpace(cns[0])
		}
	}
	return strings.TrimSpace(propValue(ve, ical.ComponentPropertyDescription))
}

// category returns the first CATEGORIES value, upper-cased like spreadsheet tags.
func category(ve *ical.VEvent) string {
	v := propValue(ve, ical.ComponentPropertyCategories)
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.ToUpper(strings.TrimSpace(v))
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func clock(t time.Time) string {
	return t.Format("15:04")
}

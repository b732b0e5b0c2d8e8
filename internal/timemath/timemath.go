// Package timemath anchors recurring weekly entries onto concrete instants.
//
// All functions are pure; they never consult the wall clock and operate in
// the location of the reference instant they are given.
package timemath

import (
	"strconv"
	"strings"
	"time"

	"agendalive/internal/model"
)

const minutesPerDay = 24 * 60

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into a minute of day in
// [0, 1440). A seconds field is tolerated and never read.
func ParseTimeOfDay(text string) (int, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}

	hh, ok := parseField(parts[0], 23)
	if !ok {
		return 0, false
	}
	mm, ok := parseField(parts[1], 59)
	if !ok {
		return 0, false
	}
	return hh*60 + mm, true
}

func parseField(s string, max int) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 2 {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > max {
		return 0, false
	}
	return n, true
}

// FormatClock renders a minute of day the way the kiosk cards print hours:
// "22H" for whole hours, "21:30" otherwise, "—" when unknown (negative).
func FormatClock(minutes int) string {
	if minutes < 0 {
		return "—"
	}
	minutes %= minutesPerDay
	hh, mm := minutes/60, minutes%60
	if mm == 0 {
		return pad2(hh) + "H"
	}
	return pad2(hh) + ":" + pad2(mm)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// MinuteOfDay returns the minute of day of t in its own location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// dateOf truncates t to local midnight of its calendar date.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NearestDateForWeekday returns local midnight of the calendar date closest
// to ref whose weekday matches code. The {yesterday, today, tomorrow} window
// is checked first; codes outside it resolve to the nearest date further out
// (at most 3 days away) so an entry is never anchored to a day it does not
// belong to. ok is false when code is not a recognized weekday code.
func NearestDateForWeekday(ref time.Time, code string) (time.Time, bool) {
	wd, ok := model.ParseWeekday(code)
	if !ok {
		return time.Time{}, false
	}
	target, _ := wd.Std()

	today := dateOf(ref)
	for _, offset := range searchOrder {
		// AddDate keeps calendar arithmetic correct across DST shifts.
		d := today.AddDate(0, 0, offset)
		if d.Weekday() == target {
			return d, true
		}
	}
	// Unreachable: seven consecutive dates cover every weekday.
	return today, true
}

var searchOrder = []int{-1, 0, 1, -2, 2, -3, 3}

// ResolveInterval anchors entry relative to ref. When End does not come after
// Start the interval crosses midnight and End moves forward exactly one day.
func ResolveInterval(ref time.Time, entry model.ScheduleEntry) (model.ResolvedInterval, model.DropReason) {
	base, ok := NearestDateForWeekday(ref, entry.Day)
	if !ok {
		return model.ResolvedInterval{}, model.ReasonInvalidDay
	}
	startMin, ok := ParseTimeOfDay(entry.Start)
	if !ok {
		return model.ResolvedInterval{}, model.ReasonInvalidTime
	}
	endMin, ok := ParseTimeOfDay(entry.End)
	if !ok {
		return model.ResolvedInterval{}, model.ReasonInvalidTime
	}

	start := atMinute(base, startMin)
	end := atMinute(base, endMin)
	if !end.After(start) {
		end = atMinute(base.AddDate(0, 0, 1), endMin)
	}
	return model.ResolvedInterval{Start: start, End: end}, model.ReasonOK
}

func atMinute(day time.Time, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, day.Location())
}

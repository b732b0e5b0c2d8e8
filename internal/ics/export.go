package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "agendalive/internal/log"
	"agendalive/internal/model"
	"agendalive/internal/timemath"
)

const (
	productID  = "-//agendalive//weekly schedule//EN"
	localStamp = "20060102T150405"
)

// BuildFeed renders entries as a calendar of weekly recurring VEVENTs.
//
// Each event's DTSTART is the first occurrence of the entry's weekday on or
// after anchor's date, at the entry's start time in loc. Times carry loc's
// TZID when loc has an IANA name; otherwise they are written in UTC and BYDAY
// names the UTC weekday, so the rule expands to the same instants either way.
// Entries that would be dropped by the classifier are left out of the feed.
func BuildFeed(entries []model.ScheduleEntry, anchor time.Time, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.Local
	}
	anchor = anchor.In(loc)
	midnight := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, loc)

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	tzid, named := zoneName(loc)
	skipped := 0
	for i, e := range entries {
		if err := addEvent(cal, i, e, midnight, anchor, tzid, named); err != nil {
			skipped++
			appLog.Debug("ics export skipped entry", "index", i, "day", e.Day, "start", e.Start, "reason", err.Error())
		}
	}

	appLog.Debug("ics export built", "entries", len(entries), "skipped", skipped, "tzid", tzid)
	return []byte(cal.Serialize()), nil
}

func addEvent(cal *ical.Calendar, idx int, e model.ScheduleEntry, midnight, stamp time.Time, tzid string, named bool) error {
	day, ok := model.ParseWeekday(e.Day)
	if !ok {
		return errors.New(string(model.ReasonInvalidDay))
	}
	startMin, ok1 := timemath.ParseTimeOfDay(e.Start)
	endMin, ok2 := timemath.ParseTimeOfDay(e.End)
	if !ok1 || !ok2 {
		return errors.New(string(model.ReasonInvalidTime))
	}

	weekday := rruleWeekday(day)
	from := time.Date(midnight.Year(), midnight.Month(), midnight.Day(), startMin/60, startMin%60, 0, 0, midnight.Location())
	first, err := firstOccurrence(from, weekday)
	if err != nil {
		return err
	}
	length := time.Duration(endMin-startMin) * time.Minute
	if length <= 0 {
		length += 24 * time.Hour
	}

	uid := fmt.Sprintf("%s-%s-%d@agendalive", day, strings.ReplaceAll(e.Start, ":", ""), idx)
	ev := cal.AddEvent(uid)
	ev.SetDtStampTime(stamp)
	last := first.Add(length)
	if named {
		ev.SetProperty(ical.ComponentPropertyDtStart, first.Format(localStamp), ical.WithTZID(tzid))
		ev.SetProperty(ical.ComponentPropertyDtEnd, last.Format(localStamp), ical.WithTZID(tzid))
	} else {
		// BYDAY is evaluated in DTSTART's zone.
		weekday = rruleWeekday(model.WeekdayOf(first.UTC().Weekday()))
		ev.SetStartAt(first)
		ev.SetEndAt(last)
	}
	ev.SetSummary(e.Activity)
	if e.Location != "" {
		ev.SetLocation(e.Location)
	}
	if e.Instructor != "" {
		ev.SetDescription(e.Instructor)
	}
	if e.Tag != "" {
		ev.SetProperty(ical.ComponentPropertyCategories, e.Tag)
	}
	ev.AddProperty(ical.ComponentPropertyRrule, "FREQ=WEEKLY;BYDAY="+weekday.String())
	return nil
}

// firstOccurrence returns the first instant on or after from that falls on wd,
// keeping from's clock time.
func firstOccurrence(from time.Time, wd rrule.Weekday) (time.Time, error) {
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   from,
		Count:     1,
		Byweekday: []rrule.Weekday{wd},
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("rrule: %w", err)
	}
	all := r.All()
	if len(all) == 0 {
		return time.Time{}, errors.New("rrule produced no occurrence")
	}
	return all[0], nil
}

// zoneName returns loc's IANA name when readers can resolve it as a TZID.
func zoneName(loc *time.Location) (string, bool) {
	name := loc.String()
	if name == "" || name == "Local" || name == "UTC" {
		return name, false
	}
	if _, err := time.LoadLocation(name); err != nil {
		return name, false
	}
	return name, true
}

func rruleWeekday(d model.Weekday) rrule.Weekday {
	for i, w := range model.Weekdays {
		if w == d {
			return rruleDays[i]
		}
	}
	return rrule.MO
}

package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"agendalive/internal/model"
)

func icsBody(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR")
	return []byte(strings.Join(all, "\r\n") + "\r\n")
}

func TestParseWeeklyByDay(t *testing.T) {
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:yoga-1",
		"DTSTAMP:20261001T000000Z",
		"DTSTART:20261012T090000Z",
		"DTEND:20261012T100000Z",
		"RRULE:FREQ=WEEKLY;BYDAY=MO,WE",
		"SUMMARY:Yoga",
		"LOCATION:Studio 2",
		"ORGANIZER;CN=Ana Lima:mailto:ana@example.com",
		"CATEGORIES:minor",
		"END:VEVENT",
	)

	entries, err := ParseWeekly(body, time.UTC)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "MON", entries[0].Day)
	assert.Equal(t, "WED", entries[1].Day)
	for _, e := range entries {
		assert.Equal(t, "09:00", e.Start)
		assert.Equal(t, "10:00", e.End)
		assert.Equal(t, "Yoga", e.Activity)
		assert.Equal(t, "Ana Lima", e.Instructor)
		assert.Equal(t, "Studio 2", e.Location)
		assert.True(t, e.MinorOnly())
	}
}

func TestParseWeeklyFallsBackToStartWeekday(t *testing.T) {
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:swim-1",
		"DTSTAMP:20261001T000000Z",
		"DTSTART:20261016T180000Z",
		"DTEND:20261016T190000Z",
		"SUMMARY:Swim",
		"DESCRIPTION:Coach Rui",
		"END:VEVENT",
	)

	entries, err := ParseWeekly(body, time.UTC)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "FRI", entries[0].Day)
	assert.Equal(t, "Coach Rui", entries[0].Instructor)
	assert.Equal(t, "18:00", entries[0].Start)
}

func TestParseWeeklyUsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:late-1",
		"DTSTAMP:20261001T000000Z",
		"DTSTART:20261013T013000Z",
		"DTEND:20261013T023000Z",
		"SUMMARY:Late class",
		"END:VEVENT",
	)

	entries, err := ParseWeekly(body, loc)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	// 01:30Z on Tuesday is 22:30 on Monday at UTC-3.
	assert.Equal(t, "MON", entries[0].Day)
	assert.Equal(t, "22:30", entries[0].Start)
	assert.Equal(t, "23:30", entries[0].End)
}

func TestParseWeeklySkipsUnsupportedEvents(t *testing.T) {
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:holiday",
		"DTSTAMP:20261001T000000Z",
		"DTSTART;VALUE=DATE:20261012",
		"DTEND;VALUE=DATE:20261013",
		"SUMMARY:Holiday",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:daily",
		"DTSTAMP:20261001T000000Z",
		"DTSTART:20261012T070000Z",
		"DTEND:20261012T080000Z",
		"RRULE:FREQ=DAILY",
		"SUMMARY:Daily",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:biweekly",
		"DTSTAMP:20261001T000000Z",
		"DTSTART:20261012T070000Z",
		"DTEND:20261012T080000Z",
		"RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO",
		"SUMMARY:Biweekly",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ok",
		"DTSTAMP:20261001T000000Z",
		"DTSTART:20261014T070000Z",
		"DTEND:20261014T080000Z",
		"RRULE:FREQ=WEEKLY",
		"SUMMARY:Kept",
		"END:VEVENT",
	)

	entries, err := ParseWeekly(body, time.UTC)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Kept", entries[0].Activity)
	assert.Equal(t, "WED", entries[0].Day)
}

func TestParseWeeklyEmptyBody(t *testing.T) {
	_, err := ParseWeekly(nil, time.UTC)
	require.Error(t, err)
}

func TestBuildFeedRoundTrip(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	anchor := time.Date(2026, 10, 14, 12, 0, 0, 0, loc) // Wednesday

	in := []model.ScheduleEntry{
		{Day: "MON", Start: "09:00", End: "10:00", Activity: "Yoga", Instructor: "Ana", Location: "Studio 2", Tag: model.TagMinorOnly},
		{Day: "FRI", Start: "23:00", End: "01:00", Activity: "Night run"},
		{Day: "XYZ", Start: "09:00", End: "10:00", Activity: "Dropped"},
		{Day: "TUE", Start: "25:00", End: "10:00", Activity: "Dropped too"},
	}

	body, err := BuildFeed(in, anchor, loc)
	require.NoError(t, err)
	// A fixed zone has no TZID, so times are UTC and FRI 23:00 at UTC-3
	// recurs on Saturday in UTC.
	assert.Contains(t, string(body), "BYDAY=MO")
	assert.Contains(t, string(body), "BYDAY=SA")
	assert.NotContains(t, string(body), "Dropped")

	out, err := ParseWeekly(body, loc)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, model.ScheduleEntry{Day: "FRI", Start: "23:00", End: "01:00", Activity: "Night run"}, out[1])
}

func TestBuildFeedFirstOccurrenceOnOrAfterAnchor(t *testing.T) {
	anchor := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC) // Wednesday

	first, err := firstOccurrence(time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC), rruleWeekday(model.Wednesday))
	require.NoError(t, err)
	assert.True(t, anchor.Add(9*time.Hour).Equal(first), first)

	first, err = firstOccurrence(time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC), rruleWeekday(model.Monday))
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC).Equal(first), first)
}

// expandFeed expands every exported VEVENT from its own DTSTART and RRULE.
func expandFeed(t *testing.T, body []byte, n int) [][]time.Time {
	t.Helper()
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	require.NoError(t, err)

	var out [][]time.Time
	for _, ev := range cal.Events() {
		start, err := ev.GetStartAt()
		require.NoError(t, err)
		opt, err := rrule.StrToROption(ev.GetProperty(ical.ComponentPropertyRrule).Value)
		require.NoError(t, err)
		opt.Dtstart = start
		opt.Count = n
		r, err := rrule.NewRRule(*opt)
		require.NoError(t, err)
		out = append(out, r.All())
	}
	return out
}

func TestBuildFeedLateClassKeepsLocalWeekday(t *testing.T) {
	saoPaulo, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	brt := time.FixedZone("BRT", -3*3600)

	for _, loc := range []*time.Location{saoPaulo, brt} {
		anchor := time.Date(2026, 10, 14, 8, 0, 0, 0, loc) // Wednesday
		in := []model.ScheduleEntry{{Day: "WED", Start: "22:30", End: "23:30", Activity: "Late yoga"}}

		body, err := BuildFeed(in, anchor, loc)
		require.NoError(t, err)

		runs := expandFeed(t, body, 3)
		require.Len(t, runs, 1, loc.String())
		require.Len(t, runs[0], 3, loc.String())
		for _, occ := range runs[0] {
			local := occ.In(loc)
			assert.Equal(t, time.Wednesday, local.Weekday(), "%s %s", loc, local)
			assert.Equal(t, "22:30", local.Format("15:04"), loc.String())
		}
		assert.True(t, time.Date(2026, 10, 14, 22, 30, 0, 0, loc).Equal(runs[0][0]), loc.String())

		out, err := ParseWeekly(body, loc)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "WED", out[0].Day, loc.String())
		assert.Equal(t, "22:30", out[0].Start)
	}
}

func TestBuildFeedUsesTZID(t *testing.T) {
	saoPaulo, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	body, err := BuildFeed([]model.ScheduleEntry{{Day: "MON", Start: "07:00", End: "08:00", Activity: "Spin"}},
		time.Date(2026, 10, 14, 8, 0, 0, 0, saoPaulo), saoPaulo)
	require.NoError(t, err)
	assert.Contains(t, string(body), "DTSTART;TZID=America/Sao_Paulo:20261019T070000")
	assert.Contains(t, string(body), "BYDAY=MO")
}

func TestParseWeeklyShiftsByDayIntoLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:late-2",
		"DTSTAMP:20261001T000000Z",
		"DTSTART:20261015T013000Z",
		"DTEND:20261015T023000Z",
		"RRULE:FREQ=WEEKLY;BYDAY=TH,SU",
		"SUMMARY:Late class",
		"END:VEVENT",
	)

	entries, err := ParseWeekly(body, loc)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Thursday and Sunday 01:30Z are Wednesday and Saturday 22:30 at UTC-3.
	assert.Equal(t, "WED", entries[0].Day)
	assert.Equal(t, "SAT", entries[1].Day)
	assert.Equal(t, "22:30", entries[0].Start)
}

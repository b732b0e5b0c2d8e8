// Package hours computes opening status for the venues shown on the board.
package hours

import (
	"time"

	"agendalive/internal/model"
	"agendalive/internal/timemath"
)

const (
	HeadlineOpen   = "OPEN NOW"
	HeadlineClosed = "CLOSED NOW"
	NoServiceToday = "NO SERVICE TODAY"
)

// Window is one day's opening interval as "HH:MM" text.
type Window struct {
	Open  string `yaml:"open" json:"open"`
	Close string `yaml:"close" json:"close"`
}

// Venue holds the weekly opening rules of one place.
// Lines are free-form text rows printed under the venue name.
type Venue struct {
	Name  string                   `yaml:"name" json:"name"`
	Rules map[model.Weekday]Window `yaml:"rules" json:"rules"`
	Lines []string                 `yaml:"lines" json:"lines"`
}

// Status is the rendered state of a venue at a given instant.
type Status struct {
	Venue    string   `json:"venue"`
	Open     bool     `json:"open"`
	Headline string   `json:"headline"`
	Detail   string   `json:"detail"`
	Lines    []string `json:"lines,omitempty"`
}

// Status evaluates the venue at now, in now's location. A day without a rule,
// or with an unparsable window, counts as closed all day. Outside a valid
// window the detail names today's opening time, even after closing.
func (v Venue) Status(now time.Time) Status {
	st := Status{Venue: v.Name, Headline: HeadlineClosed, Detail: NoServiceToday, Lines: v.Lines}

	opens, closes, ok := v.window(model.WeekdayOf(now.Weekday()))
	if !ok {
		return st
	}

	m := timemath.MinuteOfDay(now)
	switch {
	case m >= opens && m < closes:
		st.Open = true
		st.Headline = HeadlineOpen
		st.Detail = "CLOSES AT " + timemath.FormatClock(closes)
	default:
		st.Detail = "OPENS AT " + timemath.FormatClock(opens)
	}
	return st
}

func (v Venue) window(day model.Weekday) (int, int, bool) {
	w, found := v.Rules[day]
	if !found {
		return 0, 0, false
	}
	opens, ok1 := timemath.ParseTimeOfDay(w.Open)
	closes, ok2 := timemath.ParseTimeOfDay(w.Close)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return opens, closes, true
}

// StatusAll evaluates every venue at now, preserving order.
func StatusAll(venues []Venue, now time.Time) []Status {
	out := make([]Status, 0, len(venues))
	for _, v := range venues {
		out = append(out, v.Status(now))
	}
	return out
}

func every(days []model.Weekday, w Window) map[model.Weekday]Window {
	m := make(map[model.Weekday]Window, len(days))
	for _, d := range days {
		m[d] = w
	}
	return m
}

func merge(ms ...map[model.Weekday]Window) map[model.Weekday]Window {
	out := make(map[model.Weekday]Window)
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// DefaultVenues is the stock board: club, front desk and gym.
func DefaultVenues() []Venue {
	weekdays := model.Weekdays[:5]
	return []Venue{
		{
			Name: "CLUBE",
			Rules: merge(
				every(weekdays, Window{"06:00", "22:00"}),
				every([]model.Weekday{model.Saturday}, Window{"08:00", "20:00"}),
				every([]model.Weekday{model.Sunday}, Window{"09:00", "20:00"}),
			),
			Lines: []string{"MON–FRI 06H–22H", "SAT 08H–20H", "SUN 09H–20H"},
		},
		{
			Name: "SECRETARIA",
			Rules: merge(
				every(model.Weekdays[:6], Window{"08:00", "20:00"}),
				every([]model.Weekday{model.Sunday}, Window{"09:00", "20:00"}),
			),
			Lines: []string{"MON–SAT 08H–20H", "SUN 09H–20H"},
		},
		{
			Name: "ACADEMIA",
			Rules: merge(
				every(model.Weekdays[:4], Window{"06:00", "21:30"}),
				every([]model.Weekday{model.Friday}, Window{"06:00", "21:00"}),
				every([]model.Weekday{model.Saturday}, Window{"08:00", "12:00"}),
			),
			Lines: []string{"MON–THU 06H–21:30", "FRI 06H–21H", "SAT 08H–12H", "SUN CLOSED"},
		},
	}
}

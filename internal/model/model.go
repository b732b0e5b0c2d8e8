package model

import (
	"strconv"
	"strings"
	"time"
)

// Weekday is a symbolic day-of-week code, independent of any calendar date.
type Weekday string

const (
	Monday    Weekday = "MON"
	Tuesday   Weekday = "TUE"
	Wednesday Weekday = "WED"
	Thursday  Weekday = "THU"
	Friday    Weekday = "FRI"
	Saturday  Weekday = "SAT"
	Sunday    Weekday = "SUN"
)

// Weekdays lists the codes from Monday to Sunday.
var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var weekdayAliases = map[string]Weekday{
	"MON": Monday, "TUE": Tuesday, "WED": Wednesday, "THU": Thursday,
	"FRI": Friday, "SAT": Saturday, "SUN": Sunday,
	// RRULE BYDAY codes.
	"MO": Monday, "TU": Tuesday, "WE": Wednesday, "TH": Thursday,
	"FR": Friday, "SA": Saturday, "SU": Sunday,
	// Portuguese spreadsheet codes.
	"SEG": Monday, "TER": Tuesday, "QUA": Wednesday, "QUI": Thursday,
	"SEX": Friday, "SAB": Saturday, "DOM": Sunday,
}

// ParseWeekday normalizes a day code. ok is false for anything that is not
// one of the recognized codes, including the empty string.
func ParseWeekday(s string) (Weekday, bool) {
	wd, ok := weekdayAliases[strings.ToUpper(strings.TrimSpace(s))]
	return wd, ok
}

// WeekdayOf returns the code for a time.Weekday.
func WeekdayOf(d time.Weekday) Weekday {
	// time.Weekday counts from Sunday.
	return Weekdays[(int(d)+6)%7]
}

// Std converts the code back to a time.Weekday.
func (w Weekday) Std() (time.Weekday, bool) {
	for i, c := range Weekdays {
		if c == w {
			return time.Weekday((i + 1) % 7), true
		}
	}
	return time.Sunday, false
}

// TagMinorOnly is the reserved tag value that flags a minors-only badge.
const TagMinorOnly = "MINOR"

// ScheduleEntry is one recurring weekly occurrence as supplied by ingestion.
// Day, Start and End are kept as raw text; validation happens when the entry
// is resolved against a reference instant.
type ScheduleEntry struct {
	Day        string `yaml:"day" json:"day"`
	Start      string `yaml:"start" json:"start"`
	End        string `yaml:"end" json:"end"`
	Activity   string `yaml:"activity" json:"activity"`
	Instructor string `yaml:"instructor" json:"instructor"`
	Location   string `yaml:"location" json:"location"`
	Tag        string `yaml:"tag" json:"tag"`
}

// MinorOnly reports whether the entry carries the reserved minors-only tag.
func (e ScheduleEntry) MinorOnly() bool {
	return strings.EqualFold(strings.TrimSpace(e.Tag), TagMinorOnly)
}

// ResolvedInterval is a concrete start/end pair for a ScheduleEntry.
type ResolvedInterval struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (r ResolvedInterval) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// DropReason explains why an entry could not be resolved.
type DropReason string

const (
	ReasonOK          DropReason = "ok"
	ReasonInvalidDay  DropReason = "invalid_day"
	ReasonInvalidTime DropReason = "invalid_time"
)

// ClassifiedEntry is an entry placed in the current or upcoming bucket.
type ClassifiedEntry struct {
	Entry    ScheduleEntry
	Start    time.Time
	End      time.Time
	Progress float64
}

// ClassificationResult is recomputed every tick. Current is sorted by End,
// Upcoming by Start; both are already capped.
type ClassificationResult struct {
	Reference time.Time
	WindowEnd time.Time
	Current   []ClassifiedEntry
	Upcoming  []ClassifiedEntry
	Dropped   map[DropReason]int
	Total     int
}

// Location identifies the place a weather forecast is requested for.
type Location struct {
	Label     string
	Latitude  float64
	Longitude float64
}

// WeatherSource tells whether a snapshot came from the network or the cache.
type WeatherSource string

const (
	SourceOnline WeatherSource = "online"
	SourceCache  WeatherSource = "cache"
)

// Placeholders used when no weather data is available.
const (
	NoDataLabel            = "No data"
	TomorrowPlaceholder    = "Tomorrow: —"
	TemperaturePlaceholder = "—°C"
	DefaultIcon            = "clouds"
)

// WeatherSnapshot is the latest known weather state. It is always replaced
// wholesale, never partially updated.
type WeatherSnapshot struct {
	OK            bool          `json:"ok"`
	TemperatureC  *int          `json:"temperature_c"`
	TodayLabel    string        `json:"today_label"`
	TomorrowLabel string        `json:"tomorrow_label"`
	ConditionCode string        `json:"condition_code"`
	Icon          string        `json:"icon"`
	Label         string        `json:"label"`
	Source        WeatherSource `json:"source"`
	FetchedAt     *time.Time    `json:"fetched_at"`
}

// NoWeather returns the sentinel snapshot used when neither the network nor
// the cache produced data.
func NoWeather() WeatherSnapshot {
	return WeatherSnapshot{
		OK:            false,
		TodayLabel:    NoDataLabel,
		TomorrowLabel: TomorrowPlaceholder,
		Icon:          DefaultIcon,
		Source:        SourceCache,
	}
}

// TemperatureText renders the temperature or its placeholder.
func (w WeatherSnapshot) TemperatureText() string {
	if w.TemperatureC == nil {
		return TemperaturePlaceholder
	}
	return strconv.Itoa(*w.TemperatureC) + "°C"
}

// OfflineSince returns the timestamp of the cached data when the snapshot is
// degraded. ok is false for fresh or empty snapshots.
func (w WeatherSnapshot) OfflineSince() (time.Time, bool) {
	if w.Source != SourceCache || w.FetchedAt == nil {
		return time.Time{}, false
	}
	return *w.FetchedAt, true
}

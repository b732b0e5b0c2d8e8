package weather

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"agendalive/internal/model"
)

// forecast is the subset of the locationforecast "compact" document we read.
type forecast struct {
	Properties struct {
		Timeseries []point `json:"timeseries"`
	} `json:"properties"`
}

type point struct {
	Time string `json:"time"`
	Data struct {
		Instant struct {
			Details struct {
				AirTemperature *float64 `json:"air_temperature"`
			} `json:"details"`
		} `json:"instant"`
		Next1Hours *period `json:"next_1_hours"`
		Next6Hours *period `json:"next_6_hours"`
	} `json:"data"`
}

type period struct {
	Summary struct {
		SymbolCode string `json:"symbol_code"`
	} `json:"summary"`
}

func (p point) temperature() (int, bool) {
	t := p.Data.Instant.Details.AirTemperature
	if t == nil || math.IsNaN(*t) || math.IsInf(*t, 0) {
		return 0, false
	}
	return int(math.RoundToEven(*t)), true
}

func (p point) symbol() string {
	if p.Data.Next1Hours != nil && p.Data.Next1Hours.Summary.SymbolCode != "" {
		return p.Data.Next1Hours.Summary.SymbolCode
	}
	if p.Data.Next6Hours != nil {
		return p.Data.Next6Hours.Summary.SymbolCode
	}
	return ""
}

// Summarize decodes a forecast payload and derives the board snapshot as
// seen at now. Source, Label and FetchedAt are left to the caller.
func Summarize(payload []byte, now time.Time) (model.WeatherSnapshot, error) {
	trimmed := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(trimmed, "{") {
		return model.WeatherSnapshot{}, errors.New("weather: payload is not a JSON object")
	}
	var fc forecast
	if err := json.Unmarshal(payload, &fc); err != nil {
		return model.WeatherSnapshot{}, fmt.Errorf("weather: decode forecast: %w", err)
	}

	snap := model.WeatherSnapshot{OK: true}
	ts := fc.Properties.Timeseries

	var code string
	if len(ts) > 0 {
		if t, ok := ts[0].temperature(); ok {
			snap.TemperatureC = &t
		}
		code = ts[0].symbol()
	}

	snap.ConditionCode = code
	snap.TodayLabel = fmt.Sprintf("Today (%s): %s", DayPart(now.Hour()), Humanize(code))
	snap.TomorrowLabel = tomorrowLabel(ts, now)
	snap.Icon = Icon(code)
	return snap, nil
}

// DayPart names the part of the day for an hour in [0, 24).
func DayPart(hour int) string {
	switch {
	case hour >= 6 && hour <= 11:
		return "morning"
	case hour >= 12 && hour <= 17:
		return "afternoon"
	default:
		return "evening"
	}
}

// Humanize turns a met.no symbol code into a short label.
// Checks are ordered; the first match wins.
func Humanize(code string) string {
	s := strings.ToLower(strings.TrimSpace(code))
	switch {
	case s == "":
		return model.NoDataLabel
	case strings.Contains(s, "thunder"):
		return "Storm"
	case strings.Contains(s, "snow"):
		return "Snow"
	case strings.Contains(s, "rain") || strings.Contains(s, "sleet"):
		switch {
		case strings.Contains(s, "heavyrain"):
			return "Heavy rain"
		case strings.Contains(s, "lightrain"):
			return "Light rain"
		}
		return "Rain"
	case strings.Contains(s, "cloudy"):
		if strings.Contains(s, "partly") {
			return "Partly cloudy"
		}
		return "Cloudy"
	case strings.Contains(s, "clearsky") || strings.Contains(s, "fair"):
		return "Clear sky"
	}
	return "Unsettled"
}

// Icon maps a symbol code onto the board's icon set.
func Icon(code string) string {
	s := strings.ToLower(code)
	switch {
	case strings.Contains(s, "thunder"):
		return "storm"
	case strings.Contains(s, "snow"):
		return "snowflake"
	case strings.Contains(s, "rain") || strings.Contains(s, "sleet"):
		return "rainy-day"
	case strings.Contains(s, "partlycloudy"):
		return "cloudy"
	case strings.Contains(s, "cloudy"):
		return "clouds"
	case strings.Contains(s, "clearsky") || strings.Contains(s, "fair"):
		return "sun"
	}
	return model.DefaultIcon
}

// tomorrowLabel reports the min/max temperature over points whose time falls
// on the calendar day after now, in now's location.
func tomorrowLabel(ts []point, now time.Time) string {
	y, m, d := now.AddDate(0, 0, 1).Date()
	lo, hi, found := 0, 0, false
	for _, p := range ts {
		at, err := time.Parse(time.RFC3339, p.Time)
		if err != nil {
			continue
		}
		py, pm, pd := at.In(now.Location()).Date()
		if py != y || pm != m || pd != d {
			continue
		}
		t, ok := p.temperature()
		if !ok {
			continue
		}
		if !found {
			lo, hi, found = t, t, true
			continue
		}
		lo = min(lo, t)
		hi = max(hi, t)
	}
	if !found {
		return model.TomorrowPlaceholder
	}
	return fmt.Sprintf("Tomorrow: %d–%d°C", lo, hi)
}

package web

import (
	"sync"

	"agendalive/internal/model"
)

// Board holds what the kiosk currently shows. The scheduler writes it on
// every tick and HTTP handlers read it.
type Board struct {
	mu          sync.RWMutex
	schedule    model.ClassificationResult
	hasSchedule bool
	weather     model.WeatherSnapshot
}

// NewBoard returns a board showing no weather and no schedule yet.
func NewBoard() *Board {
	return &Board{weather: model.NoWeather()}
}

// ShowSchedule replaces the schedule cards.
func (b *Board) ShowSchedule(res model.ClassificationResult) {
	b.mu.Lock()
	b.schedule = res
	b.hasSchedule = true
	b.mu.Unlock()
}

// ShowWeather replaces the weather panel.
func (b *Board) ShowWeather(snap model.WeatherSnapshot) {
	b.mu.Lock()
	b.weather = snap
	b.mu.Unlock()
}

// Schedule returns the last classification, false before the first tick.
func (b *Board) Schedule() (model.ClassificationResult, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.schedule, b.hasSchedule
}

func (b *Board) Weather() model.WeatherSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.weather
}

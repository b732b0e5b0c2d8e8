package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"

	appLog "agendalive/internal/log"
	"agendalive/internal/metrics"
	"agendalive/internal/model"
	"agendalive/internal/timemath"
)

const (
	DefaultLookahead     = 120 * time.Minute
	DefaultCap           = 6
	DefaultUpcomingFloor = 0.02
	DefaultAnomalyEvery  = 60 * time.Second

	anomalySampleSize = 4
)

// Classifier splits the schedule into "current" and "upcoming" buckets.
type Classifier struct {
	// Lookahead bounds how far ahead an entry counts as upcoming.
	Lookahead time.Duration
	// Cap limits both output sequences.
	Cap int
	// UpcomingFloor keeps a visible sliver on upcoming progress bars.
	UpcomingFloor float64
	// AnomalyEvery throttles the "nothing to show" diagnostic.
	AnomalyEvery time.Duration

	Metrics *metrics.Metrics

	mu          sync.Mutex
	lastAnomaly time.Time
	anomalies   int
}

// NewClassifier returns a Classifier with the default policy constants.
func NewClassifier() *Classifier {
	return &Classifier{
		Lookahead:     DefaultLookahead,
		Cap:           DefaultCap,
		UpcomingFloor: DefaultUpcomingFloor,
		AnomalyEvery:  DefaultAnomalyEvery,
	}
}

// Classify resolves every entry against ref. Entries that fail to resolve are
// dropped and tallied by reason; they never cause an error.
func (c *Classifier) Classify(entries []model.ScheduleEntry, ref time.Time) model.ClassificationResult {
	windowEnd := ref.Add(c.Lookahead)
	res := model.ClassificationResult{
		Reference: ref,
		WindowEnd: windowEnd,
		Current:   []model.ClassifiedEntry{},
		Upcoming:  []model.ClassifiedEntry{},
		Dropped:   map[model.DropReason]int{},
		Total:     len(entries),
	}

	for _, e := range entries {
		iv, reason := timemath.ResolveInterval(ref, e)
		if reason != model.ReasonOK {
			res.Dropped[reason]++
			continue
		}

		switch {
		case !iv.Start.After(ref) && ref.Before(iv.End):
			res.Current = append(res.Current, model.ClassifiedEntry{
				Entry:    e,
				Start:    iv.Start,
				End:      iv.End,
				Progress: currentProgress(ref, iv),
			})
		case !iv.Start.Before(ref) && !iv.Start.After(windowEnd):
			res.Upcoming = append(res.Upcoming, model.ClassifiedEntry{
				Entry:    e,
				Start:    iv.Start,
				End:      iv.End,
				Progress: c.upcomingProgress(ref, windowEnd, iv.Start),
			})
		}
	}

	sort.SliceStable(res.Current, func(i, j int) bool {
		return res.Current[i].End.Before(res.Current[j].End)
	})
	sort.SliceStable(res.Upcoming, func(i, j int) bool {
		return res.Upcoming[i].Start.Before(res.Upcoming[j].Start)
	})
	res.Current = capped(res.Current, c.Cap)
	res.Upcoming = capped(res.Upcoming, c.Cap)

	c.Metrics.ObserveClassification(res.Total, dropTallies(res.Dropped))

	if len(entries) > 0 && len(res.Current) == 0 && len(res.Upcoming) == 0 {
		c.reportEmpty(entries, res)
	}
	return res
}

// Anomalies counts how many empty-schedule diagnostics have been emitted.
func (c *Classifier) Anomalies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anomalies
}

func currentProgress(ref time.Time, iv model.ResolvedInterval) float64 {
	total := iv.Duration()
	if total <= 0 {
		return 0
	}
	return clamp01(float64(ref.Sub(iv.Start)) / float64(total))
}

// upcomingProgress measures how soon start is: 1 at ref, 0 at windowEnd.
func (c *Classifier) upcomingProgress(ref, windowEnd, start time.Time) float64 {
	window := windowEnd.Sub(ref)
	if window <= 0 {
		return 0
	}
	p := clamp01(1 - float64(start.Sub(ref))/float64(window))
	if p < c.UpcomingFloor {
		p = c.UpcomingFloor
	}
	return p
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func capped(in []model.ClassifiedEntry, n int) []model.ClassifiedEntry {
	if n >= 0 && len(in) > n {
		return in[:n]
	}
	return in
}

func dropTallies(d map[model.DropReason]int) map[string]int {
	out := make(map[string]int, len(d))
	for k, v := range d {
		out[string(k)] = v
	}
	return out
}

// reportEmpty logs a non-empty schedule that produced no cards, at most once
// per AnomalyEvery. It usually means bad data or a wrong clock.
func (c *Classifier) reportEmpty(entries []model.ScheduleEntry, res model.ClassificationResult) {
	c.mu.Lock()
	since := res.Reference.Sub(c.lastAnomaly)
	if !c.lastAnomaly.IsZero() && since >= 0 && since < c.AnomalyEvery {
		c.mu.Unlock()
		return
	}
	c.lastAnomaly = res.Reference
	c.anomalies++
	c.mu.Unlock()

	n := len(entries)
	if n > anomalySampleSize {
		n = anomalySampleSize
	}
	appLog.Warn("schedule: no current or upcoming entries",
		"now", res.Reference.Format("2006-01-02 15:04:05"),
		"window_end", res.WindowEnd.Format("2006-01-02 15:04:05"),
		"today_code", string(model.WeekdayOf(res.Reference.Weekday())),
		"discard_day", res.Dropped[model.ReasonInvalidDay],
		"discard_time", res.Dropped[model.ReasonInvalidTime],
		"entries", len(entries),
		"sample", fmt.Sprintf("%+v", entries[:n]),
	)
}

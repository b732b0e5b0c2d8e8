package hours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agendalive/internal/model"
)

func venueByName(t *testing.T, name string) Venue {
	t.Helper()
	for _, v := range DefaultVenues() {
		if v.Name == name {
			return v
		}
	}
	t.Fatalf("venue %s not found", name)
	return Venue{}
}

func TestStatusOpen(t *testing.T) {
	club := venueByName(t, "CLUBE")
	// Wednesday 10:00.
	st := club.Status(time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC))

	assert.True(t, st.Open)
	assert.Equal(t, HeadlineOpen, st.Headline)
	assert.Equal(t, "CLOSES AT 22H", st.Detail)
	assert.Equal(t, "CLUBE", st.Venue)
}

func TestStatusBeforeAndAfterWindow(t *testing.T) {
	gym := venueByName(t, "ACADEMIA")

	before := gym.Status(time.Date(2026, 10, 14, 5, 59, 0, 0, time.UTC))
	assert.False(t, before.Open)
	assert.Equal(t, HeadlineClosed, before.Headline)
	assert.Equal(t, "OPENS AT 06H", before.Detail)

	// Close is exclusive.
	atClose := gym.Status(time.Date(2026, 10, 14, 21, 30, 0, 0, time.UTC))
	assert.False(t, atClose.Open)
	assert.Equal(t, "OPENS AT 06H", atClose.Detail)

	open := gym.Status(time.Date(2026, 10, 14, 21, 29, 0, 0, time.UTC))
	assert.True(t, open.Open)
	assert.Equal(t, "CLOSES AT 21:30", open.Detail)
}

func TestStatusNoServiceToday(t *testing.T) {
	gym := venueByName(t, "ACADEMIA")
	// 2026-10-18 is a Sunday.
	st := gym.Status(time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC))

	assert.False(t, st.Open)
	assert.Equal(t, HeadlineClosed, st.Headline)
	assert.Equal(t, NoServiceToday, st.Detail)
}

func TestStatusUnparsableWindowIsClosed(t *testing.T) {
	v := Venue{Name: "X", Rules: map[model.Weekday]Window{model.Wednesday: {Open: "8am", Close: "20:00"}}}
	st := v.Status(time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC))
	assert.False(t, st.Open)
	assert.Equal(t, NoServiceToday, st.Detail)
}

func TestStatusAllKeepsOrder(t *testing.T) {
	out := StatusAll(DefaultVenues(), time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC)) // Saturday
	require.Len(t, out, 3)
	assert.Equal(t, []string{"CLUBE", "SECRETARIA", "ACADEMIA"}, []string{out[0].Venue, out[1].Venue, out[2].Venue})
	assert.True(t, out[0].Open)
	assert.True(t, out[1].Open)
	assert.False(t, out[2].Open)
	assert.Equal(t, "OPENS AT 08H", out[2].Detail)
}

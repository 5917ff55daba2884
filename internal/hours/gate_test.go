package hours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	g, err := NewGate(DefaultWindow(), "UTC")
	require.NoError(t, err)
	return g
}

func at(t *testing.T, zone string, y int, m time.Month, d, h, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(zone)
	require.NoError(t, err)
	return time.Date(y, m, d, h, min, 0, 0, loc)
}

func TestCheck(t *testing.T) {
	g := newTestGate(t)
	const london = "Europe/London"

	tests := []struct {
		name     string
		now      time.Time
		callable bool
		reason   Reason
		next     time.Time
	}{
		{
			name:     "tuesday afternoon",
			now:      at(t, london, 2026, time.October, 13, 14, 0),
			callable: true,
			reason:   ReasonOK,
			next:     at(t, london, 2026, time.October, 13, 14, 0),
		},
		{
			name:     "window opens at nine",
			now:      at(t, london, 2026, time.October, 13, 9, 0),
			callable: true,
			reason:   ReasonOK,
			next:     at(t, london, 2026, time.October, 13, 9, 0),
		},
		{
			name:   "early morning snaps to ten not nine",
			now:    at(t, london, 2026, time.October, 13, 7, 30),
			reason: ReasonTooEarly,
			next:   at(t, london, 2026, time.October, 13, 10, 0),
		},
		{
			name:   "seven pm is closed",
			now:    at(t, london, 2026, time.October, 13, 19, 0),
			reason: ReasonTooLate,
			next:   at(t, london, 2026, time.October, 14, 10, 0),
		},
		{
			name:   "monday evening",
			now:    at(t, london, 2026, time.October, 19, 20, 0),
			reason: ReasonTooLate,
			next:   at(t, london, 2026, time.October, 20, 10, 0),
		},
		{
			name:   "saturday late morning",
			now:    at(t, london, 2026, time.October, 17, 11, 0),
			reason: ReasonWeekend,
			next:   at(t, london, 2026, time.October, 19, 10, 0),
		},
		{
			name:   "friday night skips weekend",
			now:    at(t, london, 2026, time.October, 23, 21, 0),
			reason: ReasonTooLate,
			next:   at(t, london, 2026, time.October, 26, 10, 0),
		},
		{
			name:   "sunday night",
			now:    at(t, london, 2026, time.October, 18, 23, 0),
			reason: ReasonWeekend,
			next:   at(t, london, 2026, time.October, 19, 10, 0),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Check(tt.now, london)
			assert.Equal(t, tt.callable, d.Callable)
			assert.Equal(t, tt.reason, d.Reason)
			assert.True(t, tt.next.Equal(d.NextEligibleAt), "next = %s, want %s", d.NextEligibleAt, tt.next)
		})
	}
}

func TestCheck_EvaluatesInContactZone(t *testing.T) {
	g := newTestGate(t)
	// 14:00 UTC on a Tuesday is 23:00 in Tokyo.
	now := time.Date(2026, time.October, 13, 14, 0, 0, 0, time.UTC)

	assert.True(t, g.Check(now, "Europe/London").Callable)

	d := g.Check(now, "Asia/Tokyo")
	assert.False(t, d.Callable)
	assert.Equal(t, ReasonTooLate, d.Reason)
	assert.True(t, at(t, "Asia/Tokyo", 2026, time.October, 14, 10, 0).Equal(d.NextEligibleAt))
}

func TestCheck_UnknownZoneUsesFallback(t *testing.T) {
	g := newTestGate(t)
	now := time.Date(2026, time.October, 13, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, g.Check(now, "UTC"), g.Check(now, "Nowhere/Special"))
	assert.Equal(t, g.Check(now, "UTC"), g.Check(now, ""))
}

// Every instant of a week, including a DST change, is either callable or
// points at an instant that is.
func TestCheck_FixedPoint(t *testing.T) {
	g := newTestGate(t)
	zones := []string{"Europe/London", "America/New_York", "Asia/Kolkata", "Australia/Sydney"}
	start := time.Date(2026, time.October, 22, 0, 0, 0, 0, time.UTC)

	for _, zone := range zones {
		loc, err := time.LoadLocation(zone)
		require.NoError(t, err)
		for now := start; now.Before(start.Add(10 * 24 * time.Hour)); now = now.Add(17 * time.Minute) {
			d := g.Check(now, zone)
			local := now.In(loc)
			wantCallable := local.Weekday() != time.Saturday && local.Weekday() != time.Sunday &&
				local.Hour() >= 9 && local.Hour() < 19
			require.Equal(t, wantCallable, d.Callable, "%s at %s", zone, local)
			if d.Callable {
				continue
			}
			require.True(t, d.NextEligibleAt.After(now), "%s at %s", zone, local)
			again := g.Check(d.NextEligibleAt, zone)
			require.True(t, again.Callable, "%s: next %s not callable", zone, d.NextEligibleAt.In(loc))
			require.Equal(t, 10, d.NextEligibleAt.In(loc).Hour())
		}
	}
}

func TestNewGate_RejectsSnapOutsideWindow(t *testing.T) {
	_, err := NewGate(Window{OpenHour: 9, CloseHour: 19, SnapHour: 20}, "UTC")
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = NewGate(Window{OpenHour: 19, CloseHour: 9, SnapHour: 10}, "UTC")
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = NewGate(DefaultWindow(), "Not/AZone")
	assert.Error(t, err)
}

func TestSnap(t *testing.T) {
	g := newTestGate(t)
	open := at(t, "Europe/London", 2026, time.October, 13, 11, 0)
	assert.True(t, open.Equal(g.Snap(open, "Europe/London")))

	closed := at(t, "Europe/London", 2026, time.October, 17, 11, 0)
	assert.True(t, at(t, "Europe/London", 2026, time.October, 19, 10, 0).Equal(g.Snap(closed, "Europe/London")))
}

// Package hours decides whether a contact may be called at a given instant
// and, when not, the next instant at which they may.
package hours

import (
	"errors"
	"fmt"
	"time"
)

type Reason string

const (
	ReasonOK       Reason = "ok"
	ReasonTooEarly Reason = "too_early"
	ReasonTooLate  Reason = "too_late"
	ReasonWeekend  Reason = "weekend"
)

// Window is the local calling window [OpenHour, CloseHour) on weekdays.
// SnapHour is where a non-callable instant is moved to. It sits an hour
// after the window opens on purpose; do not align it with OpenHour without
// a product decision.
type Window struct {
	OpenHour  int
	CloseHour int
	SnapHour  int
}

func DefaultWindow() Window {
	return Window{OpenHour: 9, CloseHour: 19, SnapHour: 10}
}

var ErrInvalidWindow = errors.New("invalid business-hours window")

func (w Window) validate() error {
	if w.OpenHour < 0 || w.CloseHour > 24 || w.OpenHour >= w.CloseHour {
		return fmt.Errorf("%w: open=%d close=%d", ErrInvalidWindow, w.OpenHour, w.CloseHour)
	}
	if w.SnapHour < w.OpenHour || w.SnapHour >= w.CloseHour {
		return fmt.Errorf("%w: snap hour %d outside [%d,%d)", ErrInvalidWindow, w.SnapHour, w.OpenHour, w.CloseHour)
	}
	return nil
}

// Decision is the outcome of a gate check. NextEligibleAt equals the
// checked instant when Callable is true.
type Decision struct {
	Callable       bool
	Reason         Reason
	NextEligibleAt time.Time
}

type Gate struct {
	window   Window
	fallback *time.Location
}

// NewGate validates w. Zones that fail to load are evaluated in fallback.
func NewGate(w Window, fallback string) (*Gate, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(fallback)
	if err != nil {
		return nil, fmt.Errorf("load fallback zone %q: %w", fallback, err)
	}
	return &Gate{window: w, fallback: loc}, nil
}

// Check evaluates now in tz.
func (g *Gate) Check(now time.Time, tz string) Decision {
	local := now.In(g.location(tz))
	reason := g.reasonAt(local)
	if reason == ReasonOK {
		return Decision{Callable: true, Reason: ReasonOK, NextEligibleAt: now}
	}
	return Decision{Reason: reason, NextEligibleAt: g.next(local)}
}

// Snap returns t when callable in tz, otherwise the next callable instant.
func (g *Gate) Snap(t time.Time, tz string) time.Time {
	return g.Check(t, tz).NextEligibleAt
}

func (g *Gate) location(tz string) *time.Location {
	if tz == "" {
		return g.fallback
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return g.fallback
	}
	return loc
}

func (g *Gate) reasonAt(local time.Time) Reason {
	if isWeekend(local.Weekday()) {
		return ReasonWeekend
	}
	h := local.Hour()
	switch {
	case h < g.window.OpenHour:
		return ReasonTooEarly
	case h >= g.window.CloseHour:
		return ReasonTooLate
	}
	return ReasonOK
}

func (g *Gate) next(local time.Time) time.Time {
	y, m, d := local.Date()
	if local.Hour() >= g.window.CloseHour {
		d++
	}
	candidate := time.Date(y, m, d, g.window.SnapHour, 0, 0, 0, local.Location())
	// The loop also absorbs DST gaps that push the snap hour out of the window.
	for i := 0; g.reasonAt(candidate) != ReasonOK && i < 14; i++ {
		y, m, d = candidate.Date()
		candidate = time.Date(y, m, d+1, g.window.SnapHour, 0, 0, 0, local.Location())
	}
	return candidate
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

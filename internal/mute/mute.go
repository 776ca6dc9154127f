// Package mute implements the daily quiet-hours window.
package mute

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTime is returned when a bound is not a valid HH:MM time of day.
var ErrInvalidTime = errors.New("invalid time of day")

// Window is a daily time-of-day interval. A window whose bounds are equal is
// never muted. When From is after To the window spans midnight.
type Window struct {
	from int // minutes since midnight
	to   int
}

// New parses the HH:MM bounds of a window.
func New(from, to string) (*Window, error) {
	f, err := parseClock(from)
	if err != nil {
		return nil, fmt.Errorf("mute from: %w", err)
	}
	t, err := parseClock(to)
	if err != nil {
		return nil, fmt.Errorf("mute to: %w", err)
	}
	return &Window{from: f, to: t}, nil
}

// Never returns a window that is never muted.
func Never() *Window {
	return &Window{}
}

// IsMuted reports whether the time of day of t falls inside the window.
// Minute precision: 22:00-06:00 includes 06:00 itself but not 06:01.
func (w *Window) IsMuted(t time.Time) bool {
	now := t.Hour()*60 + t.Minute()
	switch {
	case w.from == w.to:
		return false
	case w.from < w.to:
		return w.from <= now && now <= w.to
	default:
		return now >= w.from || now <= w.to
	}
}

// String renders the window as "HH:MM-HH:MM".
func (w *Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.from/60, w.from%60, w.to/60, w.to%60)
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w %q", ErrInvalidTime, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

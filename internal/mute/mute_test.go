package mute

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return time.Date(2025, 3, 14, t.Hour(), t.Minute(), 30, 0, time.UTC)
}

func TestIsMuted(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		now      string
		want     bool
	}{
		{name: "overnight late evening", from: "22:00", to: "06:00", now: "23:00", want: true},
		{name: "overnight small hours", from: "22:00", to: "06:00", now: "02:00", want: true},
		{name: "overnight midday", from: "22:00", to: "06:00", now: "12:00", want: false},
		{name: "overnight start bound", from: "22:00", to: "06:00", now: "22:00", want: true},
		{name: "overnight end bound", from: "22:00", to: "06:00", now: "06:00", want: true},
		{name: "overnight after end", from: "22:00", to: "06:00", now: "06:01", want: false},
		{name: "same day inside", from: "13:00", to: "14:30", now: "14:00", want: true},
		{name: "same day before", from: "13:00", to: "14:30", now: "12:59", want: false},
		{name: "same day after", from: "13:00", to: "14:30", now: "14:31", want: false},
		{name: "degenerate midnight", from: "00:00", to: "00:00", now: "00:00", want: false},
		{name: "degenerate midday", from: "00:00", to: "00:00", now: "12:00", want: false},
		{name: "degenerate non midnight", from: "09:15", to: "09:15", now: "09:15", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(tt.from, tt.to)
			if err != nil {
				t.Fatalf("new window: %v", err)
			}
			if diff := cmp.Diff(tt.want, w.IsMuted(at(tt.now))); diff != "" {
				t.Errorf("IsMuted(%s) mismatch (-want +got):\n%s", tt.now, diff)
			}
		})
	}
}

func TestDegenerateWindowNeverMuted(t *testing.T) {
	w, err := New("00:00", "00:00")
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for m := 0; m < 24*60; m++ {
		now := start.Add(time.Duration(m) * time.Minute)
		if w.IsMuted(now) {
			t.Fatalf("window muted at %s", now.Format("15:04"))
		}
	}
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
	}{
		{name: "bad from", from: "25:00", to: "06:00"},
		{name: "bad to", from: "22:00", to: "six"},
		{name: "empty", from: "", to: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.from, tt.to)
			if !errors.Is(err, ErrInvalidTime) {
				t.Errorf("expected ErrInvalidTime, got %v", err)
			}
		})
	}
}

func TestNever(t *testing.T) {
	w := Never()
	if w.IsMuted(at("03:00")) {
		t.Error("Never() window should not be muted")
	}
	if diff := cmp.Diff("00:00-00:00", w.String()); diff != "" {
		t.Errorf("String mismatch (-want +got):\n%s", diff)
	}
}

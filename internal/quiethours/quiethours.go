// Package quiethours decides whether an instant falls inside a user's
// do-not-disturb window. Evaluation is pure: callers pass the window
// explicitly, nothing is read from global state.
package quiethours

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// Minutes returns the minute-of-day (0..1439).
func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

// String formats as "HH:MM".
func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// ParseClock parses "HH:MM" (24h). Seconds ("HH:MM:SS") are accepted and dropped.
func ParseClock(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ClockTime{}, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// MustClock is ParseClock for constants; it panics on malformed input.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// QuietHours is the user's do-not-disturb preference.
type QuietHours struct {
	Enabled bool
	Start   ClockTime
	End     ClockTime
}

// Parse builds a QuietHours from "HH:MM" strings.
func Parse(enabled bool, start, end string) (QuietHours, error) {
	s, err := ParseClock(start)
	if err != nil {
		return QuietHours{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return QuietHours{}, err
	}
	return QuietHours{Enabled: enabled, Start: s, End: e}, nil
}

// Overnight reports whether the window wraps past midnight (e.g. 22:00–06:00).
func (q QuietHours) Overnight() bool { return q.Start.Minutes() > q.End.Minutes() }

// IsQuiet reports whether t (in its own location) falls inside the window.
// Both bounds are inclusive at minute precision.
func IsQuiet(t time.Time, q QuietHours) bool {
	if !q.Enabled {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	start, end := q.Start.Minutes(), q.End.Minutes()
	if start <= end {
		return start <= now && now <= end
	}
	return now >= start || now <= end
}

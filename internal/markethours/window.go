package markethours

import (
	"fmt"
	"time"
)

// Clock is a wall-clock time of day in IST, as minutes after midnight.
type Clock int

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// MustClock is ParseClock for constants.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

// On returns the clock time on t's IST date.
func (c Clock) On(t time.Time) time.Time {
	d := SessionDate(t)
	return d.Add(time.Duration(c) * time.Minute)
}

// Window is a [Start, End) span of a trading day.
type Window struct {
	Start Clock
	End   Clock
}

// NewWindow parses a "HH:MM"-"HH:MM" pair.
func NewWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	if e <= s {
		return Window{}, fmt.Errorf("window %s-%s ends before it starts", start, end)
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether t is inside the window on a trading day.
func (w Window) Contains(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	ist := t.In(IST)
	hm := Clock(ist.Hour()*60 + ist.Minute())
	return hm >= w.Start && hm < w.End
}

func (w Window) String() string { return w.Start.String() + "-" + w.End.String() }

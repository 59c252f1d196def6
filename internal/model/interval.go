package model

import (
	"fmt"
	"strings"
	"time"

	"nifty-engine/internal/markethours"
)

// Interval is a bar width.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
)

// ParseInterval accepts the canonical names plus a few common aliases.
func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1m", "1min", "minute":
		return Interval1m, nil
	case "5m", "5min":
		return Interval5m, nil
	case "15m", "15min":
		return Interval15m, nil
	case "1h", "60m", "hour":
		return Interval1h, nil
	case "1d", "d", "day", "daily":
		return Interval1d, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// Duration returns the nominal bar width.
func (iv Interval) Duration() time.Duration {
	switch iv {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval1d:
		return 24 * time.Hour
	}
	return 0
}

func (iv Interval) IsDaily() bool { return iv == Interval1d }

// Minutes returns the bar width in minutes, 0 for daily bars.
func (iv Interval) Minutes() int {
	if iv.IsDaily() {
		return 0
	}
	return int(iv.Duration() / time.Minute)
}

// Align snaps t to the start of its bar. Intraday bars are anchored at the
// 09:15 IST session open so hourly bars start at 09:15, 10:15, ...
func (iv Interval) Align(t time.Time) time.Time {
	ist := t.In(markethours.IST)
	day := time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, markethours.IST)
	if iv.IsDaily() {
		return day
	}
	d := iv.Duration()
	if d <= 0 {
		return ist
	}
	anchor := day.Add(time.Duration(markethours.OpenHour)*time.Hour + time.Duration(markethours.OpenMinute)*time.Minute)
	if ist.Before(anchor) {
		anchor = day
	}
	return anchor.Add(ist.Sub(anchor) / d * d)
}

// TimeRange is an inclusive [From, To] window.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && !r.To.Before(r.From)
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

func (r TimeRange) String() string {
	return r.From.In(markethours.IST).Format("2006-01-02 15:04") + ".." + r.To.In(markethours.IST).Format("2006-01-02 15:04")
}

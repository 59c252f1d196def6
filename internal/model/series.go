package model

import (
	"fmt"
	"time"
)

// Completeness tells whether a series has uncovered spans.
type Completeness string

const (
	Contiguous Completeness = "contiguous"
	HasGaps    Completeness = "has-gaps"
)

// SourceSpan records which provider contributed which part of a series.
type SourceSpan struct {
	Provider string    `json:"provider"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Bars     int       `json:"bars"`
}

// Series is an ordered run of bars for one instrument and interval.
// Once handed out it is never mutated; appenders build a new value.
type Series struct {
	Symbol       string       `json:"symbol"`
	Interval     Interval     `json:"interval"`
	Bars         []Bar        `json:"bars"`
	Provider     string       `json:"provider"`
	Sources      []SourceSpan `json:"sources,omitempty"`
	Completeness Completeness `json:"completeness"`
	Gaps         []TimeRange  `json:"gaps,omitempty"`
}

func (s Series) Len() int { return len(s.Bars) }

// Last returns the newest bar.
func (s Series) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// First returns the oldest bar.
func (s Series) First() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[0], true
}

// Validate checks ordering and per-bar invariants.
func (s Series) Validate() error {
	for i, b := range s.Bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if i > 0 && !b.TS.After(s.Bars[i-1].TS) {
			return fmt.Errorf("bar %d: timestamp %s not after %s", i,
				b.TS.Format(time.RFC3339), s.Bars[i-1].TS.Format(time.RFC3339))
		}
	}
	return nil
}

// WithBar returns a copy of s with b appended. The receiver is left untouched.
func (s Series) WithBar(b Bar) Series {
	out := s
	out.Bars = make([]Bar, len(s.Bars), len(s.Bars)+1)
	copy(out.Bars, s.Bars)
	out.Bars = append(out.Bars, b)
	return out
}

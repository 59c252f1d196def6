package indicator

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"nifty-engine/internal/model"
)

// IndicatorSet is one immutable revision: every line holds exactly one
// value per bar. Readers may keep a set for as long as they like.
type IndicatorSet struct {
	Symbol   string
	Interval model.Interval
	Revision uint64
	AsOf     time.Time // timestamp of the latest bar

	bars  []model.Bar
	names []string
	lines map[string][]Value
}

func newSet(symbol string, iv model.Interval, rev uint64, bars []model.Bar, names []string, lines [][]Value) *IndicatorSet {
	s := &IndicatorSet{
		Symbol:   symbol,
		Interval: iv,
		Revision: rev,
		bars:     bars[:len(bars):len(bars)],
		names:    names,
		lines:    make(map[string][]Value, len(names)),
	}
	for i, n := range names {
		s.lines[n] = lines[i][:len(lines[i]):len(lines[i])]
	}
	if len(bars) > 0 {
		s.AsOf = bars[len(bars)-1].TS
	}
	return s
}

// Len returns the number of bars covered.
func (s *IndicatorSet) Len() int { return len(s.bars) }

// Names lists the lines in a stable order.
func (s *IndicatorSet) Names() []string { return append([]string(nil), s.names...) }

// Line returns the values of a line, aligned with Bars. nil for unknown names.
// The returned slice must not be modified.
func (s *IndicatorSet) Line(name string) []Value { return s.lines[name] }

// Bars returns the input bars. The returned slice must not be modified.
func (s *IndicatorSet) Bars() []model.Bar { return s.bars }

// At returns the value of a line at bar i.
func (s *IndicatorSet) At(name string, i int) Value {
	l := s.lines[name]
	if i < 0 || i >= len(l) {
		return Value{}
	}
	return l[i]
}

// Latest returns the newest value of a line.
func (s *IndicatorSet) Latest(name string) Value { return s.At(name, len(s.bars)-1) }

// LastBar returns the newest bar.
func (s *IndicatorSet) LastBar() (model.Bar, bool) {
	if len(s.bars) == 0 {
		return model.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Snapshot is the latest-values view published to dashboards.
type Snapshot struct {
	Symbol   string           `json:"symbol"`
	Interval model.Interval   `json:"interval"`
	Revision uint64           `json:"revision"`
	AsOf     time.Time        `json:"as_of"`
	Bar      model.Bar        `json:"bar"`
	Values   map[string]Value `json:"values"`
}

func (s *IndicatorSet) Snapshot() Snapshot {
	snap := Snapshot{
		Symbol:   s.Symbol,
		Interval: s.Interval,
		Revision: s.Revision,
		AsOf:     s.AsOf,
		Values:   make(map[string]Value, len(s.names)),
	}
	snap.Bar, _ = s.LastBar()
	for _, n := range s.names {
		snap.Values[n] = s.Latest(n)
	}
	return snap
}

// JSON returns the encoded snapshot (ignoring errors for hot-path usage).
func (s *IndicatorSet) JSON() []byte {
	b, _ := json.Marshal(s.Snapshot())
	return b
}

// NewSet assembles a revision from precomputed lines, one value per bar.
// It is used to replay lines computed elsewhere; Compute and Engine build
// sets themselves.
func NewSet(symbol string, iv model.Interval, rev uint64, bars []model.Bar, lines map[string][]Value) (*IndicatorSet, error) {
	names := make([]string, 0, len(lines))
	for n := range lines {
		names = append(names, n)
	}
	sort.Strings(names)
	cols := make([][]Value, len(names))
	for i, n := range names {
		if len(lines[n]) != len(bars) {
			return nil, fmt.Errorf("%w: line %s has %d values for %d bars", ErrMalformedSeries, n, len(lines[n]), len(bars))
		}
		cols[i] = append([]Value(nil), lines[n]...)
	}
	return newSet(symbol, iv, rev, append([]model.Bar(nil), bars...), names, cols), nil
}

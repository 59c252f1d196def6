package indicator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"nifty-engine/internal/metrics"
	"nifty-engine/internal/model"
)

// Engine maintains the indicator state for one symbol and interval and
// publishes a new immutable IndicatorSet on every change. Writers are
// serialized; Latest never blocks.
type Engine struct {
	cfg Config
	m   *metrics.Metrics

	mu       sync.Mutex
	symbol   string
	interval model.Interval
	st       *state
	bars     []model.Bar
	lines    [][]Value
	rev      uint64

	latest atomic.Pointer[IndicatorSet]
}

// NewEngine validates cfg and returns an empty engine. m may be nil.
func NewEngine(cfg Config, m *metrics.Metrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Engine{cfg: cfg, m: m}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Load replaces all state with a full computation over series.
func (e *Engine) Load(series model.Series) (*IndicatorSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	st := newState(e.cfg)
	lines := make([][]Value, len(st.names))
	bars := make([]model.Bar, 0, len(series.Bars)+64)
	for i, b := range series.Bars {
		var prev *model.Bar
		if i > 0 {
			prev = &series.Bars[i-1]
		}
		if err := checkBar(i, b, prev); err != nil {
			return nil, err
		}
		for j, v := range st.step(b) {
			lines[j] = append(lines[j], v)
		}
		bars = append(bars, b)
	}

	e.symbol, e.interval = series.Symbol, series.Interval
	e.st, e.bars, e.lines = st, bars, lines
	return e.publish(start), nil
}

// Append feeds one more bar. A bar carrying the same timestamp as the
// latest one replaces it (a still-forming bar being updated); the state
// is then rebuilt from the earlier bars so results stay identical to a
// full recompute. Older timestamps are rejected.
func (e *Engine) Append(b model.Bar) (*IndicatorSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st == nil {
		return nil, fmt.Errorf("indicator: engine not loaded")
	}
	start := time.Now()
	n := len(e.bars)

	if n > 0 && b.TS.Equal(e.bars[n-1].TS) {
		if err := checkBar(n-1, b, e.prevOf(n-1)); err != nil {
			return nil, err
		}
		e.rebuild(e.bars[:n-1], b)
		return e.publish(start), nil
	}

	var prev *model.Bar
	if n > 0 {
		prev = &e.bars[n-1]
	}
	if err := checkBar(n, b, prev); err != nil {
		return nil, err
	}
	for j, v := range e.st.step(b) {
		e.lines[j] = append(e.lines[j], v)
	}
	e.bars = append(e.bars, b)
	return e.publish(start), nil
}

func (e *Engine) prevOf(i int) *model.Bar {
	if i == 0 {
		return nil
	}
	return &e.bars[i-1]
}

// rebuild recomputes from scratch into fresh slices so published sets
// sharing the old backing arrays are never touched.
func (e *Engine) rebuild(head []model.Bar, last model.Bar) {
	st := newState(e.cfg)
	lines := make([][]Value, len(st.names))
	bars := make([]model.Bar, 0, len(head)+64)
	for _, b := range append(head[:len(head):len(head)], last) {
		for j, v := range st.step(b) {
			lines[j] = append(lines[j], v)
		}
		bars = append(bars, b)
	}
	e.st, e.bars, e.lines = st, bars, lines
}

func (e *Engine) publish(start time.Time) *IndicatorSet {
	e.rev++
	set := newSet(e.symbol, e.interval, e.rev, e.bars, e.st.names, e.lines)
	e.latest.Store(set)
	e.m.IndicatorComputeDur.Observe(time.Since(start).Seconds())
	e.m.IndicatorRevisions.WithLabelValues(e.symbol).Inc()
	return set
}

// Latest returns the most recently published revision, or nil before Load.
func (e *Engine) Latest() *IndicatorSet { return e.latest.Load() }

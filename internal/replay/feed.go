// Package replay drives the strategy loop over recorded bars: a Feed
// stands in for the live market-data engine and a Session steps a
// simulated clock through the bars, executing on the paper backend.
package replay

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"nifty-engine/internal/fallback"
	"nifty-engine/internal/model"
	"nifty-engine/internal/provider"
)

// Source is the provider name replayed series carry.
const Source = "replay"

// Feed serves recorded bars one at a time. History is every bar before
// the cursor; the live tick is the bar at the cursor.
type Feed struct {
	symbol   string
	interval model.Interval

	mu     sync.Mutex
	bars   []model.Bar
	cursor int
}

// NewFeed sorts bars and positions the cursor after the first warm bars.
func NewFeed(symbol string, iv model.Interval, bars []model.Bar, warm int) (*Feed, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("replay: no bars for %s %s", symbol, iv)
	}
	if warm < 1 || warm >= len(bars) {
		return nil, fmt.Errorf("replay: warm-up of %d bars leaves nothing to replay out of %d", warm, len(bars))
	}
	sorted := slices.Clone(bars)
	slices.SortStableFunc(sorted, func(a, b model.Bar) int { return a.TS.Compare(b.TS) })
	return &Feed{symbol: symbol, interval: iv, bars: sorted, cursor: warm}, nil
}

// Current returns the bar at the cursor.
func (f *Feed) Current() (model.Bar, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursor >= len(f.bars) {
		return model.Bar{}, false
	}
	return f.bars[f.cursor], true
}

// Advance moves to the next bar and reports whether one exists.
func (f *Feed) Advance() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursor < len(f.bars) {
		f.cursor++
	}
	return f.cursor < len(f.bars)
}

// Remaining is the number of bars not yet served as live ticks.
func (f *Feed) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bars) - f.cursor
}

func (f *Feed) check(inst model.Instrument, iv model.Interval) error {
	if inst.Symbol != f.symbol || iv != f.interval {
		return unavailable(inst, iv, model.TimeRange{}, false,
			provider.Failf(Source, provider.ReasonNoData, "recording holds %s %s", f.symbol, f.interval))
	}
	return nil
}

func unavailable(inst model.Instrument, iv model.Interval, rng model.TimeRange, live bool, err error) error {
	return &fallback.DataUnavailableError{
		Symbol:   inst.Symbol,
		Interval: iv,
		Range:    rng,
		Live:     live,
		Attempts: []fallback.Attempt{{Provider: Source, Span: rng, Reason: provider.ReasonOf(err), Err: err}},
	}
}

// GetHistory returns the bars before the cursor clipped to rng.
func (f *Feed) GetHistory(ctx context.Context, inst model.Instrument, iv model.Interval, rng model.TimeRange) (model.Series, error) {
	if err := f.check(inst, iv); err != nil {
		return model.Series{}, err
	}
	f.mu.Lock()
	past := slices.Clone(f.bars[:f.cursor])
	f.mu.Unlock()

	series, err := provider.NewSeries(Source, provider.Request{Instrument: inst, Interval: iv, Range: rng}, past)
	if err != nil {
		return model.Series{}, unavailable(inst, iv, rng, false, err)
	}
	return series, nil
}

// GetLiveTick returns the bar at the cursor.
func (f *Feed) GetLiveTick(ctx context.Context, inst model.Instrument, iv model.Interval) (model.Bar, error) {
	if err := f.check(inst, iv); err != nil {
		return model.Bar{}, err
	}
	b, ok := f.Current()
	if !ok {
		return model.Bar{}, unavailable(inst, iv, model.TimeRange{}, true,
			provider.Failf(Source, provider.ReasonNoData, "recording exhausted"))
	}
	return b, nil
}

// Probe always reports the recording as available.
func (f *Feed) Probe(ctx context.Context, inst model.Instrument) []fallback.ProbeResult {
	return []fallback.ProbeResult{{Provider: Source, Status: "ok"}}
}

// pace sleeps for the gap between two bars scaled by speed. Zero speed
// replays as fast as possible; a single wait is capped at five seconds.
func pace(ctx context.Context, prev, next time.Time, speed float64) error {
	if speed <= 0 || prev.IsZero() {
		return nil
	}
	gap := time.Duration(float64(next.Sub(prev)) / speed)
	if gap <= 0 {
		return nil
	}
	if gap > 5*time.Second {
		gap = 5 * time.Second
	}
	t := time.NewTimer(gap)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

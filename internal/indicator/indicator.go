// Package indicator computes technical indicators over a bar series.
//
// Every calculator is a streaming state machine fed one bar at a time, so
// a value at bar t depends only on bars up to t. Compute and Engine both
// drive the same calculators, which makes an incremental append produce
// exactly what a full recompute would.
package indicator

import "nifty-engine/internal/model"

// Value is one reading. V is meaningless unless Ready; a value that is not
// yet available (warm-up) is Ready=false with V=0.
type Value struct {
	V     float64 `json:"v"`
	Ready bool    `json:"ready"`
}

func ready(v float64) Value { return Value{V: v, Ready: true} }

// Indicator is a single-line streaming calculation over closes.
type Indicator interface {
	// Name returns the line name (e.g., "sma_20", "rsi").
	Name() string

	// Update feeds the next bar.
	Update(b model.Bar)

	// Value returns the current reading. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

func valueOf(ind Indicator) Value {
	if !ind.Ready() {
		return Value{}
	}
	return ready(ind.Value())
}

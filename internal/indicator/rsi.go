package indicator

import "nifty-engine/internal/model"

// RSI calculates the Relative Strength Index using Wilder's smoothing:
// average gain and loss are SMMAs of the close-to-close deltas. The first
// period bars only seed the averages, so the first value lands on bar
// period+1. A zero average loss reads 100.
type RSI struct {
	period    int
	count     int
	prevClose float64
	gain      *SMMA
	loss      *SMMA
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period, gain: NewSMMA(period), loss: NewSMMA(period)}
}

func (r *RSI) Name() string { return "rsi" }

func (r *RSI) Update(b model.Bar) {
	price := b.Close
	r.count++

	if r.count == 1 {
		// First bar: just record price, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gain.Add(gain)
	r.loss.Add(loss)

	if !r.loss.Ready() {
		return
	}
	avgLoss := r.loss.Value()
	if avgLoss == 0 {
		r.current = 100.0
		return
	}
	rs := r.gain.Value() / avgLoss
	r.current = 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }

package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bar is one OHLCV interval. TS is the interval start in IST; daily bars
// sit at 00:00 IST of the session date.
type Bar struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Validate checks the OHLC envelope.
func (b Bar) Validate() error {
	if b.TS.IsZero() {
		return fmt.Errorf("bar has zero timestamp")
	}
	if b.High < max(b.Open, b.Close) {
		return fmt.Errorf("bar %s: high %.2f below body", b.TS.Format(time.RFC3339), b.High)
	}
	if b.Low > min(b.Open, b.Close) {
		return fmt.Errorf("bar %s: low %.2f above body", b.TS.Format(time.RFC3339), b.Low)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s: negative volume", b.TS.Format(time.RFC3339))
	}
	return nil
}

// Typical returns (H+L+C)/3.
func (b Bar) Typical() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

package provider

import (
	"math"
	"sort"
	"time"

	"nifty-engine/internal/model"
)

// roundingDrift is how far a high or low may sit inside the open/close
// body and still be treated as rounding rather than a broken row.
const roundingDrift = 0.01

// Normalize aligns timestamps to the interval, rounds prices to two
// decimals, sorts and drops duplicate timestamps (first occurrence wins).
// A row whose high/low contradicts its body by more than rounding drift is
// a transient failure of provider name.
func Normalize(name string, iv model.Interval, bars []model.Bar) ([]model.Bar, error) {
	out := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		b.TS = iv.Align(b.TS)
		b.Open = round2(b.Open)
		b.High = round2(b.High)
		b.Low = round2(b.Low)
		b.Close = round2(b.Close)
		top, bottom := math.Max(b.Open, b.Close), math.Min(b.Open, b.Close)
		if top-b.High > roundingDrift+1e-9 || b.Low-bottom > roundingDrift+1e-9 {
			return nil, Failf(name, ReasonTransient,
				"malformed bar at %s: open %.2f high %.2f low %.2f close %.2f",
				b.TS.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
		}
		b.High = math.Max(b.High, top)
		b.Low = math.Min(b.Low, bottom)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })

	dedup := out[:0]
	for i, b := range out {
		if i > 0 && b.TS.Equal(dedup[len(dedup)-1].TS) {
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

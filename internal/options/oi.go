package options

import (
	"nifty-engine/internal/model"
)

// Bias is the direction open interest points to.
type Bias string

const (
	BiasCall    Bias = "CALL"
	BiasPut     Bias = "PUT"
	BiasNeutral Bias = "NEUTRAL"
)

// PCR thresholds for a directional bias.
const (
	bullishPCR = 1.25
	bearishPCR = 0.75
)

// Summary aggregates a chain's open interest.
type Summary struct {
	CallOIChange    int64   `json:"call_oi_change"`
	PutOIChange     int64   `json:"put_oi_change"`
	Diff            int64   `json:"diff"` // put minus call OI change
	PCR             float64 `json:"pcr"`  // put over call OI change; 0 when calls didn't change
	MaxCallOI       int64   `json:"max_call_oi"`
	MaxCallOIStrike float64 `json:"max_call_oi_strike"`
	MaxPutOI        int64   `json:"max_put_oi"`
	MaxPutOIStrike  float64 `json:"max_put_oi_strike"`
	Bias            Bias    `json:"bias"`
}

// Summarize computes OI totals and the bias: CALL when the heaviest put
// strike outweighs the heaviest call strike, puts are being added faster
// than calls and PCR is above 1.25; PUT on the mirror image with PCR below
// 0.75; NEUTRAL otherwise.
func Summarize(c model.OptionChain) Summary {
	var s Summary
	for _, row := range c.Strikes {
		s.CallOIChange += row.Call.OIChange
		s.PutOIChange += row.Put.OIChange
		if row.Call.OI > s.MaxCallOI {
			s.MaxCallOI, s.MaxCallOIStrike = row.Call.OI, row.Strike
		}
		if row.Put.OI > s.MaxPutOI {
			s.MaxPutOI, s.MaxPutOIStrike = row.Put.OI, row.Strike
		}
	}
	s.Diff = s.PutOIChange - s.CallOIChange
	if s.CallOIChange != 0 {
		s.PCR = float64(s.PutOIChange) / float64(s.CallOIChange)
	}

	weight := s.MaxPutOI - s.MaxCallOI
	switch {
	case weight > 0 && s.Diff > 0 && s.PCR > bullishPCR:
		s.Bias = BiasCall
	case weight < 0 && s.Diff < 0 && s.PCR < bearishPCR:
		s.Bias = BiasPut
	default:
		s.Bias = BiasNeutral
	}
	return s
}

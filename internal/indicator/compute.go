package indicator

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"nifty-engine/internal/model"
)

// ErrMalformedSeries is matched by every ComputeError.
var ErrMalformedSeries = errors.New("malformed series")

// ComputeError points at the first offending bar.
type ComputeError struct {
	Index int
	TS    time.Time
	Err   error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("indicator: bar %d (%s): %v", e.Index, e.TS.Format(time.RFC3339), e.Err)
}

func (e *ComputeError) Unwrap() []error { return []error{ErrMalformedSeries, e.Err} }

// Line names.
const (
	LineRSI      = "rsi"
	LineStochK   = "stoch_k"
	LineStochD   = "stoch_d"
	LineVWAP     = "vwap"
	LinePivot    = "cpr_pivot"
	LineTC       = "cpr_tc"
	LineBC       = "cpr_bc"
	LineR1       = "cpr_r1"
	LineS1       = "cpr_s1"
	LineSigmaMid = "sigma_mid"
)

func SMAName(w int) string { return "sma_" + strconv.Itoa(w) }
func EMAName(w int) string { return "ema_" + strconv.Itoa(w) }

func kLabel(k float64) string { return strconv.FormatFloat(k, 'f', -1, 64) }

func SigmaUpperName(k float64) string { return "sigma_upper_" + kLabel(k) }
func SigmaLowerName(k float64) string { return "sigma_lower_" + kLabel(k) }

// state is the full set of streaming calculators for one series.
type state struct {
	cfg   Config
	names []string

	rsi   *RSI
	stoch *Stochastic
	vwap  *VWAP
	cpr   *CPR
	smas  []*SMA
	emas  []*EMA
	sigma *Sigma
}

func newState(cfg Config) *state {
	st := &state{
		cfg:   cfg,
		rsi:   NewRSI(cfg.RSILookback),
		stoch: NewStochastic(cfg.StochLookback, cfg.StochSmoothing),
		vwap:  NewVWAP(cfg.VWAPSessionBoundary),
		cpr:   NewCPR(),
		sigma: NewSigma(cfg.SigmaWindow),
	}
	st.names = []string{LineRSI, LineStochK, LineStochD, LineVWAP, LinePivot, LineTC, LineBC, LineR1, LineS1}
	for _, w := range cfg.MAWindows {
		st.smas = append(st.smas, NewSMA(w))
		st.emas = append(st.emas, NewEMA(w))
		st.names = append(st.names, SMAName(w), EMAName(w))
	}
	st.names = append(st.names, LineSigmaMid)
	for _, k := range cfg.SigmaK {
		st.names = append(st.names, SigmaUpperName(k), SigmaLowerName(k))
	}
	return st
}

// step feeds b to every calculator and returns one value per line, in
// names order.
func (st *state) step(b model.Bar) []Value {
	out := make([]Value, 0, len(st.names))

	st.rsi.Update(b)
	st.stoch.Update(b)
	st.vwap.Update(b)
	st.cpr.Update(b)
	st.sigma.Add(b.Close)

	out = append(out, valueOf(st.rsi), st.stoch.K(), st.stoch.D(), valueOf(st.vwap))

	if lv, ok := st.cpr.Levels(); ok {
		out = append(out, ready(lv.Pivot), ready(lv.TC), ready(lv.BC), ready(lv.R1), ready(lv.S1))
	} else {
		out = append(out, Value{}, Value{}, Value{}, Value{}, Value{})
	}

	for i := range st.smas {
		st.smas[i].Update(b)
		st.emas[i].Update(b)
		out = append(out, valueOf(st.smas[i]), valueOf(st.emas[i]))
	}

	if st.sigma.Ready() {
		mean, std := st.sigma.Stats()
		out = append(out, ready(mean))
		for _, k := range st.cfg.SigmaK {
			out = append(out, ready(mean+k*std), ready(mean-k*std))
		}
	} else {
		out = append(out, Value{})
		for range st.cfg.SigmaK {
			out = append(out, Value{}, Value{})
		}
	}
	return out
}

// checkBar validates b at index i against its predecessor.
func checkBar(i int, b model.Bar, prev *model.Bar) error {
	if err := b.Validate(); err != nil {
		return &ComputeError{Index: i, TS: b.TS, Err: err}
	}
	if prev != nil && !b.TS.After(prev.TS) {
		return &ComputeError{Index: i, TS: b.TS,
			Err: fmt.Errorf("timestamp not after previous bar %s", prev.TS.Format(time.RFC3339))}
	}
	return nil
}

// Compute runs every indicator over series. It is pure: the series is not
// modified and no state survives the call.
func Compute(series model.Series, cfg Config) (*IndicatorSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st := newState(cfg)
	lines := make([][]Value, len(st.names))
	for i := range lines {
		lines[i] = make([]Value, 0, len(series.Bars))
	}
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
	}
	return newSet(series.Symbol, series.Interval, 1, series.Bars, st.names, lines), nil
}

// Package provider defines the contract every market-data adapter meets and
// the typed failures they report.
//
// An adapter either returns a Series with at least one bar or a *Failure.
// Empty payloads, block pages and HTTP errors are never returned as an
// empty successful Series.
package provider

import (
	"context"
	"time"

	"nifty-engine/internal/model"
)

// Names of the built-in adapters, in default priority order.
const (
	NameDhan  = "dhan"
	NameNSE   = "nse"
	NameYahoo = "yahoo"
)

// Request asks for bars of one instrument and interval over a range.
type Request struct {
	Instrument model.Instrument
	Interval   model.Interval
	Range      model.TimeRange
}

// Provider is one market-data source.
type Provider interface {
	Name() string
	// Fetch returns normalized bars for req or a *Failure.
	Fetch(ctx context.Context, req Request) (model.Series, error)
	// Latest returns the most recent bar for the interval or a *Failure.
	Latest(ctx context.Context, inst model.Instrument, iv model.Interval) (model.Bar, error)
}

// ChainSource serves option chains for an index. It returns a *Failure
// with the same reasons as Provider.
type ChainSource interface {
	Name() string
	OptionChain(ctx context.Context, underlying model.Instrument, expiry time.Time) (model.OptionChain, error)
}

// NewSeries builds the normalized series an adapter returns. bars are
// aligned, sorted, de-duplicated, rounded and clipped to the range; an
// empty result becomes a no-data failure.
func NewSeries(name string, req Request, bars []model.Bar) (model.Series, error) {
	bars, err := Normalize(name, req.Interval, bars)
	if err != nil {
		return model.Series{}, err
	}
	bars = Clip(bars, req.Interval, req.Range)
	if len(bars) == 0 {
		return model.Series{}, Failf(name, ReasonNoData, "no bars for %s %s in %s",
			req.Instrument.Symbol, req.Interval, req.Range)
	}
	return model.Series{
		Symbol:       req.Instrument.Symbol,
		Interval:     req.Interval,
		Bars:         bars,
		Provider:     name,
		Completeness: model.Contiguous,
		Sources: []model.SourceSpan{{
			Provider: name,
			From:     bars[0].TS,
			To:       bars[len(bars)-1].TS,
			Bars:     len(bars),
		}},
	}, nil
}

// Clip keeps bars whose interval overlaps rng. Daily bars are compared by
// session date so a range starting mid-day still includes that session.
func Clip(bars []model.Bar, iv model.Interval, rng model.TimeRange) []model.Bar {
	if !rng.Valid() {
		return bars
	}
	from := iv.Align(rng.From)
	to := rng.To
	out := bars[:0:0]
	for _, b := range bars {
		if b.TS.Before(from) || b.TS.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Chunks splits rng into consecutive windows of at most span.
func Chunks(rng model.TimeRange, span time.Duration) []model.TimeRange {
	if span <= 0 || !rng.Valid() {
		return []model.TimeRange{rng}
	}
	var out []model.TimeRange
	for from := rng.From; !from.After(rng.To); {
		to := from.Add(span)
		if to.After(rng.To) {
			to = rng.To
		}
		out = append(out, model.TimeRange{From: from, To: to})
		from = to.Add(time.Second)
	}
	return out
}

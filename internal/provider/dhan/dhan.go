// Package dhan adapts the DhanHQ chart and market-feed APIs to the
// provider contract.
package dhan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
	"nifty-engine/internal/provider"
	dhanapi "nifty-engine/pkg/dhan"
)

// intradayChunk is the widest window Dhan serves per intraday request.
const intradayChunk = 90 * 24 * time.Hour

// API is the subset of the Dhan client the adapter uses.
type API interface {
	Historical(ctx context.Context, req dhanapi.HistoricalRequest) (*dhanapi.Candles, error)
	Intraday(ctx context.Context, req dhanapi.IntradayRequest) (*dhanapi.Candles, error)
	OHLC(ctx context.Context, segment, securityID string) (*dhanapi.Quote, error)
	OptionChain(ctx context.Context, req dhanapi.OptionChainRequest) (*dhanapi.OptionChain, error)
}

type Provider struct {
	api API
	now func() time.Time
}

func New(api API) *Provider {
	return &Provider{api: api, now: time.Now}
}

func (p *Provider) Name() string { return provider.NameDhan }

func (p *Provider) Fetch(ctx context.Context, req provider.Request) (model.Series, error) {
	inst := req.Instrument
	if inst.DhanSecurityID == "" {
		return model.Series{}, provider.Failf(p.Name(), provider.ReasonNoData, "instrument %s has no dhan security id", inst.Symbol)
	}

	var bars []model.Bar
	if req.Interval.IsDaily() {
		// toDate is exclusive on Dhan's side
		c, err := p.api.Historical(ctx, dhanapi.HistoricalRequest{
			SecurityID:      inst.DhanSecurityID,
			ExchangeSegment: inst.DhanSegment,
			Instrument:      inst.DhanInstrument,
			FromDate:        req.Range.From.In(markethours.IST).Format("2006-01-02"),
			ToDate:          req.Range.To.In(markethours.IST).AddDate(0, 0, 1).Format("2006-01-02"),
		})
		if err != nil {
			return model.Series{}, p.classify(err)
		}
		if bars, err = p.toBars(c); err != nil {
			return model.Series{}, err
		}
	} else {
		for _, chunk := range provider.Chunks(req.Range, intradayChunk) {
			c, err := p.api.Intraday(ctx, dhanapi.IntradayRequest{
				SecurityID:      inst.DhanSecurityID,
				ExchangeSegment: inst.DhanSegment,
				Instrument:      inst.DhanInstrument,
				Interval:        strconv.Itoa(req.Interval.Minutes()),
				FromDate:        chunk.From.In(markethours.IST).Format("2006-01-02 15:04:05"),
				ToDate:          chunk.To.In(markethours.IST).Format("2006-01-02 15:04:05"),
			})
			if err != nil {
				f := p.classify(err)
				// an empty older chunk is fine as long as a later one has data
				if f.Reason == provider.ReasonNoData {
					continue
				}
				return model.Series{}, f
			}
			chunkBars, err := p.toBars(c)
			if err != nil {
				return model.Series{}, err
			}
			bars = append(bars, chunkBars...)
		}
	}
	return provider.NewSeries(p.Name(), req, bars)
}

// Latest returns today's bar for daily requests (from the OHLC feed) or the
// newest intraday candle for the session.
func (p *Provider) Latest(ctx context.Context, inst model.Instrument, iv model.Interval) (model.Bar, error) {
	now := p.now()
	if iv.IsDaily() {
		q, err := p.api.OHLC(ctx, inst.DhanSegment, inst.DhanSecurityID)
		if err != nil {
			return model.Bar{}, p.classify(err)
		}
		if q.LastPrice <= 0 || q.OHLC.Open <= 0 {
			return model.Bar{}, provider.Failf(p.Name(), provider.ReasonNoData, "empty quote for %s", inst.Symbol)
		}
		bars, err := provider.Normalize(p.Name(), iv, []model.Bar{{
			TS:    now,
			Open:  q.OHLC.Open,
			High:  max(q.OHLC.High, q.LastPrice),
			Low:   min(q.OHLC.Low, q.LastPrice),
			Close: q.LastPrice,
		}})
		if err != nil {
			return model.Bar{}, err
		}
		return bars[0], nil
	}

	s, err := p.Fetch(ctx, provider.Request{
		Instrument: inst,
		Interval:   iv,
		Range:      model.TimeRange{From: markethours.SessionDate(now), To: now},
	})
	if err != nil {
		return model.Bar{}, err
	}
	last, _ := s.Last()
	return last, nil
}

// OptionChain returns the underlying's chain for expiry with Dhan security
// ids on every listed leg.
func (p *Provider) OptionChain(ctx context.Context, underlying model.Instrument, expiry time.Time) (model.OptionChain, error) {
	scrip, err := strconv.Atoi(underlying.DhanSecurityID)
	if err != nil {
		return model.OptionChain{}, provider.Failf(p.Name(), provider.ReasonNoData, "instrument %s has no dhan security id", underlying.Symbol)
	}
	oc, err := p.api.OptionChain(ctx, dhanapi.OptionChainRequest{
		UnderlyingScrip: scrip,
		UnderlyingSeg:   underlying.DhanSegment,
		Expiry:          expiry.In(markethours.IST).Format("2006-01-02"),
	})
	if err != nil {
		return model.OptionChain{}, p.classify(err)
	}
	chain := model.OptionChain{
		Underlying: underlying.Symbol,
		Expiry:     markethours.SessionDate(expiry),
		Spot:       oc.LastPrice,
		At:         p.now(),
		Provider:   p.Name(),
	}
	for _, row := range oc.Rows() {
		chain.Strikes = append(chain.Strikes, model.OptionStrike{
			Strike: row.Strike,
			Call:   leg(row.CE),
			Put:    leg(row.PE),
		})
	}
	if err := chain.Validate(); err != nil {
		return model.OptionChain{}, provider.Fail(p.Name(), provider.ReasonNoData, err)
	}
	return chain, nil
}

func leg(q *dhanapi.OptionQuote) model.OptionLeg {
	if q == nil || q.SecurityID == 0 {
		return model.OptionLeg{}
	}
	return model.OptionLeg{
		SecurityID: strconv.FormatInt(q.SecurityID, 10),
		OI:         q.OI,
		OIChange:   q.OI - q.PreviousOI,
		Bid:        q.TopBidPrice,
		Ask:        q.TopAskPrice,
		LTP:        q.LastPrice,
	}
}

func (p *Provider) toBars(c *dhanapi.Candles) ([]model.Bar, error) {
	if !c.Consistent() {
		return nil, provider.Failf(p.Name(), provider.ReasonTransient, "ragged candle arrays (%d timestamps)", len(c.Timestamp))
	}
	bars := make([]model.Bar, 0, c.Len())
	for i := 0; i < c.Len(); i++ {
		var vol int64
		if len(c.Volume) > i {
			vol = int64(c.Volume[i])
		}
		bars = append(bars, model.Bar{
			TS:     c.Time(i),
			Open:   c.Open[i],
			High:   c.High[i],
			Low:    c.Low[i],
			Close:  c.Close[i],
			Volume: vol,
		})
	}
	return bars, nil
}

func (p *Provider) classify(err error) *provider.Failure {
	var f *provider.Failure
	if errors.As(err, &f) {
		return f
	}
	var apiErr *dhanapi.APIError
	if errors.As(err, &apiErr) {
		reason := provider.ReasonTransient
		switch {
		case apiErr.RateLimited():
			reason = provider.ReasonRateLimited
		case apiErr.AuthFailed():
			reason = provider.ReasonBlocked
		case apiErr.NoData():
			reason = provider.ReasonNoData
		}
		return &provider.Failure{Provider: p.Name(), Reason: reason, Status: apiErr.Status, Err: err}
	}
	if errors.Is(err, dhanapi.ErrNotConfigured) {
		return provider.Fail(p.Name(), provider.ReasonBlocked, err)
	}
	var decErr *dhanapi.DecodeError
	if errors.As(err, &decErr) {
		if provider.LooksBlocked(decErr.Body) {
			return provider.Fail(p.Name(), provider.ReasonBlocked, err)
		}
		return provider.Fail(p.Name(), provider.ReasonTransient, err)
	}
	if errors.Is(err, context.Canceled) {
		return provider.Fail(p.Name(), provider.ReasonTransient, fmt.Errorf("cancelled: %w", err))
	}
	return provider.Fail(p.Name(), provider.ReasonTransient, err)
}

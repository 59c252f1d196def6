package dhan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
	"nifty-engine/internal/provider"
	dhanapi "nifty-engine/pkg/dhan"
)

type fakeAPI struct {
	hist       *dhanapi.Candles
	histErr    error
	intraday   []*dhanapi.Candles
	intraErr   []error
	intraCalls int
	quote      *dhanapi.Quote
	chain      *dhanapi.OptionChain
	chainErr   error
	lastHist   dhanapi.HistoricalRequest
	lastChain  dhanapi.OptionChainRequest
}

func (f *fakeAPI) Historical(_ context.Context, req dhanapi.HistoricalRequest) (*dhanapi.Candles, error) {
	f.lastHist = req
	return f.hist, f.histErr
}

func (f *fakeAPI) Intraday(_ context.Context, _ dhanapi.IntradayRequest) (*dhanapi.Candles, error) {
	i := f.intraCalls
	f.intraCalls++
	var err error
	if i < len(f.intraErr) {
		err = f.intraErr[i]
	}
	if err != nil {
		return nil, err
	}
	return f.intraday[i], nil
}

func (f *fakeAPI) OHLC(_ context.Context, _, _ string) (*dhanapi.Quote, error) {
	return f.quote, nil
}

func (f *fakeAPI) OptionChain(_ context.Context, req dhanapi.OptionChainRequest) (*dhanapi.OptionChain, error) {
	f.lastChain = req
	return f.chain, f.chainErr
}

func dailyRequest() provider.Request {
	from := time.Date(2024, 6, 10, 0, 0, 0, 0, markethours.IST)
	return provider.Request{
		Instrument: model.Nifty50(),
		Interval:   model.Interval1d,
		Range:      model.TimeRange{From: from, To: from.AddDate(0, 0, 4)},
	}
}

func TestFetchDaily(t *testing.T) {
	d0 := time.Date(2024, 6, 10, 0, 0, 0, 0, markethours.IST)
	api := &fakeAPI{hist: &dhanapi.Candles{
		Open:      []float64{23300, 23250},
		High:      []float64{23400, 23300},
		Low:       []float64{23200, 23100},
		Close:     []float64{23259.2, 23264.85},
		Volume:    []float64{0, 0},
		Timestamp: []float64{float64(d0.Unix()), float64(d0.AddDate(0, 0, 1).Unix())},
	}}
	s, err := New(api).Fetch(context.Background(), dailyRequest())
	require.NoError(t, err)
	require.Len(t, s.Bars, 2)
	assert.Equal(t, "dhan", s.Provider)
	assert.Equal(t, d0, s.Bars[0].TS)
	assert.Equal(t, "2024-06-15", api.lastHist.ToDate, "toDate is exclusive")
	assert.Equal(t, "IDX_I", api.lastHist.ExchangeSegment)
}

func TestFetchClassifiesAPIErrors(t *testing.T) {
	cases := []struct {
		err  error
		want provider.Reason
	}{
		{&dhanapi.APIError{Status: 429}, provider.ReasonRateLimited},
		{&dhanapi.APIError{Status: 400, Code: "DH-904"}, provider.ReasonRateLimited},
		{&dhanapi.APIError{Status: 401, Code: "DH-901"}, provider.ReasonBlocked},
		{&dhanapi.APIError{Status: 400, Code: "DH-907"}, provider.ReasonNoData},
		{&dhanapi.APIError{Status: 500, Code: "DH-908"}, provider.ReasonTransient},
		{dhanapi.ErrNotConfigured, provider.ReasonBlocked},
		{&dhanapi.DecodeError{Body: []byte("<html>captcha</html>"), Err: errors.New("bad json")}, provider.ReasonBlocked},
		{errors.New("connection reset"), provider.ReasonTransient},
	}
	for _, tc := range cases {
		_, err := New(&fakeAPI{histErr: tc.err}).Fetch(context.Background(), dailyRequest())
		require.Error(t, err)
		assert.Equal(t, tc.want, provider.ReasonOf(err), "error %v", tc.err)
	}
}

func TestFetchEmptyIsNoData(t *testing.T) {
	_, err := New(&fakeAPI{hist: &dhanapi.Candles{}}).Fetch(context.Background(), dailyRequest())
	assert.True(t, errors.Is(err, provider.ErrNoData))
}

func TestFetchRaggedIsTransient(t *testing.T) {
	api := &fakeAPI{hist: &dhanapi.Candles{Open: []float64{1}, Timestamp: []float64{1, 2}}}
	_, err := New(api).Fetch(context.Background(), dailyRequest())
	assert.Equal(t, provider.ReasonTransient, provider.ReasonOf(err))
}

func TestFetchIntradaySkipsEmptyChunks(t *testing.T) {
	from := time.Date(2024, 1, 1, 9, 15, 0, 0, markethours.IST)
	to := from.AddDate(0, 4, 0) // two 90-day chunks
	last := time.Date(2024, 4, 30, 10, 0, 0, 0, markethours.IST)
	api := &fakeAPI{
		intraErr: []error{&dhanapi.APIError{Status: 400, Code: "DH-907"}, nil},
		intraday: []*dhanapi.Candles{nil, {
			Open: []float64{10}, High: []float64{11}, Low: []float64{9}, Close: []float64{10.5},
			Timestamp: []float64{float64(last.Unix())},
		}},
	}
	s, err := New(api).Fetch(context.Background(), provider.Request{
		Instrument: model.Nifty50(),
		Interval:   model.Interval5m,
		Range:      model.TimeRange{From: from, To: to},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, api.intraCalls)
	require.Len(t, s.Bars, 1)
	assert.Equal(t, last, s.Bars[0].TS)
}

func TestLatestDailyFromQuote(t *testing.T) {
	q := &dhanapi.Quote{LastPrice: 24510}
	q.OHLC.Open, q.OHLC.High, q.OHLC.Low, q.OHLC.Close = 24400, 24500, 24380, 24390
	p := New(&fakeAPI{quote: q})
	p.now = func() time.Time { return time.Date(2025, 6, 10, 11, 0, 0, 0, markethours.IST) }

	bar, err := p.Latest(context.Background(), model.Nifty50(), model.Interval1d)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, markethours.IST), bar.TS)
	assert.Equal(t, 24510.0, bar.High, "last price above the reported high extends it")
	assert.Equal(t, 24510.0, bar.Close)
}

func TestOptionChainMapsLegs(t *testing.T) {
	api := &fakeAPI{chain: &dhanapi.OptionChain{
		LastPrice: 25010,
		OC: map[string]dhanapi.StrikeQuotes{
			"25000.000000": {
				CE: &dhanapi.OptionQuote{SecurityID: 40110, LastPrice: 120, OI: 5000, PreviousOI: 4200, TopBidPrice: 119.5, TopAskPrice: 120.5},
				PE: &dhanapi.OptionQuote{SecurityID: 40111, LastPrice: 98, OI: 6000, PreviousOI: 6500, TopBidPrice: 97.5},
			},
			"24950.000000": {PE: &dhanapi.OptionQuote{SecurityID: 40109, LastPrice: 75, OI: 100}},
		},
	}}
	p := New(api)
	expiry := time.Date(2025, 7, 17, 0, 0, 0, 0, markethours.IST)

	chain, err := p.OptionChain(context.Background(), model.Nifty50(), expiry)
	require.NoError(t, err)
	assert.Equal(t, 13, api.lastChain.UnderlyingScrip)
	assert.Equal(t, "IDX_I", api.lastChain.UnderlyingSeg)
	assert.Equal(t, "2025-07-17", api.lastChain.Expiry)

	assert.Equal(t, provider.NameDhan, chain.Provider)
	assert.Equal(t, 25010.0, chain.Spot)
	require.Len(t, chain.Strikes, 2)
	assert.Equal(t, 24950.0, chain.Strikes[0].Strike)
	assert.False(t, chain.Strikes[0].Call.Listed())

	atm := chain.Strikes[1]
	assert.Equal(t, "40110", atm.Call.SecurityID)
	assert.Equal(t, int64(800), atm.Call.OIChange)
	assert.Equal(t, int64(-500), atm.Put.OIChange)
	assert.Equal(t, 119.5, atm.Call.Bid)
}

func TestOptionChainRateLimited(t *testing.T) {
	api := &fakeAPI{chainErr: &dhanapi.APIError{Status: 429, Code: "DH-904"}}
	_, err := New(api).OptionChain(context.Background(), model.Nifty50(), time.Now())
	assert.Equal(t, provider.ReasonRateLimited, provider.ReasonOf(err))
}

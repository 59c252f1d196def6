package fallback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
	"nifty-engine/internal/provider"
)

// ── Test helpers ──

type fakeProvider struct {
	name   string
	bars   []model.Bar
	errs   []error // returned one per call before serving bars
	always error
	latest model.Bar
	hang   bool // block until the call context is done

	mu    sync.Mutex
	calls int
	spans []model.TimeRange
	trace *[]string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) next(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.trace != nil {
		*f.trace = append(*f.trace, f.name)
	}
	if f.hang {
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return ctx.Err()
	}
	if f.always != nil {
		return f.always
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeProvider) Fetch(ctx context.Context, req provider.Request) (model.Series, error) {
	f.mu.Lock()
	f.spans = append(f.spans, req.Range)
	f.mu.Unlock()
	if err := f.next(ctx); err != nil {
		return model.Series{}, err
	}
	return provider.NewSeries(f.name, req, f.bars)
}

func (f *fakeProvider) Latest(ctx context.Context, inst model.Instrument, iv model.Interval) (model.Bar, error) {
	if err := f.next(ctx); err != nil {
		return model.Bar{}, err
	}
	if f.latest.TS.IsZero() {
		return model.Bar{}, provider.Failf(f.name, provider.ReasonNoData, "no quote")
	}
	return f.latest, nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, markethours.IST)
}

// dailyBars returns one bar per trading session in [from, to] with the
// given close, so bars from different providers are distinguishable.
func dailyBars(from, to time.Time, close float64) []model.Bar {
	var out []model.Bar
	for d := markethours.SessionDate(from); !d.After(to); d = d.AddDate(0, 0, 1) {
		if !markethours.IsTradingDay(d) {
			continue
		}
		out = append(out, model.Bar{TS: d, Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 1000})
	}
	return out
}

// intradayBars returns bars every iv from first to last inclusive.
func intradayBars(first, last time.Time, iv model.Interval, close float64) []model.Bar {
	var out []model.Bar
	for ts := first; !ts.After(last); ts = ts.Add(iv.Duration()) {
		out = append(out, model.Bar{TS: ts, Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 10})
	}
	return out
}

func at(d time.Time, hh, mm int) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), hh, mm, 0, 0, markethours.IST)
}

func testConfig() Config {
	return Config{
		MaxRetries:      2,
		RetryBaseDelay:  time.Millisecond,
		RetryMaxDelay:   2 * time.Millisecond,
		CallTimeout:     time.Second,
		GapTolerance:    0,
		BreakerFailures: 0,
		BreakerReset:    time.Hour,
	}
}

var (
	nifty = model.Nifty50()
	year  = model.TimeRange{From: day(2025, 1, 1), To: day(2025, 12, 31)}
)

func blocked(name string) error {
	return provider.Failf(name, provider.ReasonBlocked, "captcha")
}

func transient(name string) error {
	return provider.Failf(name, provider.ReasonTransient, "502")
}

// ── Priority and fallback order ──

func TestFullCoverageNeverCallsLowerTiers(t *testing.T) {
	dhan := &fakeProvider{name: "dhan", bars: dailyBars(year.From, year.To, 300)}
	nse := &fakeProvider{name: "nse", bars: dailyBars(year.From, year.To, 200)}
	yahoo := &fakeProvider{name: "yahoo", bars: dailyBars(year.From, year.To, 100)}

	e := New(testConfig(), dhan, nse, yahoo)
	s, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)

	assert.Equal(t, 1, dhan.Calls())
	assert.Equal(t, 0, nse.Calls())
	assert.Equal(t, 0, yahoo.Calls())
	assert.Equal(t, "dhan", s.Provider)
	assert.Equal(t, model.Contiguous, s.Completeness)
	assert.Len(t, s.Bars, len(dhan.bars))
	require.NoError(t, s.Validate())
}

func TestBlockedFallsBackInOrderWithoutRetry(t *testing.T) {
	var trace []string
	dhan := &fakeProvider{name: "dhan", always: blocked("dhan"), trace: &trace}
	nse := &fakeProvider{name: "nse", always: provider.Failf("nse", provider.ReasonNoData, "empty"), trace: &trace}
	yahoo := &fakeProvider{name: "yahoo", bars: dailyBars(year.From, year.To, 100), trace: &trace}

	e := New(testConfig(), dhan, nse, yahoo)
	s, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)

	assert.Equal(t, []string{"dhan", "nse", "yahoo"}, trace)
	assert.Equal(t, "yahoo", s.Provider)
}

func TestRateLimitedFallsBackImmediately(t *testing.T) {
	dhan := &fakeProvider{name: "dhan", always: provider.Failf("dhan", provider.ReasonRateLimited, "DH-904")}
	nse := &fakeProvider{name: "nse", bars: dailyBars(year.From, year.To, 200)}

	e := New(testConfig(), dhan, nse)
	s, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)
	assert.Equal(t, 1, dhan.Calls())
	assert.Equal(t, "nse", s.Provider)
}

func TestTransientIsRetried(t *testing.T) {
	dhan := &fakeProvider{
		name: "dhan",
		errs: []error{transient("dhan"), errors.New("connection reset")},
		bars: dailyBars(year.From, year.To, 300),
	}
	nse := &fakeProvider{name: "nse", bars: dailyBars(year.From, year.To, 200)}

	e := New(testConfig(), dhan, nse)
	s, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)
	assert.Equal(t, 3, dhan.Calls(), "two retries then success")
	assert.Equal(t, 0, nse.Calls())
	assert.Equal(t, "dhan", s.Provider)
}

func TestTransientExhaustedFallsBack(t *testing.T) {
	dhan := &fakeProvider{name: "dhan", always: transient("dhan")}
	nse := &fakeProvider{name: "nse", bars: dailyBars(year.From, year.To, 200)}

	e := New(testConfig(), dhan, nse)
	_, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)
	assert.Equal(t, 3, dhan.Calls(), "first attempt plus MaxRetries")
	assert.Equal(t, 1, nse.Calls())
}

func TestCallTimeoutCountsAsTransient(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.CallTimeout = 10 * time.Millisecond

	dhan := &fakeProvider{name: "dhan", hang: true}
	nse := &fakeProvider{name: "nse", bars: dailyBars(year.From, year.To, 200)}

	e := New(cfg, dhan, nse)
	s, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)
	assert.Equal(t, "nse", s.Provider)
}

// ── Merge and gaps ──

func TestSixYearHistoryStitchedAcrossProviders(t *testing.T) {
	rng := model.TimeRange{From: day(2020, 1, 1), To: day(2025, 12, 31)}
	dhan := &fakeProvider{name: "dhan", bars: dailyBars(day(2024, 1, 1), rng.To, 300)}
	nse := &fakeProvider{name: "nse", bars: dailyBars(day(2023, 1, 1), rng.To, 200)}
	yahoo := &fakeProvider{name: "yahoo", bars: dailyBars(rng.From, rng.To, 100)}

	e := New(testConfig(), dhan, nse, yahoo)
	s, err := e.GetHistory(context.Background(), nifty, model.Interval1d, rng)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, model.Contiguous, s.Completeness)
	assert.Empty(t, s.Gaps)
	assert.Len(t, s.Bars, len(yahoo.bars), "every session covered exactly once")
	assert.Equal(t, "dhan", s.Provider)

	require.Len(t, s.Sources, 3)
	assert.Equal(t, "yahoo", s.Sources[0].Provider)
	assert.Equal(t, "nse", s.Sources[1].Provider)
	assert.Equal(t, "dhan", s.Sources[2].Provider)

	closeOn := func(t0 time.Time) float64 {
		for _, b := range s.Bars {
			if b.TS.Equal(t0) {
				return b.Close
			}
		}
		t.Fatalf("no bar at %s", t0)
		return 0
	}
	assert.Equal(t, 100.0, closeOn(day(2021, 6, 1)))
	assert.Equal(t, 200.0, closeOn(day(2023, 6, 1)))
	assert.Equal(t, 300.0, closeOn(day(2024, 6, 3)), "dhan wins where it overlaps")

	// lower tiers were only asked for what was still missing
	require.Len(t, nse.spans, 1)
	assert.True(t, nse.spans[0].To.Before(day(2024, 1, 1)))
	require.Len(t, yahoo.spans, 1)
	assert.True(t, yahoo.spans[0].To.Before(day(2023, 1, 2)))
}

func TestUncoveredHoleReportedAsGap(t *testing.T) {
	bars := append(dailyBars(day(2025, 1, 1), day(2025, 3, 31), 100),
		dailyBars(day(2025, 5, 1), year.To, 100)...)
	yahoo := &fakeProvider{name: "yahoo", bars: bars}

	e := New(testConfig(), yahoo)
	s, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)

	assert.Equal(t, model.HasGaps, s.Completeness)
	require.Len(t, s.Gaps, 1)
	assert.True(t, s.Gaps[0].From.After(day(2025, 3, 28)))
	assert.True(t, s.Gaps[0].To.Before(day(2025, 5, 2)))
}

func withoutDay(bars []model.Bar, skip time.Time) []model.Bar {
	var out []model.Bar
	for _, b := range bars {
		if !b.TS.Equal(skip) {
			out = append(out, b)
		}
	}
	return out
}

func TestMissingSessionFetchedFromNextProvider(t *testing.T) {
	missing := day(2025, 7, 15)
	dhan := &fakeProvider{name: "dhan", bars: withoutDay(dailyBars(year.From, year.To, 300), missing)}
	nse := &fakeProvider{name: "nse", bars: dailyBars(year.From, year.To, 200)}

	e := New(DefaultConfig(), dhan, nse)
	s, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)

	assert.Equal(t, model.Contiguous, s.Completeness)
	assert.Len(t, s.Bars, len(nse.bars))
	require.Len(t, nse.spans, 1)
	assert.Equal(t, missing, nse.spans[0].From)
	assert.True(t, nse.spans[0].To.Before(day(2025, 7, 16)))

	for _, b := range s.Bars {
		if b.TS.Equal(missing) {
			assert.Equal(t, 200.0, b.Close)
		} else {
			assert.Equal(t, 300.0, b.Close)
		}
	}
}

func TestMissingSessionNobodyHasIsAGap(t *testing.T) {
	missing := day(2025, 7, 15)
	e := New(testConfig(), &fakeProvider{name: "yahoo", bars: withoutDay(dailyBars(year.From, year.To, 100), missing)})
	s, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)

	assert.Equal(t, model.HasGaps, s.Completeness)
	require.Len(t, s.Gaps, 1)
	assert.Equal(t, missing, s.Gaps[0].From)
}

func TestToleratedHoleIsReportedButNotRefetched(t *testing.T) {
	cfg := testConfig()
	cfg.GapTolerance = 1
	missing := day(2025, 7, 15)
	dhan := &fakeProvider{name: "dhan", bars: withoutDay(dailyBars(year.From, year.To, 300), missing)}
	nse := &fakeProvider{name: "nse", bars: dailyBars(year.From, year.To, 200)}

	s, err := New(cfg, dhan, nse).GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)

	assert.Zero(t, nse.Calls())
	assert.Equal(t, model.HasGaps, s.Completeness)
	require.Len(t, s.Gaps, 1)
	assert.Equal(t, missing, s.Gaps[0].From)
}

func TestTruncatedIntradayFallsBack(t *testing.T) {
	d := day(2025, 7, 15)
	rng := model.TimeRange{From: at(d, 9, 15), To: at(d, 15, 25)}
	dhan := &fakeProvider{name: "dhan", bars: intradayBars(at(d, 9, 15), at(d, 9, 55), model.Interval5m, 300)}
	yahoo := &fakeProvider{name: "yahoo", bars: intradayBars(at(d, 9, 15), at(d, 15, 25), model.Interval5m, 100)}

	s, err := New(testConfig(), dhan, yahoo).GetHistory(context.Background(), nifty, model.Interval5m, rng)
	require.NoError(t, err)

	assert.Equal(t, model.Contiguous, s.Completeness)
	require.Len(t, yahoo.spans, 1)
	assert.Equal(t, at(d, 10, 0), yahoo.spans[0].From)

	// 09:15 .. 15:20; the 15:25 bar has not closed at rng.To
	require.Len(t, s.Bars, 74)
	assert.Equal(t, 300.0, s.Bars[8].Close)
	assert.Equal(t, 100.0, s.Bars[9].Close)
	assert.Equal(t, at(d, 15, 20), s.Bars[73].TS)
	require.NoError(t, s.Validate())
}

func TestIntradayHoleInsideSessionIsAGap(t *testing.T) {
	d := day(2025, 7, 15)
	rng := model.TimeRange{From: at(d, 9, 15), To: at(d, 15, 30)}
	bars := append(intradayBars(at(d, 9, 15), at(d, 11, 0), model.Interval15m, 100),
		intradayBars(at(d, 12, 0), at(d, 15, 15), model.Interval15m, 100)...)

	s, err := New(testConfig(), &fakeProvider{name: "yahoo", bars: bars}).
		GetHistory(context.Background(), nifty, model.Interval15m, rng)
	require.NoError(t, err)

	assert.Equal(t, model.HasGaps, s.Completeness)
	require.Len(t, s.Gaps, 1)
	assert.Equal(t, at(d, 11, 15), s.Gaps[0].From)
	assert.True(t, s.Gaps[0].To.Before(at(d, 12, 0)))
}

// ── Failure reporting ──

func TestAllProvidersFailIsDataUnavailable(t *testing.T) {
	e := New(testConfig(),
		&fakeProvider{name: "dhan", always: blocked("dhan")},
		&fakeProvider{name: "nse", always: provider.Failf("nse", provider.ReasonNoData, "empty")},
		&fakeProvider{name: "yahoo", always: transient("yahoo")},
	)
	_, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))

	var du *DataUnavailableError
	require.True(t, errors.As(err, &du))
	assert.Equal(t, nifty.Symbol, du.Symbol)
	require.Len(t, du.Attempts, 3)
	assert.Equal(t, provider.ReasonBlocked, du.Attempts[0].Reason)
	assert.Equal(t, provider.ReasonNoData, du.Attempts[1].Reason)
	assert.Equal(t, provider.ReasonTransient, du.Attempts[2].Reason)
	assert.Equal(t, uint(2), du.Attempts[2].Retries)
	assert.Contains(t, err.Error(), "dhan blocked")
}

func TestOpenBreakerSkipsProvider(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerFailures = 1

	dhan := &fakeProvider{name: "dhan", always: blocked("dhan")}
	nse := &fakeProvider{name: "nse", bars: dailyBars(year.From, year.To, 200)}
	e := New(cfg, dhan, nse)

	_, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)
	_, err = e.GetHistory(context.Background(), nifty, model.Interval1d, year)
	require.NoError(t, err)

	assert.Equal(t, 1, dhan.Calls(), "breaker open after first failure")
	assert.Equal(t, 2, nse.Calls())
}

func TestNoDataDoesNotTripBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerFailures = 1

	dhan := &fakeProvider{name: "dhan", always: provider.Failf("dhan", provider.ReasonNoData, "DH-907")}
	nse := &fakeProvider{name: "nse", bars: dailyBars(year.From, year.To, 200)}
	e := New(cfg, dhan, nse)

	for i := 0; i < 3; i++ {
		_, err := e.GetHistory(context.Background(), nifty, model.Interval1d, year)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, dhan.Calls())
}

func TestCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	nse := &fakeProvider{name: "nse", bars: dailyBars(year.From, year.To, 200)}
	e := New(testConfig(), nse)

	_, err := e.GetHistory(ctx, nifty, model.Interval1d, year)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrDataUnavailable))
}

// ── Live ticks ──

func TestLiveTickFallsBackPerTick(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	now := time.Date(2025, 6, 2, 10, 15, 0, 0, markethours.IST)

	dhan := &fakeProvider{
		name:   "dhan",
		errs:   []error{transient("dhan")},
		latest: model.Bar{TS: now, Open: 1, High: 3, Low: 1, Close: 3},
	}
	nse := &fakeProvider{name: "nse", latest: model.Bar{TS: now, Open: 2, High: 2, Low: 2, Close: 2}}
	e := New(cfg, dhan, nse)

	b, err := e.GetLiveTick(context.Background(), nifty, model.Interval5m)
	require.NoError(t, err)
	assert.Equal(t, 2.0, b.Close, "first tick from nse")

	b, err = e.GetLiveTick(context.Background(), nifty, model.Interval5m)
	require.NoError(t, err)
	assert.Equal(t, 3.0, b.Close, "dhan serves again on the next tick")
}

func TestLiveTickUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	e := New(cfg, &fakeProvider{name: "dhan", always: blocked("dhan")}, &fakeProvider{name: "yahoo"})

	_, err := e.GetLiveTick(context.Background(), nifty, model.Interval5m)
	var du *DataUnavailableError
	require.True(t, errors.As(err, &du))
	assert.True(t, du.Live)
	assert.Len(t, du.Attempts, 2)
}

func TestProbeReportsEveryProvider(t *testing.T) {
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, markethours.IST)
	e := New(testConfig(),
		&fakeProvider{name: "dhan", always: blocked("dhan")},
		&fakeProvider{name: "yahoo", latest: model.Bar{TS: now, Open: 1, High: 1, Low: 1, Close: 1}},
	)
	res := e.Probe(context.Background(), nifty)
	require.Len(t, res, 2)
	assert.Equal(t, "dhan", res[0].Provider)
	assert.Equal(t, "blocked", res[0].Status)
	assert.Equal(t, "ok", res[1].Status)
}

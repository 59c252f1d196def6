package options

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
)

func ist(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, markethours.IST)
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{"tuesday": time.Tuesday, "Thu": time.Thursday, " MONDAY ": time.Monday} {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseWeekday("tu")
	assert.Error(t, err)
	_, err = ParseWeekday("funday")
	assert.Error(t, err)
}

func TestNearestExpiry(t *testing.T) {
	tests := map[string]struct {
		now  time.Time
		wd   time.Weekday
		want time.Time
	}{
		"later this week":         {ist(2025, 7, 14, 10, 0), time.Thursday, ist(2025, 7, 17, 0, 0)},
		"expiry day before close": {ist(2025, 7, 17, 15, 0), time.Thursday, ist(2025, 7, 17, 0, 0)},
		"expiry day after close":  {ist(2025, 7, 17, 15, 31), time.Thursday, ist(2025, 7, 24, 0, 0)},
		"weekend rolls forward":   {ist(2025, 7, 19, 12, 0), time.Tuesday, ist(2025, 7, 22, 0, 0)},
		// 2025-04-10 is a Thursday holiday: expiry moves to Wednesday
		"holiday moves back": {ist(2025, 4, 7, 10, 0), time.Thursday, ist(2025, 4, 9, 0, 0)},
		// on the shifted day after close the following week applies
		"shifted expiry passed": {ist(2025, 4, 9, 16, 0), time.Thursday, ist(2025, 4, 17, 0, 0)},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, NearestExpiry(tc.now, tc.wd))
		})
	}
}

func row(strike float64, callOI, callChg, putOI, putChg int64) model.OptionStrike {
	return model.OptionStrike{
		Strike: strike,
		Call:   model.OptionLeg{SecurityID: "C" + itoa(strike), OI: callOI, OIChange: callChg, Bid: 99.5, LTP: 100},
		Put:    model.OptionLeg{SecurityID: "P" + itoa(strike), OI: putOI, OIChange: putChg, Bid: 79.5, LTP: 80},
	}
}

func itoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// bullish: puts heaviest and building, PCR 2.
func bullishChain() model.OptionChain {
	return model.OptionChain{
		Underlying: "NIFTY50", Expiry: ist(2025, 7, 17, 0, 0), Spot: 25020, Provider: "dhan",
		Strikes: []model.OptionStrike{
			row(24950, 1000, 100, 9000, 600),
			row(25000, 3000, 200, 4000, 300),
			row(25050, 5000, 200, 1000, 100),
		},
	}
}

func TestSummarizeBias(t *testing.T) {
	s := Summarize(bullishChain())
	assert.Equal(t, int64(500), s.CallOIChange)
	assert.Equal(t, int64(1000), s.PutOIChange)
	assert.Equal(t, int64(500), s.Diff)
	assert.InDelta(t, 2.0, s.PCR, 1e-9)
	assert.Equal(t, 25050.0, s.MaxCallOIStrike)
	assert.Equal(t, 24950.0, s.MaxPutOIStrike)
	assert.Equal(t, BiasCall, s.Bias)

	bear := model.OptionChain{Strikes: []model.OptionStrike{
		row(24950, 9000, 800, 1000, 100),
		row(25000, 2000, 400, 3000, 200),
	}}
	assert.Equal(t, BiasPut, Summarize(bear).Bias)

	flat := model.OptionChain{Strikes: []model.OptionStrike{row(25000, 1000, 100, 2000, 110)}}
	assert.Equal(t, BiasNeutral, Summarize(flat).Bias, "pcr 1.1 is not decisive")
}

type fakeChains struct {
	chain  model.OptionChain
	err    error
	expiry time.Time
}

func (f *fakeChains) GetOptionChain(ctx context.Context, underlying model.Instrument, expiry time.Time) (model.OptionChain, error) {
	f.expiry = expiry
	return f.chain, f.err
}

func newResolver(t *testing.T, cfg Config, chains Chains) *Resolver {
	t.Helper()
	r, err := NewResolver(cfg, chains, nil)
	require.NoError(t, err)
	r.now = func() time.Time { return ist(2025, 7, 15, 11, 30) }
	return r
}

func TestResolveCallAtMaxOI(t *testing.T) {
	chains := &fakeChains{chain: bullishChain()}
	cfg := DefaultConfig()
	cfg.ExpiryWeekday = "thursday"
	r := newResolver(t, cfg, chains)

	c, err := r.Resolve(context.Background(), model.Nifty50(), true)
	require.NoError(t, err)
	assert.Equal(t, ist(2025, 7, 17, 0, 0), chains.expiry)
	assert.Equal(t, model.OptionCall, c.Type)
	assert.Equal(t, 25050.0, c.Strike)
	assert.Equal(t, "NIFTY50 17JUL25 25050 CE", c.Instrument.Symbol)
	assert.Equal(t, "NSE_FNO", c.Instrument.DhanSegment)
	assert.Equal(t, "C25050", c.Instrument.DhanSecurityID)
	assert.Equal(t, int64(75), c.Instrument.LotSize)
	assert.True(t, c.Instrument.Tradeable())
	assert.Equal(t, "100", c.Premium.String())
	assert.Equal(t, "99.5", c.Bid.String())
}

func TestResolvePutATM(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strike = StrikeATM
	r := newResolver(t, cfg, &fakeChains{chain: bullishChain()})

	c, err := r.Resolve(context.Background(), model.Nifty50(), false)
	require.NoError(t, err)
	assert.Equal(t, model.OptionPut, c.Type)
	assert.Equal(t, 25000.0, c.Strike, "closest to spot 25020")
	assert.Equal(t, "80", c.Premium.String())
}

func TestResolveRequiresAgreeingBias(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireBias = true
	r := newResolver(t, cfg, &fakeChains{chain: bullishChain()})

	_, err := r.Resolve(context.Background(), model.Nifty50(), false)
	assert.True(t, errors.Is(err, ErrNoContract))

	_, err = r.Resolve(context.Background(), model.Nifty50(), true)
	assert.NoError(t, err)
}

func TestResolveUnquotedLeg(t *testing.T) {
	chain := bullishChain()
	chain.Strikes[2].Call = model.OptionLeg{SecurityID: "C1", OI: 5000}
	r := newResolver(t, DefaultConfig(), &fakeChains{chain: chain})

	_, err := r.Resolve(context.Background(), model.Nifty50(), true)
	assert.True(t, errors.Is(err, ErrNoContract))
}

func TestResolvePassesDataErrorsThrough(t *testing.T) {
	boom := errors.New("all sources down")
	r := newResolver(t, DefaultConfig(), &fakeChains{err: boom})

	_, err := r.Resolve(context.Background(), model.Nifty50(), true)
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, ErrNoContract))
}

func TestQuoteUsesContractExpiry(t *testing.T) {
	chains := &fakeChains{chain: bullishChain()}
	r := newResolver(t, DefaultConfig(), chains)
	c := Contract{Type: model.OptionPut, Strike: 24950, Expiry: ist(2025, 7, 17, 0, 0)}

	chains.chain.Strikes[0].Put.LTP = 91.25
	px, err := r.Quote(context.Background(), model.Nifty50(), c)
	require.NoError(t, err)
	assert.Equal(t, "91.25", px.String())
	assert.Equal(t, c.Expiry, chains.expiry)

	c.Strike = 30000
	_, err = r.Quote(context.Background(), model.Nifty50(), c)
	assert.True(t, errors.Is(err, ErrNoContract))
}

func TestNewResolverValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strike = "otm-3"
	_, err := NewResolver(cfg, &fakeChains{}, nil)
	assert.Error(t, err)

	_, err = NewResolver(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

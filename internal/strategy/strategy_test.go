package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-engine/internal/indicator"
	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
)

func v(x float64) indicator.Value { return indicator.Value{V: x, Ready: true} }

var warming = indicator.Value{}

// fixture builds a two-bar revision; lines give [previous, latest] values.
func fixture(t *testing.T, closes [2]float64, lines map[string][2]indicator.Value) *indicator.IndicatorSet {
	t.Helper()
	start := time.Date(2025, 6, 2, 11, 30, 0, 0, markethours.IST)
	bars := make([]model.Bar, 2)
	for i, c := range closes {
		bars[i] = model.Bar{TS: start.Add(time.Duration(i) * 5 * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	cols := make(map[string][]indicator.Value, len(lines))
	for name, pair := range lines {
		cols[name] = []indicator.Value{pair[0], pair[1]}
	}
	set, err := indicator.NewSet("NIFTY50", model.Interval5m, 1, bars, cols)
	require.NoError(t, err)
	return set
}

func vwapRSILines(vwap, rsi, k, d indicator.Value) map[string][2]indicator.Value {
	return map[string][2]indicator.Value{
		indicator.LineVWAP:   {vwap, vwap},
		indicator.LineRSI:    {rsi, rsi},
		indicator.LineStochK: {k, k},
		indicator.LineStochD: {d, d},
	}
}

var (
	flat  = model.Position{Symbol: "NIFTY50"}
	long  = model.Position{Symbol: "NIFTY50", Quantity: 75}
	short = model.Position{Symbol: "NIFTY50", Quantity: -75}
)

// ────────────────────────────────────────────────────────────
// VWAP + RSI
// ────────────────────────────────────────────────────────────

func TestVWAPRSI(t *testing.T) {
	s := NewVWAPRSI(DefaultVWAPRSIConfig(), 75)
	tests := []struct {
		name  string
		close float64
		lines map[string][2]indicator.Value
		pos   model.Position
		want  Action // "" = no signal
	}{
		{"buy", 24100, vwapRSILines(v(24000), v(60), v(65), v(50)), flat, ActionBuy},
		{"buy blocked by rsi", 24100, vwapRSILines(v(24000), v(50), v(65), v(50)), flat, ""},
		{"buy blocked when overbought", 24100, vwapRSILines(v(24000), v(60), v(85), v(70)), flat, ""},
		{"buy blocked by stoch direction", 24100, vwapRSILines(v(24000), v(60), v(40), v(50)), flat, ""},
		{"sell", 23900, vwapRSILines(v(24000), v(40), v(35), v(50)), flat, ActionSell},
		{"sell blocked when oversold", 23900, vwapRSILines(v(24000), v(40), v(15), v(25)), flat, ""},
		{"warming up", 24100, vwapRSILines(v(24000), warming, v(65), v(50)), flat, ""},
		{"no vwap", 24100, vwapRSILines(warming, v(60), v(65), v(50)), flat, ""},
		{"exit long below vwap", 23900, vwapRSILines(v(24000), v(60), v(65), v(50)), long, ActionExit},
		{"hold long above vwap", 24100, vwapRSILines(v(24000), v(40), v(35), v(50)), long, ""},
		{"exit short above vwap", 24100, vwapRSILines(v(24000), v(40), v(35), v(50)), short, ActionExit},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sig := s.Evaluate(fixture(t, [2]float64{tc.close, tc.close}, tc.lines), tc.pos)
			if tc.want == "" {
				assert.Nil(t, sig)
				return
			}
			require.NotNil(t, sig)
			assert.Equal(t, tc.want, sig.Action)
			assert.Equal(t, "NIFTY50", sig.Symbol)
			assert.Equal(t, "vwap_rsi", sig.Strategy)
			if sig.IsEntry() {
				assert.Equal(t, int64(75), sig.Qty)
				assert.True(t, sig.Price.IsZero(), "entries are market orders")
			}
			assert.NotEmpty(t, sig.Reason)
		})
	}
}

// ────────────────────────────────────────────────────────────
// SMA crossover
// ────────────────────────────────────────────────────────────

func crossLines(prevFast, prevSlow, fast, slow, rsi float64) map[string][2]indicator.Value {
	return map[string][2]indicator.Value{
		indicator.SMAName(7):  {v(prevFast), v(fast)},
		indicator.SMAName(20): {v(prevSlow), v(slow)},
		indicator.LineRSI:     {v(rsi), v(rsi)},
	}
}

func TestSMACrossover(t *testing.T) {
	s := NewSMACrossover(DefaultSMACrossoverConfig(), 75)
	closes := [2]float64{100, 101}

	sig := s.Evaluate(fixture(t, closes, crossLines(99, 100, 101, 100, 55)), flat)
	require.NotNil(t, sig)
	assert.Equal(t, ActionBuy, sig.Action)

	sig = s.Evaluate(fixture(t, closes, crossLines(101, 100, 99, 100, 45)), flat)
	require.NotNil(t, sig)
	assert.Equal(t, ActionSell, sig.Action)

	assert.Nil(t, s.Evaluate(fixture(t, closes, crossLines(101, 100, 102, 100, 55)), flat), "no cross")
	assert.Nil(t, s.Evaluate(fixture(t, closes, crossLines(99, 100, 101, 100, 75)), flat), "rsi filter blocks overbought buy")
	assert.Nil(t, s.Evaluate(fixture(t, closes, crossLines(99, 100, 101, 100, 55)), long), "already long")

	sig = s.Evaluate(fixture(t, closes, crossLines(101, 100, 99, 100, 45)), long)
	require.NotNil(t, sig)
	assert.Equal(t, ActionExit, sig.Action)
}

func TestSMACrossoverNeedsTwoReadyBars(t *testing.T) {
	s := NewSMACrossover(DefaultSMACrossoverConfig(), 75)
	lines := map[string][2]indicator.Value{
		indicator.SMAName(7):  {warming, v(101)},
		indicator.SMAName(20): {warming, v(100)},
	}
	assert.Nil(t, s.Evaluate(fixture(t, [2]float64{100, 101}, lines), flat))
}

// ────────────────────────────────────────────────────────────
// Build / Chain
// ────────────────────────────────────────────────────────────

func TestBuild(t *testing.T) {
	ind := indicator.DefaultConfig()

	chain, err := Build(DefaultConfig(), ind)
	require.NoError(t, err)
	assert.Equal(t, "vwap_rsi", chain.Name())

	cfg := DefaultConfig()
	cfg.Names = []string{"vwap_rsi", "sma_crossover"}
	chain, err = Build(cfg, ind)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
	assert.Equal(t, "chain", chain.Name())

	cfg.SMACrossover.Slow = 50
	_, err = Build(cfg, ind)
	assert.Error(t, err, "slow window not computed")

	cfg = DefaultConfig()
	cfg.Names = []string{"martingale"}
	_, err = Build(cfg, ind)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Qty = 0
	_, err = Build(cfg, ind)
	assert.Error(t, err)
}

func TestChainFirstSignalWins(t *testing.T) {
	chain := Chain{NewVWAPRSI(DefaultVWAPRSIConfig(), 75), NewSMACrossover(DefaultSMACrossoverConfig(), 75)}
	lines := vwapRSILines(v(24000), v(50), v(50), v(50)) // vwap_rsi stays out
	lines[indicator.SMAName(7)] = [2]indicator.Value{v(99), v(101)}
	lines[indicator.SMAName(20)] = [2]indicator.Value{v(100), v(100)}

	sig := chain.Evaluate(fixture(t, [2]float64{24100, 24100}, lines), flat)
	require.NotNil(t, sig)
	assert.Equal(t, "sma_crossover", sig.Strategy)
}

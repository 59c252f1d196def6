package indicator

import (
	"math"
	"testing"
	"time"

	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2025, 6, 2, 9, 15, 0, 0, markethours.IST)

func bar(close float64) model.Bar {
	return model.Bar{TS: t0, Open: close, High: close + 0.5, Low: close - 0.5, Close: close}
}

func ohlc(ts time.Time, h, l, c float64, vol int64) model.Bar {
	return model.Bar{TS: ts, Open: c, High: h, Low: l, Close: c, Volume: vol}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA / EMA / SMMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// SMA after bar 3: (100+102+104)/3 = 102
	// SMA after bar 4: (102+104+103)/3 = 103
	// SMA after bar 5: (104+103+105)/3 = 104
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(bar(p))
		if sma.Ready() != ready[i] {
			t.Errorf("bar %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestEMA_Correctness_Period3(t *testing.T) {
	// multiplier = 2/(3+1) = 0.5
	// bar 3: seed = (100+102+104)/3 = 102.0
	// bar 4: 103*0.5 + 102.0*0.5 = 102.5
	// bar 5: 105*0.5 + 102.5*0.5 = 103.75
	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}

	for i, p := range prices {
		ema.Update(bar(p))
		if i >= 2 {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		} else if ema.Ready() {
			t.Errorf("bar %d: EMA ready during warm-up", i)
		}
	}
}

func TestSMMA_Correctness_Period3(t *testing.T) {
	// seed = 102.0
	// bar 4: (102.0*2 + 103)/3 = 102.3333
	// bar 5: (102.3333*2 + 105)/3 = 103.2222
	smma := NewSMMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.3333, 103.2222}

	for i, p := range prices {
		smma.Update(bar(p))
		if i >= 2 {
			assertClose(t, "SMMA(3)", smma.Value(), expected[i], 0.001)
		}
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Deltas over the first 6 bars: +0.34 -0.25 -0.48 +0.72 +0.50
	//   avgGain = 1.56/5 = 0.312, avgLoss = 0.73/5 = 0.146
	//   RSI = 100 - 100/(1+2.13699) = 68.112
	// bar 7 (+0.27): avgGain 0.3036, avgLoss 0.1168 → 72.219
	// bar 8 (+0.32): avgGain 0.30688, avgLoss 0.09344 → 76.658
	// bar 9 (+0.42): avgGain 0.329504, avgLoss 0.074752 → 81.509
	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}

	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(bar(prices[i]))
		if i < 5 && rsi.Ready() {
			t.Fatalf("bar %d: RSI ready during warm-up", i)
		}
	}
	assertClose(t, "RSI(5) bar 6", rsi.Value(), 68.112, 0.1)

	rsi.Update(bar(prices[6]))
	assertClose(t, "RSI(5) bar 7", rsi.Value(), 72.219, 0.1)

	rsi.Update(bar(prices[7]))
	assertClose(t, "RSI(5) bar 8", rsi.Value(), 76.658, 0.1)

	rsi.Update(bar(prices[8]))
	assertClose(t, "RSI(5) bar 9", rsi.Value(), 81.509, 0.2)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(bar(200 - float64(i)))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

func TestRSI14_MonotonicIncrease(t *testing.T) {
	bars := make([]model.Bar, 60)
	for i := range bars {
		bars[i] = bar(100 + float64(i))
		bars[i].TS = t0.Add(time.Duration(i) * 5 * time.Minute)
	}
	set, err := Compute(model.Series{Symbol: "T", Interval: model.Interval5m, Bars: bars}, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	rsi := set.Line(LineRSI)
	for i := 0; i < 14; i++ {
		if rsi[i].Ready {
			t.Errorf("bar %d: RSI(14) should be undefined", i+1)
		}
		if rsi[i].V != 0 {
			t.Errorf("bar %d: warm-up value should be zero, got %v", i+1, rsi[i].V)
		}
	}
	for i := 14; i < len(rsi); i++ {
		if !rsi[i].Ready {
			t.Fatalf("bar %d: RSI(14) should be defined", i+1)
		}
		assertClose(t, "RSI(14) rising", rsi[i].V, 100, 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// Stochastic
// ────────────────────────────────────────────────────────────

func TestStochastic_KD(t *testing.T) {
	// lookback 3: bar 3 → HH 13, LL 8, C 12 → %K 80
	//             bar 4 → HH 14, LL 9, C 11 → %K 40, %D(2) = 60
	st := NewStochastic(3, 2)
	st.Update(ohlc(t0, 10, 8, 9, 0))
	st.Update(ohlc(t0, 12, 9, 11, 0))
	if st.K().Ready {
		t.Fatal("stochastic K ready before lookback bars")
	}
	st.Update(ohlc(t0, 13, 10, 12, 0))
	assertClose(t, "%K bar 3", st.K().V, 80, 1e-9)
	if st.D().Ready {
		t.Error("stochastic D ready before smoothing window")
	}
	st.Update(ohlc(t0, 14, 11, 11, 0))
	assertClose(t, "%K bar 4", st.K().V, 40, 1e-9)
	assertClose(t, "%D bar 4", st.D().V, 60, 1e-9)
}

func TestStochastic_FlatRangeIs50(t *testing.T) {
	st := NewStochastic(3, 1)
	for i := 0; i < 5; i++ {
		st.Update(ohlc(t0, 5, 5, 5, 0))
	}
	assertClose(t, "%K flat", st.K().V, 50, 1e-9)
}

func TestStochastic_Bounds(t *testing.T) {
	st := NewStochastic(14, 3)
	for i := 0; i < 200; i++ {
		c := 100 + 20*math.Sin(float64(i)/5)
		st.Update(ohlc(t0, c+1, c-1, c, 0))
		if k := st.K(); k.Ready && (k.V < 0 || k.V > 100) {
			t.Fatalf("bar %d: %%K out of range: %v", i, k.V)
		}
	}
}

// ────────────────────────────────────────────────────────────
// VWAP
// ────────────────────────────────────────────────────────────

func TestVWAP_DailyReset(t *testing.T) {
	day2 := t0.AddDate(0, 0, 1)
	v := NewVWAP(BoundaryDaily)

	v.Update(ohlc(t0, 100, 100, 100, 10))
	v.Update(ohlc(t0.Add(5*time.Minute), 110, 110, 110, 30))
	assertClose(t, "VWAP day 1", v.Value(), (1000+3300)/40.0, 1e-9)

	v.Update(ohlc(day2, 200, 200, 200, 5))
	assertClose(t, "VWAP day 2 reset", v.Value(), 200, 1e-9)
}

func TestVWAP_WeeklyCarriesAcrossDays(t *testing.T) {
	v := NewVWAP(BoundaryWeekly)
	v.Update(ohlc(t0, 100, 100, 100, 10))
	v.Update(ohlc(t0.Add(5*time.Minute), 110, 110, 110, 30))
	v.Update(ohlc(t0.AddDate(0, 0, 1), 100, 100, 100, 5)) // Tuesday, same ISO week
	assertClose(t, "VWAP weekly", v.Value(), 5300/45.0, 1e-9)

	v.Update(ohlc(t0.AddDate(0, 0, 7), 90, 90, 90, 1)) // next Monday
	assertClose(t, "VWAP new week", v.Value(), 90, 1e-9)
}

func TestVWAP_ZeroVolumeFallsBackToMeanTypical(t *testing.T) {
	v := NewVWAP(BoundaryDaily)
	v.Update(ohlc(t0, 100, 100, 100, 0))
	v.Update(ohlc(t0.Add(5*time.Minute), 110, 110, 110, 0))
	assertClose(t, "VWAP index feed", v.Value(), 105, 1e-9)
}

// ────────────────────────────────────────────────────────────
// CPR
// ────────────────────────────────────────────────────────────

func TestCPR_FromPriorSession(t *testing.T) {
	// prior session H 120, L 90, C 111:
	// P = 107, BC = 105, TC = 109, R1 = 124, S1 = 94
	p := NewCPR()
	p.Update(ohlc(t0, 115, 90, 100, 0))
	p.Update(ohlc(t0.Add(5*time.Minute), 120, 95, 111, 0))
	if _, ok := p.Levels(); ok {
		t.Fatal("levels defined during first session")
	}

	p.Update(ohlc(t0.AddDate(0, 0, 1), 130, 125, 128, 0))
	lv, ok := p.Levels()
	if !ok {
		t.Fatal("levels undefined in second session")
	}
	assertClose(t, "pivot", lv.Pivot, 107, 1e-9)
	assertClose(t, "bc", lv.BC, 105, 1e-9)
	assertClose(t, "tc", lv.TC, 109, 1e-9)
	assertClose(t, "r1", lv.R1, 124, 1e-9)
	assertClose(t, "s1", lv.S1, 94, 1e-9)

	// later bars of the same session don't move the levels
	p.Update(ohlc(t0.AddDate(0, 0, 1).Add(5*time.Minute), 200, 100, 150, 0))
	lv2, _ := p.Levels()
	if lv2 != lv {
		t.Errorf("levels changed within a session: %+v → %+v", lv, lv2)
	}
}

// ────────────────────────────────────────────────────────────
// Sigma bands
// ────────────────────────────────────────────────────────────

func TestSigma_SampleStdDev(t *testing.T) {
	s := NewSigma(3)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Add(v)
	}
	// last three: 5, 7, 9 → mean 7, sample std sqrt((4+0+4)/2) = 2
	mean, std := s.Stats()
	assertClose(t, "sigma mean", mean, 7, 1e-9)
	assertClose(t, "sigma std", std, 2, 1e-9)
}

func TestSigma_BandsInSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SigmaWindow = 3
	cfg.SigmaK = []float64{2, 1.5}

	var bars []model.Bar
	for i, c := range []float64{1, 2, 3} {
		b := bar(c)
		b.TS = t0.Add(time.Duration(i) * 5 * time.Minute)
		bars = append(bars, b)
	}
	set, err := Compute(model.Series{Symbol: "T", Interval: model.Interval5m, Bars: bars}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if set.At(LineSigmaMid, 1).Ready {
		t.Error("sigma ready before window filled")
	}
	assertClose(t, "mid", set.Latest(LineSigmaMid).V, 2, 1e-9)
	assertClose(t, "upper 2", set.Latest(SigmaUpperName(2)).V, 4, 1e-9)
	assertClose(t, "lower 2", set.Latest(SigmaLowerName(2)).V, 0, 1e-9)
	assertClose(t, "upper 1.5", set.Latest("sigma_upper_1.5").V, 3.5, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Cross-indicator: same data → correct ordering
// ────────────────────────────────────────────────────────────

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	sma5 := NewSMA(5)
	sma20 := NewSMA(20)
	ema5 := NewEMA(5)

	for i := 0; i < 30; i++ {
		b := bar(100 + float64(i))
		sma5.Update(b)
		sma20.Update(b)
		ema5.Update(b)
	}

	if sma5.Value() <= sma20.Value() {
		t.Errorf("SMA(5) should be > SMA(20) in uptrend: SMA5=%.2f, SMA20=%.2f", sma5.Value(), sma20.Value())
	}
	if ema5.Value() <= sma20.Value() {
		t.Errorf("EMA(5) should be > SMA(20) in uptrend: EMA5=%.2f, SMA20=%.2f", ema5.Value(), sma20.Value())
	}
}

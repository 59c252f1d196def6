package strategy

import (
	"fmt"

	"nifty-engine/internal/indicator"
	"nifty-engine/internal/model"
)

type VWAPRSIConfig struct {
	RSILong         float64 `yaml:"rsi_long"`
	RSIShort        float64 `yaml:"rsi_short"`
	StochOverbought float64 `yaml:"stoch_overbought"`
	StochOversold   float64 `yaml:"stoch_oversold"`
}

func DefaultVWAPRSIConfig() VWAPRSIConfig {
	return VWAPRSIConfig{RSILong: 55, RSIShort: 45, StochOverbought: 80, StochOversold: 20}
}

// VWAPRSI trades the close against session VWAP, filtered by RSI momentum
// and stochastic direction.
//
// Buy: close above VWAP, RSI >= RSILong, %K above %D and below overbought.
// Sell: close below VWAP, RSI <= RSIShort, %K below %D and above oversold.
// Exit: close crosses back through VWAP against the position.
type VWAPRSI struct {
	cfg VWAPRSIConfig
	qty int64
}

func NewVWAPRSI(cfg VWAPRSIConfig, qty int64) *VWAPRSI {
	return &VWAPRSI{cfg: cfg, qty: qty}
}

func (s *VWAPRSI) Name() string { return "vwap_rsi" }

func (s *VWAPRSI) Evaluate(set *indicator.IndicatorSet, pos model.Position) *Signal {
	bar, ok := set.LastBar()
	if !ok {
		return nil
	}
	vwap := set.Latest(indicator.LineVWAP)
	if !vwap.Ready {
		return nil
	}
	px := bar.Close

	switch {
	case pos.Quantity > 0:
		if px < vwap.V {
			return exitFor(s.Name(), pos, fmt.Sprintf("close %.2f below vwap %.2f", px, vwap.V))
		}
		return nil
	case pos.Quantity < 0:
		if px > vwap.V {
			return exitFor(s.Name(), pos, fmt.Sprintf("close %.2f above vwap %.2f", px, vwap.V))
		}
		return nil
	}

	rsi := set.Latest(indicator.LineRSI)
	k := set.Latest(indicator.LineStochK)
	d := set.Latest(indicator.LineStochD)
	if !rsi.Ready || !k.Ready || !d.Ready {
		return nil
	}

	if px > vwap.V && rsi.V >= s.cfg.RSILong && k.V > d.V && k.V < s.cfg.StochOverbought {
		return &Signal{
			Strategy: s.Name(), Action: ActionBuy, Symbol: set.Symbol, Qty: s.qty,
			Reason: fmt.Sprintf("close %.2f > vwap %.2f, rsi %.1f, %%K %.1f > %%D %.1f", px, vwap.V, rsi.V, k.V, d.V),
		}
	}
	if px < vwap.V && rsi.V <= s.cfg.RSIShort && k.V < d.V && k.V > s.cfg.StochOversold {
		return &Signal{
			Strategy: s.Name(), Action: ActionSell, Symbol: set.Symbol, Qty: s.qty,
			Reason: fmt.Sprintf("close %.2f < vwap %.2f, rsi %.1f, %%K %.1f < %%D %.1f", px, vwap.V, rsi.V, k.V, d.V),
		}
	}
	return nil
}

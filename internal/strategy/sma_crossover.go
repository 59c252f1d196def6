package strategy

import (
	"fmt"

	"nifty-engine/internal/indicator"
	"nifty-engine/internal/model"
)

type SMACrossoverConfig struct {
	Fast      int     `yaml:"fast"`
	Slow      int     `yaml:"slow"`
	RSIFilter bool    `yaml:"rsi_filter"`
	RSIHigh   float64 `yaml:"rsi_high"`
	RSILow    float64 `yaml:"rsi_low"`
}

func DefaultSMACrossoverConfig() SMACrossoverConfig {
	return SMACrossoverConfig{Fast: 7, Slow: 20, RSIFilter: true, RSIHigh: 70, RSILow: 30}
}

// SMACrossover signals on fast/slow SMA crosses.
//
// Buy signal: fast SMA crosses above slow SMA (golden cross)
// Sell signal: fast SMA crosses below slow SMA (death cross)
//
// A cross against an open position exits it instead. The optional RSI
// filter skips buys when overbought and sells when oversold.
type SMACrossover struct {
	cfg        SMACrossoverConfig
	qty        int64
	fast, slow string
}

func NewSMACrossover(cfg SMACrossoverConfig, qty int64) *SMACrossover {
	return &SMACrossover{
		cfg:  cfg,
		qty:  qty,
		fast: indicator.SMAName(cfg.Fast),
		slow: indicator.SMAName(cfg.Slow),
	}
}

func (s *SMACrossover) Name() string { return "sma_crossover" }

func (s *SMACrossover) Evaluate(set *indicator.IndicatorSet, pos model.Position) *Signal {
	n := set.Len()
	if n < 2 {
		return nil
	}
	prevFast, prevSlow := set.At(s.fast, n-2), set.At(s.slow, n-2)
	curFast, curSlow := set.At(s.fast, n-1), set.At(s.slow, n-1)
	if !prevFast.Ready || !prevSlow.Ready || !curFast.Ready || !curSlow.Ready {
		return nil
	}

	var action Action
	switch {
	case prevFast.V <= prevSlow.V && curFast.V > curSlow.V:
		action = ActionBuy
	case prevFast.V >= prevSlow.V && curFast.V < curSlow.V:
		action = ActionSell
	default:
		return nil
	}
	reason := fmt.Sprintf("%s %.2f crossed %s %.2f", s.fast, curFast.V, s.slow, curSlow.V)

	if (action == ActionBuy && pos.Quantity < 0) || (action == ActionSell && pos.Quantity > 0) {
		return exitFor(s.Name(), pos, reason)
	}
	if !pos.IsFlat() {
		return nil
	}

	if s.cfg.RSIFilter {
		if rsi := set.Latest(indicator.LineRSI); rsi.Ready {
			if action == ActionBuy && rsi.V > s.cfg.RSIHigh {
				return nil
			}
			if action == ActionSell && rsi.V < s.cfg.RSILow {
				return nil
			}
		}
	}
	return &Signal{Strategy: s.Name(), Action: action, Symbol: set.Symbol, Qty: s.qty, Reason: reason}
}

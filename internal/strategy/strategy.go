// Package strategy turns indicator revisions into trading signals.
//
// A Strategy looks at the newest IndicatorSet revision and the current
// position and returns a Signal (BUY, SELL, EXIT) or nil. Strategies are
// pure: timing windows, protective exits and order placement belong to
// the runner.
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"nifty-engine/internal/indicator"
	"nifty-engine/internal/model"
)

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionExit Action = "EXIT"
)

// Signal represents a trading signal emitted by a strategy.
type Signal struct {
	Strategy string          `json:"strategy"`
	Action   Action          `json:"action"`
	Symbol   string          `json:"symbol"`
	Qty      int64           `json:"qty"`   // ignored for EXIT: the whole position is closed
	Price    decimal.Decimal `json:"price"` // zero = market order
	Reason   string          `json:"reason"`
}

// IsEntry reports whether the signal opens a position.
func (s Signal) IsEntry() bool { return s.Action == ActionBuy || s.Action == ActionSell }

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Evaluate is called once per new revision. Return a Signal to act,
	// or nil to skip.
	Evaluate(set *indicator.IndicatorSet, pos model.Position) *Signal
}

// Chain evaluates strategies in order; the first signal wins.
type Chain []Strategy

func (c Chain) Name() string {
	if len(c) == 1 {
		return c[0].Name()
	}
	return "chain"
}

func (c Chain) Evaluate(set *indicator.IndicatorSet, pos model.Position) *Signal {
	for _, s := range c {
		if sig := s.Evaluate(set, pos); sig != nil {
			return sig
		}
	}
	return nil
}

// Config selects and parameterizes the strategies to run.
type Config struct {
	Names        []string           `yaml:"names"` // vwap_rsi, sma_crossover
	Qty          int64              `yaml:"qty"`   // per entry; a multiple of the lot size
	VWAPRSI      VWAPRSIConfig      `yaml:"vwap_rsi"`
	SMACrossover SMACrossoverConfig `yaml:"sma_crossover"`
}

func DefaultConfig() Config {
	return Config{
		Names:        []string{"vwap_rsi"},
		Qty:          75,
		VWAPRSI:      DefaultVWAPRSIConfig(),
		SMACrossover: DefaultSMACrossoverConfig(),
	}
}

// Build creates the configured strategies. SMA windows must be among the
// indicator config's moving-average windows.
func Build(cfg Config, ind indicator.Config) (Chain, error) {
	if cfg.Qty <= 0 {
		return nil, fmt.Errorf("strategy qty %d", cfg.Qty)
	}
	var chain Chain
	for _, name := range cfg.Names {
		switch name {
		case "vwap_rsi":
			chain = append(chain, NewVWAPRSI(cfg.VWAPRSI, cfg.Qty))
		case "sma_crossover":
			sc := cfg.SMACrossover
			if !hasWindow(ind.MAWindows, sc.Fast) || !hasWindow(ind.MAWindows, sc.Slow) {
				return nil, fmt.Errorf("sma_crossover windows %d/%d not in ma_windows %v", sc.Fast, sc.Slow, ind.MAWindows)
			}
			chain = append(chain, NewSMACrossover(sc, cfg.Qty))
		default:
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no strategies configured")
	}
	return chain, nil
}

func hasWindow(ws []int, w int) bool {
	for _, x := range ws {
		if x == w {
			return true
		}
	}
	return false
}

// exitFor returns an EXIT signal closing pos.
func exitFor(name string, pos model.Position, reason string) *Signal {
	return &Signal{Strategy: name, Action: ActionExit, Symbol: pos.Symbol, Reason: reason}
}

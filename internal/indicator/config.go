package indicator

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every Config.Validate error.
var ErrInvalidConfig = errors.New("invalid indicator config")

// Config selects indicator parameters. Zero fields are not defaulted by
// Validate; start from DefaultConfig.
type Config struct {
	RSILookback         int       `yaml:"rsi_lookback" json:"rsi_lookback"`
	StochLookback       int       `yaml:"stoch_lookback" json:"stoch_lookback"`
	StochSmoothing      int       `yaml:"stoch_smoothing" json:"stoch_smoothing"`
	VWAPSessionBoundary Boundary  `yaml:"vwap_session_boundary" json:"vwap_session_boundary"`
	MAWindows           []int     `yaml:"ma_windows" json:"ma_windows"`
	SigmaWindow         int       `yaml:"sigma_window" json:"sigma_window"`
	SigmaK              []float64 `yaml:"sigma_k" json:"sigma_k"`
}

func DefaultConfig() Config {
	return Config{
		RSILookback:         14,
		StochLookback:       14,
		StochSmoothing:      3,
		VWAPSessionBoundary: BoundaryDaily,
		MAWindows:           []int{7, 10, 20},
		SigmaWindow:         20,
		SigmaK:              []float64{2},
	}
}

func (c Config) Validate() error {
	if c.RSILookback < 1 {
		return fmt.Errorf("%w: rsi_lookback must be >= 1, got %d", ErrInvalidConfig, c.RSILookback)
	}
	if c.StochLookback < 1 || c.StochSmoothing < 1 {
		return fmt.Errorf("%w: stochastic lookback/smoothing must be >= 1", ErrInvalidConfig)
	}
	if !c.VWAPSessionBoundary.Valid() {
		return fmt.Errorf("%w: vwap_session_boundary %q", ErrInvalidConfig, c.VWAPSessionBoundary)
	}
	seen := make(map[int]bool, len(c.MAWindows))
	for _, w := range c.MAWindows {
		if w < 1 {
			return fmt.Errorf("%w: ma window %d", ErrInvalidConfig, w)
		}
		if seen[w] {
			return fmt.Errorf("%w: duplicate ma window %d", ErrInvalidConfig, w)
		}
		seen[w] = true
	}
	if c.SigmaWindow < 2 {
		return fmt.Errorf("%w: sigma_window must be >= 2, got %d", ErrInvalidConfig, c.SigmaWindow)
	}
	for _, k := range c.SigmaK {
		if k <= 0 {
			return fmt.Errorf("%w: sigma_k %v", ErrInvalidConfig, k)
		}
	}
	return nil
}

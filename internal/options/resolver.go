// Package options turns a directional signal on an index into a concrete
// option contract: it picks the weekly expiry, reads the chain through the
// market-data fallback, chooses a strike and resolves the leg to the
// broker's security id.
package options

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nifty-engine/internal/logger"
	"nifty-engine/internal/model"
)

// ErrNoContract means the chain offered nothing to trade for the signal.
var ErrNoContract = errors.New("no tradeable contract")

// Strike selection modes.
const (
	StrikeMaxOI = "max-oi" // heaviest open interest on the traded side
	StrikeATM   = "atm"
)

type Config struct {
	ExpiryWeekday string `yaml:"expiry_weekday"`
	Strike        string `yaml:"strike"`
	RequireBias   bool   `yaml:"require_oi_bias"` // enter only when OI agrees with the signal
	Segment       string `yaml:"segment"`         // broker segment of the contracts
}

func DefaultConfig() Config {
	return Config{
		ExpiryWeekday: "tuesday",
		Strike:        StrikeMaxOI,
		RequireBias:   false,
		Segment:       "NSE_FNO",
	}
}

// Chains serves option chains; *fallback.Engine satisfies it.
type Chains interface {
	GetOptionChain(ctx context.Context, underlying model.Instrument, expiry time.Time) (model.OptionChain, error)
}

// Contract is a resolved option with the premium it was picked at.
type Contract struct {
	Instrument model.Instrument `json:"instrument"`
	Underlying string           `json:"underlying"`
	Type       model.OptionType `json:"type"`
	Strike     float64          `json:"strike"`
	Expiry     time.Time        `json:"expiry"`
	Bid        decimal.Decimal  `json:"bid"`
	Premium    decimal.Decimal  `json:"premium"` // last traded, or bid
	Summary    Summary          `json:"summary"`
	Provider   string           `json:"provider"`
}

// Resolver picks contracts from live chains.
type Resolver struct {
	cfg     Config
	weekday time.Weekday
	chains  Chains
	now     func() time.Time
	log     *slog.Logger
}

func (c Config) Validate() error {
	if _, err := ParseWeekday(c.ExpiryWeekday); err != nil {
		return err
	}
	if c.Strike != StrikeMaxOI && c.Strike != StrikeATM {
		return fmt.Errorf("options: strike selection %q", c.Strike)
	}
	if c.Segment == "" {
		return errors.New("options: segment is empty")
	}
	return nil
}

func NewResolver(cfg Config, chains Chains, log *slog.Logger) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	wd, _ := ParseWeekday(cfg.ExpiryWeekday)
	if chains == nil {
		return nil, errors.New("options: chain source is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{cfg: cfg, weekday: wd, chains: chains, now: time.Now, log: logger.Component(log, "options")}, nil
}

// Expiry returns the expiry contracts are picked from at now.
func (r *Resolver) Expiry() time.Time {
	return NearestExpiry(r.now(), r.weekday)
}

// Resolve returns the call (bullish) or put (bearish) to buy. It wraps
// ErrNoContract when the chain disagrees or the leg isn't quoted.
func (r *Resolver) Resolve(ctx context.Context, underlying model.Instrument, bullish bool) (Contract, error) {
	expiry := r.Expiry()
	chain, err := r.chains.GetOptionChain(ctx, underlying, expiry)
	if err != nil {
		return Contract{}, err
	}
	sum := Summarize(chain)

	typ, want := model.OptionCall, BiasCall
	if !bullish {
		typ, want = model.OptionPut, BiasPut
	}
	if r.cfg.RequireBias && sum.Bias != want {
		return Contract{}, fmt.Errorf("%w: open interest is %s, signal wants %s (pcr %.2f)", ErrNoContract, sum.Bias, want, sum.PCR)
	}

	row, ok := r.pick(chain, sum, typ)
	if !ok {
		return Contract{}, fmt.Errorf("%w: empty %s chain", ErrNoContract, typ)
	}
	leg := row.Leg(typ)
	if !leg.Listed() || leg.Mark() <= 0 {
		return Contract{}, fmt.Errorf("%w: %s %v not quoted", ErrNoContract, typ, row.Strike)
	}

	c := Contract{
		Instrument: model.Instrument{
			Symbol:         ContractSymbol(underlying, expiry, row.Strike, typ),
			DhanSecurityID: leg.SecurityID,
			DhanSegment:    r.cfg.Segment,
			DhanInstrument: "OPTIDX",
			LotSize:        underlying.LotSize,
		},
		Underlying: underlying.Symbol,
		Type:       typ,
		Strike:     row.Strike,
		Expiry:     chain.Expiry,
		Bid:        decimal.NewFromFloat(leg.Bid).Round(2),
		Premium:    decimal.NewFromFloat(leg.Mark()).Round(2),
		Summary:    sum,
		Provider:   chain.Provider,
	}
	r.log.Info("contract resolved",
		"contract", c.Instrument.Symbol, "security_id", leg.SecurityID, "premium", c.Premium,
		"bias", sum.Bias, "pcr", sum.PCR, "provider", chain.Provider)
	return c, nil
}

func (r *Resolver) pick(chain model.OptionChain, sum Summary, typ model.OptionType) (model.OptionStrike, bool) {
	if r.cfg.Strike == StrikeATM {
		return chain.ATM()
	}
	strike := sum.MaxCallOIStrike
	if typ == model.OptionPut {
		strike = sum.MaxPutOIStrike
	}
	return chain.Find(strike)
}

// Quote returns c's current premium from a fresh chain.
func (r *Resolver) Quote(ctx context.Context, underlying model.Instrument, c Contract) (decimal.Decimal, error) {
	chain, err := r.chains.GetOptionChain(ctx, underlying, c.Expiry)
	if err != nil {
		return decimal.Zero, err
	}
	row, ok := chain.Find(c.Strike)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: strike %v left the %s chain", ErrNoContract, c.Strike, chain.Provider)
	}
	mark := row.Leg(c.Type).Mark()
	if mark <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s not quoted", ErrNoContract, c.Instrument.Symbol)
	}
	return decimal.NewFromFloat(mark).Round(2), nil
}

// ContractSymbol names a contract "NIFTY50 17JUL25 25000 CE".
func ContractSymbol(underlying model.Instrument, expiry time.Time, strike float64, typ model.OptionType) string {
	return fmt.Sprintf("%s %s %s %s", underlying.Symbol,
		strings.ToUpper(expiry.Format("02Jan06")), strconv.FormatFloat(strike, 'f', -1, 64), typ)
}

package model

import (
	"errors"
	"fmt"
	"time"
)

type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

func (t OptionType) Valid() bool { return t == OptionCall || t == OptionPut }

// OptionLeg is one side of a strike row. A zero leg means the contract is
// not listed by the source.
type OptionLeg struct {
	SecurityID string  `json:"security_id,omitempty"` // Dhan id; empty when the source doesn't know it
	OI         int64   `json:"oi"`
	OIChange   int64   `json:"oi_change"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	LTP        float64 `json:"ltp"`
}

// Listed reports whether the source had any data for the leg.
func (l OptionLeg) Listed() bool {
	return l.SecurityID != "" || l.OI > 0 || l.LTP > 0 || l.Bid > 0
}

// Mark is the last traded price, or the bid when nothing traded yet.
func (l OptionLeg) Mark() float64 {
	if l.LTP > 0 {
		return l.LTP
	}
	return l.Bid
}

type OptionStrike struct {
	Strike float64   `json:"strike"`
	Call   OptionLeg `json:"call"`
	Put    OptionLeg `json:"put"`
}

// Leg returns the call or put side.
func (s OptionStrike) Leg(t OptionType) OptionLeg {
	if t == OptionPut {
		return s.Put
	}
	return s.Call
}

// OptionChain is one expiry's strikes for an underlying, ascending by strike.
type OptionChain struct {
	Underlying string         `json:"underlying"`
	Expiry     time.Time      `json:"expiry"`
	Spot       float64        `json:"spot"`
	At         time.Time      `json:"at"`
	Provider   string         `json:"provider"`
	Strikes    []OptionStrike `json:"strikes"`
}

// Validate checks that the chain has strikes in strictly ascending order.
func (c OptionChain) Validate() error {
	if len(c.Strikes) == 0 {
		return errors.New("option chain has no strikes")
	}
	for i, s := range c.Strikes {
		if s.Strike <= 0 {
			return fmt.Errorf("strike %d: non-positive strike %v", i, s.Strike)
		}
		if i > 0 && s.Strike <= c.Strikes[i-1].Strike {
			return fmt.Errorf("strike %d: %v not after %v", i, s.Strike, c.Strikes[i-1].Strike)
		}
	}
	return nil
}

// Find returns the row for strike.
func (c OptionChain) Find(strike float64) (OptionStrike, bool) {
	for _, s := range c.Strikes {
		if s.Strike == strike {
			return s, true
		}
	}
	return OptionStrike{}, false
}

// ATM returns the row whose strike is closest to the spot price.
func (c OptionChain) ATM() (OptionStrike, bool) {
	if len(c.Strikes) == 0 {
		return OptionStrike{}, false
	}
	best := c.Strikes[0]
	for _, s := range c.Strikes[1:] {
		if abs(s.Strike-c.Spot) < abs(best.Strike-c.Spot) {
			best = s
		}
	}
	return best, true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

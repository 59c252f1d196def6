package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the net holding in one instrument. Quantity is signed:
// positive = long, negative = short.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	MarkPrice   decimal.Decimal `json:"mark_price"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// UnrealizedPnL is derived from the mark; zero when flat or unmarked.
func (p Position) UnrealizedPnL() decimal.Decimal {
	if p.Quantity == 0 || p.MarkPrice.IsZero() {
		return decimal.Zero
	}
	return p.MarkPrice.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Quantity))
}

func (p Position) IsFlat() bool { return p.Quantity == 0 }

// PositionView is the serialized form with the derived unrealized P&L filled in.
type PositionView struct {
	Position
	Unrealized decimal.Decimal `json:"unrealized_pnl"`
}

func (p Position) View() PositionView {
	return PositionView{Position: p, Unrealized: p.UnrealizedPnL()}
}

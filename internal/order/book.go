package order

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"nifty-engine/internal/model"
)

// ApplyFill folds a fill into p using weighted-average cost. It returns
// the new position and the realized P&L of this fill, which is non-zero
// only when the fill reduces the absolute quantity. A fill that flips the
// position re-bases the average at the fill price.
func ApplyFill(p model.Position, side model.Side, qty int64, price decimal.Decimal, at time.Time) (model.Position, decimal.Decimal) {
	realized := decimal.Zero
	signed := side.Sign() * qty
	cur := p.Quantity

	switch {
	case cur == 0 || (cur > 0) == (signed > 0):
		absCur := decimal.NewFromInt(abs(cur))
		cost := p.AvgPrice.Mul(absCur).Add(price.Mul(decimal.NewFromInt(qty)))
		p.AvgPrice = cost.Div(absCur.Add(decimal.NewFromInt(qty)))
		p.Quantity = cur + signed

	default:
		closing := min(qty, abs(cur))
		dir := decimal.NewFromInt(sign(cur))
		realized = price.Sub(p.AvgPrice).Mul(decimal.NewFromInt(closing)).Mul(dir)
		p.RealizedPnL = p.RealizedPnL.Add(realized)
		p.Quantity = cur + signed
		switch {
		case p.Quantity == 0:
			p.AvgPrice = decimal.Zero
		case qty > closing:
			p.AvgPrice = price
		}
	}
	p.UpdatedAt = at
	return p, realized
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

// Book holds one position per symbol. Not safe for concurrent use; the
// Manager serializes access.
type Book struct {
	positions map[string]model.Position
}

func NewBook() *Book {
	return &Book{positions: make(map[string]model.Position)}
}

// Fill applies a fill and returns the updated position and realized P&L.
func (b *Book) Fill(symbol string, side model.Side, qty int64, price decimal.Decimal, at time.Time) (model.Position, decimal.Decimal) {
	p := b.positions[symbol]
	p.Symbol = symbol
	p, realized := ApplyFill(p, side, qty, price, at)
	b.positions[symbol] = p
	return p, realized
}

// Mark sets the price used for unrealized P&L.
func (b *Book) Mark(symbol string, price decimal.Decimal, at time.Time) (model.Position, bool) {
	p, ok := b.positions[symbol]
	if !ok {
		return p, false
	}
	p.MarkPrice = price
	p.UpdatedAt = at
	b.positions[symbol] = p
	return p, true
}

// Restore seeds a position loaded from storage.
func (b *Book) Restore(p model.Position) { b.positions[p.Symbol] = p }

func (b *Book) Get(symbol string) model.Position {
	p, ok := b.positions[symbol]
	if !ok {
		return model.Position{Symbol: symbol}
	}
	return p
}

// Open counts non-flat positions.
func (b *Book) Open() int {
	n := 0
	for _, p := range b.positions {
		if !p.IsFlat() {
			n++
		}
	}
	return n
}

// All returns every position sorted by symbol.
func (b *Book) All() []model.Position {
	out := make([]model.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

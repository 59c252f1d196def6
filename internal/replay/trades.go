package replay

import (
	"time"

	"github.com/shopspring/decimal"

	"nifty-engine/internal/model"
	"nifty-engine/internal/order"
)

// Trade is one round trip from flat back to flat.
type Trade struct {
	Side    model.Side      `json:"side"` // direction of the entry
	Qty     int64           `json:"qty"`
	Opened  time.Time       `json:"opened"`
	Closed  time.Time       `json:"closed"`
	Entry   decimal.Decimal `json:"entry"` // average entry price
	Exit    decimal.Decimal `json:"exit"`  // price of the closing fill
	PnL     decimal.Decimal `json:"pnl"`
	ExitTag string          `json:"exit_tag"`
}

// Won reports a strictly positive round trip.
func (t Trade) Won() bool { return t.PnL.IsPositive() }

// ledger folds fills into round trips and tracks the realized equity curve.
type ledger struct {
	pos    model.Position
	open   *Trade
	trades []Trade

	equity decimal.Decimal
	peak   decimal.Decimal
	maxDD  decimal.Decimal
}

func (l *ledger) fill(side model.Side, qty int64, price decimal.Decimal, at time.Time, tag string) {
	before := l.pos.Quantity
	var realized decimal.Decimal
	l.pos, realized = order.ApplyFill(l.pos, side, qty, price, at)
	after := l.pos.Quantity

	if before == 0 {
		l.open = &Trade{Side: side, Qty: qty, Opened: at, Entry: price}
		return
	}
	if l.open == nil {
		return
	}
	l.open.PnL = l.open.PnL.Add(realized)
	if (before > 0) == (after > 0) && after != 0 {
		if abs64(after) > abs64(before) {
			l.open.Qty = abs64(after)
			l.open.Entry = l.pos.AvgPrice
		}
		return
	}

	// flat or flipped
	l.open.Closed, l.open.Exit, l.open.ExitTag = at, price, tag
	l.close(*l.open)
	l.open = nil
	if after != 0 {
		l.open = &Trade{Side: side, Qty: abs64(after), Opened: at, Entry: price}
	}
}

func (l *ledger) close(t Trade) {
	l.trades = append(l.trades, t)
	l.equity = l.equity.Add(t.PnL)
	if l.equity.GreaterThan(l.peak) {
		l.peak = l.equity
	}
	if dd := l.peak.Sub(l.equity); dd.GreaterThan(l.maxDD) {
		l.maxDD = dd
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nifty-engine/internal/model"
)

var bps = decimal.NewFromInt(10000)

// Fill is one simulated execution in the paper ledger.
type Fill struct {
	OrderID       string          `json:"order_id"`
	BrokerOrderID string          `json:"broker_order_id"`
	Symbol        string          `json:"symbol"`
	Side          model.Side      `json:"side"`
	Qty           int64           `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	Slippage      decimal.Decimal `json:"slippage"`
	FilledAt      time.Time       `json:"filled_at"`
}

// Paper simulates execution without broker calls. LIMIT orders fill at
// their price, MARKET orders at the last quote moved against the order by
// SlippageBps. Every order is decided inside Submit, so results are
// deterministic for a given quote sequence.
type Paper struct {
	mu          sync.RWMutex
	quotes      map[string]decimal.Decimal
	fills       []Fill
	done        map[string]bool // broker id -> filled
	seq         int64
	slippageBps int64

	sink chan<- model.OrderEvent
	now  func() time.Time
	log  *slog.Logger
}

// NewPaper creates a paper backend pushing notifications into sink.
// slippageBps is in basis points (5 = 0.05%).
func NewPaper(sink chan<- model.OrderEvent, slippageBps int64, logger *slog.Logger) *Paper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Paper{
		quotes:      make(map[string]decimal.Decimal),
		fills:       make([]Fill, 0, 256),
		done:        make(map[string]bool),
		slippageBps: slippageBps,
		sink:        sink,
		now:         time.Now,
		log:         logger.With("component", "paper"),
	}
}

func (p *Paper) Mode() model.Mode { return model.ModePaper }

// SetClock replaces the fill timestamp source. Backtests pass simulated time.
func (p *Paper) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// SetQuote records the last traded price used for MARKET fills.
func (p *Paper) SetQuote(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	p.quotes[symbol] = price
	p.mu.Unlock()
}

func (p *Paper) Quote(symbol string) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[symbol]
	return q, ok
}

// Fills returns a snapshot of the fill ledger.
func (p *Paper) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *Paper) Submit(ctx context.Context, o model.Order) (string, error) {
	p.mu.Lock()
	p.seq++
	brokerID := fmt.Sprintf("PAPER-%d", p.seq)
	now := p.now()

	var price, slippage decimal.Decimal
	switch o.Type {
	case model.OrderLimit:
		price = o.Price
	default:
		quote, ok := p.quotes[o.Symbol]
		if !ok || !quote.IsPositive() {
			p.mu.Unlock()
			p.log.Warn("no quote for market order", "order_id", o.ID, "symbol", o.Symbol)
			return brokerID, p.emit(ctx, model.OrderEvent{
				OrderID: o.ID, BrokerOrderID: brokerID, Kind: model.EventReject,
				Reason: "paper: no quote for " + o.Symbol, At: now,
			})
		}
		slippage = quote.Mul(decimal.NewFromInt(p.slippageBps)).Div(bps).Round(2)
		price = quote.Add(slippage.Mul(decimal.NewFromInt(o.Side.Sign())))
	}

	p.fills = append(p.fills, Fill{
		OrderID:       o.ID,
		BrokerOrderID: brokerID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Qty:           o.Quantity,
		Price:         price,
		Slippage:      slippage,
		FilledAt:      now,
	})
	p.done[brokerID] = true
	p.mu.Unlock()

	p.log.Info("paper fill",
		"order_id", o.ID, "broker_order_id", brokerID, "symbol", o.Symbol, "side", o.Side,
		"qty", o.Quantity, "price", price.String(), "slippage", slippage.String())

	return brokerID, p.emit(ctx, model.OrderEvent{
		OrderID: o.ID, BrokerOrderID: brokerID, Kind: model.EventFill,
		Qty: o.Quantity, Price: price, At: now,
	})
}

// Cancel fails for anything already filled; paper orders fill or reject
// inside Submit, so there is never a resting order to cancel.
func (p *Paper) Cancel(ctx context.Context, o model.Order) error {
	p.mu.RLock()
	filled := p.done[o.BrokerOrderID]
	p.mu.RUnlock()
	if filled || o.BrokerOrderID == "" {
		return &BackendError{Backend: model.ModePaper, Op: "cancel", Err: errors.New("no resting order")}
	}
	return nil
}

func (p *Paper) emit(ctx context.Context, ev model.OrderEvent) error {
	select {
	case p.sink <- ev:
		return nil
	case <-ctx.Done():
		return &BackendError{Backend: model.ModePaper, Op: "place", Err: ctx.Err()}
	}
}

package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

func (t OrderType) Valid() bool { return t == OrderMarket || t == OrderLimit }

// Mode selects the execution backend and is fixed at order creation.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

func (m Mode) Valid() bool { return m == ModePaper || m == ModeLive }

type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition may be applied.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusRejected || s == StatusCancelled
}

// Order is owned by the order manager; everyone else sees copies.
type Order struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      int64           `json:"quantity"`
	Type          OrderType       `json:"type"`
	Price         decimal.Decimal `json:"price"` // zero for market orders
	Status        OrderStatus     `json:"status"`
	Mode          Mode            `json:"mode"`
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	SecurityID    string          `json:"security_id,omitempty"` // broker routing, from the instrument
	Segment       string          `json:"segment,omitempty"`
	FilledQty     int64           `json:"filled_qty"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	Reason        string          `json:"reason,omitempty"`
	Tag           string          `json:"tag,omitempty"` // strategy name or "manual"
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (o Order) IsTerminal() bool { return o.Status.Terminal() }

// Remaining returns the unfilled quantity.
func (o Order) Remaining() int64 { return o.Quantity - o.FilledQty }

// EventKind is the kind of notification fed into the order state machine.
type EventKind string

const (
	EventCreated   EventKind = "created" // log-only: the order entered Pending
	EventSubmitted EventKind = "submitted"
	EventFill      EventKind = "fill"
	EventReject    EventKind = "reject"
	EventCancelled EventKind = "cancelled"
)

// OrderEvent is the only input of the order transition function. Fill
// events carry the incremental quantity and its price.
type OrderEvent struct {
	OrderID       string          `json:"order_id"`
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	Kind          EventKind       `json:"kind"`
	Qty           int64           `json:"qty,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Reason        string          `json:"reason,omitempty"`
	At            time.Time       `json:"at"`
}

// OrderRecord is one row of the append-only order log.
type OrderRecord struct {
	Seq     int64       `json:"seq"`
	OrderID string      `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
	Event   OrderEvent  `json:"event"`
	Order   Order       `json:"order"`
	At      time.Time   `json:"at"`
}

// JSON returns the JSON-encoded record (ignoring errors for hot-path usage).
func (r *OrderRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

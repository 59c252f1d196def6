package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"nifty-engine/internal/metrics"
	"nifty-engine/internal/model"
)

// Backend executes orders for one mode. Notifications (fills, rejects,
// cancels) come back asynchronously on the event channel the Manager reads.
type Backend interface {
	Mode() model.Mode
	Submit(ctx context.Context, o model.Order) (brokerOrderID string, err error)
	Cancel(ctx context.Context, o model.Order) error
}

// Backends resolves the backend for an order's mode.
type Backends interface {
	For(mode model.Mode) (Backend, error)
}

// SubmitRequest is a strategy or manual order request.
type SubmitRequest struct {
	Instrument model.Instrument `json:"instrument"`
	Side       model.Side       `json:"side"`
	Quantity   int64            `json:"quantity"`
	Type       model.OrderType  `json:"type"`
	Price      decimal.Decimal  `json:"price"`
	Mode       model.Mode       `json:"mode"`
	Tag        string           `json:"tag,omitempty"`
}

// Validate checks the request shape. Market orders carry no price.
func (r SubmitRequest) Validate() error {
	var problems []string
	if r.Instrument.Symbol == "" {
		problems = append(problems, "missing symbol")
	}
	if !r.Side.Valid() {
		problems = append(problems, fmt.Sprintf("side %q", r.Side))
	}
	if r.Quantity <= 0 {
		problems = append(problems, fmt.Sprintf("quantity %d", r.Quantity))
	} else if lot := r.Instrument.LotSize; lot > 0 && r.Quantity%lot != 0 {
		problems = append(problems, fmt.Sprintf("quantity %d not a multiple of lot %d", r.Quantity, lot))
	}
	if !r.Type.Valid() {
		problems = append(problems, fmt.Sprintf("type %q", r.Type))
	}
	if r.Type == model.OrderLimit && !r.Price.IsPositive() {
		problems = append(problems, "limit order needs a positive price")
	}
	if !r.Mode.Valid() {
		problems = append(problems, fmt.Sprintf("mode %q", r.Mode))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOrderRequest, strings.Join(problems, "; "))
	}
	return nil
}

// Options wires the Manager's collaborators. Every field is optional.
type Options struct {
	Risk      *RiskManager
	OrderLog  model.OrderLog
	Positions model.PositionStore
	Publisher model.StatePublisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

type view struct {
	orders    map[string]model.Order
	list      []model.Order
	positions []model.Position
}

// Manager is the single writer of order and position state. One mutex
// serializes every mutation, so events are applied in arrival order; it
// is never held across a backend call. Reads go to an atomically published
// view and never take the lock.
type Manager struct {
	backends Backends
	events   <-chan model.OrderEvent
	opts     Options
	log      *slog.Logger
	m        *metrics.Metrics

	mu       sync.Mutex
	orders   map[string]model.Order
	created  []string
	byBroker map[string]string
	book     *Book
	seq      int64

	view atomic.Pointer[view]
}

// NewManager creates a manager reading backend notifications from events.
func NewManager(backends Backends, events <-chan model.OrderEvent, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	if opts.Risk == nil {
		opts.Risk = NewRiskManager(RiskLimits{}, opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	mgr := &Manager{
		backends: backends,
		events:   events,
		opts:     opts,
		log:      opts.Logger.With("component", "order"),
		m:        opts.Metrics,
		orders:   make(map[string]model.Order),
		byBroker: make(map[string]string),
		book:     NewBook(),
	}
	mgr.publishView()
	return mgr
}

// Restore loads persisted positions. Call before Run.
func (mgr *Manager) Restore(ctx context.Context) error {
	if mgr.opts.Positions == nil {
		return nil
	}
	ps, err := mgr.opts.Positions.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	mgr.mu.Lock()
	for _, p := range ps {
		mgr.book.Restore(p)
	}
	mgr.publishView()
	mgr.mu.Unlock()
	mgr.log.Info("positions restored", "count", len(ps))
	return nil
}

// Risk exposes the risk manager (daily reset, status).
func (mgr *Manager) Risk() *RiskManager { return mgr.opts.Risk }

// SubmitOrder validates and risk-checks req, records the order as Pending
// and hands it to the backend for its mode. On backend failure the order
// is Rejected and the backend error returned along with the order id.
func (mgr *Manager) SubmitOrder(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Type == model.OrderMarket {
		req.Price = decimal.Zero
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	backend, err := mgr.backends.For(req.Mode)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrderRequest, err)
	}

	now := mgr.opts.Now()
	o := model.Order{
		ID:         uuid.NewString(),
		Symbol:     req.Instrument.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Type:       req.Type,
		Price:      req.Price,
		Status:     model.StatusPending,
		Mode:       req.Mode,
		SecurityID: req.Instrument.DhanSecurityID,
		Segment:    req.Instrument.DhanSegment,
		Tag:        req.Tag,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	mgr.mu.Lock()
	if err := mgr.opts.Risk.Check(req.Side, req.Quantity, mgr.book.Get(o.Symbol), mgr.book.Open()); err != nil {
		mgr.mu.Unlock()
		mgr.log.Warn("order blocked by risk", "symbol", o.Symbol, "side", o.Side, "qty", o.Quantity, "err", err)
		return "", err
	}
	mgr.orders[o.ID] = o
	mgr.created = append(mgr.created, o.ID)
	rec := mgr.recordLocked(ctx, "", o, model.OrderEvent{OrderID: o.ID, Kind: model.EventCreated, At: now})
	mgr.publishView()
	mgr.mu.Unlock()
	mgr.publishRecord(ctx, rec, nil)

	mgr.log.Info("order created",
		"order_id", o.ID, "symbol", o.Symbol, "side", o.Side, "qty", o.Quantity,
		"type", o.Type, "price", o.Price.String(), "mode", o.Mode, "tag", o.Tag)

	brokerID, err := backend.Submit(ctx, o)
	if err != nil {
		mgr.Apply(ctx, model.OrderEvent{
			OrderID: o.ID, Kind: model.EventReject, Reason: err.Error(), At: mgr.opts.Now(),
		})
		return o.ID, fmt.Errorf("submit %s: %w", o.ID, err)
	}
	mgr.Apply(ctx, model.OrderEvent{
		OrderID: o.ID, BrokerOrderID: brokerID, Kind: model.EventSubmitted, At: mgr.opts.Now(),
	})
	return o.ID, nil
}

// CancelOrder asks the backend to cancel and applies Cancelled when it
// agrees. Terminal orders, failed backend cancels and orders that filled
// while the cancel was in flight all return ErrOrderNotCancellable.
func (mgr *Manager) CancelOrder(ctx context.Context, id string) error {
	mgr.mu.Lock()
	o, ok := mgr.orders[id]
	mgr.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if o.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrOrderNotCancellable, id, o.Status)
	}

	backend, err := mgr.backends.For(o.Mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOrderNotCancellable, err)
	}
	if err := backend.Cancel(ctx, o); err != nil {
		mgr.log.Warn("backend cancel failed", "order_id", id, "err", err)
		return fmt.Errorf("%w: %w", ErrOrderNotCancellable, err)
	}

	next, outcome, err := mgr.Apply(ctx, model.OrderEvent{
		OrderID: id, Kind: model.EventCancelled, Reason: "cancel requested", At: mgr.opts.Now(),
	})
	if err != nil {
		return err
	}
	if outcome == OutcomeIgnored {
		return fmt.Errorf("%w: %s became %s first", ErrOrderNotCancellable, id, next.Status)
	}
	return nil
}

// Run applies backend notifications until ctx is done or the channel closes.
func (mgr *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-mgr.events:
			if !ok {
				return
			}
			mgr.Apply(ctx, ev)
		}
	}
}

// Apply runs one event through the state machine, updating the position,
// order log, stores and published view. Events are matched by order id,
// falling back to the broker order id.
func (mgr *Manager) Apply(ctx context.Context, ev model.OrderEvent) (model.Order, Outcome, error) {
	mgr.mu.Lock()

	id := ev.OrderID
	if id == "" {
		id = mgr.byBroker[ev.BrokerOrderID]
	}
	prev, ok := mgr.orders[id]
	if !ok {
		mgr.mu.Unlock()
		mgr.m.OrderAnomalies.WithLabelValues("unknown-order").Inc()
		mgr.log.Warn("event for unknown order", "order_id", ev.OrderID, "broker_order_id", ev.BrokerOrderID, "kind", ev.Kind)
		return model.Order{}, OutcomeIgnored, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	ev.OrderID = id

	next, outcome, err := Transition(prev, ev)
	if err != nil {
		mgr.mu.Unlock()
		mgr.m.OrderAnomalies.WithLabelValues("invalid-event").Inc()
		mgr.log.Warn("invalid order event", "order_id", id, "kind", ev.Kind, "err", err)
		return prev, outcome, err
	}

	switch outcome {
	case OutcomeIgnored:
		mgr.mu.Unlock()
		if ev.Kind == model.EventSubmitted {
			// placement ack racing a fill notification
			return prev, outcome, nil
		}
		mgr.m.OrderAnomalies.WithLabelValues("terminal").Inc()
		mgr.log.Warn("event on terminal order ignored",
			"order_id", id, "status", prev.Status, "kind", ev.Kind, "qty", ev.Qty)
		return prev, outcome, nil
	case OutcomeAnnotated:
		mgr.orders[id] = next
		mgr.indexBroker(next)
		mgr.publishView()
		mgr.mu.Unlock()
		return next, outcome, nil
	case OutcomeClamped:
		mgr.m.OrderAnomalies.WithLabelValues("overfill").Inc()
		mgr.log.Warn("overfill clamped", "order_id", id, "event_qty", ev.Qty, "remaining", prev.Remaining())
	}

	mgr.orders[id] = next
	mgr.indexBroker(next)

	var pos *model.Position
	if filled := next.FilledQty - prev.FilledQty; filled > 0 {
		p, realized := mgr.book.Fill(next.Symbol, next.Side, filled, ev.Price, next.UpdatedAt)
		mgr.opts.Risk.RecordPnL(realized)
		mgr.savePositionLocked(ctx, p)
		pos = &p
	}
	rec := mgr.recordLocked(ctx, prev.Status, next, ev)
	mgr.publishView()
	mgr.mu.Unlock()

	mgr.publishRecord(ctx, rec, pos)
	mgr.log.Info("order transition",
		"order_id", id, "from", prev.Status, "to", next.Status, "kind", ev.Kind,
		"filled", next.FilledQty, "avg_price", next.AvgFillPrice.String())
	return next, outcome, nil
}

// Mark updates the mark price used for unrealized P&L.
func (mgr *Manager) Mark(ctx context.Context, symbol string, price decimal.Decimal) {
	mgr.mu.Lock()
	p, ok := mgr.book.Mark(symbol, price, mgr.opts.Now())
	if ok {
		mgr.publishView()
	}
	mgr.mu.Unlock()
	if ok {
		mgr.m.UnrealizedPnL.WithLabelValues(symbol).Set(p.UnrealizedPnL().InexactFloat64())
		if mgr.opts.Publisher != nil {
			if err := mgr.opts.Publisher.PublishPosition(ctx, p.View()); err != nil {
				mgr.log.Debug("publish position failed", "err", err)
			}
		}
	}
}

// GetOrder returns a copy of the order.
func (mgr *Manager) GetOrder(id string) (model.Order, error) {
	o, ok := mgr.view.Load().orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return o, nil
}

// Orders returns every order in creation order.
func (mgr *Manager) Orders() []model.Order {
	return append([]model.Order(nil), mgr.view.Load().list...)
}

// OpenOrders returns the non-terminal orders for symbol.
func (mgr *Manager) OpenOrders(symbol string) []model.Order {
	var out []model.Order
	for _, o := range mgr.view.Load().list {
		if o.Symbol == symbol && !o.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

// GetPosition returns the current position (flat if none).
func (mgr *Manager) GetPosition(symbol string) model.Position {
	for _, p := range mgr.view.Load().positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return model.Position{Symbol: symbol}
}

// Positions returns all positions sorted by symbol.
func (mgr *Manager) Positions() []model.Position {
	return append([]model.Position(nil), mgr.view.Load().positions...)
}

func (mgr *Manager) indexBroker(o model.Order) {
	if o.BrokerOrderID != "" {
		mgr.byBroker[o.BrokerOrderID] = o.ID
	}
}

// publishView must be called with mu held.
func (mgr *Manager) publishView() {
	v := &view{
		orders:    make(map[string]model.Order, len(mgr.orders)),
		list:      make([]model.Order, 0, len(mgr.created)),
		positions: mgr.book.All(),
	}
	for _, id := range mgr.created {
		o := mgr.orders[id]
		v.orders[id] = o
		v.list = append(v.list, o)
	}
	mgr.view.Store(v)
}

// recordLocked appends one order-log row. Called with mu held so log order
// matches apply order.
func (mgr *Manager) recordLocked(ctx context.Context, from model.OrderStatus, o model.Order, ev model.OrderEvent) model.OrderRecord {
	mgr.seq++
	rec := model.OrderRecord{
		Seq:     mgr.seq,
		OrderID: o.ID,
		From:    from,
		To:      o.Status,
		Event:   ev,
		Order:   o,
		At:      mgr.opts.Now(),
	}
	if mgr.opts.OrderLog != nil {
		seq, err := mgr.opts.OrderLog.Append(ctx, rec)
		if err != nil {
			mgr.log.Error("order log append failed", "order_id", o.ID, "err", err)
		} else {
			rec.Seq = seq
		}
	}
	if from != "" {
		mgr.m.OrderTransitions.WithLabelValues(string(o.Status), string(o.Mode)).Inc()
	}
	return rec
}

func (mgr *Manager) savePositionLocked(ctx context.Context, p model.Position) {
	mgr.m.PositionQty.WithLabelValues(p.Symbol).Set(float64(p.Quantity))
	mgr.m.RealizedPnL.WithLabelValues(p.Symbol).Set(p.RealizedPnL.InexactFloat64())
	if mgr.opts.Positions == nil {
		return
	}
	if err := mgr.opts.Positions.SavePosition(ctx, p); err != nil {
		mgr.log.Error("save position failed", "symbol", p.Symbol, "err", err)
	}
}

// publishRecord pushes state to dashboards. Best effort, outside the lock.
func (mgr *Manager) publishRecord(ctx context.Context, rec model.OrderRecord, pos *model.Position) {
	pub := mgr.opts.Publisher
	if pub == nil {
		return
	}
	if err := pub.PublishOrder(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
		mgr.log.Debug("publish order failed", "err", err)
	}
	if pos != nil {
		if err := pub.PublishPosition(ctx, pos.View()); err != nil && !errors.Is(err, context.Canceled) {
			mgr.log.Debug("publish position failed", "err", err)
		}
	}
}

package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nifty-engine/internal/metrics"
	"nifty-engine/internal/model"
	"nifty-engine/internal/retry"
	"nifty-engine/pkg/dhan"
)

// Broker is the subset of the Dhan client the live backend uses.
type Broker interface {
	PlaceOrder(ctx context.Context, req dhan.OrderRequest) (*dhan.OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) (*dhan.OrderAck, error)
	GetOrder(ctx context.Context, orderID string) (*dhan.OrderDetail, error)
}

// LiveConfig controls the live backend.
type LiveConfig struct {
	Segment        string        `yaml:"segment"`      // when the instrument names none
	ProductType    string        `yaml:"product_type"` // INTRADAY
	Validity       string        `yaml:"validity"`     // DAY
	SubmitTimeout  time.Duration `yaml:"submit_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ParkTTL        time.Duration `yaml:"park_ttl"`
	MaxRetries     uint          `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		Segment:        "NSE_FNO",
		ProductType:    "INTRADAY",
		Validity:       "DAY",
		SubmitTimeout:  10 * time.Second,
		PollInterval:   5 * time.Second,
		ParkTTL:        2 * time.Minute,
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
	}
}

// brokerState is a normalized order-status report from the feed or a poll.
// FilledQty and AvgPrice are cumulative.
type brokerState struct {
	BrokerOrderID string
	Status        string
	FilledQty     int64
	AvgPrice      float64
	LastPrice     float64
	Reason        string
}

func stateFromUpdate(u dhan.OrderUpdate) brokerState {
	return brokerState{
		BrokerOrderID: u.OrderNo,
		Status:        u.Status,
		FilledQty:     u.TradedQty,
		AvgPrice:      u.AvgTradedPrice,
		LastPrice:     u.TradedPrice,
		Reason:        u.ReasonDescription,
	}
}

func stateFromDetail(d *dhan.OrderDetail) brokerState {
	return brokerState{
		BrokerOrderID: d.OrderID,
		Status:        dhan.NormalizeStatus(d.OrderStatus),
		FilledQty:     d.FilledQty,
		AvgPrice:      d.AverageTradedPrice,
		Reason:        d.OmsErrorDesc,
	}
}

// tracked is what the backend knows about one live order.
type tracked struct {
	orderID   string
	qty       int64
	filledQty int64
	filledVal decimal.Decimal // cumulative qty * avg price already reported
	done      bool
}

type parked struct {
	state brokerState
	at    time.Time
}

// Live places orders with Dhan and turns asynchronous status reports into
// OrderEvents. Reports carry cumulative fills, so each is converted to the
// delta since the last report and duplicates produce nothing. Reports for
// broker ids not yet returned by a placement are parked and replayed once
// the placement returns.
type Live struct {
	broker      Broker
	cfg         LiveConfig
	instruments map[string]model.Instrument
	sink        chan<- model.OrderEvent
	retryer     *retry.Retryer
	m           *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	orders map[string]*tracked // broker id -> state
	parked map[string][]parked
}

// NewLive creates the live backend. instruments maps symbols to the Dhan
// security ids orders are placed against.
func NewLive(broker Broker, cfg LiveConfig, instruments []model.Instrument, sink chan<- model.OrderEvent, m *metrics.Metrics, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Discard()
	}
	byName := make(map[string]model.Instrument, len(instruments))
	for _, inst := range instruments {
		byName[inst.Symbol] = inst
	}
	return &Live{
		broker:      broker,
		cfg:         cfg,
		instruments: byName,
		sink:        sink,
		retryer:     retry.NewRetryer(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		m:           m,
		log:         logger.With("component", "live"),
		now:         time.Now,
		orders:      make(map[string]*tracked),
		parked:      make(map[string][]parked),
	}
}

func (l *Live) Mode() model.Mode { return model.ModeLive }

// Submit places the order once. A timeout or error is returned as is and
// never retried: a retry after an ambiguous failure could place twice.
func (l *Live) Submit(ctx context.Context, o model.Order) (string, error) {
	securityID, segment, err := l.route(o)
	if err != nil {
		return "", &BackendError{Backend: model.ModeLive, Op: "place", Err: err}
	}
	req := dhan.OrderRequest{
		TransactionType: string(o.Side),
		ExchangeSegment: segment,
		ProductType:     l.cfg.ProductType,
		OrderType:       string(o.Type),
		Validity:        l.cfg.Validity,
		SecurityID:      securityID,
		Quantity:        o.Quantity,
	}
	if o.Type == model.OrderLimit {
		req.Price = o.Price.InexactFloat64()
	}

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.SubmitTimeout)
	defer cancel()
	ack, err := l.broker.PlaceOrder(callCtx, req)
	if err != nil {
		return "", &BackendError{Backend: model.ModeLive, Op: "place", Temporary: temporary(err), Err: err}
	}
	if ack.OrderID == "" {
		return "", &BackendError{Backend: model.ModeLive, Op: "place", Err: errors.New("empty order id in ack")}
	}
	if dhan.NormalizeStatus(ack.OrderStatus) == dhan.StatusRejected {
		return "", &BackendError{Backend: model.ModeLive, Op: "place", Err: fmt.Errorf("order %s rejected at placement", ack.OrderID)}
	}

	l.mu.Lock()
	l.orders[ack.OrderID] = &tracked{orderID: o.ID, qty: o.Quantity}
	early := l.parked[ack.OrderID]
	delete(l.parked, ack.OrderID)
	l.mu.Unlock()

	l.log.Info("order placed", "order_id", o.ID, "broker_order_id", ack.OrderID,
		"side", o.Side, "qty", o.Quantity, "type", o.Type, "status", ack.OrderStatus)

	for _, p := range early {
		l.reconcile(ctx, p.state)
	}
	return ack.OrderID, nil
}

// route returns the security id and segment an order is placed against.
// Orders carry them from their instrument; bare symbols are looked up in
// the configured instruments. Index segments are refused: an index trades
// only through its options.
func (l *Live) route(o model.Order) (string, string, error) {
	securityID, segment := o.SecurityID, o.Segment
	if securityID == "" {
		inst, ok := l.instruments[o.Symbol]
		if !ok || inst.DhanSecurityID == "" {
			return "", "", fmt.Errorf("no dhan security id for %s", o.Symbol)
		}
		if !inst.Tradeable() {
			return "", "", fmt.Errorf("%s is an index; trade its options", o.Symbol)
		}
		securityID, segment = inst.DhanSecurityID, inst.DhanSegment
	}
	if segment == "" {
		segment = l.cfg.Segment
	}
	if segment == dhan.SegmentIndex {
		return "", "", fmt.Errorf("%s is an index; trade its options", o.Symbol)
	}
	return securityID, segment, nil
}

// Cancel asks Dhan to cancel, retrying transient failures.
func (l *Live) Cancel(ctx context.Context, o model.Order) error {
	if o.BrokerOrderID == "" {
		return &BackendError{Backend: model.ModeLive, Op: "cancel", Err: errors.New("order not yet acknowledged")}
	}
	err := l.retryer.Do(ctx, func(attempt uint) (bool, error) {
		_, err := l.broker.CancelOrder(ctx, o.BrokerOrderID)
		if err != nil {
			if attempt > 0 || temporary(err) {
				l.log.Warn("cancel failed", "broker_order_id", o.BrokerOrderID, "attempt", attempt, "err", err)
			}
			return temporary(err), err
		}
		return false, nil
	})
	if err != nil {
		return &BackendError{Backend: model.ModeLive, Op: "cancel", Temporary: temporary(err), Err: err}
	}
	l.mu.Lock()
	if t, ok := l.orders[o.BrokerOrderID]; ok {
		t.done = true
	}
	l.mu.Unlock()
	return nil
}

// Run reconciles feed updates and polls open orders every PollInterval
// until ctx is done. updates may be nil when the feed is disabled.
func (l *Live) Run(ctx context.Context, updates <-chan dhan.OrderUpdate) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			l.reconcile(ctx, stateFromUpdate(u))
		case <-ticker.C:
			l.poll(ctx)
			l.pruneParked()
		}
	}
}

// poll fetches every open order's state.
func (l *Live) poll(ctx context.Context) {
	l.mu.Lock()
	var open []string
	for id, t := range l.orders {
		if !t.done {
			open = append(open, id)
		}
	}
	l.mu.Unlock()

	for _, id := range open {
		var detail *dhan.OrderDetail
		err := l.retryer.Do(ctx, func(uint) (bool, error) {
			d, err := l.broker.GetOrder(ctx, id)
			if err != nil {
				return temporary(err), err
			}
			detail = d
			return false, nil
		})
		if err != nil {
			if ctx.Err() == nil {
				l.log.Warn("order poll failed", "broker_order_id", id, "err", err)
			}
			continue
		}
		if detail.OrderID == "" {
			detail.OrderID = id
		}
		l.reconcile(ctx, stateFromDetail(detail))
	}
}

// reconcile turns one broker report into zero or more events. Reports are
// cumulative, so replays and feed/poll duplicates emit nothing.
func (l *Live) reconcile(ctx context.Context, st brokerState) {
	l.mu.Lock()
	t, ok := l.orders[st.BrokerOrderID]
	if !ok {
		l.parked[st.BrokerOrderID] = append(l.parked[st.BrokerOrderID], parked{state: st, at: l.now()})
		l.mu.Unlock()
		l.log.Debug("parked early report", "broker_order_id", st.BrokerOrderID, "status", st.Status)
		return
	}
	if t.done {
		l.mu.Unlock()
		return
	}

	now := l.now()
	var events []model.OrderEvent
	if delta := st.FilledQty - t.filledQty; delta > 0 {
		cum := decimal.NewFromFloat(st.AvgPrice).Mul(decimal.NewFromInt(st.FilledQty))
		price := cum.Sub(t.filledVal).Div(decimal.NewFromInt(delta)).Round(2)
		if !price.IsPositive() {
			price = decimal.NewFromFloat(st.LastPrice)
		}
		if !price.IsPositive() {
			price = decimal.NewFromFloat(st.AvgPrice)
		}
		t.filledQty = st.FilledQty
		t.filledVal = cum
		events = append(events, model.OrderEvent{
			OrderID: t.orderID, BrokerOrderID: st.BrokerOrderID, Kind: model.EventFill,
			Qty: delta, Price: price, At: now,
		})
	}

	switch st.Status {
	case dhan.StatusTraded:
		rest := t.qty - t.filledQty
		if rest <= 0 {
			t.done = true
			break
		}
		// TRADED with a stale cumulative quantity: the remainder filled at
		// whatever the average price implies.
		avg := decimal.NewFromFloat(st.AvgPrice)
		if !avg.IsPositive() {
			avg = decimal.NewFromFloat(st.LastPrice)
		}
		if !avg.IsPositive() {
			l.log.Warn("traded report without a price, still polling",
				"broker_order_id", st.BrokerOrderID, "filled_qty", st.FilledQty)
			break
		}
		cum := avg.Mul(decimal.NewFromInt(t.qty))
		price := cum.Sub(t.filledVal).Div(decimal.NewFromInt(rest)).Round(2)
		if !price.IsPositive() {
			price = avg
		}
		t.filledQty, t.filledVal, t.done = t.qty, cum, true
		l.m.OrderAnomalies.WithLabelValues("traded-qty-stale").Inc()
		events = append(events, model.OrderEvent{
			OrderID: t.orderID, BrokerOrderID: st.BrokerOrderID, Kind: model.EventFill,
			Qty: rest, Price: price, At: now,
		})
	case dhan.StatusRejected:
		t.done = true
		events = append(events, model.OrderEvent{
			OrderID: t.orderID, BrokerOrderID: st.BrokerOrderID, Kind: model.EventReject,
			Reason: st.Reason, At: now,
		})
	case dhan.StatusCancelled, dhan.StatusExpired:
		t.done = true
		events = append(events, model.OrderEvent{
			OrderID: t.orderID, BrokerOrderID: st.BrokerOrderID, Kind: model.EventCancelled,
			Reason: "broker " + st.Status, At: now,
		})
	}
	l.mu.Unlock()

	for _, ev := range events {
		select {
		case l.sink <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Live) pruneParked() {
	cutoff := l.now().Add(-l.cfg.ParkTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ps := range l.parked {
		if ps[len(ps)-1].at.Before(cutoff) {
			delete(l.parked, id)
			l.m.OrderAnomalies.WithLabelValues("unmatched-report").Inc()
			l.log.Warn("dropped report for unknown order", "broker_order_id", id, "status", ps[len(ps)-1].state.Status)
		}
	}
}

// temporary reports errors worth retrying on idempotent calls.
func temporary(err error) bool {
	var apiErr *dhan.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary() || apiErr.RateLimited()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Package runner drives one instrument's strategy loop: warm the indicator
// engine from history, then on every scheduled tick fetch the live bar,
// publish the new revision, enforce protective exits and turn strategy
// signals into orders. With trade_options set, signals on the index buy
// its calls or puts and exits are judged on the option premium.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"nifty-engine/internal/fallback"
	"nifty-engine/internal/indicator"
	"nifty-engine/internal/logger"
	"nifty-engine/internal/markethours"
	"nifty-engine/internal/metrics"
	"nifty-engine/internal/model"
	"nifty-engine/internal/notification"
	"nifty-engine/internal/options"
	"nifty-engine/internal/order"
	"nifty-engine/internal/strategy"
)

// MarketData is the slice of the fallback engine the loop uses.
type MarketData interface {
	GetHistory(ctx context.Context, inst model.Instrument, iv model.Interval, rng model.TimeRange) (model.Series, error)
	GetLiveTick(ctx context.Context, inst model.Instrument, iv model.Interval) (model.Bar, error)
	Probe(ctx context.Context, inst model.Instrument) []fallback.ProbeResult
}

// Orders is the slice of the order manager the loop uses.
type Orders interface {
	SubmitOrder(ctx context.Context, req order.SubmitRequest) (string, error)
	CancelOrder(ctx context.Context, id string) error
	OpenOrders(symbol string) []model.Order
	GetPosition(symbol string) model.Position
	Mark(ctx context.Context, symbol string, price decimal.Decimal)
	Risk() *order.RiskManager
}

// QuoteSink receives every live close, e.g. the paper backend's price for
// market orders.
type QuoteSink interface {
	SetQuote(symbol string, price decimal.Decimal)
}

// Contracts resolves and quotes option contracts; *options.Resolver
// satisfies it.
type Contracts interface {
	Resolve(ctx context.Context, underlying model.Instrument, bullish bool) (options.Contract, error)
	Quote(ctx context.Context, underlying model.Instrument, c options.Contract) (decimal.Decimal, error)
}

// SeriesCache stores warm-up history.
type SeriesCache interface {
	SaveSeries(ctx context.Context, s model.Series) error
}

// Cycle outcomes, used as the metrics label and returned by Cycle.
const (
	OutcomeClosed          = "closed"
	OutcomeDataUnavailable = "data_unavailable"
	OutcomeError           = "error"
	OutcomePending         = "pending_order"
	OutcomeNoSignal        = "no_signal"
	OutcomeOutsideWindow   = "outside_order_window"
	OutcomeEntryLimit      = "entry_limit"
	OutcomeEntry           = "entry"
	OutcomeExit            = "exit"
	OutcomeRejected        = "rejected"
	OutcomeNoContract      = "no_contract"
)

// Options wires optional collaborators.
type Options struct {
	Cache     SeriesCache
	Quotes    QuoteSink
	Contracts Contracts
	Publisher model.StatePublisher
	Notifier  notification.Notifier
	Health    *metrics.HealthStatus
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Runner owns the loop for one instrument. Cycle, SquareOff and ResetDaily
// are serialized.
type Runner struct {
	cfg    Config
	clk    clocks
	data   MarketData
	ind    *indicator.Engine
	strat  strategy.Strategy
	orders Orders
	opts   Options
	m      *metrics.Metrics
	log    *slog.Logger

	mu       sync.Mutex
	loaded   bool
	entries  int
	day      time.Time
	lastBar  model.Bar
	held     *options.Contract // option bought by the last entry until it is flat
	cron     *cron.Cron
	cronStop context.CancelFunc
}

func New(cfg Config, data MarketData, ind *indicator.Engine, strat strategy.Strategy, orders Orders, opts Options) (*Runner, error) {
	clk, err := cfg.parse()
	if err != nil {
		return nil, err
	}
	if data == nil || ind == nil || strat == nil || orders == nil {
		return nil, fmt.Errorf("runner: market data, indicator engine, strategy and orders are required")
	}
	if cfg.TradeOptions && opts.Contracts == nil {
		return nil, fmt.Errorf("runner: trade_options needs a contract resolver")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	if opts.Notifier == nil {
		opts.Notifier = notification.NewLogNotifier(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		cfg:    cfg,
		clk:    clk,
		data:   data,
		ind:    ind,
		strat:  strat,
		orders: orders,
		opts:   opts,
		m:      opts.Metrics,
		log:    logger.Component(opts.Logger, "runner").With("symbol", cfg.Instrument.Symbol),
	}, nil
}

// Warmup loads history into the indicator engine. It is retried by the
// next cycle if it fails.
func (r *Runner) Warmup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warmupLocked(ctx)
}

func (r *Runner) warmupLocked(ctx context.Context) error {
	inst := r.cfg.Instrument
	series, err := r.data.GetHistory(ctx, inst, r.cfg.Interval, r.cfg.historyRange(r.opts.Now()))
	if err != nil {
		if errors.Is(err, fallback.ErrDataUnavailable) {
			r.m.DataUnavailable.WithLabelValues("history").Inc()
		}
		return fmt.Errorf("warmup %s: %w", inst.Symbol, err)
	}
	if r.opts.Cache != nil {
		if err := r.opts.Cache.SaveSeries(ctx, series); err != nil {
			r.log.Warn("cache warm-up series failed", "err", err)
		}
	}
	set, err := r.ind.Load(series)
	if err != nil {
		return fmt.Errorf("warmup %s: %w", inst.Symbol, err)
	}
	r.loaded = true
	if b, ok := series.Last(); ok {
		r.lastBar = b
	}
	r.publish(ctx, set)
	r.log.Info("warm-up complete",
		"bars", series.Len(), "provider", series.Provider, "completeness", series.Completeness, "gaps", len(series.Gaps))
	return nil
}

// Cycle runs one loop iteration and returns its outcome.
func (r *Runner) Cycle(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.Now()
	outcome, err := r.cycleLocked(ctx, now)
	if outcome != OutcomeClosed {
		r.m.Cycles.WithLabelValues(r.cfg.Instrument.Symbol, outcome).Inc()
		if r.opts.Health != nil {
			r.opts.Health.SetLastCycle(now)
		}
	}
	return outcome, err
}

func (r *Runner) cycleLocked(ctx context.Context, now time.Time) (string, error) {
	if !r.clk.trading.Contains(now) {
		r.m.MarketState.Set(0)
		return OutcomeClosed, nil
	}
	r.m.MarketState.Set(1)
	r.rollDay(now)

	inst := r.cfg.Instrument
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(inst.Symbol, now))
	log := r.log.With(logger.LogWithTrace(ctx)...)

	if !r.loaded {
		if err := r.warmupLocked(ctx); err != nil {
			return r.dataFailure(ctx, log, err)
		}
	}

	bar, err := r.data.GetLiveTick(ctx, inst, r.cfg.Interval)
	if err != nil {
		if errors.Is(err, fallback.ErrDataUnavailable) {
			r.m.DataUnavailable.WithLabelValues("live").Inc()
		}
		return r.dataFailure(ctx, log, err)
	}
	set, err := r.ind.Append(bar)
	if err != nil {
		log.Warn("live bar rejected", "ts", bar.TS, "err", err)
		return OutcomeError, err
	}
	r.lastBar = bar
	r.publish(ctx, set)

	price := decimal.NewFromFloat(bar.Close)
	r.quote(ctx, inst.Symbol, price)

	traded, mark := inst, price
	if r.held != nil {
		premium, err := r.opts.Contracts.Quote(ctx, inst, *r.held)
		if err != nil {
			log.Warn("contract quote failed", "contract", r.held.Instrument.Symbol, "err", err)
			return r.dataFailure(ctx, log, err)
		}
		traded, mark = r.held.Instrument, premium
		r.quote(ctx, traded.Symbol, mark)
	}

	if len(r.orders.OpenOrders(traded.Symbol)) > 0 {
		log.Debug("order in flight, skipping signals", "symbol", traded.Symbol)
		return OutcomePending, nil
	}

	pos := r.orders.GetPosition(traded.Symbol)
	if r.held != nil && pos.IsFlat() {
		log.Info("contract position closed", "contract", traded.Symbol)
		r.held, traded = nil, inst
		pos = r.orders.GetPosition(inst.Symbol)
	}
	if reason := r.protective(pos, mark); reason != "" {
		return r.exit(ctx, log, traded, pos, reason)
	}

	sig := r.strat.Evaluate(set, r.exposure(pos))
	if sig == nil {
		return OutcomeNoSignal, nil
	}
	if sig.Action == strategy.ActionExit {
		if pos.IsFlat() {
			return OutcomeNoSignal, nil
		}
		return r.exit(ctx, log, traded, pos, sig.Strategy+": "+sig.Reason)
	}
	if !pos.IsFlat() {
		return OutcomeNoSignal, nil
	}
	if !r.clk.orders.Contains(now) {
		log.Debug("entry signal outside order window", "action", sig.Action, "window", r.clk.orders.String())
		return OutcomeOutsideWindow, nil
	}
	if limit := r.cfg.MaxEntriesPerDay; limit > 0 && r.entries >= limit {
		log.Debug("entry limit reached", "entries", r.entries)
		return OutcomeEntryLimit, nil
	}
	return r.enter(ctx, log, sig)
}

func (r *Runner) quote(ctx context.Context, symbol string, price decimal.Decimal) {
	if r.opts.Quotes != nil {
		r.opts.Quotes.SetQuote(symbol, price)
	}
	r.orders.Mark(ctx, symbol, price)
}

// exposure is pos seen from the index: a long put is short the index.
func (r *Runner) exposure(pos model.Position) model.Position {
	if r.held == nil {
		return pos
	}
	pos.Symbol = r.cfg.Instrument.Symbol
	if r.held.Type == model.OptionPut {
		pos.Quantity = -pos.Quantity
	}
	return pos
}

// protective returns a non-empty reason when pos hit take-profit or
// stop-loss at price.
func (r *Runner) protective(pos model.Position, price decimal.Decimal) string {
	if pos.IsFlat() || !pos.AvgPrice.IsPositive() {
		return ""
	}
	move := price.Sub(pos.AvgPrice).Div(pos.AvgPrice).Mul(decimal.NewFromInt(100))
	if pos.Quantity < 0 {
		move = move.Neg()
	}
	if tp := r.cfg.TakeProfitPct; tp > 0 && move.GreaterThanOrEqual(decimal.NewFromFloat(tp)) {
		return fmt.Sprintf("take-profit %s%%", move.StringFixed(2))
	}
	if sl := r.cfg.StopLossPct; sl > 0 && move.LessThanOrEqual(decimal.NewFromFloat(-sl)) {
		return fmt.Sprintf("stop-loss %s%%", move.StringFixed(2))
	}
	return ""
}

func (r *Runner) enter(ctx context.Context, log *slog.Logger, sig *strategy.Signal) (string, error) {
	side := model.SideBuy
	if sig.Action == strategy.ActionSell {
		side = model.SideSell
	}
	req := order.SubmitRequest{
		Instrument: r.cfg.Instrument,
		Side:       side,
		Quantity:   sig.Qty,
		Type:       model.OrderMarket,
		Mode:       r.cfg.Mode,
		Tag:        sig.Strategy,
	}
	if sig.Price.IsPositive() {
		req.Type, req.Price = model.OrderLimit, sig.Price
	}
	px := r.lastBar.Close

	var contract *options.Contract
	if r.cfg.TradeOptions {
		c, err := r.opts.Contracts.Resolve(ctx, r.cfg.Instrument, sig.Action == strategy.ActionBuy)
		if err != nil {
			if errors.Is(err, options.ErrNoContract) {
				log.Info("entry skipped", "action", sig.Action, "reason", err)
				return OutcomeNoContract, nil
			}
			return r.dataFailure(ctx, log, err)
		}
		r.quote(ctx, c.Instrument.Symbol, c.Premium)
		// both directions buy premium: calls when bullish, puts when bearish
		req.Instrument, req.Side = c.Instrument, model.SideBuy
		req.Type, req.Price = model.OrderMarket, decimal.Zero
		if c.Bid.IsPositive() {
			req.Type, req.Price = model.OrderLimit, c.Bid
		}
		px = c.Premium.InexactFloat64()
		contract = &c
	}

	id, err := r.orders.SubmitOrder(ctx, req)
	if err != nil {
		log.Warn("entry rejected", "action", sig.Action, "instrument", req.Instrument.Symbol, "qty", sig.Qty, "err", err)
		r.alert(ctx, notification.AlertWarning, "Entry rejected", fmt.Sprintf("%s %d: %v", sig.Action, sig.Qty, err))
		return OutcomeRejected, err
	}
	r.entries++
	r.held = contract
	log.Info("entry submitted", "order_id", id, "action", sig.Action, "instrument", req.Instrument.Symbol,
		"qty", sig.Qty, "reason", sig.Reason)
	msg := fmt.Sprintf("%d @ %.2f (%s)", sig.Qty, px, sig.Reason)
	if contract != nil {
		msg = contract.Instrument.Symbol + " " + msg
	}
	r.alert(ctx, notification.AlertInfo, "Entry "+string(sig.Action), msg)
	return OutcomeEntry, nil
}

func (r *Runner) exit(ctx context.Context, log *slog.Logger, inst model.Instrument, pos model.Position, reason string) (string, error) {
	side := model.SideSell
	qty := pos.Quantity
	if qty < 0 {
		side, qty = model.SideBuy, -qty
	}
	id, err := r.orders.SubmitOrder(ctx, order.SubmitRequest{
		Instrument: inst,
		Side:       side,
		Quantity:   qty,
		Type:       model.OrderMarket,
		Mode:       r.cfg.Mode,
		Tag:        "exit",
	})
	if err != nil {
		log.Error("exit rejected", "instrument", inst.Symbol, "qty", qty, "reason", reason, "err", err)
		r.alert(ctx, notification.AlertCritical, "Exit rejected", fmt.Sprintf("%s %s %d (%s): %v", side, inst.Symbol, qty, reason, err))
		return OutcomeRejected, err
	}
	log.Info("exit submitted", "order_id", id, "instrument", inst.Symbol, "side", side, "qty", qty, "reason", reason)
	r.alert(ctx, notification.AlertInfo, "Exit", fmt.Sprintf("%s %s %d (%s)", side, inst.Symbol, qty, reason))
	return OutcomeExit, nil
}

func (r *Runner) dataFailure(ctx context.Context, log *slog.Logger, err error) (string, error) {
	if errors.Is(err, fallback.ErrDataUnavailable) {
		log.Warn("cycle skipped: no data", "err", err)
		r.alert(ctx, notification.AlertWarning, "Market data unavailable", err.Error())
		return OutcomeDataUnavailable, err
	}
	log.Error("cycle failed", "err", err)
	return OutcomeError, err
}

// SquareOff cancels open orders and flattens the position.
func (r *Runner) SquareOff(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	insts := []model.Instrument{r.cfg.Instrument}
	if r.held != nil {
		insts = append(insts, r.held.Instrument)
	}
	var errs []error
	for _, inst := range insts {
		for _, o := range r.orders.OpenOrders(inst.Symbol) {
			if err := r.orders.CancelOrder(ctx, o.ID); err != nil && !errors.Is(err, order.ErrOrderNotCancellable) {
				errs = append(errs, fmt.Errorf("cancel %s: %w", o.ID, err))
			}
		}
		pos := r.orders.GetPosition(inst.Symbol)
		if !pos.IsFlat() {
			if _, err := r.exit(ctx, r.log, inst, pos, "square-off"); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ResetDaily clears the day's entry count and risk P&L.
func (r *Runner) ResetDaily() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = 0
	r.day = markethours.SessionDate(r.opts.Now())
	if rm := r.orders.Risk(); rm != nil {
		rm.ResetDaily()
	}
	r.log.Info("daily reset")
}

// rollDay resets the entry count when the session date changes without
// a scheduled reset having run.
func (r *Runner) rollDay(now time.Time) {
	d := markethours.SessionDate(now)
	if !d.Equal(r.day) {
		r.day = d
		r.entries = 0
	}
}

// Probe checks every provider and records the results in the health view.
func (r *Runner) Probe(ctx context.Context) []fallback.ProbeResult {
	results := r.data.Probe(ctx, r.cfg.Instrument)
	for _, res := range results {
		if r.opts.Health != nil {
			r.opts.Health.SetProvider(res.Provider, res.Status)
		}
		if res.Err != nil {
			r.log.Warn("provider probe failed", "provider", res.Provider, "status", res.Status, "latency", res.Latency, "err", res.Err)
		}
	}
	return results
}

// Held returns the option contract the runner is in, if any.
func (r *Runner) Held() (options.Contract, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held == nil {
		return options.Contract{}, false
	}
	return *r.held, true
}

// Entries returns today's entry count.
func (r *Runner) Entries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries
}

func (r *Runner) publish(ctx context.Context, set *indicator.IndicatorSet) {
	if r.opts.Publisher == nil || set == nil {
		return
	}
	if err := r.opts.Publisher.PublishIndicators(ctx, set.Symbol, set.JSON()); err != nil {
		r.log.Debug("publish indicators failed", "err", err)
	}
}

func (r *Runner) alert(ctx context.Context, level notification.AlertLevel, title, msg string) {
	if err := r.opts.Notifier.Send(ctx, notification.Alert{
		Level: level, Title: title, Message: msg, Symbol: r.cfg.Instrument.Symbol,
	}); err != nil {
		r.log.Warn("alert failed", "title", title, "err", err)
	}
}

// Start schedules the cycle, square-off, daily reset and probe jobs in IST.
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithSeconds(), cron.WithLocation(markethours.IST))

	jobs := []struct {
		name, spec string
		fn         func()
	}{
		{"cycle", r.cfg.schedule(), func() { _, _ = r.Cycle(ctx) }},
		{"square-off", weekdaySpec(r.clk.squareOff), func() {
			if err := r.SquareOff(ctx); err != nil {
				r.log.Error("square-off failed", "err", err)
			}
		}},
		{"daily-reset", weekdaySpec(r.clk.reset), r.ResetDaily},
	}
	if r.cfg.ProbeSchedule != "" {
		jobs = append(jobs, struct {
			name, spec string
			fn         func()
		}{"probe", r.cfg.ProbeSchedule, func() { r.Probe(ctx) }})
	}
	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, j.fn); err != nil {
			cancel()
			return fmt.Errorf("register %s job %q: %w", j.name, j.spec, err)
		}
	}

	r.mu.Lock()
	r.cron, r.cronStop = c, cancel
	r.mu.Unlock()
	c.Start()
	r.log.Info("runner started", "schedule", r.cfg.schedule(),
		"trading", r.clk.trading.String(), "orders", r.clk.orders.String(), "square_off", r.clk.squareOff.String())
	return nil
}

// Stop halts the scheduler, cancels running jobs and waits for them.
func (r *Runner) Stop() {
	r.mu.Lock()
	c, cancel := r.cron, r.cronStop
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	stopped := c.Stop()
	cancel()
	<-stopped.Done()
	r.log.Info("runner stopped")
}

package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nifty-engine/internal/execution"
	"nifty-engine/internal/indicator"
	"nifty-engine/internal/logger"
	"nifty-engine/internal/markethours"
	"nifty-engine/internal/metrics"
	"nifty-engine/internal/model"
	"nifty-engine/internal/notification"
	"nifty-engine/internal/order"
	"nifty-engine/internal/runner"
	"nifty-engine/internal/strategy"
)

// Config describes one backtest.
type Config struct {
	Runner      runner.Config
	Indicator   indicator.Config
	Strategy    strategy.Config
	Risk        order.RiskLimits
	SlippageBps int64
	WarmupBars  int     // bars loaded as history before the first cycle
	Speed       float64 // 0 = as fast as possible, 1 = real time

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Report summarizes a finished replay.
type Report struct {
	Symbol        string          `json:"symbol"`
	Interval      model.Interval  `json:"interval"`
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	Bars          int             `json:"bars"`
	Outcomes      map[string]int  `json:"outcomes"`
	Trades        []Trade         `json:"trades"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenQty       int64           `json:"open_qty"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	MaxDrawdown   decimal.Decimal `json:"max_drawdown"`
	Alerts        int             `json:"alerts"`
}

// Wins counts profitable round trips.
func (r *Report) Wins() int {
	n := 0
	for _, t := range r.Trades {
		if t.Won() {
			n++
		}
	}
	return n
}

// WinRate is the share of profitable round trips in [0, 1].
func (r *Report) WinRate() float64 {
	if len(r.Trades) == 0 {
		return 0
	}
	return float64(r.Wins()) / float64(len(r.Trades))
}

type simClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *simClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// alertLog swallows alerts; a backtest only counts them.
type alertLog struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (a *alertLog) Send(ctx context.Context, alert notification.Alert) error {
	a.mu.Lock()
	a.alerts = append(a.alerts, alert)
	a.mu.Unlock()
	return nil
}

func (a *alertLog) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

// Session replays bars through the same runner, order manager and paper
// backend the engine uses. Each bar is served once its interval has
// closed; the simulated clock drives the trading, order and square-off
// windows.
type Session struct {
	cfg    Config
	clock  *simClock
	feed   *Feed
	ind    *indicator.Engine
	mgr    *order.Manager
	run    *runner.Runner
	events chan model.OrderEvent
	alerts *alertLog
	log    *slog.Logger

	squareOff markethours.Clock
	ledger    ledger
	filled    map[string]int64 // order id -> fill qty already booked
}

// NewSession wires a backtest over bars. The runner always trades paper.
func NewSession(cfg Config, bars []model.Bar) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Discard()
	}
	rcfg := cfg.Runner
	rcfg.Mode = model.ModePaper
	rcfg.TradeOptions = false // no chain history to replay against
	if err := rcfg.Validate(); err != nil {
		return nil, err
	}
	squareOff, err := markethours.ParseClock(rcfg.SquareOff)
	if err != nil {
		return nil, err
	}

	feed, err := NewFeed(rcfg.Instrument.Symbol, rcfg.Interval, bars, cfg.WarmupBars)
	if err != nil {
		return nil, err
	}
	ind, err := indicator.NewEngine(cfg.Indicator, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	strat, err := strategy.Build(cfg.Strategy, cfg.Indicator)
	if err != nil {
		return nil, err
	}

	clock := &simClock{}
	events := make(chan model.OrderEvent, 64)
	paper := execution.NewPaper(events, cfg.SlippageBps, cfg.Logger)
	paper.SetClock(clock.Now)
	mgr := order.NewManager(execution.NewRouter(paper), events, order.Options{
		Risk:    order.NewRiskManager(cfg.Risk, cfg.Logger),
		Metrics: cfg.Metrics,
		Logger:  cfg.Logger,
		Now:     clock.Now,
	})

	alerts := &alertLog{}
	run, err := runner.New(rcfg, feed, ind, strat, mgr, runner.Options{
		Quotes:   paper,
		Notifier: alerts,
		Metrics:  cfg.Metrics,
		Logger:   cfg.Logger,
		Now:      clock.Now,
	})
	if err != nil {
		return nil, err
	}

	cfg.Runner = rcfg
	return &Session{
		cfg:       cfg,
		clock:     clock,
		feed:      feed,
		ind:       ind,
		mgr:       mgr,
		run:       run,
		events:    events,
		alerts:    alerts,
		log:       logger.Component(cfg.Logger, "replay"),
		squareOff: squareOff,
		filled:    make(map[string]int64),
	}, nil
}

// Run replays every remaining bar and returns the summary.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	inst := s.cfg.Runner.Instrument
	iv := s.cfg.Runner.Interval
	rep := &Report{Symbol: inst.Symbol, Interval: iv, Outcomes: make(map[string]int)}

	var prev, day, squaredDay time.Time
	for {
		bar, ok := s.feed.Current()
		if !ok {
			break
		}
		if err := pace(ctx, prev, bar.TS, s.cfg.Speed); err != nil {
			return nil, err
		}
		prev = bar.TS
		if rep.From.IsZero() {
			rep.From = bar.TS
		}
		rep.To = bar.TS

		now := bar.TS.Add(iv.Duration())
		s.clock.set(now)

		d := markethours.SessionDate(now)
		if !d.Equal(day) {
			if !day.IsZero() {
				s.run.ResetDaily()
			}
			day = d
		}
		if !now.Before(s.squareOff.On(now)) && !squaredDay.Equal(d) {
			squaredDay = d
			if err := s.run.SquareOff(ctx); err != nil {
				s.log.Warn("square-off failed", "at", now, "err", err)
			}
			s.drain(ctx)
		}

		outcome, err := s.run.Cycle(ctx)
		rep.Outcomes[outcome]++
		if err != nil {
			s.log.Debug("cycle failed", "at", now, "outcome", outcome, "err", err)
		}
		if outcome == runner.OutcomeClosed && s.ind.Latest() != nil {
			// keep indicators continuous across bars the loop sleeps through
			if _, err := s.ind.Append(bar); err != nil {
				s.log.Debug("append closed-session bar failed", "ts", bar.TS, "err", err)
			}
		}
		s.drain(ctx)
		rep.Bars++
		s.feed.Advance()
	}

	pos := s.mgr.GetPosition(inst.Symbol)
	rep.Trades = s.ledger.trades
	rep.RealizedPnL = pos.RealizedPnL
	rep.OpenQty = pos.Quantity
	rep.UnrealizedPnL = pos.UnrealizedPnL()
	rep.MaxDrawdown = s.ledger.maxDD
	rep.Alerts = s.alerts.count()
	s.log.Info("replay complete",
		"bars", rep.Bars, "trades", len(rep.Trades), "realized_pnl", rep.RealizedPnL.String())
	return rep, nil
}

// drain applies every notification the paper backend produced. Paper
// decides orders inside Submit, so the channel is complete once a cycle
// returns.
func (s *Session) drain(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			o, outcome, err := s.mgr.Apply(ctx, ev)
			if err != nil {
				s.log.Warn("apply event failed", "order_id", ev.OrderID, "err", err)
				continue
			}
			if outcome == order.OutcomeIgnored || outcome == order.OutcomeAnnotated {
				continue
			}
			if delta := o.FilledQty - s.filled[o.ID]; delta > 0 {
				s.filled[o.ID] = o.FilledQty
				s.ledger.fill(o.Side, delta, ev.Price, ev.At, o.Tag)
			}
		default:
			return
		}
	}
}

// String renders the headline numbers.
func (r *Report) String() string {
	return fmt.Sprintf("%s %s %d bars: %d trades, %d wins, realized %s",
		r.Symbol, r.Interval, r.Bars, len(r.Trades), r.Wins(), r.RealizedPnL.StringFixed(2))
}

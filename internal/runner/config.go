package runner

import (
	"fmt"
	"time"

	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
)

// Config controls one instrument's strategy loop. Clock fields are
// "HH:MM" in IST.
type Config struct {
	Instrument    model.Instrument `yaml:"instrument"`
	Interval      model.Interval   `yaml:"interval"`
	Schedule      string           `yaml:"schedule"`       // cron spec; "@every <interval>" when empty
	ProbeSchedule string           `yaml:"probe_schedule"` // provider health probe
	HistoryDays   int              `yaml:"history_days"`
	Mode          model.Mode       `yaml:"mode"`
	TradeOptions  bool             `yaml:"trade_options"` // signals buy the index's calls and puts

	TradingStart string `yaml:"trading_start"`
	TradingEnd   string `yaml:"trading_end"`
	OrderStart   string `yaml:"order_start"`
	OrderEnd     string `yaml:"order_end"`
	SquareOff    string `yaml:"square_off"`
	DailyReset   string `yaml:"daily_reset"`

	TakeProfitPct    float64 `yaml:"take_profit_pct"`
	StopLossPct      float64 `yaml:"stop_loss_pct"`
	MaxEntriesPerDay int     `yaml:"max_entries_per_day"` // 0 = unlimited
}

func DefaultConfig() Config {
	return Config{
		Instrument:       model.Nifty50(),
		Interval:         model.Interval5m,
		ProbeSchedule:    "@every 10m",
		HistoryDays:      10,
		Mode:             model.ModePaper,
		TradeOptions:     true,
		TradingStart:     "09:26",
		TradingEnd:       "15:25",
		OrderStart:       "11:26",
		OrderEnd:         "14:25",
		SquareOff:        "15:00",
		DailyReset:       "09:15",
		TakeProfitPct:    13,
		StopLossPct:      6,
		MaxEntriesPerDay: 1,
	}
}

// schedule returns the cycle cron spec.
func (c Config) schedule() string {
	if c.Schedule != "" {
		return c.Schedule
	}
	return "@every " + c.Interval.Duration().String()
}

// clocks is the parsed form of the time-of-day fields.
type clocks struct {
	trading   markethours.Window
	orders    markethours.Window
	squareOff markethours.Clock
	reset     markethours.Clock
}

// Validate checks the config without building a runner.
func (c Config) Validate() error {
	_, err := c.parse()
	return err
}

func (c Config) parse() (clocks, error) {
	var (
		out clocks
		err error
	)
	if c.Instrument.Symbol == "" {
		return out, fmt.Errorf("runner: instrument symbol is empty")
	}
	if c.Interval.Duration() <= 0 {
		return out, fmt.Errorf("runner: interval %q", c.Interval)
	}
	if !c.Mode.Valid() {
		return out, fmt.Errorf("runner: mode %q", c.Mode)
	}
	if c.Mode == model.ModeLive && !c.TradeOptions && !c.Instrument.Tradeable() {
		return out, fmt.Errorf("runner: %s is an index and can't be traded live; enable trade_options", c.Instrument.Symbol)
	}
	if c.HistoryDays < 1 {
		return out, fmt.Errorf("runner: history_days must be >= 1, got %d", c.HistoryDays)
	}
	if c.TakeProfitPct < 0 || c.StopLossPct < 0 {
		return out, fmt.Errorf("runner: take-profit and stop-loss must be >= 0")
	}
	if out.trading, err = markethours.NewWindow(c.TradingStart, c.TradingEnd); err != nil {
		return out, fmt.Errorf("runner: trading window: %w", err)
	}
	if out.orders, err = markethours.NewWindow(c.OrderStart, c.OrderEnd); err != nil {
		return out, fmt.Errorf("runner: order window: %w", err)
	}
	if out.squareOff, err = markethours.ParseClock(c.SquareOff); err != nil {
		return out, fmt.Errorf("runner: square_off: %w", err)
	}
	if out.reset, err = markethours.ParseClock(c.DailyReset); err != nil {
		return out, fmt.Errorf("runner: daily_reset: %w", err)
	}
	return out, nil
}

// weekdaySpec turns a clock into a six-field cron spec firing Mon-Fri.
func weekdaySpec(c markethours.Clock) string {
	return fmt.Sprintf("0 %d %d * * 1-5", int(c)%60, int(c)/60)
}

// historyRange is the warm-up window ending at now.
func (c Config) historyRange(now time.Time) model.TimeRange {
	return model.TimeRange{From: now.AddDate(0, 0, -c.HistoryDays), To: now}
}

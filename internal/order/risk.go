package order

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"nifty-engine/internal/model"
)

// RiskLimits defines configurable risk management thresholds. Zero disables
// a limit.
type RiskLimits struct {
	MaxOrderQty      int64   `yaml:"max_order_qty" json:"max_order_qty"`
	MaxPositionQty   int64   `yaml:"max_position_qty" json:"max_position_qty"`
	MaxOpenPositions int     `yaml:"max_open_positions" json:"max_open_positions"`
	MaxDailyLoss     float64 `yaml:"max_daily_loss" json:"max_daily_loss"` // rupees
}

// DefaultRiskLimits returns conservative defaults for one Nifty lot.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxOrderQty:      150,
		MaxPositionQty:   150,
		MaxOpenPositions: 2,
		MaxDailyLoss:     5000,
	}
}

// RiskManager validates orders against limits and tracks the day's
// realized P&L. Orders that reduce a position always pass the position
// and loss checks so exits are never blocked.
type RiskManager struct {
	mu       sync.RWMutex
	limits   RiskLimits
	dailyPnL decimal.Decimal
	log      *slog.Logger
}

func NewRiskManager(limits RiskLimits, logger *slog.Logger) *RiskManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskManager{limits: limits, log: logger.With("component", "risk")}
}

// Check returns an ErrRiskLimit error if the order breaches a limit. open is
// the number of currently open positions.
func (rm *RiskManager) Check(side model.Side, qty int64, pos model.Position, open int) error {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	l := rm.limits

	if l.MaxOrderQty > 0 && qty > l.MaxOrderQty {
		return fmt.Errorf("%w: order qty %d exceeds %d", ErrRiskLimit, qty, l.MaxOrderQty)
	}

	after := pos.Quantity + side.Sign()*qty
	if abs(after) <= abs(pos.Quantity) && (after == 0 || (after > 0) == (pos.Quantity > 0)) {
		return nil // reducing
	}

	if l.MaxPositionQty > 0 && abs(after) > l.MaxPositionQty {
		return fmt.Errorf("%w: position %d would exceed %d", ErrRiskLimit, after, l.MaxPositionQty)
	}
	if l.MaxOpenPositions > 0 && pos.IsFlat() && open >= l.MaxOpenPositions {
		return fmt.Errorf("%w: %d open positions", ErrRiskLimit, open)
	}
	if l.MaxDailyLoss > 0 && rm.dailyPnL.LessThan(decimal.NewFromFloat(-l.MaxDailyLoss)) {
		return fmt.Errorf("%w: daily loss %s beyond %.2f", ErrRiskLimit, rm.dailyPnL.StringFixed(2), l.MaxDailyLoss)
	}
	return nil
}

// RecordPnL adds realized P&L to the day's total.
func (rm *RiskManager) RecordPnL(pnl decimal.Decimal) {
	if pnl.IsZero() {
		return
	}
	rm.mu.Lock()
	rm.dailyPnL = rm.dailyPnL.Add(pnl)
	daily := rm.dailyPnL
	rm.mu.Unlock()
	rm.log.Info("realized pnl", "delta", pnl.StringFixed(2), "daily", daily.StringFixed(2))
}

// ResetDaily resets the daily P&L counter (call at market open).
func (rm *RiskManager) ResetDaily() {
	rm.mu.Lock()
	rm.dailyPnL = decimal.Zero
	rm.mu.Unlock()
}

// RiskStatus is the current risk view.
type RiskStatus struct {
	DailyPnL decimal.Decimal `json:"daily_pnl"`
	Limits   RiskLimits      `json:"limits"`
}

func (rm *RiskManager) Status() RiskStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return RiskStatus{DailyPnL: rm.dailyPnL, Limits: rm.limits}
}

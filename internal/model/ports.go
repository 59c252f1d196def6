package model

import "context"

// ── Storage Port Interfaces ──
// These decouple the engine from concrete stores (SQLite, Redis).

// OrderLog is the append-only transition log.
type OrderLog interface {
	Append(ctx context.Context, rec OrderRecord) (int64, error)
	Records(ctx context.Context, orderID string) ([]OrderRecord, error)
}

// PositionStore keeps the current snapshot per instrument.
type PositionStore interface {
	SavePosition(ctx context.Context, p Position) error
	LoadPositions(ctx context.Context) ([]Position, error)
}

// BarStore caches canonical bars.
type BarStore interface {
	SaveBars(ctx context.Context, symbol string, iv Interval, provider string, bars []Bar) error
	LoadBars(ctx context.Context, symbol string, iv Interval, rng TimeRange) ([]Bar, error)
}

// StatePublisher pushes state to dashboard readers. Best effort.
type StatePublisher interface {
	PublishOrder(ctx context.Context, rec OrderRecord) error
	PublishPosition(ctx context.Context, p PositionView) error
	PublishIndicators(ctx context.Context, symbol string, payload []byte) error
}

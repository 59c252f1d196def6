package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
)

// Reader provides read-only access for dashboards, warm start and backtests.
type Reader struct {
	db *sql.DB
}

// OpenReader opens a separate read connection to an existing database.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	return &Reader{db: db}, nil
}

// Records returns one order's transitions in log order.
func (r *Reader) Records(ctx context.Context, orderID string) ([]model.OrderRecord, error) {
	return r.queryRecords(ctx, `
		SELECT seq, order_id, from_status, to_status, event, order_json, at
		FROM order_log WHERE order_id = ? ORDER BY seq ASC
	`, orderID)
}

// RecentRecords returns the newest limit transitions, oldest first.
func (r *Reader) RecentRecords(ctx context.Context, limit int) ([]model.OrderRecord, error) {
	return r.queryRecords(ctx, `
		SELECT * FROM (
			SELECT seq, order_id, from_status, to_status, event, order_json, at
			FROM order_log ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC
	`, limit)
}

func (r *Reader) queryRecords(ctx context.Context, query string, args ...any) ([]model.OrderRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query order_log: %w", err)
	}
	defer rows.Close()

	var out []model.OrderRecord
	for rows.Next() {
		var rec model.OrderRecord
		var from, to, event, order string
		var at int64
		if err := rows.Scan(&rec.Seq, &rec.OrderID, &from, &to, &event, &order, &at); err != nil {
			return nil, fmt.Errorf("sqlite scan order_log: %w", err)
		}
		rec.From = model.OrderStatus(from)
		rec.To = model.OrderStatus(to)
		if err := json.Unmarshal([]byte(event), &rec.Event); err != nil {
			return nil, fmt.Errorf("order_log %d event: %w", rec.Seq, err)
		}
		if err := json.Unmarshal([]byte(order), &rec.Order); err != nil {
			return nil, fmt.Errorf("order_log %d order: %w", rec.Seq, err)
		}
		rec.At = time.Unix(0, at).In(markethours.IST)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadPositions returns every stored position snapshot.
func (r *Reader) LoadPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, quantity, avg_price, realized_pnl, mark_price, updated_at
		FROM positions ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var avg, realized, mark string
		var updated int64
		if err := rows.Scan(&p.Symbol, &p.Quantity, &avg, &realized, &mark, &updated); err != nil {
			return nil, fmt.Errorf("sqlite scan positions: %w", err)
		}
		if p.AvgPrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("position %s avg_price: %w", p.Symbol, err)
		}
		if p.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
			return nil, fmt.Errorf("position %s realized_pnl: %w", p.Symbol, err)
		}
		if p.MarkPrice, err = decimal.NewFromString(mark); err != nil {
			return nil, fmt.Errorf("position %s mark_price: %w", p.Symbol, err)
		}
		p.UpdatedAt = time.Unix(0, updated).In(markethours.IST)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadBars returns cached bars inside rng ordered by timestamp.
func (r *Reader) LoadBars(ctx context.Context, symbol string, iv model.Interval, rng model.TimeRange) ([]model.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND bar_interval = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, string(iv), rng.From.Unix(), rng.To.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var ts int64
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(ts, 0).In(markethours.IST)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LastBarTime returns the newest cached bar timestamp, zero if none.
func (r *Reader) LastBarTime(ctx context.Context, symbol string, iv model.Interval) (time.Time, error) {
	var ts sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM bars WHERE symbol = ? AND bar_interval = ?`, symbol, string(iv),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).In(markethours.IST), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

func marshal(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// Package sqlite persists the order log, position snapshots and the
// canonical bar cache. One connection serializes writes; dashboards and
// backtests read the same file through a Reader.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"nifty-engine/internal/metrics"
	"nifty-engine/internal/model"
)

// Config configures the store.
type Config struct {
	Path string `yaml:"path"` // e.g. "data/engine.db"
}

// Store implements model.OrderLog, model.PositionStore and model.BarStore.
type Store struct {
	*Reader
	db  *sql.DB
	m   *metrics.Metrics
	log *slog.Logger
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// Open creates or opens the database in WAL mode and applies the schema.
func Open(cfg Config, m *metrics.Metrics, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Discard()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log := logger.With("component", "sqlite")
	log.Info("opened database", "path", cfg.Path)
	return &Store{Reader: &Reader{db: db}, db: db, m: m, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS order_log (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id    TEXT    NOT NULL,
			symbol      TEXT    NOT NULL,
			from_status TEXT    NOT NULL,
			to_status   TEXT    NOT NULL,
			event_kind  TEXT    NOT NULL,
			event       TEXT    NOT NULL,
			order_json  TEXT    NOT NULL,
			at          INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_order_log_order ON order_log(order_id, seq);

		CREATE TABLE IF NOT EXISTS positions (
			symbol       TEXT PRIMARY KEY,
			quantity     INTEGER NOT NULL,
			avg_price    TEXT    NOT NULL,
			realized_pnl TEXT    NOT NULL,
			mark_price   TEXT    NOT NULL,
			updated_at   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bars (
			symbol   TEXT    NOT NULL,
			bar_interval TEXT NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   INTEGER NOT NULL,
			provider TEXT    NOT NULL,
			PRIMARY KEY (symbol, bar_interval, ts)
		);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Append writes one order-log row and returns its sequence number.
func (s *Store) Append(ctx context.Context, rec model.OrderRecord) (int64, error) {
	defer s.observe(time.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_log (order_id, symbol, from_status, to_status, event_kind, event, order_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.OrderID, rec.Order.Symbol, string(rec.From), string(rec.To), string(rec.Event.Kind),
		marshal(rec.Event), marshal(rec.Order), unixNano(rec.At))
	if err != nil {
		return 0, fmt.Errorf("sqlite insert order_log: %w", err)
	}
	return res.LastInsertId()
}

// SavePosition upserts the current snapshot for p.Symbol.
func (s *Store) SavePosition(ctx context.Context, p model.Position) error {
	defer s.observe(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, quantity, avg_price, realized_pnl, mark_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			realized_pnl = excluded.realized_pnl,
			mark_price = excluded.mark_price,
			updated_at = excluded.updated_at
	`, p.Symbol, p.Quantity, p.AvgPrice.String(), p.RealizedPnL.String(), p.MarkPrice.String(), unixNano(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite upsert position: %w", err)
	}
	return nil
}

// SaveBars replaces cached bars in a single transaction.
func (s *Store) SaveBars(ctx context.Context, symbol string, iv model.Interval, provider string, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	defer s.observe(time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, bar_interval, ts, open, high, low, close, volume, provider)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, string(iv), b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume, provider); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert bar: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("cached bars", "symbol", symbol, "interval", iv, "provider", provider, "count", len(bars))
	return nil
}

// SaveSeries caches every bar of a merged series under the provider that
// supplied its span.
func (s *Store) SaveSeries(ctx context.Context, series model.Series) error {
	if len(series.Sources) == 0 {
		return s.SaveBars(ctx, series.Symbol, series.Interval, series.Provider, series.Bars)
	}
	for _, src := range series.Sources {
		var part []model.Bar
		for _, b := range series.Bars {
			if !b.TS.Before(src.From) && !b.TS.After(src.To) {
				part = append(part, b)
			}
		}
		if err := s.SaveBars(ctx, series.Symbol, series.Interval, src.Provider, part); err != nil {
			return err
		}
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func (s *Store) observe(start time.Time) {
	s.m.SQLiteWriteDur.Observe(time.Since(start).Seconds())
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

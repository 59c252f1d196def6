// Package redis publishes engine state for dashboard readers: the latest
// indicator revision per symbol, the order-transition stream and position
// snapshots. Publishing is best effort and never blocks the engine on an
// unavailable server.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"nifty-engine/internal/breaker"
	"nifty-engine/internal/metrics"
	"nifty-engine/internal/model"
)

const (
	ordersStream      = "orders"
	ordersStreamLen   = 10000
	indicatorsLen     = 2000
	positionsHash     = "positions"
	defaultLatestTTL  = 24 * time.Hour
	defaultBufferSize = 10000
)

// Keys and channels readers subscribe to.
func IndicatorLatestKey(symbol string) string { return "ind:latest:" + symbol }
func IndicatorStream(symbol string) string    { return "ind:" + symbol }
func IndicatorChannel(symbol string) string   { return "pub:ind:" + symbol }

const (
	OrdersChannel    = "pub:orders"
	PositionsChannel = "pub:positions"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string `yaml:"addr"` // e.g. "localhost:6379"; empty disables publishing
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset"`
	BufferSize      int           `yaml:"buffer_size"`
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Publisher implements model.StatePublisher over pipelines guarded by a
// circuit breaker. While the breaker is open writes are buffered and
// replayed once it closes again.
type Publisher struct {
	client *goredis.Client
	cb     *breaker.CircuitBreaker
	buf    *buffer
	m      *metrics.Metrics
	log    *slog.Logger
}

// NewPublisher wraps an existing client.
func NewPublisher(client *goredis.Client, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Discard()
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerReset == 0 {
		cfg.BreakerReset = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	p := &Publisher{
		client: client,
		cb:     breaker.New("redis", cfg.BreakerFailures, cfg.BreakerReset),
		buf:    newBuffer(cfg.BufferSize),
		m:      m,
		log:    logger.With("component", "redis"),
	}
	p.cb.OnStateChange = func(name string, from, to breaker.State) {
		m.BreakerState.WithLabelValues(name).Set(float64(to))
		if to == breaker.StateOpen {
			m.BreakerTrips.WithLabelValues(name).Inc()
		}
		p.log.Warn("breaker state change", "from", from, "to", to)
		if to == breaker.StateClosed {
			go p.flush(context.Background())
		}
	}
	return p
}

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// PendingCount returns the number of buffered writes.
func (p *Publisher) PendingCount() int { return p.buf.len() }

// PublishIndicators stores the latest revision, appends it to the
// per-symbol stream and notifies subscribers.
func (p *Publisher) PublishIndicators(ctx context.Context, symbol string, payload []byte) error {
	return p.write(ctx, write{kind: kindIndicators, key: symbol, data: payload})
}

// PublishOrder appends the transition to the orders stream.
func (p *Publisher) PublishOrder(ctx context.Context, rec model.OrderRecord) error {
	return p.write(ctx, write{kind: kindOrder, key: rec.OrderID, data: rec.JSON()})
}

// PublishPosition stores the snapshot in the positions hash.
func (p *Publisher) PublishPosition(ctx context.Context, v model.PositionView) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.write(ctx, write{kind: kindPosition, key: v.Symbol, data: data})
}

func (p *Publisher) write(ctx context.Context, w write) error {
	err := p.cb.Execute(func() error { return p.exec(ctx, w) })
	if err == breaker.ErrCircuitOpen {
		p.buf.add(w)
		return nil
	}
	return err
}

// exec sends one write as a single pipeline.
func (p *Publisher) exec(ctx context.Context, w write) error {
	start := time.Now()
	data := string(w.data)
	pipe := p.client.Pipeline()
	switch w.kind {
	case kindIndicators:
		pipe.Set(ctx, IndicatorLatestKey(w.key), data, defaultLatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: IndicatorStream(w.key),
			MaxLen: indicatorsLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Publish(ctx, IndicatorChannel(w.key), data)
	case kindOrder:
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: ordersStream,
			MaxLen: ordersStreamLen,
			Approx: true,
			Values: map[string]interface{}{"order_id": w.key, "data": data},
		})
		pipe.Publish(ctx, OrdersChannel, data)
	case kindPosition:
		pipe.HSet(ctx, positionsHash, w.key, data)
		pipe.Publish(ctx, PositionsChannel, data)
	}
	_, err := pipe.Exec(ctx)
	p.m.RedisPublishDur.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis %s pipeline for %s: %w", w.kind, w.key, err)
	}
	return nil
}

// flush replays buffered writes in order. A failure stops the replay and
// re-buffers what is left.
func (p *Publisher) flush(ctx context.Context) {
	pending := p.buf.take()
	if len(pending) == 0 {
		return
	}
	for i, w := range pending {
		if err := p.exec(ctx, w); err != nil {
			p.log.Warn("flush interrupted", "flushed", i, "left", len(pending)-i, "err", err)
			p.buf.requeue(pending[i:])
			return
		}
	}
	p.log.Info("flushed buffered writes", "count", len(pending))
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

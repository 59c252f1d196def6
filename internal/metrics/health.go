package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	Mode           string            `json:"mode"`
	Providers      map[string]string `json:"providers"`
	RedisEnabled   bool              `json:"redis_enabled"`
	RedisConnected bool              `json:"redis_connected"`
	SQLiteOK       bool              `json:"sqlite_ok"`
	OrderFeedUp    bool              `json:"order_feed_up"`
	LastCycleAt    time.Time         `json:"last_cycle_at"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(mode string) *HealthStatus {
	return &HealthStatus{
		Mode:      mode,
		Providers: make(map[string]string),
		StartedAt: time.Now(),
	}
}

// SetProvider records a provider's last probe result ("ok" or a failure reason).
func (h *HealthStatus) SetProvider(name, status string) {
	h.mu.Lock()
	h.Providers[name] = status
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetOrderFeedUp(v bool) {
	h.mu.Lock()
	h.OrderFeedUp = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCycle(t time.Time) {
	h.mu.Lock()
	h.LastCycleAt = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

type healthView struct {
	Status          string            `json:"status"`
	Uptime          string            `json:"uptime"`
	Mode            string            `json:"mode"`
	Providers       map[string]string `json:"providers"`
	RedisEnabled    bool              `json:"redis_enabled"`
	RedisConnected  bool              `json:"redis_connected"`
	RedisLatencyMs  float64           `json:"redis_latency_ms"`
	SQLiteOK        bool              `json:"sqlite_ok"`
	SQLiteLatencyMs float64           `json:"sqlite_latency_ms"`
	OrderFeedUp     bool              `json:"order_feed_up"`
	LastCycleAt     string            `json:"last_cycle_at"`
	LastCheckAt     string            `json:"last_check_at"`
}

// Snapshot evaluates the overall status: unhealthy when the order log is
// down or no provider answers, degraded when some dependency is impaired.
func (h *HealthStatus) Snapshot() (string, healthView) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	okProviders := 0
	names := make([]string, 0, len(h.Providers))
	providers := make(map[string]string, len(h.Providers))
	for name, st := range h.Providers {
		names = append(names, name)
		providers[name] = st
		if st == "ok" {
			okProviders++
		}
	}
	sort.Strings(names)

	status := "healthy"
	if (h.RedisEnabled && !h.RedisConnected) || okProviders < len(names) ||
		(h.Mode == "live" && !h.OrderFeedUp) {
		status = "degraded"
	}
	if !h.SQLiteOK || (len(names) > 0 && okProviders == 0) {
		status = "unhealthy"
	}

	return status, healthView{
		Status:          status,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Mode:            h.Mode,
		Providers:       providers,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		OrderFeedUp:     h.OrderFeedUp,
		LastCycleAt:     h.LastCycleAt.Format(time.RFC3339),
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, view := h.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(view)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

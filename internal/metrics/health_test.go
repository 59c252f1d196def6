package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthStatusLevels(t *testing.T) {
	h := NewHealthStatus("paper")
	h.SetSQLiteOK(true)
	h.SetProvider("dhan", "ok")
	h.SetProvider("nse", "ok")

	status, _ := h.Snapshot()
	assert.Equal(t, "healthy", status)

	h.SetProvider("nse", "blocked")
	status, _ = h.Snapshot()
	assert.Equal(t, "degraded", status)

	h.SetProvider("dhan", "rate-limited")
	status, _ = h.Snapshot()
	assert.Equal(t, "unhealthy", status)
}

func TestHealthLiveNeedsOrderFeed(t *testing.T) {
	h := NewHealthStatus("live")
	h.SetSQLiteOK(true)
	status, _ := h.Snapshot()
	assert.Equal(t, "degraded", status)

	h.SetOrderFeedUp(true)
	status, _ = h.Snapshot()
	assert.Equal(t, "healthy", status)
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthStatus("paper")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "sqlite not yet checked")
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "paper", body["mode"])
}

func TestNewRegistersOnPrivateRegistry(t *testing.T) {
	// two instances must not collide
	a := Discard()
	b := Discard()
	a.Cycles.WithLabelValues("NIFTY50", "ok").Inc()
	b.Cycles.WithLabelValues("NIFTY50", "ok").Inc()
}

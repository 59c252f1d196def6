package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-engine/internal/httpclient"
)

type recorder struct {
	alerts []Alert
	err    error
}

func (r *recorder) Send(ctx context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func testClient() httpclient.Doer {
	return httpclient.NewClient(httpclient.ClientConfig{Timeout: time.Second})
}

func TestTelegramSendsEscapedHTML(t *testing.T) {
	var body map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", srv.URL, testClient())
	err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "data unavailable", Message: "dhan blocked; nse rate-limited <429>", Symbol: "NIFTY50"})
	require.NoError(t, err)

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "HTML", body["parse_mode"])
	assert.Contains(t, body["text"], "<b>NIFTY50: data unavailable</b>")
	assert.Contains(t, body["text"], "rate-limited &lt;429&gt;")
}

func TestTelegramNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewTelegramNotifier("T", "1", srv.URL, testClient()).Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestWebhookPostsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, testClient())
	n.now = func() time.Time { return time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC) }
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertWarning, Title: "take profit", Message: "exit 75", Symbol: "NIFTY50"}))

	assert.Equal(t, "WARNING", got["level"])
	assert.Equal(t, "take profit", got["title"])
	assert.Equal(t, "NIFTY50", got["symbol"])
	assert.True(t, strings.HasPrefix(got["ts"], "2025-06-02T06:00:00"))
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("down")}
	err := Multi{ok, bad, NewLogNotifier(nil)}.Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Len(t, ok.alerts, 1)
	assert.Len(t, bad.alerts, 1)
}

func TestThrottledDropsRepeatsInWindow(t *testing.T) {
	rec := &recorder{}
	n := NewThrottled(rec, time.Minute)
	clock := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return clock }
	ctx := context.Background()
	a := Alert{Level: AlertCritical, Title: "data unavailable", Symbol: "NIFTY50"}

	n.Send(ctx, a)
	n.Send(ctx, a)
	n.Send(ctx, Alert{Level: AlertCritical, Title: "data unavailable", Symbol: "BANKNIFTY"})
	clock = clock.Add(61 * time.Second)
	n.Send(ctx, a)

	assert.Len(t, rec.alerts, 3)
}

package dhan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, cfg Config) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	cfg.AuthURL = srv.URL
	if cfg.ClientID == "" {
		cfg.ClientID = "1000001"
	}
	return NewClient(cfg, nil), srv
}

func TestHistoricalSendsAuthHeaders(t *testing.T) {
	var got HistoricalRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/charts/historical", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("access-token"))
		assert.Equal(t, "1000001", r.Header.Get("client-id"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"open":[1,2],"high":[2,3],"low":[0.5,1],"close":[1.5,2.5],"volume":[0,0],"timestamp":[1718000000,1718086400]}`))
	}, Config{AccessToken: "tok"})

	candles, err := c.Historical(context.Background(), HistoricalRequest{
		SecurityID: "13", ExchangeSegment: "IDX_I", Instrument: "INDEX",
		FromDate: "2024-06-10", ToDate: "2024-06-12",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, candles.Len())
	assert.True(t, candles.Consistent())
	assert.Equal(t, "13", got.SecurityID)
}

func TestAPIErrorClassification(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorType":"Rate_Limit","errorCode":"DH-904","errorMessage":"Too many requests"}`))
	}, Config{AccessToken: "tok"})

	_, err := c.Historical(context.Background(), HistoricalRequest{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.RateLimited())
	assert.False(t, apiErr.AuthFailed())
}

func TestTokenGeneratedWithTOTP(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/generateAccessToken":
			calls++
			assert.Equal(t, "1234", r.URL.Query().Get("pin"))
			assert.Len(t, r.URL.Query().Get("totp"), 6)
			w.Write([]byte(`{"dhanClientId":"1000001","accessToken":"fresh","expiryTime":"2099-01-01T00:00:00"}`))
		case "/v2/orders/55":
			assert.Equal(t, "fresh", r.Header.Get("access-token"))
			w.Write([]byte(`{"orderId":"55","orderStatus":"TRADED","filledQty":75,"averageTradedPrice":101.5}`))
		default:
			http.NotFound(w, r)
		}
	}, Config{PIN: "1234", TOTPSecret: "JBSWY3DPEHPK3PXP"})

	d, err := c.GetOrder(context.Background(), "55")
	require.NoError(t, err)
	assert.Equal(t, StatusTraded, d.OrderStatus)
	assert.Equal(t, int64(75), d.FilledQty)

	_, err = c.GetOrder(context.Background(), "55")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "token should be cached")
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(Config{}, nil)
	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, c.Configured())
}

func TestOHLCQuote(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string][]int
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []int{13}, body["IDX_I"])
		w.Write([]byte(`{"status":"success","data":{"IDX_I":{"13":{"last_price":24510.5,"ohlc":{"open":24400,"high":24550,"low":24380,"close":24390}}}}}`))
	}, Config{AccessToken: "tok"})

	q, err := c.OHLC(context.Background(), "IDX_I", "13")
	require.NoError(t, err)
	assert.Equal(t, 24510.5, q.LastPrice)
	assert.Equal(t, 24550.0, q.OHLC.High)
}

func TestParseFeedMessage(t *testing.T) {
	upd, ok := parseFeedMessage([]byte(`{"Type":"order_alert","Data":{"OrderNo":"77","Status":"Part_Traded","TradedQty":25,"AvgTradedPrice":101.25}}`))
	require.True(t, ok)
	assert.Equal(t, StatusPartTraded, upd.Status)
	assert.Equal(t, int64(25), upd.TradedQty)

	_, ok = parseFeedMessage([]byte(`{"Type":"heartbeat"}`))
	assert.False(t, ok)
}

func TestOrderFeedDeliversUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		var login loginRequest
		assert.NoError(t, conn.ReadJSON(&login))
		assert.Equal(t, 42, login.LoginReq.MsgCode)
		assert.Equal(t, "tok", login.LoginReq.Token)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"Type":"order_alert","Data":{"OrderNo":"9","Status":"Traded","TradedQty":75,"AvgTradedPrice":100}}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{ClientID: "1", AccessToken: "tok", OrderFeedURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil)
	feed := NewOrderFeed(c)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := make(chan OrderUpdate, 1)
	go feed.Run(ctx, out)

	select {
	case upd := <-out:
		assert.Equal(t, "9", upd.OrderNo)
		assert.Equal(t, StatusTraded, upd.Status)
	case <-ctx.Done():
		t.Fatal("no update received")
	}
}

func TestOptionChainRowsSortedByStrike(t *testing.T) {
	var got OptionChainRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/optionchain", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":"success","data":{"last_price":25012.4,"oc":{
			"25100.000000":{"ce":{"security_id":40112,"last_price":61.5,"oi":900,"previous_oi":700,"top_bid_price":61.2}},
			"24900.000000":{"ce":{"security_id":40110,"last_price":180,"oi":300,"previous_oi":350,"top_bid_price":179.5},
			                "pe":{"security_id":40111,"last_price":70.1,"oi":1200,"previous_oi":800,"top_bid_price":70}}}}}`))
	}, Config{AccessToken: "tok"})

	oc, err := c.OptionChain(context.Background(), OptionChainRequest{UnderlyingScrip: 13, UnderlyingSeg: SegmentIndex, Expiry: "2025-07-17"})
	require.NoError(t, err)
	assert.Equal(t, 13, got.UnderlyingScrip)
	assert.Equal(t, "2025-07-17", got.Expiry)
	assert.Equal(t, 25012.4, oc.LastPrice)

	rows := oc.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, 24900.0, rows[0].Strike)
	require.NotNil(t, rows[0].PE)
	assert.Equal(t, int64(40111), rows[0].PE.SecurityID)
	assert.Nil(t, rows[1].PE)
	assert.Equal(t, int64(200), rows[1].CE.OI-rows[1].CE.PreviousOI)
}

func TestOptionChainEmptyIsNoData(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"last_price":0,"oc":{}}}`))
	}, Config{AccessToken: "tok"})

	_, err := c.OptionChain(context.Background(), OptionChainRequest{UnderlyingScrip: 13, UnderlyingSeg: SegmentIndex, Expiry: "2025-07-17"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.NoData())
}

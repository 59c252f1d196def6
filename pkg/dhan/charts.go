package dhan

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Candles is the columnar chart payload Dhan returns.
type Candles struct {
	Open      []float64 `json:"open"`
	High      []float64 `json:"high"`
	Low       []float64 `json:"low"`
	Close     []float64 `json:"close"`
	Volume    []float64 `json:"volume"`
	Timestamp []float64 `json:"timestamp"` // epoch seconds
}

// Len returns the number of complete rows.
func (c *Candles) Len() int {
	n := len(c.Timestamp)
	for _, col := range [][]float64{c.Open, c.High, c.Low, c.Close} {
		n = min(n, len(col))
	}
	return n
}

// Consistent reports whether all columns have the same length.
func (c *Candles) Consistent() bool {
	n := len(c.Timestamp)
	return len(c.Open) == n && len(c.High) == n && len(c.Low) == n && len(c.Close) == n &&
		(len(c.Volume) == 0 || len(c.Volume) == n)
}

// Time returns row i's timestamp.
func (c *Candles) Time(i int) time.Time {
	return time.Unix(int64(c.Timestamp[i]), 0)
}

// HistoricalRequest asks for daily candles.
type HistoricalRequest struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	Instrument      string `json:"instrument"`
	ExpiryCode      int    `json:"expiryCode"`
	OI              bool   `json:"oi"`
	FromDate        string `json:"fromDate"` // 2006-01-02
	ToDate          string `json:"toDate"`   // exclusive
}

// IntradayRequest asks for minute candles; Interval is "1", "5", "15", "25" or "60".
type IntradayRequest struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	Instrument      string `json:"instrument"`
	Interval        string `json:"interval"`
	OI              bool   `json:"oi"`
	FromDate        string `json:"fromDate"` // 2006-01-02 15:04:05
	ToDate          string `json:"toDate"`
}

// Historical fetches daily candles.
func (c *Client) Historical(ctx context.Context, req HistoricalRequest) (*Candles, error) {
	var out Candles
	if err := c.call(ctx, http.MethodPost, "/v2/charts/historical", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Intraday fetches minute candles. Dhan serves at most 90 days per call.
func (c *Client) Intraday(ctx context.Context, req IntradayRequest) (*Candles, error) {
	var out Candles
	if err := c.call(ctx, http.MethodPost, "/v2/charts/intraday", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quote is one instrument's market-feed OHLC snapshot.
type Quote struct {
	LastPrice float64 `json:"last_price"`
	OHLC      struct {
		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
	} `json:"ohlc"`
}

// OHLC fetches the day's OHLC and last price for one security.
func (c *Client) OHLC(ctx context.Context, segment, securityID string) (*Quote, error) {
	id, err := strconv.Atoi(securityID)
	if err != nil {
		return nil, fmt.Errorf("dhan security id %q: %w", securityID, err)
	}
	in := map[string][]int{segment: {id}}
	var out struct {
		Status string                      `json:"status"`
		Data   map[string]map[string]Quote `json:"data"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/marketfeed/ohlc", in, &out); err != nil {
		return nil, err
	}
	q, ok := out.Data[segment][securityID]
	if !ok {
		return nil, &APIError{Status: http.StatusOK, Code: "DH-907", Message: "security missing from quote response"}
	}
	return &q, nil
}

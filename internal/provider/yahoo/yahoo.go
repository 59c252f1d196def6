// Package yahoo adapts the Yahoo Finance chart API to the provider contract.
// It is the deepest history source and the last resort in the chain.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"nifty-engine/internal/httpclient"
	"nifty-engine/internal/model"
	"nifty-engine/internal/provider"
)

const defaultBaseURL = "https://query2.finance.yahoo.com"

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type Provider struct {
	baseURL string
	client  httpclient.Doer
}

func New(baseURL string, client httpclient.Doer) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = httpclient.NewClient(httpclient.ClientConfig{
			Timeout: 30 * time.Second,
			RateLimitConfig: httpclient.RateLimitConfig{
				RequestsPerSecond: 5,
				RequestsPerMinute: 100,
				RequestsPerHour:   2000,
			},
		})
	}
	return &Provider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (y *Provider) Name() string { return provider.NameYahoo }

func (y *Provider) Fetch(ctx context.Context, req provider.Request) (model.Series, error) {
	q := url.Values{}
	q.Set("interval", yahooInterval(req.Interval))
	q.Set("period1", fmt.Sprint(req.Range.From.Unix()))
	q.Set("period2", fmt.Sprint(req.Range.To.Unix()+1))
	bars, err := y.chart(ctx, req.Instrument, q)
	if err != nil {
		return model.Series{}, err
	}
	return provider.NewSeries(y.Name(), req, bars)
}

// Latest returns the newest bar of today's chart.
func (y *Provider) Latest(ctx context.Context, inst model.Instrument, iv model.Interval) (model.Bar, error) {
	q := url.Values{}
	q.Set("interval", yahooInterval(iv))
	q.Set("range", "1d")
	if iv.IsDaily() {
		q.Set("range", "5d")
	}
	bars, err := y.chart(ctx, inst, q)
	if err != nil {
		return model.Bar{}, err
	}
	if bars, err = provider.Normalize(y.Name(), iv, bars); err != nil {
		return model.Bar{}, err
	}
	if len(bars) == 0 {
		return model.Bar{}, provider.Failf(y.Name(), provider.ReasonNoData, "empty chart for %s", inst.Symbol)
	}
	return bars[len(bars)-1], nil
}

func (y *Provider) chart(ctx context.Context, inst model.Instrument, q url.Values) ([]model.Bar, error) {
	symbol := inst.YahooSymbol
	if symbol == "" {
		symbol = inst.Symbol + ".NS"
	}
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(symbol), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, provider.Fail(y.Name(), provider.ReasonTransient, err)
	}
	req.Header.Set("User-Agent", uuid.NewString())
	req.Header.Set("Accept", "application/json")

	resp, err := y.client.Do(ctx, req)
	if err != nil {
		return nil, provider.ClassifyTransport(y.Name(), err)
	}
	body, err := provider.ReadJSON(y.Name(), resp)
	if err != nil {
		return nil, err
	}

	var data chartResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, provider.Fail(y.Name(), provider.ReasonTransient, fmt.Errorf("unmarshal chart: %w", err))
	}
	if data.Chart.Error != nil {
		return nil, provider.Failf(y.Name(), provider.ReasonNoData, "%s: %s", data.Chart.Error.Code, data.Chart.Error.Description)
	}
	if len(data.Chart.Result) == 0 || len(data.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, provider.Failf(y.Name(), provider.ReasonNoData, "no chart result for %s", symbol)
	}

	result := data.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]model.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, h, l, c := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if o == nil || h == nil || l == nil || c == nil {
			// Yahoo emits null rows for halted or not-yet-printed intervals
			continue
		}
		var vol int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			vol = *quote.Volume[i]
		}
		bars = append(bars, model.Bar{
			TS:     time.Unix(ts, 0),
			Open:   *o,
			High:   *h,
			Low:    *l,
			Close:  *c,
			Volume: vol,
		})
	}
	return bars, nil
}

func at[T any](xs []*T, i int) *T {
	if i < len(xs) {
		return xs[i]
	}
	return nil
}

func yahooInterval(iv model.Interval) string {
	switch iv {
	case model.Interval1h:
		return "60m"
	case "":
		return "1d"
	}
	return string(iv)
}

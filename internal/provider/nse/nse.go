// Package nse adapts the NSE India website's index history JSON to the
// provider contract. NSE serves daily bars only and guards its API with
// session cookies issued by the report page.
package nse

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"nifty-engine/internal/httpclient"
	"nifty-engine/internal/markethours"
	"nifty-engine/internal/model"
	"nifty-engine/internal/provider"
)

const (
	defaultBaseURL = "https://www.nseindia.com"
	mountPath      = "/reports-indices-historical-index-data"
	historyPath    = "/api/historical/indicesHistory"
	allIndicesPath = "/api/allIndices"
	chainPath      = "/api/option-chain-indices"
	browserUA      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	chunkSpan = 365 * 24 * time.Hour
)

type Provider struct {
	baseURL string
	client  httpclient.Doer
	now     func() time.Time

	mu     sync.Mutex
	primed time.Time
}

// New creates the adapter. baseURL may be empty for the public site; a nil
// client gets a cookie-keeping rate-limited default.
func New(baseURL string, client httpclient.Doer) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = httpclient.NewClient(httpclient.ClientConfig{
			Timeout:     60 * time.Second,
			WithCookies: true,
			UserAgent:   browserUA,
			RateLimitConfig: httpclient.RateLimitConfig{
				RequestsPerSecond: 3,
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
			},
		})
	}
	return &Provider{baseURL: strings.TrimRight(baseURL, "/"), client: client, now: time.Now}
}

func (p *Provider) Name() string { return provider.NameNSE }

func (p *Provider) Fetch(ctx context.Context, req provider.Request) (model.Series, error) {
	if !req.Interval.IsDaily() {
		return model.Series{}, provider.Failf(p.Name(), provider.ReasonNoData, "interval %s not served", req.Interval)
	}
	if req.Instrument.NSEIndex == "" {
		return model.Series{}, provider.Failf(p.Name(), provider.ReasonNoData, "instrument %s has no NSE index name", req.Instrument.Symbol)
	}
	if err := p.prime(ctx); err != nil {
		return model.Series{}, err
	}

	var bars []model.Bar
	for _, chunk := range provider.Chunks(req.Range, chunkSpan) {
		chunkBars, err := p.fetchChunk(ctx, req.Instrument.NSEIndex, chunk)
		if err != nil {
			if provider.ReasonOf(err) == provider.ReasonNoData {
				continue
			}
			return model.Series{}, err
		}
		bars = append(bars, chunkBars...)
	}
	return provider.NewSeries(p.Name(), req, bars)
}

// Latest returns today's bar from the all-indices snapshot.
func (p *Provider) Latest(ctx context.Context, inst model.Instrument, iv model.Interval) (model.Bar, error) {
	if !iv.IsDaily() {
		return model.Bar{}, provider.Failf(p.Name(), provider.ReasonNoData, "interval %s not served", iv)
	}
	if err := p.prime(ctx); err != nil {
		return model.Bar{}, err
	}
	body, err := p.get(ctx, p.baseURL+allIndicesPath)
	if err != nil {
		return model.Bar{}, err
	}
	var rec gjson.Result
	gjson.GetBytes(body, "data").ForEach(func(_, v gjson.Result) bool {
		if strings.EqualFold(v.Get("index").String(), inst.NSEIndex) {
			rec = v
			return false
		}
		return true
	})
	if !rec.Exists() {
		return model.Bar{}, provider.Failf(p.Name(), provider.ReasonNoData, "index %q not in snapshot", inst.NSEIndex)
	}
	last := num(rec.Get("last"))
	bar := model.Bar{
		TS:    p.now(),
		Open:  num(rec.Get("open")),
		High:  num(rec.Get("high")),
		Low:   num(rec.Get("low")),
		Close: last,
	}
	if last <= 0 || bar.Open <= 0 {
		return model.Bar{}, provider.Failf(p.Name(), provider.ReasonNoData, "empty snapshot for %q", inst.NSEIndex)
	}
	bars, err := provider.Normalize(p.Name(), iv, []model.Bar{bar})
	if err != nil {
		return model.Bar{}, err
	}
	return bars[0], nil
}

// OptionChain returns the chain for expiry from the option-chain API. NSE
// doesn't know Dhan security ids, so legs carry market data only.
func (p *Provider) OptionChain(ctx context.Context, underlying model.Instrument, expiry time.Time) (model.OptionChain, error) {
	if underlying.NSESymbol == "" {
		return model.OptionChain{}, provider.Failf(p.Name(), provider.ReasonNoData, "instrument %s has no NSE derivatives symbol", underlying.Symbol)
	}
	if err := p.prime(ctx); err != nil {
		return model.OptionChain{}, err
	}
	body, err := p.get(ctx, p.baseURL+chainPath+"?symbol="+url.QueryEscape(underlying.NSESymbol))
	if err != nil {
		return model.OptionChain{}, err
	}
	records := gjson.GetBytes(body, "records")
	if !records.Get("data").IsArray() {
		return model.OptionChain{}, provider.Failf(p.Name(), provider.ReasonTransient, "unexpected option chain shape")
	}

	want := markethours.SessionDate(expiry)
	chain := model.OptionChain{
		Underlying: underlying.Symbol,
		Expiry:     want,
		Spot:       num(records.Get("underlyingValue")),
		At:         p.now(),
		Provider:   p.Name(),
	}
	if ts, err := time.ParseInLocation("02-Jan-2006 15:04:05", records.Get("timestamp").String(), markethours.IST); err == nil {
		chain.At = ts
	}
	for _, r := range records.Get("data").Array() {
		exp, err := time.ParseInLocation("02-Jan-2006", r.Get("expiryDate").String(), markethours.IST)
		if err != nil || !exp.Equal(want) {
			continue
		}
		chain.Strikes = append(chain.Strikes, model.OptionStrike{
			Strike: num(r.Get("strikePrice")),
			Call:   chainLeg(r.Get("CE")),
			Put:    chainLeg(r.Get("PE")),
		})
	}
	sort.Slice(chain.Strikes, func(i, j int) bool { return chain.Strikes[i].Strike < chain.Strikes[j].Strike })
	if len(chain.Strikes) == 0 {
		return model.OptionChain{}, provider.Failf(p.Name(), provider.ReasonNoData, "no strikes for %s expiring %s",
			underlying.NSESymbol, want.Format("2006-01-02"))
	}
	if err := chain.Validate(); err != nil {
		return model.OptionChain{}, provider.Fail(p.Name(), provider.ReasonTransient, err)
	}
	return chain, nil
}

func chainLeg(v gjson.Result) model.OptionLeg {
	if !v.Exists() {
		return model.OptionLeg{}
	}
	return model.OptionLeg{
		OI:       int64(num(v.Get("openInterest"))),
		OIChange: int64(num(v.Get("changeinOpenInterest"))),
		Bid:      num(v.Get("bidprice")),
		Ask:      num(v.Get("askPrice")),
		LTP:      num(v.Get("lastPrice")),
	}
}

// prime visits the report page so the API accepts our session cookies.
// Cookies are refreshed at most every ten minutes.
func (p *Provider) prime(ctx context.Context) error {
	p.mu.Lock()
	fresh := !p.primed.IsZero() && p.now().Sub(p.primed) < 10*time.Minute
	p.mu.Unlock()
	if fresh {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+mountPath, nil)
	if err != nil {
		return provider.Fail(p.Name(), provider.ReasonTransient, err)
	}
	p.headers(req)
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return provider.ClassifyTransport(p.Name(), err)
	}
	resp.Body.Close()
	if reason, bad := provider.ClassifyStatus(resp.StatusCode); bad {
		return &provider.Failure{Provider: p.Name(), Reason: reason, Status: resp.StatusCode, Err: fmt.Errorf("cookie priming failed")}
	}

	p.mu.Lock()
	p.primed = p.now()
	p.mu.Unlock()
	return nil
}

func (p *Provider) fetchChunk(ctx context.Context, index string, rng model.TimeRange) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("indexType", index)
	q.Set("from", rng.From.In(markethours.IST).Format("02-01-2006"))
	q.Set("to", rng.To.In(markethours.IST).Format("02-01-2006"))

	body, err := p.get(ctx, p.baseURL+historyPath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	records := gjson.GetBytes(body, "data.indexCloseOnlineRecords")
	if !records.IsArray() {
		return nil, provider.Failf(p.Name(), provider.ReasonTransient, "unexpected payload shape")
	}

	volumes := turnover(gjson.GetBytes(body, "data.indexTurnoverRecords"))
	var bars []model.Bar
	for _, r := range records.Array() {
		ts, err := time.ParseInLocation("02-Jan-2006", r.Get("EOD_TIMESTAMP").String(), markethours.IST)
		if err != nil {
			return nil, provider.Failf(p.Name(), provider.ReasonTransient, "bad EOD_TIMESTAMP %q", r.Get("EOD_TIMESTAMP").String())
		}
		vol := int64(num(r.Get("HIT_TRADED_QTY")))
		if vol == 0 {
			vol = volumes[ts.Format("2006-01-02")]
		}
		bars = append(bars, model.Bar{
			TS:     ts,
			Open:   num(r.Get("EOD_OPEN_INDEX_VAL")),
			High:   num(r.Get("EOD_HIGH_INDEX_VAL")),
			Low:    num(r.Get("EOD_LOW_INDEX_VAL")),
			Close:  num(r.Get("EOD_CLOSE_INDEX_VAL")),
			Volume: vol,
		})
	}
	if len(bars) == 0 {
		return nil, provider.Failf(p.Name(), provider.ReasonNoData, "no records for %s", rng)
	}
	return bars, nil
}

func (p *Provider) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, provider.Fail(p.Name(), provider.ReasonTransient, err)
	}
	p.headers(req)
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, provider.ClassifyTransport(p.Name(), err)
	}
	body, err := provider.ReadJSON(p.Name(), resp)
	if err != nil {
		if provider.ReasonOf(err) == provider.ReasonBlocked {
			// session cookies are likely stale; prime again next time
			p.mu.Lock()
			p.primed = time.Time{}
			p.mu.Unlock()
		}
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, provider.Failf(p.Name(), provider.ReasonTransient, "invalid JSON")
	}
	return body, nil
}

func (p *Provider) headers(req *http.Request) {
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Referer", p.baseURL+mountPath)
	req.Header.Set("Accept", "application/json,text/html,*/*")
}

// num reads a number that NSE may send as a number or a string with commas.
func num(v gjson.Result) float64 {
	if v.Type == gjson.String {
		return gjson.Parse(strings.ReplaceAll(v.String(), ",", "")).Float()
	}
	return v.Float()
}

func turnover(records gjson.Result) map[string]int64 {
	out := make(map[string]int64)
	records.ForEach(func(_, r gjson.Result) bool {
		ts, err := time.ParseInLocation("02-01-2006", r.Get("HIT_TIMESTAMP").String(), markethours.IST)
		if err == nil {
			out[ts.Format("2006-01-02")] = int64(num(r.Get("HIT_TRADED_QTY")))
		}
		return true
	})
	return out
}

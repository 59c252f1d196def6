// Package httpclient is the rate-limited HTTP client shared by the data
// provider adapters. Retrying is left to the caller so that failure
// classification happens before any retry decision.
package httpclient

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"time"

	"nifty-engine/internal/ratelimit"
)

type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.RateLimiter
	userAgent  string
}

type RateLimitConfig struct {
	RequestsPerSecond int
	RequestsPerMinute int
	RequestsPerHour   int
}

type ClientConfig struct {
	HttpClient      *http.Client
	Timeout         time.Duration
	WithCookies     bool
	UserAgent       string
	RateLimitConfig RateLimitConfig
}

func NewClient(config ClientConfig) *Client {
	if config.HttpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		config.HttpClient = &http.Client{Timeout: timeout}
		if config.WithCookies {
			jar, _ := cookiejar.New(nil)
			config.HttpClient.Jar = jar
		}
	}
	rl := config.RateLimitConfig
	return &Client{
		httpClient: config.HttpClient,
		limiter:    ratelimit.NewRateLimiter(rl.RequestsPerSecond, rl.RequestsPerMinute, rl.RequestsPerHour),
		userAgent:  config.UserAgent,
	}
}

// Do waits for a rate-limit slot and sends req.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.httpClient.Do(req.WithContext(ctx))
}

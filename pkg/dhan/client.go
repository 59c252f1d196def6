// Package dhan is a small DhanHQ v2 REST and order-update client covering
// the calls the engine needs: chart history, OHLC quotes, order placement,
// cancellation, status and the live order-update feed.
package dhan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"nifty-engine/internal/httpclient"
)

const (
	defaultBaseURL      = "https://api.dhan.co"
	defaultAuthURL      = "https://auth.dhan.co"
	defaultOrderFeedURL = "wss://api-order-update.dhan.co"
)

// Config holds the Dhan account settings. When AccessToken is empty the
// client generates one from ClientID, PIN and the TOTP secret.
type Config struct {
	ClientID     string
	AccessToken  string
	PIN          string
	TOTPSecret   string
	BaseURL      string
	AuthURL      string
	OrderFeedURL string
	Timeout      time.Duration
}

// Client talks to the Dhan REST API.
type Client struct {
	cfg  Config
	doer httpclient.Doer

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewClient creates a client. doer may be nil to use a default
// rate-limited HTTP client (Dhan allows 10 data requests per second).
func NewClient(cfg Config, doer httpclient.Doer) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.OrderFeedURL == "" {
		cfg.OrderFeedURL = defaultOrderFeedURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AuthURL = strings.TrimRight(cfg.AuthURL, "/")
	if doer == nil {
		doer = httpclient.NewClient(httpclient.ClientConfig{
			Timeout: cfg.Timeout,
			RateLimitConfig: httpclient.RateLimitConfig{
				RequestsPerSecond: 10,
				RequestsPerMinute: 250,
				RequestsPerHour:   5000,
			},
		})
	}
	return &Client{cfg: cfg, doer: doer, token: cfg.AccessToken, now: time.Now}
}

func (c *Client) ClientID() string { return c.cfg.ClientID }

// Configured reports whether the client can authenticate at all.
func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && (c.cfg.AccessToken != "" || (c.cfg.PIN != "" && c.cfg.TOTPSecret != ""))
}

// APIError is a non-2xx Dhan response.
type APIError struct {
	Status  int    `json:"-"`
	Type    string `json:"errorType"`
	Code    string `json:"errorCode"`
	Message string `json:"errorMessage"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("dhan http %d %s %s: %s", e.Status, e.Code, e.Type, e.Message)
	}
	return fmt.Sprintf("dhan http %d: %s", e.Status, e.Message)
}

// RateLimited reports DH-904 or HTTP 429.
func (e *APIError) RateLimited() bool { return e.Code == "DH-904" || e.Status == http.StatusTooManyRequests }

// AuthFailed reports an invalid or expired token or missing entitlement.
func (e *APIError) AuthFailed() bool {
	return e.Code == "DH-901" || e.Code == "DH-902" || e.Code == "DH-903" ||
		e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// NoData reports DH-907 (no data for the request).
func (e *APIError) NoData() bool { return e.Code == "DH-907" }

// Temporary reports server-side failures worth retrying.
func (e *APIError) Temporary() bool { return e.Code == "DH-908" || e.Status >= 500 }

// ErrNotConfigured is returned when no credentials are available.
var ErrNotConfigured = errors.New("dhan: client id and access token or pin+totp secret required")

// Token returns a usable access token, generating one with TOTP when needed.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && (c.tokenExpiry.IsZero() || c.now().Before(c.tokenExpiry)) {
		return c.token, nil
	}
	if c.cfg.ClientID == "" || c.cfg.PIN == "" || c.cfg.TOTPSecret == "" {
		if c.token != "" {
			return c.token, nil
		}
		return "", ErrNotConfigured
	}

	code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
	if err != nil {
		return "", fmt.Errorf("dhan totp: %w", err)
	}
	url := fmt.Sprintf("%s/app/generateAccessToken?dhanClientId=%s&pin=%s&totp=%s",
		c.cfg.AuthURL, c.cfg.ClientID, c.cfg.PIN, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("dhan auth: %w", err)
	}
	var out struct {
		AccessToken string `json:"accessToken"`
		ExpiryTime  string `json:"expiryTime"`
	}
	if err := decode(resp, &out); err != nil {
		return "", fmt.Errorf("dhan auth: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("dhan auth: empty access token")
	}
	c.token = out.AccessToken
	c.tokenExpiry = c.now().Add(23 * time.Hour)
	if exp, err := time.Parse("2006-01-02T15:04:05", out.ExpiryTime); err == nil {
		c.tokenExpiry = exp
	}
	log.Printf("[dhan] access token generated for %s, valid until %s", c.cfg.ClientID, c.tokenExpiry.Format(time.RFC3339))
	return c.token, nil
}

// invalidate drops a token the server rejected so the next call re-authenticates.
func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.TOTPSecret != "" {
		c.token = ""
		c.tokenExpiry = time.Time{}
	}
}

// call sends a JSON request and decodes a JSON response into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("dhan encode: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("access-token", token)
	req.Header.Set("client-id", c.cfg.ClientID)

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return err
	}
	err = decode(resp, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.AuthFailed() {
		c.invalidate()
	}
	return err
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
			if len(apiErr.Message) > 200 {
				apiErr.Message = apiErr.Message[:200]
			}
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodeError{Body: raw, Err: err}
	}
	return nil
}

// DecodeError means a 2xx response was not the expected JSON.
type DecodeError struct {
	Body []byte
	Err  error
}

func (e *DecodeError) Error() string { return "dhan decode: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

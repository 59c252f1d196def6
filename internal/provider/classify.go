package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxBody caps how much of a response body an adapter reads.
const maxBody = 32 << 20

var blockMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("access denied"),
	[]byte("request blocked"),
	[]byte("are you a robot"),
	[]byte("unusual traffic"),
}

// ClassifyStatus maps an HTTP status to a failure reason. ok is false for 2xx.
func ClassifyStatus(status int) (Reason, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusTooManyRequests:
		return ReasonRateLimited, true
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusUnavailableForLegalReasons:
		return ReasonBlocked, true
	case status == http.StatusNotFound, status == http.StatusNoContent:
		return ReasonNoData, true
	default:
		return ReasonTransient, true
	}
}

// ClassifyTransport maps a network-level error. Context cancellation by the
// caller is passed through untouched.
func ClassifyTransport(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return Fail(name, ReasonTransient, err)
}

// LooksBlocked reports whether a body that should be JSON is an HTML
// block, CAPTCHA or WAF page.
func LooksBlocked(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return false
	}
	lower := bytes.ToLower(trimmed)
	if bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html")) {
		return true
	}
	for _, m := range blockMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ReadJSON reads a response, classifies non-2xx statuses, block pages and
// empty bodies, and returns the raw JSON for the adapter to decode.
func ReadJSON(name string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, Fail(name, ReasonTransient, fmt.Errorf("read body: %w", err))
	}
	if reason, bad := ClassifyStatus(resp.StatusCode); bad {
		if reason == ReasonTransient && LooksBlocked(body) {
			reason = ReasonBlocked
		}
		return nil, &Failure{Provider: name, Reason: reason, Status: resp.StatusCode, Err: fmt.Errorf("%s", snippet(body))}
	}
	if LooksBlocked(body) {
		return nil, &Failure{Provider: name, Reason: ReasonBlocked, Status: resp.StatusCode, Err: fmt.Errorf("non-JSON body: %s", snippet(body))}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &Failure{Provider: name, Reason: ReasonNoData, Status: resp.StatusCode, Err: errors.New("empty body")}
	}
	return body, nil
}

func snippet(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}

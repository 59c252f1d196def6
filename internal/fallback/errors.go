package fallback

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"nifty-engine/internal/model"
	"nifty-engine/internal/provider"
)

// ErrDataUnavailable is matched by every DataUnavailableError.
var ErrDataUnavailable = errors.New("data unavailable")

// Attempt records what one provider did for a request.
type Attempt struct {
	Provider string          `json:"provider"`
	Span     model.TimeRange `json:"span"`
	Reason   provider.Reason `json:"reason,omitempty"` // empty on success
	Retries  uint            `json:"retries"`
	Bars     int             `json:"bars"`
	Err      error           `json:"-"`
}

func (a Attempt) String() string {
	if a.Err == nil {
		return fmt.Sprintf("%s ok (%d bars)", a.Provider, a.Bars)
	}
	return fmt.Sprintf("%s %s", a.Provider, a.Reason)
}

// DataUnavailableError is returned when no provider produced a single bar.
type DataUnavailableError struct {
	Symbol   string
	Interval model.Interval
	Range    model.TimeRange
	Live     bool
	Expiry   time.Time // set for option chains
	Attempts []Attempt
}

func (e *DataUnavailableError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	what := string(e.Interval) + " " + e.Range.String()
	switch {
	case !e.Expiry.IsZero():
		what = "option chain " + e.Expiry.Format("2006-01-02")
	case e.Live:
		what = string(e.Interval) + " live tick"
	}
	return fmt.Sprintf("data unavailable for %s %s: %s", e.Symbol, what, strings.Join(parts, "; "))
}

func (e *DataUnavailableError) Unwrap() error { return ErrDataUnavailable }

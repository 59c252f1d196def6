// Package execution implements the order backends: a deterministic paper
// simulator and a live Dhan backend. Both report fills, rejects and
// cancels asynchronously as model.OrderEvents on the sink they were built
// with; the order manager is the only consumer.
package execution

import (
	"errors"
	"fmt"

	"nifty-engine/internal/model"
	"nifty-engine/internal/order"
)

// ErrExecutionBackend is matched by every BackendError.
var ErrExecutionBackend = errors.New("execution backend error")

// BackendError reports a failed placement or cancel.
type BackendError struct {
	Backend   model.Mode
	Op        string // place, cancel
	Temporary bool
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() []error { return []error{ErrExecutionBackend, e.Err} }

// Router selects the backend for an order's mode.
type Router struct {
	backends map[model.Mode]order.Backend
}

// NewRouter registers each backend under its Mode. Nil backends are skipped
// so a disabled live backend can be passed straight through.
func NewRouter(backends ...order.Backend) *Router {
	r := &Router{backends: make(map[model.Mode]order.Backend, len(backends))}
	for _, b := range backends {
		if b == nil {
			continue
		}
		r.backends[b.Mode()] = b
	}
	return r
}

func (r *Router) For(mode model.Mode) (order.Backend, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	b, ok := r.backends[mode]
	if !ok {
		return nil, fmt.Errorf("%s backend not configured", mode)
	}
	return b, nil
}

// Modes lists the configured modes.
func (r *Router) Modes() []model.Mode {
	var out []model.Mode
	for _, m := range []model.Mode{model.ModePaper, model.ModeLive} {
		if _, ok := r.backends[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

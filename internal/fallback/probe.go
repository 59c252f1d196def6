package fallback

import (
	"context"
	"sync"
	"time"

	"nifty-engine/internal/model"
	"nifty-engine/internal/provider"
)

// ProbeResult is one provider's health check outcome.
type ProbeResult struct {
	Provider string        `json:"provider"`
	Status   string        `json:"status"` // "ok" or a failure reason
	Latency  time.Duration `json:"latency"`
	Err      error         `json:"-"`
}

// Probe asks every provider for the latest daily bar concurrently. It only
// reports feasibility: results never feed a Series, and breakers are
// bypassed so an open breaker can't hide a recovered provider.
func (e *Engine) Probe(ctx context.Context, inst model.Instrument) []ProbeResult {
	out := make([]ProbeResult, len(e.sources))
	var wg sync.WaitGroup
	for i, src := range e.sources {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.callTimeout())
			defer cancel()

			start := time.Now()
			_, err := p.Latest(callCtx, inst, model.Interval1d)
			r := ProbeResult{Provider: p.Name(), Status: "ok", Latency: time.Since(start), Err: err}
			if err != nil {
				r.Status = string(provider.ReasonOf(asFailure(p.Name(), err, callCtx)))
			}
			out[i] = r
		}(i, src.p)
	}
	wg.Wait()
	return out
}

// Package fallback fetches market data from an ordered list of providers,
// falling back to the next one when a provider cannot serve the request
// and filling holes in one provider's history with the next one's bars.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nifty-engine/internal/breaker"
	"nifty-engine/internal/metrics"
	"nifty-engine/internal/model"
	"nifty-engine/internal/provider"
	"nifty-engine/internal/retry"
)

// Config tunes retries, timeouts and gap detection.
type Config struct {
	MaxRetries      uint          `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	GapTolerance    int           `yaml:"gap_tolerance"` // missing bars per hole not re-requested; still reported
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset"`

	Metrics *metrics.Metrics `yaml:"-"`
	Logger  *slog.Logger     `yaml:"-"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      2,
		RetryBaseDelay:  500 * time.Millisecond,
		RetryMaxDelay:   5 * time.Second,
		CallTimeout:     20 * time.Second,
		GapTolerance:    0,
		BreakerFailures: 5,
		BreakerReset:    2 * time.Minute,
	}
}

type source struct {
	name string
	p    provider.Provider
	cb   *breaker.CircuitBreaker
}

// Engine tries providers strictly in priority order. It holds no per-request
// state and is safe for concurrent use.
type Engine struct {
	cfg     Config
	sources []source
	chains  []chainSource
	retry   *retry.Retryer
	m       *metrics.Metrics
	log     *slog.Logger
}

// New builds an engine over providers, highest priority first.
func New(cfg Config, providers ...provider.Provider) *Engine {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Discard()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		cfg:   cfg,
		retry: retry.NewRetryer(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		m:     cfg.Metrics,
		log:   cfg.Logger.With("component", "fallback"),
	}
	for _, p := range providers {
		e.sources = append(e.sources, source{name: p.Name(), p: p, cb: e.newBreaker(p.Name())})
	}
	return e
}

func (e *Engine) newBreaker(name string) *breaker.CircuitBreaker {
	cb := breaker.New(name, e.cfg.BreakerFailures, e.cfg.BreakerReset)
	cb.IsFailure = countsTowardBreaker
	cb.OnStateChange = e.onBreakerChange
	return cb
}

// Providers returns the provider names in priority order.
func (e *Engine) Providers() []string {
	out := make([]string, len(e.sources))
	for i, s := range e.sources {
		out[i] = s.name
	}
	return out
}

// GetHistory returns the merged series for rng. Each provider after the
// first is asked only for the spans still uncovered. Spans nobody covers
// are reported as gaps; if no provider returns any bar the result is a
// *DataUnavailableError.
func (e *Engine) GetHistory(ctx context.Context, inst model.Instrument, iv model.Interval, rng model.TimeRange) (model.Series, error) {
	if !rng.Valid() {
		return model.Series{}, fmt.Errorf("fallback: invalid range %s", rng)
	}

	m := newMerger()
	pending := []model.TimeRange{rng}
	var missing []hole
	var attempts []Attempt

	for i, src := range e.sources {
		if len(pending) == 0 {
			break
		}
		name := src.name

		for _, span := range pending {
			req := provider.Request{Instrument: inst, Interval: iv, Range: span}
			var got model.Series
			retries, err := e.call(ctx, src, func(callCtx context.Context) error {
				s, err := src.p.Fetch(callCtx, req)
				got = s
				return err
			})
			if ctxErr := ctx.Err(); ctxErr != nil {
				return model.Series{}, fmt.Errorf("fallback: %s: %w", inst.Symbol, ctxErr)
			}

			a := Attempt{Provider: name, Span: span, Retries: retries, Err: err}
			if err != nil {
				a.Reason = provider.ReasonOf(err)
				attempts = append(attempts, a)
				e.log.Warn("provider failed",
					"provider", name, "symbol", inst.Symbol, "interval", iv,
					"span", span.String(), "reason", a.Reason, "retries", retries, "err", err)
				if a.Reason == provider.ReasonNoData {
					continue
				}
				// blocked, rate-limited or retries exhausted: don't ask again.
				break
			}

			if err := got.Validate(); err != nil {
				a.Reason = provider.ReasonTransient
				a.Err = provider.Fail(name, provider.ReasonTransient, err)
				attempts = append(attempts, a)
				e.log.Warn("provider returned malformed series", "provider", name, "err", err)
				break
			}
			a.Bars = m.add(name, got.Bars)
			attempts = append(attempts, a)
			e.log.Debug("provider served span",
				"provider", name, "symbol", inst.Symbol, "span", span.String(),
				"bars", len(got.Bars), "new", a.Bars)
		}

		missing = holes(m.bars, iv, rng)
		pending = pendingSpans(missing, e.cfg.GapTolerance)
		if len(pending) > 0 && i < len(e.sources)-1 {
			e.m.Fallbacks.WithLabelValues(name, fallbackReason(attempts, name)).Inc()
			if len(m.bars) > 0 {
				e.m.PartialCoverage.WithLabelValues(name).Inc()
			}
			e.log.Info("falling back",
				"from", name, "to", e.sources[i+1].name,
				"symbol", inst.Symbol, "uncovered_spans", len(pending))
		}
	}

	if len(m.bars) == 0 {
		e.m.DataUnavailable.WithLabelValues("history").Inc()
		err := &DataUnavailableError{Symbol: inst.Symbol, Interval: iv, Range: rng, Attempts: attempts}
		e.log.Error("no provider could serve history", "symbol", inst.Symbol, "err", err)
		return model.Series{}, err
	}

	s := m.series(inst.Symbol, iv, spans(missing))
	if s.Completeness == model.HasGaps {
		e.log.Warn("history has gaps", "symbol", inst.Symbol, "gaps", len(s.Gaps))
	}
	return s, nil
}

// GetLiveTick returns the latest bar from the first provider that can
// serve it. A failure falls back for this call only.
func (e *Engine) GetLiveTick(ctx context.Context, inst model.Instrument, iv model.Interval) (model.Bar, error) {
	var attempts []Attempt
	for _, src := range e.sources {
		var bar model.Bar
		retries, err := e.call(ctx, src, func(callCtx context.Context) error {
			b, err := src.p.Latest(callCtx, inst, iv)
			bar = b
			return err
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Bar{}, fmt.Errorf("fallback: %s: %w", inst.Symbol, ctxErr)
		}
		if err == nil {
			if verr := bar.Validate(); verr != nil {
				err = provider.Fail(src.name, provider.ReasonTransient, verr)
			}
		}
		if err == nil {
			return bar, nil
		}
		a := Attempt{Provider: src.name, Reason: provider.ReasonOf(err), Retries: retries, Err: err}
		attempts = append(attempts, a)
		e.m.Fallbacks.WithLabelValues(a.Provider, string(a.Reason)).Inc()
		e.log.Warn("live tick failed", "provider", a.Provider, "symbol", inst.Symbol, "reason", a.Reason, "err", err)
	}

	e.m.DataUnavailable.WithLabelValues("live").Inc()
	return model.Bar{}, &DataUnavailableError{Symbol: inst.Symbol, Interval: iv, Live: true, Attempts: attempts}
}

// call runs fn against one provider through its breaker, with a per-call
// timeout and retries for transient failures only. It returns the number
// of retries made.
func (e *Engine) call(ctx context.Context, src source, fn func(ctx context.Context) error) (uint, error) {
	name := src.name
	var retries uint

	err := src.cb.Execute(func() error {
		return e.retry.Do(ctx, func(attempt uint) (bool, error) {
			if attempt > 0 {
				retries = attempt
				e.m.ProviderRetries.WithLabelValues(name).Inc()
			}
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.callTimeout())
			defer cancel()

			start := time.Now()
			err := fn(callCtx)
			e.m.ProviderLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

			if err == nil {
				e.m.ProviderRequests.WithLabelValues(name, "ok").Inc()
				return false, nil
			}
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			err = asFailure(name, err, callCtx)
			reason := provider.ReasonOf(err)
			e.m.ProviderRequests.WithLabelValues(name, string(reason)).Inc()
			return reason.Retryable(), err
		})
	})

	if errors.Is(err, breaker.ErrCircuitOpen) {
		e.m.ProviderRequests.WithLabelValues(name, "circuit-open").Inc()
		return 0, provider.Fail(name, provider.ReasonBlocked, err)
	}
	return retries, err
}

func (c Config) callTimeout() time.Duration {
	if c.CallTimeout <= 0 {
		return 30 * time.Second
	}
	return c.CallTimeout
}

// asFailure makes sure err is a *provider.Failure; an expired per-call
// deadline is a transient error.
func asFailure(name string, err error, callCtx context.Context) error {
	var f *provider.Failure
	if errors.As(err, &f) {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return provider.Failf(name, provider.ReasonTransient, "timeout: %v", err)
	}
	return provider.Fail(name, provider.ReasonTransient, err)
}

// countsTowardBreaker excludes no-data (the provider answered fine, it just
// has nothing for the span) and caller cancellation.
func countsTowardBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return provider.ReasonOf(err) != provider.ReasonNoData
}

func (e *Engine) onBreakerChange(name string, from, to breaker.State) {
	e.m.BreakerState.WithLabelValues(name).Set(float64(to))
	if to == breaker.StateOpen {
		e.m.BreakerTrips.WithLabelValues(name).Inc()
	}
	e.log.Warn("circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
}

// fallbackReason picks the provider's last failure reason, or "partial"
// when it succeeded but left holes.
func fallbackReason(attempts []Attempt, name string) string {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Provider != name {
			continue
		}
		if attempts[i].Err != nil {
			return string(attempts[i].Reason)
		}
		return "partial"
	}
	return "skipped"
}

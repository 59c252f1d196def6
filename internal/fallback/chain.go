package fallback

import (
	"context"
	"fmt"
	"time"

	"nifty-engine/internal/model"
	"nifty-engine/internal/provider"
)

type chainSource struct {
	source
	cs provider.ChainSource
}

// WithChains registers option-chain sources, highest priority first. A
// source sharing a name with a bar provider shares its circuit breaker, so
// a blocked account is skipped for both. Call it before first use.
func (e *Engine) WithChains(sources ...provider.ChainSource) *Engine {
	for _, cs := range sources {
		src := source{name: cs.Name()}
		for _, s := range e.sources {
			if s.name == src.name {
				src.cb = s.cb
			}
		}
		if src.cb == nil {
			src.cb = e.newBreaker(src.name)
		}
		e.chains = append(e.chains, chainSource{source: src, cs: cs})
	}
	return e
}

// ChainSources returns the option-chain source names in priority order.
func (e *Engine) ChainSources() []string {
	out := make([]string, len(e.chains))
	for i, c := range e.chains {
		out[i] = c.name
	}
	return out
}

// GetOptionChain returns the chain for expiry from the first source that
// serves a valid one. Chains are never merged across sources.
func (e *Engine) GetOptionChain(ctx context.Context, underlying model.Instrument, expiry time.Time) (model.OptionChain, error) {
	var attempts []Attempt
	for _, src := range e.chains {
		var chain model.OptionChain
		retries, err := e.call(ctx, src.source, func(callCtx context.Context) error {
			c, err := src.cs.OptionChain(callCtx, underlying, expiry)
			chain = c
			return err
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.OptionChain{}, fmt.Errorf("fallback: %s option chain: %w", underlying.Symbol, ctxErr)
		}
		if err == nil {
			if verr := chain.Validate(); verr != nil {
				err = provider.Fail(src.name, provider.ReasonTransient, verr)
			}
		}
		if err == nil {
			return chain, nil
		}
		a := Attempt{Provider: src.name, Reason: provider.ReasonOf(err), Retries: retries, Err: err}
		attempts = append(attempts, a)
		e.m.Fallbacks.WithLabelValues(a.Provider, string(a.Reason)).Inc()
		e.log.Warn("option chain failed", "provider", a.Provider, "symbol", underlying.Symbol,
			"expiry", expiry.Format("2006-01-02"), "reason", a.Reason, "retries", retries, "err", err)
	}

	e.m.DataUnavailable.WithLabelValues("option_chain").Inc()
	return model.OptionChain{}, &DataUnavailableError{Symbol: underlying.Symbol, Expiry: expiry, Attempts: attempts}
}

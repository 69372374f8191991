// Package limiter implements the top-level evaluation: a whitelist
// check plus a conjunction over all configured strategies, fail-open on
// Bucket Store errors by default.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/ajiwo/rlgate/bucketstore"
	"github.com/ajiwo/rlgate/keys"
	"github.com/ajiwo/rlgate/strategy"
)

// Store is the subset of bucketstore.Store the Limiter depends on.
type Store interface {
	TryConsume(ctx context.Context, key string, capacity int, refillIntervalSeconds int, now time.Time) (bucketstore.Outcome, error)
}

// Config is the top-level, immutable configuration of a Limiter.
type Config struct {
	IPWhitelist map[string]struct{}
	Strategies  []strategy.Config
	// FailClosed reverses the default fail-open behavior on StoreError:
	// when true, a store outage denies rather than admits.
	FailClosed bool
	// StoreTimeout bounds every individual TryConsume call; zero defaults
	// to 100ms. A request issuing several checks gets a fresh timeout
	// window per check, not one budget shared across all of them.
	StoreTimeout time.Duration
	// Now overrides the evaluation clock; nil defaults to time.Now, used
	// by tests to pin specific timestamps.
	Now func() time.Time
}

// Result is the outcome of one Evaluate call.
type Result struct {
	Admitted bool
	// DeniedKind names the first denying strategy's kind, for
	// diagnostics. Empty when Admitted is true.
	DeniedKind strategy.Kind
	// StoreErrorSeen is true if at least one check hit a StoreError
	// during evaluation (whether or not it changed the outcome).
	StoreErrorSeen bool
}

// Limiter is the top-level evaluator. It is immutable and safe for
// concurrent use once constructed.
type Limiter struct {
	cfg   Config
	store Store
}

// New validates cfg and constructs a Limiter bound to store.
func New(cfg Config, store Store) (*Limiter, error) {
	for _, s := range cfg.Strategies {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("invalid limiter config: %w", err)
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 100 * time.Millisecond
	}
	return &Limiter{cfg: cfg, store: store}, nil
}

// Evaluate runs the whitelist check and the strategy conjunction for one
// request fingerprint, per the composition sketch: whitelist bypass,
// then each strategy's checks in order, short-circuiting on the first
// Denied. A StoreError does not short-circuit; it is treated per the
// FailClosed/fail-open policy and evaluation continues with the
// remaining checks. Each TryConsume call gets its own StoreTimeout
// window, derived fresh from ctx, so one slow check can't eat into the
// budget of the checks that follow it.
func (l *Limiter) Evaluate(ctx context.Context, fp keys.Fingerprint) (Result, error) {
	if _, whitelisted := l.cfg.IPWhitelist[fp.IP]; whitelisted {
		return Result{Admitted: true}, nil
	}

	var storeErrorSeen bool
	now := l.cfg.Now()

	for _, s := range l.cfg.Strategies {
		for _, check := range s.Emit(fp) {
			outcome, err := l.tryConsume(ctx, check, now)
			if err != nil {
				storeErrorSeen = true
				if l.cfg.FailClosed {
					return Result{Admitted: false, DeniedKind: s.Kind, StoreErrorSeen: true}, nil
				}
				continue
			}
			if outcome == bucketstore.Denied {
				return Result{Admitted: false, DeniedKind: s.Kind, StoreErrorSeen: storeErrorSeen}, nil
			}
		}
	}

	return Result{Admitted: true, StoreErrorSeen: storeErrorSeen}, nil
}

// tryConsume runs one check against the store under its own StoreTimeout,
// so a single slow or hanging call can't consume the time budget another
// check in the same evaluation would otherwise have gotten.
func (l *Limiter) tryConsume(ctx context.Context, check strategy.Check, now time.Time) (bucketstore.Outcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()
	return l.store.TryConsume(callCtx, check.Key, check.Params.Capacity, check.Params.RefillIntervalSeconds, now)
}

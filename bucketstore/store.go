// Package bucketstore defines the Bucket Store abstraction: a single
// atomic try-consume-one primitive over a shared key-value store, plus
// the concrete Redis, Postgres, and in-memory realizations of it.
package bucketstore

import (
	"context"
	"time"
)

// Outcome is the result of one TryConsume call.
type Outcome int

const (
	// Denied means the bucket had no tokens available after refill.
	Denied Outcome = iota
	// Admitted means a token was available and has been consumed.
	Admitted
)

func (o Outcome) String() string {
	if o == Admitted {
		return "admitted"
	}
	return "denied"
}

// Store is the single primitive the rate-limit evaluation core requires:
// an atomic try-consume-one operation per namespaced key.
//
// Implementations MUST guarantee that any interleaving of concurrent
// callers against the same key produces a total order of try-consume
// operations whose cumulative admit count over any interval never
// exceeds capacity plus the number of whole refill intervals elapsed.
// A missing key is treated as a freshly filled bucket.
type Store interface {
	// TryConsume atomically refills, then admits or denies, one token
	// for key under the given bucket parameters. now is the caller's
	// wall-clock time in seconds resolution; refillIntervalSeconds and
	// capacity come from the matching BucketParams. A non-nil error is
	// never used to report a normal deny: it is a StoreError (unreachable
	// store, timeout, or a malformed/inconsistent response), ErrKeyTooLong
	// for a key longer than MaxKeyBytes, or, from memstore, ctx's own
	// error when ctx is already done.
	TryConsume(ctx context.Context, key string, capacity int, refillIntervalSeconds int, now time.Time) (Outcome, error)

	// Healthy reports whether the store has been responding without a
	// run of consecutive StoreErrors. It is advisory only and never gates
	// the per-call fail-open decision; the limiter and gateway in this
	// repository do not call it.
	Healthy() bool

	// Close releases resources (connection pools, clients) held by the
	// store.
	Close() error
}

// MaxKeyBytes is the largest accepted key length, per the spec's
// namespaced-key contract.
const MaxKeyBytes = 512

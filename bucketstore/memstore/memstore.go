// Package memstore is an in-process Bucket Store realization: no network
// round trip, state lives in a sync.Map guarded by a per-key mutex. The
// test suites use it in place of Redis or Postgres; the rlgate command
// does not offer it as a backend. The teacher's in-memory backend (sync.Map plus a
// pooled per-key mutex) is adapted here to hold bucket state rather than
// arbitrary cached values, and to do the same discrete-interval refill math
// as the Lua script and the Postgres transaction.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/ajiwo/rlgate/bucketstore"
)

// mutexPool reduces allocations for the per-key locks.
var mutexPool = sync.Pool{
	New: func() any { return &sync.Mutex{} },
}

type bucket struct {
	tokens       int64
	lastRefillAt int64 // unix seconds
}

// Store is an in-process bucketstore.Store. It is always Healthy, since
// there is no external dependency to fail.
type Store struct {
	locks  sync.Map // map[string]*sync.Mutex
	values sync.Map // map[string]*bucket
}

// New constructs an empty in-process Store.
func New() *Store {
	return &Store{}
}

func (s *Store) getLock(key string) *sync.Mutex {
	if existing, ok := s.locks.Load(key); ok {
		return existing.(*sync.Mutex)
	}
	mutex := mutexPool.Get().(*sync.Mutex)
	actual, loaded := s.locks.LoadOrStore(key, mutex)
	if loaded {
		mutexPool.Put(mutex)
	}
	return actual.(*sync.Mutex)
}

// TryConsume performs the refill-then-consume decision under the key's
// mutex, matching the redisstore/pgstore discrete-interval refill formula
// exactly: tokens advance by whole elapsed intervals only, never by a
// fractional amount, and last_refill_at advances in interval-sized steps
// rather than snapping to now.
func (s *Store) TryConsume(ctx context.Context, key string, capacity int, refillIntervalSeconds int, now time.Time) (bucketstore.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return bucketstore.Denied, err
	}
	if len(key) > bucketstore.MaxKeyBytes {
		return bucketstore.Denied, bucketstore.ErrKeyTooLong
	}

	lock := s.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	nowSeconds := now.Unix()

	var b *bucket
	if existing, ok := s.values.Load(key); ok {
		b = existing.(*bucket)
	} else {
		b = &bucket{tokens: int64(capacity), lastRefillAt: nowSeconds}
		s.values.Store(key, b)
	}

	elapsed := nowSeconds - b.lastRefillAt
	if elapsed > 0 && refillIntervalSeconds > 0 {
		wholeIntervals := elapsed / int64(refillIntervalSeconds)
		if wholeIntervals > 0 {
			b.tokens = min(int64(capacity), b.tokens+wholeIntervals)
			b.lastRefillAt += wholeIntervals * int64(refillIntervalSeconds)
		}
	}

	if b.tokens >= 1 {
		b.tokens--
		return bucketstore.Admitted, nil
	}
	return bucketstore.Denied, nil
}

// Healthy always reports true: there is no external dependency to fail.
func (s *Store) Healthy() bool { return true }

// Close releases the Store's internal maps. Safe to call once.
func (s *Store) Close() error {
	s.values = sync.Map{}
	s.locks = sync.Map{}
	return nil
}

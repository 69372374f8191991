package limiter

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajiwo/rlgate/bucketstore"
	"github.com/ajiwo/rlgate/bucketstore/memstore"
	"github.com/ajiwo/rlgate/keys"
	"github.com/ajiwo/rlgate/strategy"
)

func clockAt(seconds int64) func() time.Time {
	return func() time.Time { return time.Unix(seconds, 0) }
}

// Scenario 1: url strategy, per-value {"/hello", capacity=1, interval=10}.
func TestScenario1_URLPerValue(t *testing.T) {
	cfg := Config{
		Strategies: []strategy.Config{{
			Kind: strategy.KindURL,
			PerValueBucket: []strategy.PerValueBucket{
				{Value: "/hello", Params: strategy.BucketParams{Capacity: 1, RefillIntervalSeconds: 10}},
			},
		}},
	}
	store := memstore.New()
	lim, err := New(cfg, store)
	require.NoError(t, err)
	ctx := context.Background()

	lim.cfg.Now = clockAt(0)
	r, err := lim.Evaluate(ctx, keys.Fingerprint{Path: "/hello"})
	require.NoError(t, err)
	assert.True(t, r.Admitted)

	lim.cfg.Now = clockAt(1)
	r, err = lim.Evaluate(ctx, keys.Fingerprint{Path: "/hello"})
	require.NoError(t, err)
	assert.False(t, r.Admitted)

	lim.cfg.Now = clockAt(10)
	r, err = lim.Evaluate(ctx, keys.Fingerprint{Path: "/hello"})
	require.NoError(t, err)
	assert.True(t, r.Admitted)
}

// Scenario 2: ip strategy, global_bucket={capacity=2, interval=60}.
func TestScenario2_IPGlobal(t *testing.T) {
	cfg := Config{
		Strategies: []strategy.Config{{
			Kind:   strategy.KindIP,
			Global: &strategy.BucketParams{Capacity: 2, RefillIntervalSeconds: 60},
		}},
		Now: clockAt(0),
	}
	store := memstore.New()
	lim, err := New(cfg, store)
	require.NoError(t, err)
	ctx := context.Background()

	r, _ := lim.Evaluate(ctx, keys.Fingerprint{IP: "A"})
	assert.True(t, r.Admitted)
	r, _ = lim.Evaluate(ctx, keys.Fingerprint{IP: "A"})
	assert.True(t, r.Admitted)
	r, _ = lim.Evaluate(ctx, keys.Fingerprint{IP: "A"})
	assert.False(t, r.Admitted)

	r, _ = lim.Evaluate(ctx, keys.Fingerprint{IP: "B"})
	assert.True(t, r.Admitted, "distinct IP uses a distinct key")
}

// Scenario 3: whitelist bypass, zero try_consume calls.
func TestScenario3_WhitelistBypass(t *testing.T) {
	cfg := Config{
		IPWhitelist: map[string]struct{}{"10.0.0.1": {}},
		Strategies: []strategy.Config{{
			Kind:   strategy.KindIP,
			Global: &strategy.BucketParams{Capacity: 2, RefillIntervalSeconds: 60},
		}},
		Now: clockAt(0),
	}
	store := memstore.New()
	lim, err := New(cfg, store)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		r, err := lim.Evaluate(ctx, keys.Fingerprint{IP: "10.0.0.1"})
		require.NoError(t, err)
		assert.True(t, r.Admitted)
	}
}

// Scenario 4: header strategy, global_bucket={3,120}, per-value {"X-Token",1,100}.
func TestScenario4_HeaderPerValueOverridesGlobal(t *testing.T) {
	cfg := Config{
		Strategies: []strategy.Config{{
			Kind:   strategy.KindHeader,
			Global: &strategy.BucketParams{Capacity: 3, RefillIntervalSeconds: 120},
			PerValueBucket: []strategy.PerValueBucket{
				{Value: "X-Token", Params: strategy.BucketParams{Capacity: 1, RefillIntervalSeconds: 100}},
			},
		}},
	}
	store := memstore.New()
	lim, err := New(cfg, store)
	require.NoError(t, err)
	ctx := context.Background()

	withToken := keys.Fingerprint{Headers: map[string][]string{"X-Token": {"abc"}}}

	lim.cfg.Now = clockAt(0)
	r, _ := lim.Evaluate(ctx, withToken)
	assert.True(t, r.Admitted)

	lim.cfg.Now = clockAt(1)
	r, _ = lim.Evaluate(ctx, withToken)
	assert.False(t, r.Admitted, "per-value bucket exhausted; global not consulted")

	without := keys.Fingerprint{}
	for i, wantAdmit := range []bool{true, true, true, false} {
		lim.cfg.Now = clockAt(int64(i))
		r, _ := lim.Evaluate(ctx, without)
		assert.Equal(t, wantAdmit, r.Admitted, "request %d without X-Token", i)
	}
}

// Scenario 5: url per-value {"/a",5,60} and ip global {2,60}; IP bucket
// denies before the URL bucket is exhausted.
func TestScenario5_TwoStrategiesIPDeniesFirst(t *testing.T) {
	cfg := Config{
		Strategies: []strategy.Config{
			{Kind: strategy.KindURL, PerValueBucket: []strategy.PerValueBucket{
				{Value: "/a", Params: strategy.BucketParams{Capacity: 5, RefillIntervalSeconds: 60}},
			}},
			{Kind: strategy.KindIP, Global: &strategy.BucketParams{Capacity: 2, RefillIntervalSeconds: 60}},
		},
		Now: clockAt(0),
	}
	store := memstore.New()
	lim, err := New(cfg, store)
	require.NoError(t, err)
	ctx := context.Background()
	fp := keys.Fingerprint{Path: "/a", IP: "1.2.3.4"}

	r, _ := lim.Evaluate(ctx, fp)
	assert.True(t, r.Admitted)
	r, _ = lim.Evaluate(ctx, fp)
	assert.True(t, r.Admitted)
	r, _ = lim.Evaluate(ctx, fp)
	assert.False(t, r.Admitted)
	assert.Equal(t, strategy.KindIP, r.DeniedKind)
}

// Scenario 6: query strategy, per-value {"user_id", capacity=1, interval=30}.
func TestScenario6_QueryPerValue(t *testing.T) {
	cfg := Config{
		Strategies: []strategy.Config{{
			Kind: strategy.KindQuery,
			PerValueBucket: []strategy.PerValueBucket{
				{Value: "user_id", Params: strategy.BucketParams{Capacity: 1, RefillIntervalSeconds: 30}},
			},
		}},
	}
	store := memstore.New()
	lim, err := New(cfg, store)
	require.NoError(t, err)
	ctx := context.Background()

	lim.cfg.Now = clockAt(0)
	r, _ := lim.Evaluate(ctx, keys.Fingerprint{Query: url.Values{"user_id": {"42"}}})
	assert.True(t, r.Admitted)

	lim.cfg.Now = clockAt(15)
	r, _ = lim.Evaluate(ctx, keys.Fingerprint{Query: url.Values{"user_id": {"42"}}})
	assert.False(t, r.Admitted)

	r, _ = lim.Evaluate(ctx, keys.Fingerprint{Query: url.Values{"user_id": {"43"}}})
	assert.True(t, r.Admitted, "distinct value is a distinct key")
}

func TestMissingExtractorIsNotADenial(t *testing.T) {
	cfg := Config{
		Strategies: []strategy.Config{{
			Kind: strategy.KindHeader,
			PerValueBucket: []strategy.PerValueBucket{
				{Value: "X-Rare", Params: strategy.BucketParams{Capacity: 1, RefillIntervalSeconds: 1}},
			},
		}},
		Now: clockAt(0),
	}
	lim, err := New(cfg, memstore.New())
	require.NoError(t, err)

	r, err := lim.Evaluate(context.Background(), keys.Fingerprint{})
	require.NoError(t, err)
	assert.True(t, r.Admitted)
}

func TestFailClosedOnStoreError(t *testing.T) {
	cfg := Config{
		Strategies: []strategy.Config{{
			Kind:   strategy.KindIP,
			Global: &strategy.BucketParams{Capacity: 1, RefillIntervalSeconds: 1},
		}},
		FailClosed: true,
		Now:        clockAt(0),
	}
	lim, err := New(cfg, alwaysErrorStore{})
	require.NoError(t, err)

	r, err := lim.Evaluate(context.Background(), keys.Fingerprint{IP: "1.2.3.4"})
	require.NoError(t, err)
	assert.False(t, r.Admitted)
	assert.True(t, r.StoreErrorSeen)
}

func TestFailOpenOnStoreError(t *testing.T) {
	cfg := Config{
		Strategies: []strategy.Config{{
			Kind:   strategy.KindIP,
			Global: &strategy.BucketParams{Capacity: 1, RefillIntervalSeconds: 1},
		}},
		Now: clockAt(0),
	}
	lim, err := New(cfg, alwaysErrorStore{})
	require.NoError(t, err)

	r, err := lim.Evaluate(context.Background(), keys.Fingerprint{IP: "1.2.3.4"})
	require.NoError(t, err)
	assert.True(t, r.Admitted)
	assert.True(t, r.StoreErrorSeen)
}

type alwaysErrorStore struct{}

func (alwaysErrorStore) TryConsume(context.Context, string, int, int, time.Time) (bucketstore.Outcome, error) {
	return bucketstore.Denied, bucketstore.ErrStoreUnavailable
}

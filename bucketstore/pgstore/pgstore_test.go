package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajiwo/rlgate/bucketstore"
)

func setupPostgresTest(t *testing.T) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		return nil, func() {}
	}

	store, err := New(Config{ConnString: dsn})
	if err != nil {
		return nil, func() {}
	}

	teardown := func() {
		_, _ = store.pool.Exec(context.Background(), "DELETE FROM rl_buckets")
		store.Close()
	}
	return store, teardown
}

func TestStore_TryConsume_FirstReferenceAdmits(t *testing.T) {
	store, teardown := setupPostgresTest(t)
	defer teardown()
	if store == nil {
		t.Skip("PostgreSQL not available, skipping tests")
	}

	outcome, err := store.TryConsume(context.Background(), "rl:ip:pg1", 1, 10, time.Now())
	require.NoError(t, err)
	assert.Equal(t, bucketstore.Admitted, outcome)
}

func TestStore_TryConsume_DeniesAtZeroTokens(t *testing.T) {
	store, teardown := setupPostgresTest(t)
	defer teardown()
	if store == nil {
		t.Skip("PostgreSQL not available, skipping tests")
	}

	ctx := context.Background()
	now := time.Now()

	outcome, err := store.TryConsume(ctx, "rl:ip:pg2", 1, 10, now)
	require.NoError(t, err)
	require.Equal(t, bucketstore.Admitted, outcome)

	outcome, err = store.TryConsume(ctx, "rl:ip:pg2", 1, 10, now)
	require.NoError(t, err)
	assert.Equal(t, bucketstore.Denied, outcome)
}

func TestStore_TryConsume_RefillsAfterWholeIntervals(t *testing.T) {
	store, teardown := setupPostgresTest(t)
	defer teardown()
	if store == nil {
		t.Skip("PostgreSQL not available, skipping tests")
	}

	ctx := context.Background()
	base := time.Now()

	outcome, err := store.TryConsume(ctx, "rl:ip:pg3", 1, 10, base)
	require.NoError(t, err)
	require.Equal(t, bucketstore.Admitted, outcome)

	outcome, err = store.TryConsume(ctx, "rl:ip:pg3", 1, 10, base.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, bucketstore.Denied, outcome)

	outcome, err = store.TryConsume(ctx, "rl:ip:pg3", 1, 10, base.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, bucketstore.Admitted, outcome)
}

func TestIsSerializationFailure_NonPgError(t *testing.T) {
	assert.False(t, isSerializationFailure(assertErr{}))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestStore_Close(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PostgreSQL not available, skipping Close test")
	}

	store, err := New(Config{ConnString: dsn})
	if err != nil {
		t.Skipf("PostgreSQL not available, skipping Close test: %v", err)
	}

	err = store.Close()
	require.NoError(t, err)
}

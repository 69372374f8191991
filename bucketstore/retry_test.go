package bucketstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff_GrowsWithAttempt(t *testing.T) {
	short := NextBackoff(0, time.Millisecond)
	long := NextBackoff(5, time.Millisecond)
	assert.Less(t, short, long)
}

func TestNextBackoff_ClampsFeedback(t *testing.T) {
	// A feedback latency far outside [50us, 50ms] must still produce a
	// bounded, positive delay rather than over/underflowing.
	d := NextBackoff(0, time.Hour)
	assert.Positive(t, d)
	assert.Less(t, d, time.Second)
}

func TestSleepOrWait_ShortDelayIgnoresContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepOrWait(ctx, time.Millisecond, 10*time.Millisecond)
	assert.NoError(t, err)
}

func TestSleepOrWait_LongDelayRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepOrWait(ctx, time.Hour, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

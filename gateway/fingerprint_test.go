package gateway

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFingerprint_BodyWithinCeilingIsExtracted(t *testing.T) {
	r := httptest.NewRequest("POST", "/x", strings.NewReader(`{"user_id":"42"}`))

	fp, err := buildFingerprint(r, true, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, `{"user_id":"42"}`, string(fp.Body))

	forwarded, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"user_id":"42"}`, string(forwarded))
}

func TestBuildFingerprint_OversizedBodyIsExtractionMissButFullyForwarded(t *testing.T) {
	payload := strings.Repeat("a", 100)
	r := httptest.NewRequest("POST", "/x", strings.NewReader(payload))

	fp, err := buildFingerprint(r, true, 10)
	require.NoError(t, err)
	assert.Nil(t, fp.Body, "over the ceiling: extraction must see a miss")

	forwarded, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(forwarded), "the proxy leg must still see the entire body, not just the peeked prefix")
}

func TestBuildFingerprint_NoBufferingLeavesBodyIntact(t *testing.T) {
	payload := "unused by any strategy"
	r := httptest.NewRequest("POST", "/x", strings.NewReader(payload))

	fp, err := buildFingerprint(r, false, 1<<20)
	require.NoError(t, err)
	assert.Nil(t, fp.Body)

	forwarded, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(forwarded))
}

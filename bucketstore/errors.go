package bucketstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrStoreUnavailable is the sentinel a StoreError wraps; callers can
// test for it with errors.Is regardless of which backend produced it.
var ErrStoreUnavailable = errors.New("bucket store unavailable")

// ErrKeyTooLong is returned when a namespaced key exceeds MaxKeyBytes.
var ErrKeyTooLong = errors.New("bucket store key exceeds maximum length")

// FailureKind classifies why a TryConsume attempt failed. A caller can
// branch on it directly instead of re-parsing the wrapped driver error,
// e.g. to decide whether fail-open logging should fire on every request
// (Timeout, likely transient) or once per outage (Connectivity).
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureConnectivity
	FailureTimeout
)

func (k FailureKind) String() string {
	switch k {
	case FailureConnectivity:
		return "connectivity"
	case FailureTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// StoreError reports a failed attempt to consume from key, tagged with
// the FailureKind the classifier assigned it. Key is the exact
// namespaced bucket key the caller was operating on, not a free-text
// description of the call site -- it lets a log line or a metrics
// label pin an outage to the strategy/value that triggered it.
type StoreError struct {
	Key   string
	Kind  FailureKind
	Cause error
}

func (e *StoreError) Error() string {
	if e == nil {
		return ErrStoreUnavailable.Error()
	}
	if e.Key == "" {
		return fmt.Sprintf("%s (%s): %v", ErrStoreUnavailable, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s (%s) key=%q: %v", ErrStoreUnavailable, e.Kind, e.Key, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// NewStoreError wraps cause as a StoreError against key, classified as
// kind. A nil cause yields the bare sentinel.
func NewStoreError(key string, kind FailureKind, cause error) error {
	if cause == nil {
		return ErrStoreUnavailable
	}
	return &StoreError{Key: key, Kind: kind, Cause: cause}
}

// IsStoreError reports whether err is, or wraps, a StoreError.
func IsStoreError(err error) bool {
	if errors.Is(err, ErrStoreUnavailable) {
		return true
	}
	var se *StoreError
	return errors.As(err, &se)
}

// ClassifyTryConsumeError turns a raw driver/client error observed while
// operating on key into a StoreError, choosing FailureConnectivity when
// the message matches one of patterns, FailureTimeout when it wraps a
// context deadline or cancellation, and passing the error through
// unchanged otherwise -- a malformed script result or a constraint
// violation is an operational failure, not a store outage, and the
// caller decides what to do with it (redisstore and pgstore both wrap it
// as a FailureUnknown StoreError).
func ClassifyTryConsumeError(key string, err error, patterns []string) error {
	if err == nil {
		return nil
	}

	lower := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return NewStoreError(key, FailureConnectivity, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewStoreError(key, FailureTimeout, err)
	}

	return err
}

// DefaultConnErrorPatterns are shared by the Redis and Postgres backends.
// Brittle by nature; backends accept an override list in their Config.
func DefaultConnErrorPatterns() []string {
	return []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"network is unreachable",
		"no such host",
		"i/o timeout",
		"broken pipe",
		"pool exhausted",
		"dial tcp",
	}
}

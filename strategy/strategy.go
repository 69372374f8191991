// Package strategy turns a configured StrategyConfig into the set of
// (namespaced key, BucketParams) checks one request must pass. It holds
// no state of its own -- every Emit call is a pure function of its
// config and the request fingerprint.
package strategy

import (
	"fmt"

	"github.com/ajiwo/rlgate/keys"
)

// Kind is one of the five supported strategy kinds.
type Kind string

const (
	KindIP     Kind = "ip"
	KindURL    Kind = "url"
	KindHeader Kind = "header"
	KindQuery  Kind = "query"
	KindBody   Kind = "body"
)

// BucketParams is the refill policy of one bucket.
type BucketParams struct {
	Capacity              int
	RefillIntervalSeconds int
}

// PerValueBucket pairs an explicit value with the bucket parameters that
// override the global bucket for that value.
type PerValueBucket struct {
	Value  string
	Params BucketParams
}

// Config is one strategy block: an extraction kind, an optional global
// bucket applied per distinct extracted value, and zero or more
// per-value overrides.
//
// For Kind query and Kind body, Global must be nil -- validated by
// Validate, not by Emit.
type Config struct {
	Kind           Kind
	Global         *BucketParams
	PerValueBucket []PerValueBucket
}

// Check is one (namespaced key, bucket params) pair a Limiter must run
// through the Bucket Store.
type Check struct {
	Key    string
	Params BucketParams
}

// Validate enforces the StrategyConfig construction-time rules from the
// data model: at least one of Global/PerValueBucket must be set, and
// query/body strategies never accept a global bucket.
func (c Config) Validate() error {
	if c.Global == nil && len(c.PerValueBucket) == 0 {
		return fmt.Errorf("strategy %q: at least one of global_bucket or per_value_buckets is required", c.Kind)
	}
	if (c.Kind == KindQuery || c.Kind == KindBody) && c.Global != nil {
		return fmt.Errorf("strategy %q: global_bucket is not accepted for this kind", c.Kind)
	}
	for _, pv := range c.PerValueBucket {
		if pv.Params.Capacity <= 0 {
			return fmt.Errorf("strategy %q: value %q: capacity must be positive", c.Kind, pv.Value)
		}
		if pv.Params.RefillIntervalSeconds <= 0 {
			return fmt.Errorf("strategy %q: value %q: refill_interval_seconds must be positive", c.Kind, pv.Value)
		}
	}
	if c.Global != nil {
		if c.Global.Capacity <= 0 {
			return fmt.Errorf("strategy %q: global_bucket: capacity must be positive", c.Kind)
		}
		if c.Global.RefillIntervalSeconds <= 0 {
			return fmt.Errorf("strategy %q: global_bucket: refill_interval_seconds must be positive", c.Kind)
		}
	}
	return nil
}

// Emit derives the checks this strategy requires for fp. Per-value
// buckets override the global bucket for a matching value, so exactly
// one check per distinct applicable value is ever emitted per kind,
// never both.
func (c Config) Emit(fp keys.Fingerprint) []Check {
	switch c.Kind {
	case KindIP:
		return c.emitSingleValue(keys.ExtractIP(fp))
	case KindURL:
		return c.emitURL(fp)
	case KindHeader:
		return c.emitHeader(fp)
	case KindQuery:
		return c.emitPerValueOnly(fp, keys.ExtractQuery)
	case KindBody:
		return c.emitPerValueOnly(fp, keys.ExtractBody)
	default:
		return nil
	}
}

// emitSingleValue handles ip, where there is exactly one candidate value
// per request (the client IP) and per-value buckets are not meaningful.
func (c Config) emitSingleValue(value string, ok bool) []Check {
	if !ok || c.Global == nil {
		return nil
	}
	return []Check{{Key: namespace(c.Kind, value), Params: *c.Global}}
}

// emitURL handles url: per-value checks match the path exactly against
// a configured value; the global bucket (if any) applies to every
// distinct path not covered by a per-value match.
func (c Config) emitURL(fp keys.Fingerprint) []Check {
	path, ok := keys.ExtractURL(fp)
	if !ok {
		return nil
	}
	if pv, matched := matchPerValue(c.PerValueBucket, path); matched {
		return []Check{{Key: namespace(c.Kind, pv.Value), Params: pv.Params}}
	}
	if c.Global == nil {
		return nil
	}
	return []Check{{Key: namespace(c.Kind, path), Params: *c.Global}}
}

// emitHeader handles header: per-value buckets are keyed by header name,
// looked up by that name and, when present, override the global bucket
// entirely for that request (§4.3). The global bucket, when configured,
// falls back to a single universal key "*" whenever at least one
// configured per-value name goes unmatched (header absent) -- or always,
// if no per-value names are configured at all -- rather than per
// extracted value, since an absent header carries no value to key on.
func (c Config) emitHeader(fp keys.Fingerprint) []Check {
	var checks []Check
	anyUnmatched := len(c.PerValueBucket) == 0

	for _, pv := range c.PerValueBucket {
		value, ok := keys.ExtractHeader(fp, pv.Value)
		if !ok {
			anyUnmatched = true
			continue
		}
		checks = append(checks, Check{Key: namespace(c.Kind, pv.Value+":"+value), Params: pv.Params})
	}

	if c.Global != nil && anyUnmatched {
		checks = append(checks, Check{Key: namespace(c.Kind, "*"), Params: *c.Global})
	}

	return checks
}

// emitPerValueOnly handles query and body: every configured per-value
// entry is looked up independently (its Value is the parameter/field
// name), each match emitting its own check.
func (c Config) emitPerValueOnly(fp keys.Fingerprint, extract func(keys.Fingerprint, string) (string, bool)) []Check {
	var checks []Check
	for _, pv := range c.PerValueBucket {
		value, ok := extract(fp, pv.Value)
		if !ok {
			continue
		}
		checks = append(checks, Check{Key: namespace(c.Kind, pv.Value+":"+value), Params: pv.Params})
	}
	return checks
}

func matchPerValue(buckets []PerValueBucket, value string) (PerValueBucket, bool) {
	for _, pv := range buckets {
		if pv.Value == value {
			return pv, true
		}
	}
	return PerValueBucket{}, false
}

func namespace(kind Kind, value string) string {
	return "rl:" + string(kind) + ":" + value
}

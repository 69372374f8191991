// Package gwconfig loads and validates the gateway's Settings.toml,
// binding it into the strategy/limiter/bucketstore types the rest of the
// service consumes.
package gwconfig

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ajiwo/rlgate/strategy"
)

// DefaultSettingsPath is used when RL_SETTINGS_PATH is unset.
const DefaultSettingsPath = "./Settings.toml"

// SettingsPathEnv is the environment variable naming the settings file.
const SettingsPathEnv = "RL_SETTINGS_PATH"

// ConfigError wraps a validation or parse failure found while loading
// Settings.toml. It is always fatal at startup.
type ConfigError struct {
	Cause error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %v", e.Cause) }
func (e *ConfigError) Unwrap() error  { return e.Cause }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Cause: fmt.Errorf(format, args...)}
}

// rawSettings mirrors the Settings.toml schema exactly, including field
// names, before any validation or defaulting is applied.
type rawSettings struct {
	APIGateway  rawAPIGateway  `toml:"api_gateway"`
	RateLimiter rawRateLimiter `toml:"rate_limiter"`
}

type rawAPIGateway struct {
	TargetURL       string `toml:"target_url"`
	ProxyServerAddr string `toml:"proxy_server_addr"`
	MaxBodyBytes    int64  `toml:"max_body_bytes"`
}

type rawRateLimiter struct {
	RedisAddr      string           `toml:"redis_addr"`
	Backend        string           `toml:"backend"`
	PostgresDSN    string           `toml:"postgres_dsn"`
	FailClosed     bool             `toml:"fail_closed"`
	StoreTimeoutMs int              `toml:"store_timeout_ms"`
	IPWhitelist    []string         `toml:"ip_whitelist"`
	Limiter        []rawStrategyCfg `toml:"limiter"`
}

type rawStrategyCfg struct {
	Strategy      string              `toml:"strategy"`
	GlobalBucket  *rawBucket          `toml:"global_bucket"`
	BucketsPerVal []rawPerValueBucket `toml:"buckets_per_value"`
}

type rawBucket struct {
	TokensCount   int `toml:"tokens_count"`
	AddTokenEvery int `toml:"add_tokens_every"`
}

type rawPerValueBucket struct {
	Value         string `toml:"value"`
	TokensCount   int    `toml:"tokens_count"`
	AddTokenEvery int    `toml:"add_tokens_every"`
}

// Backend selects the Bucket Store realization.
type Backend string

const (
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// Settings is the fully validated, bound configuration the rest of the
// service consumes.
type Settings struct {
	TargetURL       string
	ProxyServerAddr string
	MaxBodyBytes    int64

	Backend      Backend
	RedisAddr    string
	PostgresDSN  string
	FailClosed   bool
	StoreTimeout time.Duration
	IPWhitelist  map[string]struct{}
	Strategies   []strategy.Config
}

// Load reads RL_SETTINGS_PATH (default DefaultSettingsPath), parses it
// as TOML, and validates it into Settings. Any failure is a ConfigError
// and is fatal at startup.
func Load() (*Settings, error) {
	path := os.Getenv(SettingsPathEnv)
	if path == "" {
		path = DefaultSettingsPath
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit path, for tests.
func LoadFile(path string) (*Settings, error) {
	var raw rawSettings
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, configErrorf("failed to parse %s: %w", path, err)
	}
	return validate(raw)
}

func validate(raw rawSettings) (*Settings, error) {
	if raw.APIGateway.TargetURL == "" {
		return nil, configErrorf("api_gateway.target_url is required")
	}
	if raw.APIGateway.ProxyServerAddr == "" {
		return nil, configErrorf("api_gateway.proxy_server_addr is required")
	}
	backend := Backend(raw.RateLimiter.Backend)
	if backend == "" {
		backend = BackendRedis
	}
	if backend != BackendRedis && backend != BackendPostgres {
		return nil, configErrorf("rate_limiter.backend: unknown value %q", raw.RateLimiter.Backend)
	}
	if backend == BackendRedis && raw.RateLimiter.RedisAddr == "" {
		return nil, configErrorf("rate_limiter.redis_addr is required")
	}
	if backend == BackendPostgres && raw.RateLimiter.PostgresDSN == "" {
		return nil, configErrorf("rate_limiter.postgres_dsn is required when backend is postgres")
	}

	whitelist := make(map[string]struct{}, len(raw.RateLimiter.IPWhitelist))
	for _, ip := range raw.RateLimiter.IPWhitelist {
		if net.ParseIP(ip) == nil {
			return nil, configErrorf("rate_limiter.ip_whitelist: invalid IP %q", ip)
		}
		whitelist[ip] = struct{}{}
	}

	strategies := make([]strategy.Config, 0, len(raw.RateLimiter.Limiter))
	for i, rs := range raw.RateLimiter.Limiter {
		cfg, err := bindStrategy(rs)
		if err != nil {
			return nil, configErrorf("rate_limiter.limiter[%d]: %w", i, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, configErrorf("rate_limiter.limiter[%d]: %w", i, err)
		}
		strategies = append(strategies, cfg)
	}

	maxBodyBytes := raw.APIGateway.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}

	storeTimeoutMs := raw.RateLimiter.StoreTimeoutMs
	if storeTimeoutMs <= 0 {
		storeTimeoutMs = 100
	}

	return &Settings{
		TargetURL:       raw.APIGateway.TargetURL,
		ProxyServerAddr: raw.APIGateway.ProxyServerAddr,
		MaxBodyBytes:    maxBodyBytes,
		Backend:         backend,
		RedisAddr:       raw.RateLimiter.RedisAddr,
		PostgresDSN:     raw.RateLimiter.PostgresDSN,
		FailClosed:      raw.RateLimiter.FailClosed,
		StoreTimeout:    time.Duration(storeTimeoutMs) * time.Millisecond,
		IPWhitelist:     whitelist,
		Strategies:      strategies,
	}, nil
}

func bindStrategy(rs rawStrategyCfg) (strategy.Config, error) {
	kind := strategy.Kind(rs.Strategy)
	switch kind {
	case strategy.KindIP, strategy.KindURL, strategy.KindHeader, strategy.KindQuery, strategy.KindBody:
	default:
		return strategy.Config{}, fmt.Errorf("unknown strategy %q", rs.Strategy)
	}

	cfg := strategy.Config{Kind: kind}

	if rs.GlobalBucket != nil {
		if kind == strategy.KindQuery || kind == strategy.KindBody {
			return strategy.Config{}, fmt.Errorf("global_bucket is not accepted for strategy %q", kind)
		}
		cfg.Global = &strategy.BucketParams{
			Capacity:              rs.GlobalBucket.TokensCount,
			RefillIntervalSeconds: rs.GlobalBucket.AddTokenEvery,
		}
	}

	for _, pv := range rs.BucketsPerVal {
		cfg.PerValueBucket = append(cfg.PerValueBucket, strategy.PerValueBucket{
			Value: pv.Value,
			Params: strategy.BucketParams{
				Capacity:              pv.TokensCount,
				RefillIntervalSeconds: pv.AddTokenEvery,
			},
		})
	}

	return cfg, nil
}

// Package gateway is the HTTP intake: it evaluates the Limiter for each
// request and either proxies to the configured upstream or responds
// 429, logging structured incidents along the way. Built on the same
// echo/v4 + echo/v4/middleware stack the teacher's own echo middleware
// example wires up (examples/middleware/echo), generalized from a
// library-embedding middleware into a standalone reverse-proxy gateway.
package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ajiwo/rlgate/limiter"
	"github.com/ajiwo/rlgate/strategy"
)

// Config configures one Gateway instance.
type Config struct {
	TargetURL     string
	MaxBodyBytes  int64
	StrategyKinds []strategy.Kind
}

// Gateway wires a Limiter to an HTTP intake and an upstream reverse
// proxy.
type Gateway struct {
	limiter *limiter.Limiter
	proxy   *httputil.ReverseProxy
	log     *logrus.Logger
	cfg     Config
	echo    *echo.Echo
}

// New constructs a Gateway. target is parsed once at construction since
// the upstream never changes at runtime (spec.md Non-goals: dynamic
// reconfiguration).
func New(cfg Config, lim *limiter.Limiter, log *logrus.Logger) (*Gateway, error) {
	target, err := url.Parse(ensureScheme(cfg.TargetURL))
	if err != nil {
		return nil, fmt.Errorf("invalid target_url %q: %w", cfg.TargetURL, err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	gw := &Gateway{
		limiter: lim,
		proxy:   httputil.NewSingleHostReverseProxy(target),
		log:     log,
		cfg:     cfg,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Any("/*", gw.handle)
	gw.echo = e

	return gw, nil
}

func ensureScheme(targetURL string) string {
	if u, err := url.Parse(targetURL); err == nil && u.Host != "" {
		return targetURL
	}
	return "http://" + targetURL
}

// Handler returns the http.Handler the gateway serves on.
func (g *Gateway) Handler() http.Handler { return g.echo }

func (g *Gateway) handle(c echo.Context) error {
	r := c.Request()
	requestID := uuid.NewString()
	entry := g.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"path":       r.URL.Path,
	})

	fp, err := buildFingerprint(r, needsBody(g.cfg.StrategyKinds), g.cfg.MaxBodyBytes)
	if err != nil {
		entry.WithError(err).Warn("failed to buffer request body; body strategies will miss")
	}

	result, err := g.limiter.Evaluate(r.Context(), fp)
	if err != nil {
		entry.WithError(err).Error("limiter evaluation failed unexpectedly")
		return c.String(http.StatusInternalServerError, "internal error")
	}

	if result.StoreErrorSeen {
		entry.Warn("bucket store error during evaluation; fail-open/fail-closed policy applied")
	}

	if !result.Admitted {
		entry.WithField("denied_kind", result.DeniedKind).Info("request denied")
		return c.String(http.StatusTooManyRequests, fmt.Sprintf("rate limit exceeded: %s\n", result.DeniedKind))
	}

	g.proxy.ServeHTTP(c.Response(), r)
	return nil
}

// needsBody reports whether any configured strategy kind is "body".
func needsBody(kinds []strategy.Kind) bool {
	for _, k := range kinds {
		if k == strategy.KindBody {
			return true
		}
	}
	return false
}

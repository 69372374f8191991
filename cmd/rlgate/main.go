// Command rlgate runs the reverse-proxy rate limiter: it loads
// Settings.toml, constructs the configured Bucket Store backend, wires
// the Limiter and gateway, and serves until a termination signal asks
// for a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ajiwo/rlgate/bucketstore"
	"github.com/ajiwo/rlgate/bucketstore/pgstore"
	"github.com/ajiwo/rlgate/bucketstore/redisstore"
	"github.com/ajiwo/rlgate/gateway"
	"github.com/ajiwo/rlgate/gwconfig"
	"github.com/ajiwo/rlgate/limiter"
	"github.com/ajiwo/rlgate/strategy"
)

func main() {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(log); err != nil {
		log.WithError(err).Fatal("rlgate exiting")
	}
}

func run(log *logrus.Logger) error {
	settings, err := gwconfig.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log.WithFields(logrus.Fields{
		"backend":    settings.Backend,
		"target_url": settings.TargetURL,
		"bind_addr":  settings.ProxyServerAddr,
	}).Info("settings loaded")

	store, err := newStore(settings)
	if err != nil {
		return fmt.Errorf("bucket store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close bucket store cleanly")
		}
	}()

	lim, err := limiter.New(limiter.Config{
		IPWhitelist:  settings.IPWhitelist,
		Strategies:   settings.Strategies,
		FailClosed:   settings.FailClosed,
		StoreTimeout: settings.StoreTimeout,
	}, store)
	if err != nil {
		return fmt.Errorf("limiter: %w", err)
	}

	gw, err := gateway.New(gateway.Config{
		TargetURL:     settings.TargetURL,
		MaxBodyBytes:  settings.MaxBodyBytes,
		StrategyKinds: strategyKinds(settings.Strategies),
	}, lim, log)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	server := &http.Server{
		Addr:              settings.ProxyServerAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithField("addr", settings.ProxyServerAddr).Info("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func newStore(settings *gwconfig.Settings) (bucketstore.Store, error) {
	switch settings.Backend {
	case gwconfig.BackendPostgres:
		return pgstore.New(pgstore.Config{ConnString: settings.PostgresDSN})
	default:
		return redisstore.New(redisstore.Config{Addr: settings.RedisAddr, PoolSize: 10})
	}
}

func strategyKinds(strategies []strategy.Config) []strategy.Kind {
	kinds := make([]strategy.Kind, len(strategies))
	for i, s := range strategies {
		kinds[i] = s.Kind
	}
	return kinds
}

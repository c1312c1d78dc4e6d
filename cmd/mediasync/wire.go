package main

import (
	"context"
	"fmt"

	"mediasync/internal/config"
	"mediasync/internal/fetch"
	"mediasync/internal/metrics"
	"mediasync/internal/metrics/datadog"
	"mediasync/internal/metrics/prompush"
	"mediasync/internal/syncer"
	"mediasync/internal/throttle"
	"mediasync/internal/throttle/badgerstore"
	"mediasync/internal/throttle/redisstore"
	"mediasync/internal/throttle/sqlstore"
)

// backendCloser is a metrics backend the command shuts down on exit.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// pushCloser pushes once on Close; the Pushgateway backend has no flush loop.
type pushCloser struct{ *prompush.Backend }

func (p pushCloser) Close() error { return p.Flush() }

// newBackend returns the configured metrics backend, or nil for "none".
func newBackend(ctx context.Context, cfg config.MetricsConfig) (backendCloser, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "datadog":
		return datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       cfg.Tags,
			FlushEvery: cfg.FlushEvery,
		})
	case "pushgateway":
		b, err := prompush.NewBackend(cfg.Job, cfg.PushgatewayURL)
		if err != nil {
			return nil, err
		}
		return pushCloser{b}, nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.Backend)
	}
}

// openThrottle opens the configured throttle record store.
func openThrottle(ctx context.Context, cfg config.ThrottleConfig) (throttle.Store, error) {
	switch cfg.Kind {
	case "badger":
		return badgerstore.Open(cfg.Path)
	case "redis":
		return redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "sqlite":
		return sqlstore.Open(ctx, cfg.DSN)
	case "memory":
		return throttle.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown throttle store %q", cfg.Kind)
	}
}

func newFetcher(cfg config.APIConfig, job string) syncer.Fetcher {
	return fetch.New(fetch.Options{
		APIKey:        cfg.APIKey,
		KeyParam:      cfg.KeyParam,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Breaker: fetch.BreakerConfig{
			Enabled:          cfg.Breaker.Enabled,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenFor:          cfg.Breaker.OpenFor,
		},
		Job: job,
	})
}

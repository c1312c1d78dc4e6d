// Package config holds the process configuration for mediasync.
//
// Configuration is layered (see Load): built-in defaults, then an optional
// YAML file, then MEDIASYNC_* environment variables. The result is checked
// with Validate before it is handed to the rest of the program.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration.
type Config struct {
	API      APIConfig      `koanf:"api"`
	Sync     SyncConfig     `koanf:"sync"`
	Storage  StorageConfig  `koanf:"storage"`
	Throttle ThrottleConfig `koanf:"throttle"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// APIConfig points the fetch client at the remote catalog.
type APIConfig struct {
	BaseURL       string        `koanf:"base_url" validate:"required,url"`
	APIKey        string        `koanf:"api_key"`
	KeyParam      string        `koanf:"key_param" validate:"required"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
	RatePerSecond float64       `koanf:"rate_per_second" validate:"gte=0"`
	Burst         int           `koanf:"burst" validate:"gte=0"`
	Breaker       BreakerConfig `koanf:"breaker"`
}

// BreakerConfig toggles the fetch circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
	OpenFor          time.Duration `koanf:"open_for" validate:"gte=0"`
}

// SyncConfig holds the update interval: a key younger than Interval is not refetched.
type SyncConfig struct {
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

// StorageConfig selects the row store backend.
type StorageConfig struct {
	Kind string `koanf:"kind" validate:"oneof=sqlite postgres mssql"`
	DSN  string `koanf:"dsn" validate:"required"`
}

// ThrottleConfig selects where last-sync records live.
type ThrottleConfig struct {
	Kind          string `koanf:"kind" validate:"oneof=badger redis sqlite memory"`
	Path          string `koanf:"path"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"gte=0"`
	DSN           string `koanf:"dsn"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Backend        string        `koanf:"backend" validate:"oneof=none datadog pushgateway"`
	Job            string        `koanf:"job" validate:"required"`
	PushgatewayURL string        `koanf:"pushgateway_url"`
	Tags           []string      `koanf:"tags"`
	FlushEvery     time.Duration `koanf:"flush_every" validate:"gt=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints and the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}

	switch c.Throttle.Kind {
	case "badger":
		if c.Throttle.Path == "" {
			return errors.New("config: throttle.path is required for the badger throttle store")
		}
	case "redis":
		if c.Throttle.RedisAddr == "" {
			return errors.New("config: throttle.redis_addr is required for the redis throttle store")
		}
	case "sqlite":
		if c.Throttle.DSN == "" {
			return errors.New("config: throttle.dsn is required for the sqlite throttle store")
		}
	}
	if c.Metrics.Backend == "pushgateway" {
		if err := getValidator().Var(c.Metrics.PushgatewayURL, "required,url"); err != nil {
			return errors.New("config: metrics.pushgateway_url must be a url for the pushgateway backend")
		}
	}
	return nil
}

// fieldPath turns "Config.API.BaseURL" into "API.BaseURL".
func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

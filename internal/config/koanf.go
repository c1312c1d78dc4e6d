package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks the environment variables read by Load.
	// MEDIASYNC_API__BASE_URL sets api.base_url.
	EnvPrefix = "MEDIASYNC_"
	// ConfigPathEnvVar overrides the config file path when no -config flag is given.
	ConfigPathEnvVar = EnvPrefix + "CONFIG"
)

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"mediasync.yaml",
	"mediasync.yml",
	"/etc/mediasync/config.yaml",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       "https://api.themoviedb.org/3",
			KeyParam:      "api_key",
			Timeout:       15 * time.Second,
			RatePerSecond: 4,
			Burst:         8,
			Breaker: BreakerConfig{
				Enabled:          false,
				FailureThreshold: 5,
				OpenFor:          30 * time.Second,
			},
		},
		Sync: SyncConfig{
			Interval: 24 * time.Hour,
		},
		Storage: StorageConfig{
			Kind: "sqlite",
			DSN:  "mediasync.db",
		},
		Throttle: ThrottleConfig{
			Kind: "badger",
			Path: "mediasync-throttle",
		},
		Metrics: MetricsConfig{
			Backend:    "none",
			Job:        "mediasync",
			FlushEvery: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from, in increasing priority:
//  1. Default()
//  2. the YAML file at path (or MEDIASYNC_CONFIG, or the first of DefaultConfigPaths that exists)
//  3. MEDIASYNC_* environment variables
//
// Outside production (ENV != "production") the dotenv files are loaded
// first; they default to ".env" and never override variables already set.
func Load(path string, dotenv ...string) (*Config, error) {
	if os.Getenv("ENV") != "production" {
		loadDotEnv(dotenv)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if p := resolvePath(path); p != "" {
		if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", p, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	if err := splitCSV(k, "metrics.tags"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(files []string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// resolvePath returns an explicit path as is (a missing file is then an
// error), otherwise the first existing candidate, otherwise "".
func resolvePath(path string) string {
	if path != "" {
		return path
	}
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey maps MEDIASYNC_THROTTLE__REDIS_ADDR to throttle.redis_addr.
func envKey(name string) string {
	if name == ConfigPathEnvVar {
		return ""
	}
	rest := strings.TrimPrefix(name, EnvPrefix)
	if !strings.Contains(rest, "__") {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(rest), "__", ".")
}

// splitCSV turns a comma-separated string at path (as set from the
// environment) into a string slice. YAML lists are left alone.
func splitCSV(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("config: set %s: %w", path, err)
	}
	return nil
}

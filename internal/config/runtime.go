package config

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RuntimeConfig holds operational knobs that may change without a restart.
// It is loaded from an optional YAML file and hot-reloaded on change.
type RuntimeConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Upload    UploadConfig    `mapstructure:"upload"`
}

type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

func (c RuntimeConfig) Validate() error {
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be positive, got %d", c.RateLimit.WindowSeconds)
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive, got %d", c.Upload.MaxBytes)
	}
	return nil
}

// RuntimeHolder exposes the current RuntimeConfig. Reads are lock free.
type RuntimeHolder struct {
	value atomic.Value
}

// NewRuntimeHolder seeds the holder from the static config and, when path is
// not empty, overlays the YAML file and watches it for changes. A reload that
// fails validation keeps the previous value.
func NewRuntimeHolder(cfg Config, path string, log *zap.Logger) (*RuntimeHolder, error) {
	h := &RuntimeHolder{}
	defaults := RuntimeConfig{
		RateLimit: RateLimitConfig{
			WindowSeconds: cfg.RateLimitWindowSeconds,
			MaxRequests:   cfg.RateLimitMax,
		},
		Upload: UploadConfig{
			MaxBytes: cfg.UploadMaxBytes,
		},
	}
	h.value.Store(defaults)

	if path == "" {
		return h, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("rate_limit.window_seconds", defaults.RateLimit.WindowSeconds)
	v.SetDefault("rate_limit.max_requests", defaults.RateLimit.MaxRequests)
	v.SetDefault("upload.max_bytes", defaults.Upload.MaxBytes)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read runtime config %s: %w", path, err)
	}

	load := func() (RuntimeConfig, error) {
		var rc RuntimeConfig
		if err := v.Unmarshal(&rc); err != nil {
			return RuntimeConfig{}, err
		}
		if err := rc.Validate(); err != nil {
			return RuntimeConfig{}, err
		}
		return rc, nil
	}

	rc, err := load()
	if err != nil {
		return nil, fmt.Errorf("runtime config %s: %w", path, err)
	}
	h.value.Store(rc)

	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := load()
		if err != nil {
			log.Warn("runtime config reload rejected",
				zap.String("file", e.Name),
				zap.Error(err),
			)
			return
		}
		h.value.Store(next)
		log.Info("runtime config reloaded",
			zap.String("file", e.Name),
			zap.Int("rate_limit_max", next.RateLimit.MaxRequests),
			zap.Int64("upload_max_bytes", next.Upload.MaxBytes),
		)
	})
	v.WatchConfig()

	return h, nil
}

// Current returns the latest valid runtime configuration.
func (h *RuntimeHolder) Current() RuntimeConfig {
	rc, _ := h.value.Load().(RuntimeConfig)
	return rc
}

// ProvideRuntimeHolder wires the holder for fx from the static config.
func ProvideRuntimeHolder(cfg Config, log *zap.Logger) (*RuntimeHolder, error) {
	return NewRuntimeHolder(cfg, cfg.RuntimeConfigPath, log)
}

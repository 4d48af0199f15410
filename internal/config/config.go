// Package config loads audiofetch settings from a YAML file and the
// environment.
package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/KarpelesLab/audiofetch"
	"github.com/KarpelesLab/audiofetch/internal/logger"
	"github.com/KarpelesLab/audiofetch/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, AUDIOFETCH_FETCH_MAX_CONCURRENT
// sets fetch.max_concurrent.
const EnvPrefix = "AUDIOFETCH"

// Config is the top level configuration.
type Config struct {
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Fetch   FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing bool          `mapstructure:"tracing" yaml:"tracing"`
}

// CacheConfig locates the download cache.
type CacheConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	Disabled bool   `mapstructure:"disabled" yaml:"disabled"`
}

// FetchConfig tunes downloads.
type FetchConfig struct {
	BytesPerSecond int64  `mapstructure:"bytes_per_second" yaml:"bytes_per_second"`
	MaxConcurrent  int    `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	TmpDir         string `mapstructure:"tmp_dir" yaml:"tmp_dir"`
	UserAgent      string `mapstructure:"user_agent" yaml:"user_agent"`
}

// LogConfig is passed to logger.Init.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Logger returns the logger configuration.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:      l.Level,
		File:       l.File,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
	}
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Load reads path, if not empty, then applies environment overrides and
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about
	def := Default()
	for key, value := range map[string]any{
		"cache.dir":              def.Cache.Dir,
		"cache.disabled":         def.Cache.Disabled,
		"fetch.bytes_per_second": def.Fetch.BytesPerSecond,
		"fetch.max_concurrent":   def.Fetch.MaxConcurrent,
		"fetch.tmp_dir":          def.Fetch.TmpDir,
		"fetch.user_agent":       def.Fetch.UserAgent,
		"log.level":              def.Log.Level,
		"log.file":               def.Log.File,
		"log.max_size":           def.Log.MaxSize,
		"log.max_backups":        def.Log.MaxBackups,
		"log.max_age":            def.Log.MaxAge,
		"metrics.addr":           def.Metrics.Addr,
		"tracing":                def.Tracing,
	} {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	setDefaults(cfg)
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Cache.Dir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			cfg.Cache.Dir = filepath.Join(dir, "audiofetch")
		} else {
			cfg.Cache.Dir = filepath.Join(os.TempDir(), "audiofetch-cache")
		}
	} else if strings.HasPrefix(cfg.Cache.Dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Cache.Dir = filepath.Join(home, cfg.Cache.Dir[2:])
		}
	}
	if cfg.Fetch.BytesPerSecond == 0 {
		// 320kbps mp3
		cfg.Fetch.BytesPerSecond = 40000
	}
	if cfg.Fetch.MaxConcurrent == 0 {
		cfg.Fetch.MaxConcurrent = 10
	}
	if cfg.Fetch.TmpDir == "" {
		cfg.Fetch.TmpDir = os.TempDir()
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "audiofetch/1.0"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Write saves cfg to path as YAML.
func (cfg *Config) Write(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Manager builds a Manager from cfg. reg receives metrics, nil disables
// them.
func (cfg *Config) Manager(reg prometheus.Registerer) (*audiofetch.Manager, error) {
	m := audiofetch.NewManager()
	m.MaxConcurrent = cfg.Fetch.MaxConcurrent
	m.TmpDir = cfg.Fetch.TmpDir
	m.UserAgent = cfg.Fetch.UserAgent
	m.Logger = logger.Named("audiofetch")
	m.Metrics = metrics.NewPrometheus(reg)

	if cfg.Tracing {
		m.Client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	if !cfg.Cache.Disabled {
		c, err := audiofetch.NewCache(cfg.Cache.Dir)
		if err != nil {
			return nil, err
		}
		m.Cache = c
	}
	return m, nil
}

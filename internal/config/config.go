// Package config loads and validates linkgate configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/linkgate/internal/escape"
	"github.com/JakeFAU/linkgate/internal/gatekeeper"
)

// Analytics sink names.
const (
	SinkMemory   = "memory"
	SinkPostgres = "postgres"
	SinkPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Gatekeeper GatekeeperConfig `mapstructure:"gatekeeper"`
	Escape     EscapeConfig     `mapstructure:"escape"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// GatekeeperConfig scopes the edge classifier.
type GatekeeperConfig struct {
	AssetPrefixes  []string `mapstructure:"asset_prefixes"`
	APIPrefix      string   `mapstructure:"api_prefix"`
	ProtectedPaths []string `mapstructure:"protected_paths"`
}

// EscapeConfig tunes the in-app browser escape chain.
type EscapeConfig struct {
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	RepeatDelay    time.Duration `mapstructure:"repeat_delay"`
	AndroidPackage string        `mapstructure:"android_package"`
}

// AnalyticsConfig selects where events go.
type AnalyticsConfig struct {
	QueueDepth  int           `mapstructure:"queue_depth"`
	Sinks       []string      `mapstructure:"sinks"`
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProbeConfig drives the deployment self-check.
type ProbeConfig struct {
	BaseURL           string   `mapstructure:"base_url"`
	Paths             []string `mapstructure:"paths"`
	NavTimeoutSeconds int      `mapstructure:"nav_timeout_seconds"`
	RPS               float64  `mapstructure:"rps"`
	Browser           bool     `mapstructure:"browser"`
}

// TracingConfig controls OpenTelemetry sampling.
type TracingConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment. With an empty path it looks
// for linkgate.{yaml,json,toml} in the working directory and /etc/linkgate,
// and proceeds on defaults when none exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "LINKGATE_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("linkgate")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/linkgate/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("gatekeeper.asset_prefixes", gatekeeper.DefaultAssetPrefixes)
	v.SetDefault("gatekeeper.api_prefix", gatekeeper.DefaultAPIPrefix)
	v.SetDefault("gatekeeper.protected_paths", []string{})
	v.SetDefault("escape.settle_delay", escape.DefaultSettleDelay)
	v.SetDefault("escape.repeat_delay", escape.DefaultRepeatDelay)
	v.SetDefault("escape.android_package", escape.DefaultAndroidPackage)
	v.SetDefault("analytics.queue_depth", 1024)
	v.SetDefault("analytics.sinks", []string{SinkMemory})
	v.SetDefault("analytics.sink_timeout", 5*time.Second)
	v.SetDefault("db.table", "link_analytics")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("probe.base_url", "http://localhost:8080")
	v.SetDefault("probe.paths", []string{})
	v.SetDefault("probe.nav_timeout_seconds", 25)
	v.SetDefault("probe.rps", 2.0)
	v.SetDefault("probe.browser", false)
	v.SetDefault("tracing.sample_ratio", 0.05)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Gatekeeper.APIPrefix) == "" {
		return fmt.Errorf("gatekeeper.api_prefix must be set")
	}
	if c.Escape.SettleDelay <= 0 {
		return fmt.Errorf("escape.settle_delay must be > 0")
	}
	if c.Escape.RepeatDelay <= 0 {
		return fmt.Errorf("escape.repeat_delay must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	for _, sink := range c.Analytics.Sinks {
		switch sink {
		case SinkMemory:
		case SinkPostgres:
			if c.DB.DSN == "" {
				return fmt.Errorf("db.dsn must be set when the postgres sink is enabled")
			}
		case SinkPubSub:
			if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
				return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when the pubsub sink is enabled")
			}
		default:
			return fmt.Errorf("analytics.sinks: unknown sink %q", sink)
		}
	}
	return nil
}

// HasSink reports whether name is enabled.
func (c Config) HasSink(name string) bool {
	for _, s := range c.Analytics.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// GatekeeperSettings converts to the classifier's config.
func (c Config) GatekeeperSettings() gatekeeper.Config {
	return gatekeeper.Config{
		AssetPrefixes:  c.Gatekeeper.AssetPrefixes,
		APIPrefix:      c.Gatekeeper.APIPrefix,
		ProtectedPaths: c.Gatekeeper.ProtectedPaths,
	}
}

// EscapeSettings converts to the orchestrator's config.
func (c Config) EscapeSettings() escape.Config {
	return escape.Config{
		SettleDelay:    c.Escape.SettleDelay,
		RepeatDelay:    c.Escape.RepeatDelay,
		AndroidPackage: c.Escape.AndroidPackage,
	}
}

// NavTimeout is the headless navigation budget.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Probe.NavTimeoutSeconds) * time.Second
}

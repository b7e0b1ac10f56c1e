package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Query     QueryConfig     `mapstructure:"query"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MQTTConfig points at the broker devices report positions to.
type MQTTConfig struct {
	Broker   string   `mapstructure:"broker"`
	ClientID string   `mapstructure:"client_id"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	QoS      int      `mapstructure:"qos"`
	Entities []string `mapstructure:"entities"` // streamed by cmd/tracker
}

type GeocoderConfig struct {
	APIKey        string  `mapstructure:"api_key"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	TimeoutMS     int     `mapstructure:"timeout_ms"`
	CacheTTL      int     `mapstructure:"cache_ttl"` // seconds
}

func (g GeocoderConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutMS) * time.Millisecond
}

// RemoteConfig selects a remote path store. An empty BaseURL means Postgres.
type RemoteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

type CacheConfig struct {
	BoltPath string `mapstructure:"bolt_path"`
}

type PolicyConfig struct {
	MaxAccuracyMeters   float64 `mapstructure:"max_accuracy_meters"`
	AllowDegraded       bool    `mapstructure:"allow_degraded"`
	DuplicateEpsilonDeg float64 `mapstructure:"duplicate_epsilon_deg"`
}

type SyncConfig struct {
	IntervalMS           int `mapstructure:"interval_ms"`
	BackgroundIntervalMS int `mapstructure:"background_interval_ms"`
	FetchTimeoutMS       int `mapstructure:"fetch_timeout_ms"`
	SeedWindowHours      int `mapstructure:"seed_window_hours"`
}

func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}

func (s SyncConfig) BackgroundInterval() time.Duration {
	return time.Duration(s.BackgroundIntervalMS) * time.Millisecond
}

func (s SyncConfig) FetchTimeout() time.Duration {
	return time.Duration(s.FetchTimeoutMS) * time.Millisecond
}

func (s SyncConfig) SeedWindow() time.Duration {
	return time.Duration(s.SeedWindowHours) * time.Hour
}

type QueryConfig struct {
	DefaultTimezone string `mapstructure:"default_timezone"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	TaskQueue string `mapstructure:"task_queue"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "pathkeeper")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "pathkeeper")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", service)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.entities", []string{})
	v.SetDefault("geocoder.api_key", "")
	v.SetDefault("geocoder.rate_per_second", 10.0)
	v.SetDefault("geocoder.burst", 5)
	v.SetDefault("geocoder.timeout_ms", 3000)
	v.SetDefault("geocoder.cache_ttl", 86400)
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.timeout_ms", 4000)
	v.SetDefault("cache.bolt_path", "pathkeeper.db")
	v.SetDefault("policy.max_accuracy_meters", 50.0)
	v.SetDefault("policy.allow_degraded", false)
	v.SetDefault("policy.duplicate_epsilon_deg", 1e-6)
	v.SetDefault("sync.interval_ms", 5000)
	v.SetDefault("sync.background_interval_ms", 30000)
	v.SetDefault("sync.fetch_timeout_ms", 4000)
	v.SetDefault("sync.seed_window_hours", 24)
	v.SetDefault("query.default_timezone", "UTC")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.task_queue", "enrichment")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: PATHKEEPER_DATABASE_HOST → database.host
	v.SetEnvPrefix("PATHKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Remote.BaseURL == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	} else if !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("remote.base_url must be an http(s) URL, got %q", c.Remote.BaseURL))
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Policy.MaxAccuracyMeters <= 0 {
		errs = append(errs, "policy.max_accuracy_meters must be positive")
	}
	if c.Policy.DuplicateEpsilonDeg <= 0 || c.Policy.DuplicateEpsilonDeg >= 1 {
		errs = append(errs, fmt.Sprintf("policy.duplicate_epsilon_deg must be in (0, 1), got %g", c.Policy.DuplicateEpsilonDeg))
	}
	if c.Sync.IntervalMS <= 0 || c.Sync.BackgroundIntervalMS <= 0 {
		errs = append(errs, "sync intervals must be positive")
	}
	if c.Sync.FetchTimeoutMS <= 0 {
		errs = append(errs, "sync.fetch_timeout_ms must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Sprintf("mqtt.qos must be 0-2, got %d", c.MQTT.QoS))
	}
	if c.Geocoder.RatePerSecond <= 0 {
		errs = append(errs, "geocoder.rate_per_second must be positive")
	}
	if _, err := time.LoadLocation(c.Query.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("query.default_timezone: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Map       MapConfig       `mapstructure:"map"`
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
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

// RedisConfig points at the Redis instance holding the candidate GEO set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	GeoKey   string `mapstructure:"geo_key"`
	Enabled  bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
	Enabled   bool   `mapstructure:"enabled"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Enabled      bool   `mapstructure:"enabled"`
}

// DiscoveryConfig tunes candidate lookup and location tracking.
type DiscoveryConfig struct {
	DefaultRegion        domain.BoundingRegion `mapstructure:"default_region"`
	DefaultRadiusKm      float64               `mapstructure:"default_radius_km"`
	SignificantChangeDeg float64               `mapstructure:"significant_change_deg"`
	DebounceMs           int                   `mapstructure:"debounce_ms"`
	WatchIntervalMs      int                   `mapstructure:"watch_interval_ms"`
	WatchDistanceMeters  float64               `mapstructure:"watch_distance_meters"`
	CacheTTLSeconds      int                   `mapstructure:"cache_ttl_seconds"`
	FallbackInSecondary  bool                  `mapstructure:"fallback_in_secondary"`
	IndexIntervalSeconds int                   `mapstructure:"index_interval_seconds"`
	PermissionTimeoutSec int                   `mapstructure:"permission_timeout_seconds"`
}

func (d DiscoveryConfig) Debounce() time.Duration {
	return time.Duration(d.DebounceMs) * time.Millisecond
}

func (d DiscoveryConfig) WatchInterval() time.Duration {
	return time.Duration(d.WatchIntervalMs) * time.Millisecond
}

func (d DiscoveryConfig) IndexInterval() time.Duration {
	return time.Duration(d.IndexIntervalSeconds) * time.Second
}

func (d DiscoveryConfig) PermissionTimeout() time.Duration {
	return time.Duration(d.PermissionTimeoutSec) * time.Second
}

type PresenceConfig struct {
	AllowedEmojis   []string `mapstructure:"allowed_emojis"`
	DefaultDuration int      `mapstructure:"default_duration"`
	MaxMessageLen   int      `mapstructure:"max_message_len"`
}

type MapConfig struct {
	ReconcileMode string `mapstructure:"reconcile_mode"`
	DefaultStyle  string `mapstructure:"default_style"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: TANDEMAP_DATABASE_HOST → database.host
	v.SetEnvPrefix("TANDEMAP")
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

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tandemap")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "tandemap")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "PRESENCE")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("redis.addr", "localhost:6380")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.geo_key", "candidates:geo")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "presence-expiry")
	v.SetDefault("temporal.enabled", true)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_endpoint", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// The Hague
	v.SetDefault("discovery.default_region.north", 52.1300)
	v.SetDefault("discovery.default_region.south", 52.0100)
	v.SetDefault("discovery.default_region.east", 4.4200)
	v.SetDefault("discovery.default_region.west", 4.2000)
	v.SetDefault("discovery.default_radius_km", 5.0)
	v.SetDefault("discovery.significant_change_deg", 0.001)
	v.SetDefault("discovery.debounce_ms", 1000)
	v.SetDefault("discovery.watch_interval_ms", 10000)
	v.SetDefault("discovery.watch_distance_meters", 100.0)
	v.SetDefault("discovery.cache_ttl_seconds", 15)
	v.SetDefault("discovery.fallback_in_secondary", true)
	v.SetDefault("discovery.index_interval_seconds", 30)
	v.SetDefault("discovery.permission_timeout_seconds", 15)

	v.SetDefault("presence.allowed_emojis", domain.DefaultPresenceEmojis)
	v.SetDefault("presence.default_duration", domain.DefaultPresenceMins)
	v.SetDefault("presence.max_message_len", domain.MaxPresenceMessage)

	v.SetDefault("map.reconcile_mode", "rebuild")
	v.SetDefault("map.default_style", string(domain.StyleStandard))
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
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
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis.enabled")
	}
	if c.Temporal.Enabled && c.Temporal.TaskQueue == "" {
		errs = append(errs, "temporal.task_queue is required when temporal.enabled")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if err := c.Discovery.DefaultRegion.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("discovery.default_region: %v", err))
	}
	if c.Discovery.DefaultRadiusKm <= 0 {
		errs = append(errs, "discovery.default_radius_km must be positive")
	}
	if c.Discovery.DebounceMs < 0 {
		errs = append(errs, "discovery.debounce_ms must not be negative")
	}
	if c.Presence.DefaultDuration < domain.MinPresenceMinutes || c.Presence.DefaultDuration > domain.MaxPresenceMinutes {
		errs = append(errs, fmt.Sprintf("presence.default_duration must be %d-%d, got %d",
			domain.MinPresenceMinutes, domain.MaxPresenceMinutes, c.Presence.DefaultDuration))
	}
	if len(c.Presence.AllowedEmojis) == 0 {
		errs = append(errs, "presence.allowed_emojis must not be empty")
	}
	switch c.Map.ReconcileMode {
	case "rebuild", "diff":
	default:
		errs = append(errs, fmt.Sprintf("map.reconcile_mode must be rebuild or diff, got %q", c.Map.ReconcileMode))
	}
	if !domain.MapStyle(c.Map.DefaultStyle).Valid() {
		errs = append(errs, fmt.Sprintf("map.default_style %q is not a known style", c.Map.DefaultStyle))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

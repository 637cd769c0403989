package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "PREMPUSHP"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabaseDriver       = DriverSQLite
	defaultDatabaseDSN          = "prempushp.db"
	defaultLogLevel             = "info"
	defaultLogFormat            = "json"
	defaultAdminTokenTTLMinutes = 720
	defaultPresenceTTLSeconds   = 90
	defaultSweepIntervalSeconds = 15
	defaultCounterMaxAttempts   = 10
	defaultAllowedOrigin        = "*"
	minIdentityHashKeyLength    = 32
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress           string
	DatabaseDriver        string
	DatabaseDSN           string
	LogLevel              string
	LogFormat             string
	AdminPassword         string
	AdminSigningSecret    string
	AdminTokenTTL         time.Duration
	IdentityHashKey       string
	IdentityBlockKey      string
	SecureCookies         bool
	PresenceTTL           time.Duration
	PresenceSweepInterval time.Duration
	CounterMaxAttempts    int
	AllowedOrigins        []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("admin.token_ttl_minutes", defaultAdminTokenTTLMinutes)
	configViper.SetDefault("identity.secure_cookies", false)
	configViper.SetDefault("presence.ttl_seconds", defaultPresenceTTLSeconds)
	configViper.SetDefault("presence.sweep_interval_seconds", defaultSweepIntervalSeconds)
	configViper.SetDefault("counters.max_attempts", defaultCounterMaxAttempts)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigin)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		DatabaseDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:           configViper.GetString("database.dsn"),
		LogLevel:              configViper.GetString("log.level"),
		LogFormat:             strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		AdminPassword:         configViper.GetString("admin.password"),
		AdminSigningSecret:    configViper.GetString("admin.signing_secret"),
		AdminTokenTTL:         time.Duration(configViper.GetInt("admin.token_ttl_minutes")) * time.Minute,
		IdentityHashKey:       configViper.GetString("identity.hash_key"),
		IdentityBlockKey:      configViper.GetString("identity.block_key"),
		SecureCookies:         configViper.GetBool("identity.secure_cookies"),
		PresenceTTL:           time.Duration(configViper.GetInt("presence.ttl_seconds")) * time.Second,
		PresenceSweepInterval: time.Duration(configViper.GetInt("presence.sweep_interval_seconds")) * time.Second,
		CounterMaxAttempts:    configViper.GetInt("counters.max_attempts"),
		AllowedOrigins:        splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitOrigins accepts both a list and a single comma-separated value, since
// environment variables arrive as one string.
func splitOrigins(raw []string) []string {
	var origins []string
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(c.AdminPassword) == "" {
		return fmt.Errorf("admin.password is required")
	}
	if strings.TrimSpace(c.AdminSigningSecret) == "" {
		return fmt.Errorf("admin.signing_secret is required")
	}
	if len(c.IdentityHashKey) < minIdentityHashKeyLength {
		return fmt.Errorf("identity.hash_key must be at least %d bytes", minIdentityHashKeyLength)
	}
	switch len(c.IdentityBlockKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("identity.block_key must be 16, 24, or 32 bytes")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.LogFormat)
	}
	if c.PresenceTTL <= 0 || c.PresenceSweepInterval <= 0 {
		return fmt.Errorf("presence.ttl_seconds and presence.sweep_interval_seconds must be positive")
	}
	if c.PresenceSweepInterval > c.PresenceTTL {
		return fmt.Errorf("presence.sweep_interval_seconds must not exceed presence.ttl_seconds")
	}
	if c.CounterMaxAttempts <= 0 {
		return fmt.Errorf("counters.max_attempts must be positive")
	}
	if c.AdminTokenTTL <= 0 {
		return fmt.Errorf("admin.token_ttl_minutes must be positive")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("cors.allowed_origins is required")
	}
	return nil
}

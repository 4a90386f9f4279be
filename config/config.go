// Package config provides configuration management for the chat relay.
//
// Configuration is resolved in three layers, later layers winning:
//  1. built-in defaults (buildDefaultConfig)
//  2. an optional YAML file (config/config.yaml or config.yaml) with
//     ${VAR} and ${VAR:-default} placeholders
//  3. environment variables (applyEnvOverrides), optionally seeded from .env
//
// Vendor API keys are deliberately not part of Config: they are read from
// the environment on every request by the credentials package.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBodySizeLimit is the default maximum request body size (10MB)
	DefaultBodySizeLimit int64 = 10 * 1024 * 1024
	minBodySizeLimit     int64 = 1024
	maxBodySizeLimit     int64 = 100 * 1024 * 1024

	// DefaultTemperature and DefaultMaxTokens are forwarded when a caller
	// leaves the sampling parameters out.
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000

	// DefaultMaxInputChars limits a single user message sent through a conversation.
	DefaultMaxInputChars = 2000
)

// Credential backends
const (
	CredentialsFile   = "file"
	CredentialsBolt   = "bolt"
	CredentialsRedis  = "redis"
	CredentialsMemory = "memory"
)

// StorageMemory keeps conversations in process memory only.
const StorageMemory = "memory"

// Config holds the application configuration
type Config struct {
	Server      ServerConfig            `yaml:"server"`
	Relay       RelayConfig             `yaml:"relay"`
	Vendors     map[string]VendorConfig `yaml:"vendors"`
	Credentials CredentialsConfig       `yaml:"credentials"`
	Storage     StorageConfig           `yaml:"storage"`
	Metrics     MetricsConfig           `yaml:"metrics"`
	Logging     LogConfig               `yaml:"logging"`
	HTTP        HTTPConfig              `yaml:"http"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// BodySizeLimit accepts plain bytes or K/M suffixes ("10M", "512KB")
	BodySizeLimit string `yaml:"body_size_limit"`
	// DistinguishErrorStatus reports configuration errors as 400 and vendor
	// errors with their mapped status instead of a uniform 500 on /chat.
	DistinguishErrorStatus bool `yaml:"distinguish_error_status"`
	// MasterKey, when set, is required as a bearer token on every route
	// except /health and the metrics endpoint.
	MasterKey string `yaml:"master_key"`
}

// RelayConfig holds defaults applied to every relayed request
type RelayConfig struct {
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	MaxInputChars int     `yaml:"max_input_chars"`
}

// VendorConfig overrides how a vendor is reached
type VendorConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// CredentialsConfig selects where the client-held key bundle is persisted
type CredentialsConfig struct {
	Backend string `yaml:"backend"`
	// Path of the file or bolt database; empty picks a per-backend default
	Path  string      `yaml:"path"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// StorageConfig holds conversation storage configuration
type StorageConfig struct {
	// Type is one of memory, sqlite, postgresql, mongodb
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig holds process logging configuration
type LogConfig struct {
	// Format is "json" or "pretty"
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// HTTPConfig holds upstream HTTP client timeouts in seconds
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// configSearchPaths are tried in order when no explicit path is given.
var configSearchPaths = []string{"config/config.yaml", "config.yaml"}

// Load reads .env, the first config file found and environment overrides.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the default locations; a missing default file is not an error.
func LoadFile(path string) (*Config, error) {
	// A missing .env is the common case
	_ = godotenv.Load()

	cfg := buildDefaultConfig()

	if path == "" {
		path = os.Getenv("CHATRELAY_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		for _, candidate := range configSearchPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildDefaultConfig returns the configuration used when nothing is set.
func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Relay: RelayConfig{
			Temperature:   DefaultTemperature,
			MaxTokens:     DefaultMaxTokens,
			MaxInputChars: DefaultMaxInputChars,
		},
		Vendors: map[string]VendorConfig{},
		Credentials: CredentialsConfig{
			Backend: CredentialsFile,
			Redis: RedisConfig{
				Key: "chatrelay:credentials",
			},
		},
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "data/chatrelay.db",
			},
			PostgreSQL: PostgreSQLConfig{
				MaxConns: 10,
			},
			MongoDB: MongoDBConfig{
				Database: "chatrelay",
			},
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Logging: LogConfig{
			Format: "json",
			Level:  "info",
		},
		HTTP: HTTPConfig{
			Timeout:               600,
			ResponseHeaderTimeout: 600,
		},
	}
}

// vendorEnvPrefixes lists the vendors whose base URL can be overridden with
// <PREFIX>_BASE_URL.
var vendorEnvPrefixes = map[string]string{
	"siliconflow": "SILICONFLOW",
	"openai":      "OPENAI",
	"deepseek":    "DEEPSEEK",
	"zhipu":       "ZHIPU",
	"google":      "GOOGLE",
	"openrouter":  "OPENROUTER",
}

// applyEnvOverrides applies environment variables on top of cfg.
func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	setString("PORT", &cfg.Server.Port)
	setString("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit)
	setBool("DISTINGUISH_ERROR_STATUS", &cfg.Server.DistinguishErrorStatus)
	setString("CHATRELAY_MASTER_KEY", &cfg.Server.MasterKey)

	if v, ok := os.LookupEnv("RELAY_TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid RELAY_TEMPERATURE: %w", err))
		} else {
			cfg.Relay.Temperature = f
		}
	}
	setInt("RELAY_MAX_TOKENS", &cfg.Relay.MaxTokens)
	setInt("RELAY_MAX_INPUT_CHARS", &cfg.Relay.MaxInputChars)

	setString("CREDENTIALS_BACKEND", &cfg.Credentials.Backend)
	setString("CREDENTIALS_PATH", &cfg.Credentials.Path)
	setString("REDIS_URL", &cfg.Credentials.Redis.URL)
	setString("REDIS_KEY", &cfg.Credentials.Redis.Key)

	setString("STORAGE_TYPE", &cfg.Storage.Type)
	setString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	setInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	setString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	setString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	setString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_LEVEL", &cfg.Logging.Level)

	setInt("HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	setInt("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout)

	if cfg.Vendors == nil {
		cfg.Vendors = map[string]VendorConfig{}
	}
	for vendor, prefix := range vendorEnvPrefixes {
		if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
			vc := cfg.Vendors[vendor]
			vc.BaseURL = v
			cfg.Vendors[vendor] = vc
		}
	}

	return errors.Join(errs...)
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if err := ValidateBodySizeLimit(c.Server.BodySizeLimit); err != nil {
		return err
	}
	switch c.Credentials.Backend {
	case CredentialsFile, CredentialsBolt, CredentialsRedis, CredentialsMemory:
	default:
		return fmt.Errorf("unknown credentials backend: %q (valid: file, bolt, redis, memory)", c.Credentials.Backend)
	}
	if c.Credentials.Backend == CredentialsRedis && c.Credentials.Redis.URL == "" {
		return fmt.Errorf("credentials backend redis requires REDIS_URL")
	}
	switch c.Storage.Type {
	case StorageMemory, "sqlite", "postgresql", "mongodb":
	default:
		return fmt.Errorf("unknown storage type: %q (valid: memory, sqlite, postgresql, mongodb)", c.Storage.Type)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "pretty":
	default:
		return fmt.Errorf("unknown log format: %q (valid: json, pretty)", c.Logging.Format)
	}
	if c.Relay.MaxTokens <= 0 {
		return fmt.Errorf("relay max_tokens must be positive, got %d", c.Relay.MaxTokens)
	}
	for name := range c.Vendors {
		if _, ok := vendorEnvPrefixes[name]; !ok {
			return fmt.Errorf("unknown vendor in config: %q", name)
		}
	}
	return nil
}

// BodySizeLimitBytes returns the parsed body size limit, or the default.
func (c *Config) BodySizeLimitBytes() int64 {
	n, err := ParseBodySizeLimit(c.Server.BodySizeLimit)
	if err != nil || n == 0 {
		return DefaultBodySizeLimit
	}
	return n
}

var bodySizePattern = regexp.MustCompile(`^(\d+)([KkMm][Bb]?)?$`)

// ParseBodySizeLimit parses "1048576", "100K", "10MB" into bytes. An empty
// string yields 0.
func ParseBodySizeLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	m := bodySizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid body size limit %q: expected a number with optional K or M suffix", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid body size limit %q: %w", s, err)
	}
	switch strings.ToUpper(strings.TrimSuffix(strings.ToUpper(m[2]), "B")) {
	case "K":
		n *= 1024
	case "M":
		n *= 1024 * 1024
	}
	return n, nil
}

// ValidateBodySizeLimit checks that s parses and lies between 1KB and 100MB.
func ValidateBodySizeLimit(s string) error {
	n, err := ParseBodySizeLimit(s)
	if err != nil {
		return err
	}
	if n == 0 && strings.TrimSpace(s) == "" {
		return nil
	}
	if n < minBodySizeLimit || n > maxBodySizeLimit {
		return fmt.Errorf("body size limit %q out of range (1K-100M)", s)
	}
	return nil
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. Placeholders without a
// default whose variable is unset or empty are left untouched.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return match
	})
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	// DefaultConfigPath is used when no config path is supplied.
	DefaultConfigPath = "config.yaml"
	// ConfigPathEnv names the environment variable holding the config path.
	ConfigPathEnv = "SCHOOLAUTH_CONFIG"

	defaultListenAddr     = ":8000"
	defaultAPIPrefix      = "/api/v1"
	defaultDSN            = "file:data/schoolauth.db"
	defaultJWTIssuer      = "schoolauth"
	defaultTokenExpiry    = 8 * 24 * time.Hour
	defaultRPName         = "School Portal"
	defaultOrigin         = "http://localhost:3000"
	defaultChallengeTTL   = 5 * time.Minute
	defaultQRSessionTTL   = 5 * time.Minute
	defaultQRImageSize    = 256
	defaultRecoveryCount  = 10
	defaultSweepInterval  = time.Minute
	defaultSweepBatchSize = 500
	defaultEventsChannel  = "schoolauth:security-events"
	defaultEventsBuffer   = 256
	defaultLoginPerMinute = 30
)

// AppConfig holds command line level settings.
type AppConfig struct {
	ConfigPath string
}

// Config is the full service configuration.
type Config struct {
	Server         ServerConfig    `yaml:"server"`
	Database       DatabaseConfig  `yaml:"database"`
	JWT            JWTConfig       `yaml:"jwt"`
	WebAuthn       WebAuthnConfig  `yaml:"webauthn"`
	QRLogin        QRLoginConfig   `yaml:"qr_login"`
	Recovery       RecoveryConfig  `yaml:"recovery"`
	Sweeper        SweeperConfig   `yaml:"sweeper"`
	Redis          RedisConfig     `yaml:"redis"`
	Events         EventsConfig    `yaml:"events"`
	Log            LogConfig       `yaml:"log"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	FirstSuperuser SuperuserConfig `yaml:"first_superuser"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	APIPrefix string `yaml:"api_prefix"`
	Debug     bool   `yaml:"debug"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// JWTConfig configures bearer token signing.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Issuer string        `yaml:"issuer"`
	Expiry time.Duration `yaml:"expiry"`
}

// WebAuthnConfig configures the relying party.
type WebAuthnConfig struct {
	RPID         string        `yaml:"rp_id"`
	RPName       string        `yaml:"rp_name"`
	Origins      []string      `yaml:"origins"`
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`
}

// QRLoginConfig configures cross-device QR login sessions.
type QRLoginConfig struct {
	SessionTTL time.Duration `yaml:"session_ttl"`
	ImageSize  int           `yaml:"image_size"`
}

// RecoveryConfig configures recovery code batches.
type RecoveryConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// SweeperConfig configures the expired challenge and session sweeper.
type SweeperConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// RedisConfig configures the optional redis connection.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// EventsConfig configures security event dispatch.
type EventsConfig struct {
	Channel    string `yaml:"channel"`
	BufferSize int    `yaml:"buffer_size"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RateLimitConfig configures per-client limits on unauthenticated login endpoints.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// SuperuserConfig describes the bootstrap superuser account.
type SuperuserConfig struct {
	RollNumber string `yaml:"roll_number"`
	Email      string `yaml:"email"`
	Password   string `yaml:"password"`
	FullName   string `yaml:"full_name"`
}

// Enabled reports whether a bootstrap superuser is configured.
func (s SuperuserConfig) Enabled() bool {
	return strings.TrimSpace(s.RollNumber) != "" && s.Password != ""
}

// ResolveConfigPath returns the config path from the flag, environment or default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv(ConfigPathEnv)); env != "" {
		return env
	}
	return DefaultConfigPath
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path, applies environment overrides and defaults, then validates.
// A missing file is not an error; environment variables alone can configure the service.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	if errEnv := cfg.applyEnv(os.LookupEnv); errEnv != nil {
		return nil, errEnv
	}
	cfg.applyDefaults()
	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return fmt.Errorf("config: jwt.secret is required")
	}
	if len(c.WebAuthn.Origins) == 0 {
		return fmt.Errorf("config: webauthn.origins is required")
	}
	if c.JWT.Expiry <= 0 {
		return fmt.Errorf("config: jwt.expiry must be positive")
	}
	return nil
}

// applyEnv overlays environment variables on top of file values.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("SERVER_ADDR", &c.Server.Addr)
	str("API_V1_STR", &c.Server.APIPrefix)
	str("DATABASE_URL", &c.Database.DSN)
	str("SECRET_KEY", &c.JWT.Secret)
	str("REDIS_URL", &c.Redis.URL)
	str("WEBAUTHN_RP_ID", &c.WebAuthn.RPID)
	str("WEBAUTHN_RP_NAME", &c.WebAuthn.RPName)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	str("FIRST_SUPERUSER_ROLL_NUMBER", &c.FirstSuperuser.RollNumber)
	str("FIRST_SUPERUSER_EMAIL", &c.FirstSuperuser.Email)
	str("FIRST_SUPERUSER_PASSWORD", &c.FirstSuperuser.Password)
	str("FIRST_SUPERUSER_FULL_NAME", &c.FirstSuperuser.FullName)

	if v, ok := lookup("WEBAUTHN_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		c.WebAuthn.Origins = splitList(v)
	}
	if v, ok := lookup("ACCESS_TOKEN_EXPIRE_MINUTES"); ok && strings.TrimSpace(v) != "" {
		minutes, errParse := strconv.Atoi(strings.TrimSpace(v))
		if errParse != nil || minutes <= 0 {
			return fmt.Errorf("config: invalid ACCESS_TOKEN_EXPIRE_MINUTES %q", v)
		}
		c.JWT.Expiry = time.Duration(minutes) * time.Minute
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultListenAddr
	}
	if c.Server.APIPrefix == "" {
		c.Server.APIPrefix = defaultAPIPrefix
	}
	if c.Database.DSN == "" {
		c.Database.DSN = defaultDSN
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = defaultJWTIssuer
	}
	if c.JWT.Expiry == 0 {
		c.JWT.Expiry = defaultTokenExpiry
	}
	if c.WebAuthn.RPName == "" {
		c.WebAuthn.RPName = defaultRPName
	}
	c.WebAuthn.Origins = splitList(strings.Join(c.WebAuthn.Origins, ","))
	if len(c.WebAuthn.Origins) == 0 {
		c.WebAuthn.Origins = []string{defaultOrigin}
	}
	if c.WebAuthn.ChallengeTTL <= 0 {
		c.WebAuthn.ChallengeTTL = defaultChallengeTTL
	}
	if c.QRLogin.SessionTTL <= 0 {
		c.QRLogin.SessionTTL = defaultQRSessionTTL
	}
	if c.QRLogin.ImageSize <= 0 {
		c.QRLogin.ImageSize = defaultQRImageSize
	}
	if c.Recovery.BatchSize <= 0 {
		c.Recovery.BatchSize = defaultRecoveryCount
	}
	if c.Sweeper.Interval <= 0 {
		c.Sweeper.Interval = defaultSweepInterval
	}
	if c.Sweeper.BatchSize <= 0 {
		c.Sweeper.BatchSize = defaultSweepBatchSize
	}
	if c.Events.Channel == "" {
		c.Events.Channel = defaultEventsChannel
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = defaultEventsBuffer
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = defaultLoginPerMinute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.FirstSuperuser.FullName == "" {
		c.FirstSuperuser.FullName = "Administrator"
	}
}

// splitList splits a comma separated list and drops empty entries.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

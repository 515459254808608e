package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// DatabasePath enables the SQLite message archive when set.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	// RedisAddr enables the Redis event relay when set.
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`

	// JWTSecret turns on token authentication for /ws when set.
	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	MaxMessageBytes int64   `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimit       float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst" yaml:"rate_burst"`

	Rooms RoomsConfig `mapstructure:"rooms" yaml:"rooms"`
}

// RoomsConfig bounds the in-memory room registry.
type RoomsConfig struct {
	MaxMessages   int           `mapstructure:"max_messages" yaml:"max_messages"`
	HistoryLimit  int           `mapstructure:"history_limit" yaml:"history_limit"`
	SyncHistory   int           `mapstructure:"sync_history" yaml:"sync_history"`
	JoinHistory   int           `mapstructure:"join_history" yaml:"join_history"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		JWTIssuer:         "wiresync",
		JWTAudience:       "wiresync-clients",
		TokenTTL:          24 * time.Hour,
		MaxMessageBytes:   1 << 20,
		RateLimit:         20,
		RateBurst:         40,
		Rooms: RoomsConfig{
			MaxMessages:   1000,
			HistoryLimit:  100,
			SyncHistory:   20,
			JoinHistory:   20,
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
}

// AuthEnabled reports whether /ws requires a token.
func (c Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

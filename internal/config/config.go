// Package config loads broker configuration from an optional YAML file
// plus RDRELAY_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Listen        string `mapstructure:"listen"`
	MetricsListen string `mapstructure:"metrics_listen"`
	GinMode       string `mapstructure:"gin_mode"`
	TLSCertFile   string `mapstructure:"tls_cert_file"`
	TLSKeyFile    string `mapstructure:"tls_key_file"`

	TokenSecret string        `mapstructure:"token_secret"`
	SessionTTL  time.Duration `mapstructure:"session_ttl"`

	// Users maps usernames to bcrypt hashes. Empty means the broker is
	// open: any credentials authenticate.
	Users map[string]string `mapstructure:"users"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatMissed   int           `mapstructure:"heartbeat_missed"`

	PendingRequestTimeout time.Duration `mapstructure:"pending_request_timeout"`
	SendQueueDepth        int           `mapstructure:"send_queue_depth"`
	MaxMessageSize        int64         `mapstructure:"max_message_size"`

	// Protocol violations tolerated per connection within the window
	// before the connection is forcibly dropped.
	ViolationLimit  int           `mapstructure:"violation_limit"`
	ViolationWindow time.Duration `mapstructure:"violation_window"`

	Log Log `mapstructure:"log"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads the named config file if path is non-empty, otherwise only
// defaults and environment apply.
func Load(path string) (Config, error) {
	v := viper.New()

	// Every key needs a default (empty where there is none): Unmarshal
	// only walks keys viper knows, so a keyless env override would be
	// silently dropped.
	v.SetDefault("listen", ":8000")
	v.SetDefault("metrics_listen", "")
	v.SetDefault("gin_mode", "release")
	v.SetDefault("tls_cert_file", "")
	v.SetDefault("tls_key_file", "")
	v.SetDefault("token_secret", "")
	v.SetDefault("session_ttl", time.Hour)
	v.SetDefault("users", map[string]string{})
	v.SetDefault("heartbeat_interval", 10*time.Second)
	v.SetDefault("heartbeat_missed", 3)
	v.SetDefault("pending_request_timeout", 15*time.Second)
	v.SetDefault("send_queue_depth", 256)
	v.SetDefault("max_message_size", int64(16<<20))
	v.SetDefault("violation_limit", 10)
	v.SetDefault("violation_window", time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)

	v.SetEnvPrefix("RDRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.HeartbeatMissed <= 0 {
		return fmt.Errorf("heartbeat_missed must be positive")
	}
	if c.PendingRequestTimeout <= 0 {
		return fmt.Errorf("pending_request_timeout must be positive")
	}
	if c.SendQueueDepth <= 0 {
		return fmt.Errorf("send_queue_depth must be positive")
	}
	if len(c.Users) > 0 && c.TokenSecret == "" {
		return fmt.Errorf("token_secret is required when users are configured")
	}
	return nil
}

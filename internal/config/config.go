package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon's full runtime configuration. Values come from
// defaults overridden by SIGNOFFWS_* environment variables (dots become
// underscores, e.g. SIGNOFFWS_SERVER_PORT).
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Session  SessionConfig  `mapstructure:"session"`
	Poll     PollConfig     `mapstructure:"poll"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// TickInterval bounds the accept wait so polling runs even when no
	// I/O is pending.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// ReadWait is the per-connection cooperative read deadline within a
	// tick.
	ReadWait time.Duration `mapstructure:"read_wait"`

	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3, mysql or postgres
	DSN    string `mapstructure:"dsn"`
}

type SessionConfig struct {
	// Backend selects where the HTTP tier keeps its sessions: "db" or
	// "redis".
	Backend    string `mapstructure:"backend"`
	CookieName string `mapstructure:"cookie_name"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

type PollConfig struct {
	ChangeInterval time.Duration `mapstructure:"change_interval"`
	TAInterval     time.Duration `mapstructure:"ta_interval"`
	ChangeLimit    int           `mapstructure:"change_limit"`
	TALimit        int           `mapstructure:"ta_limit"`
}

type MetricsConfig struct {
	// Addr is the sidecar health/metrics listen address; empty disables
	// the listener.
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			TickInterval:     50 * time.Millisecond,
			ReadWait:         time.Millisecond,
			WriteTimeout:     5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   8192,
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			DSN:    "signoff:signoff@tcp(127.0.0.1:3306)/signoff",
		},
		Session: SessionConfig{
			Backend:     "db",
			CookieName:  "LMSSESSID",
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "sess:",
		},
		Poll: PollConfig{
			ChangeInterval: 300 * time.Millisecond,
			TAInterval:     500 * time.Millisecond,
			ChangeLimit:    100,
			TALimit:        20,
		},
		Metrics: MetricsConfig{Addr: ""},
		Log:     LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SIGNOFFWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.tick_interval", defaults.Server.TickInterval)
	v.SetDefault("server.read_wait", defaults.Server.ReadWait)
	v.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)
	v.SetDefault("server.handshake_timeout", defaults.Server.HandshakeTimeout)
	v.SetDefault("server.read_buffer_size", defaults.Server.ReadBufferSize)
	v.SetDefault("database.driver", defaults.Database.Driver)
	v.SetDefault("database.dsn", defaults.Database.DSN)
	v.SetDefault("session.backend", defaults.Session.Backend)
	v.SetDefault("session.cookie_name", defaults.Session.CookieName)
	v.SetDefault("session.redis_addr", defaults.Session.RedisAddr)
	v.SetDefault("session.redis_password", defaults.Session.RedisPassword)
	v.SetDefault("session.redis_db", defaults.Session.RedisDB)
	v.SetDefault("session.redis_prefix", defaults.Session.RedisPrefix)
	v.SetDefault("poll.change_interval", defaults.Poll.ChangeInterval)
	v.SetDefault("poll.ta_interval", defaults.Poll.TAInterval)
	v.SetDefault("poll.change_limit", defaults.Poll.ChangeLimit)
	v.SetDefault("poll.ta_limit", defaults.Poll.TALimit)
	v.SetDefault("metrics.addr", defaults.Metrics.Addr)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.development", defaults.Log.Development)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.Server.ReadWait <= 0 {
		return fmt.Errorf("read wait must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.Server.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake timeout must be positive")
	}
	if c.Server.ReadBufferSize <= 0 {
		return fmt.Errorf("read buffer size must be positive")
	}

	switch c.Database.Driver {
	case "sqlite3", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn cannot be empty")
	}

	switch c.Session.Backend {
	case "db":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("redis session backend requires an address")
		}
	default:
		return fmt.Errorf("unsupported session backend %q", c.Session.Backend)
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name cannot be empty")
	}

	if c.Poll.ChangeInterval <= 0 || c.Poll.TAInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Poll.ChangeLimit <= 0 || c.Poll.TALimit <= 0 {
		return fmt.Errorf("poll limits must be positive")
	}

	return nil
}

// ListenAddr returns the WebSocket listener's host:port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultDaemonBaseURL     = "http://localhost:8767"
	defaultDaemonEventsPath  = "/ws/events"
	defaultRequestTimeout    = 10 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
	defaultPingInterval      = 15 * time.Second
	defaultPongTimeout       = 10 * time.Second
	defaultReconnectInitial  = 1 * time.Second
	defaultReconnectMax      = 30 * time.Second
	defaultDegradedThreshold = 5
	defaultSendBuffer        = 64
	defaultDedupWindow       = 500
	defaultCommandTimeout    = 30 * time.Second
	defaultMaxAttempts       = 3
	defaultRetryBackoff      = 250 * time.Millisecond
	defaultServerAddr        = ":8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 60 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultTokenTTL          = 24 * time.Hour
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "KHIVE_GATEWAY_CONFIG"

// Config stores runtime settings for the gateway and CLI.
type Config struct {
	Daemon    DaemonConfig
	Transport TransportConfig
	Ingest    IngestConfig
	Dispatch  DispatchConfig
	Server    ServerConfig
	Auth      AuthConfig
	Log       LogConfig
}

// DaemonConfig locates the khive daemon.
type DaemonConfig struct {
	BaseURL        string
	EventsPath     string
	RequestTimeout time.Duration
}

// TransportConfig tunes the persistent event stream connection.
type TransportConfig struct {
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	DegradedThreshold int
	SendBuffer        int
}

// IngestConfig tunes the dedup buffer.
type IngestConfig struct {
	DedupWindow int
}

// DispatchConfig tunes command handling.
type DispatchConfig struct {
	CommandTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// ServerConfig tunes the gateway HTTP server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// AuthConfig carries token settings and the operator accounts allowed to use
// the gateway API. Credentials live here rather than a database; the daemon
// holds no accounts.
type AuthConfig struct {
	TokenTTL  time.Duration
	Operators []Operator
}

// Operator is one configured gateway account.
type Operator struct {
	Email        string
	PasswordHash string
	Roles        []string
}

// LogConfig tunes structured logging output.
type LogConfig struct {
	Level  string
	Format string
	File   string
}

type fileConfig struct {
	Daemon    *daemonFile    `toml:"daemon"`
	Transport *transportFile `toml:"transport"`
	Ingest    *ingestFile    `toml:"ingest"`
	Dispatch  *dispatchFile  `toml:"dispatch"`
	Server    *serverFile    `toml:"server"`
	Auth      *authFile      `toml:"auth"`
	Log       *logFile       `toml:"log"`
}

type daemonFile struct {
	BaseURL        *string `toml:"base_url"`
	EventsPath     *string `toml:"events_path"`
	RequestTimeout *string `toml:"request_timeout"`
}

type transportFile struct {
	HandshakeTimeout  *string `toml:"handshake_timeout"`
	PingInterval      *string `toml:"ping_interval"`
	PongTimeout       *string `toml:"pong_timeout"`
	ReconnectInitial  *string `toml:"reconnect_initial"`
	ReconnectMax      *string `toml:"reconnect_max"`
	DegradedThreshold *int    `toml:"degraded_threshold"`
	SendBuffer        *int    `toml:"send_buffer"`
}

type ingestFile struct {
	DedupWindow *int `toml:"dedup_window"`
}

type dispatchFile struct {
	CommandTimeout *string `toml:"command_timeout"`
	MaxAttempts    *int    `toml:"max_attempts"`
	RetryBackoff   *string `toml:"retry_backoff"`
}

type serverFile struct {
	Addr         *string `toml:"addr"`
	ReadTimeout  *string `toml:"read_timeout"`
	WriteTimeout *string `toml:"write_timeout"`
	IdleTimeout  *string `toml:"idle_timeout"`
}

type authFile struct {
	TokenTTL  *string        `toml:"token_ttl"`
	Operators []operatorFile `toml:"operators"`
}

type operatorFile struct {
	Email        string   `toml:"email"`
	PasswordHash string   `toml:"password_hash"`
	Roles        []string `toml:"roles"`
}

type logFile struct {
	Level  *string `toml:"level"`
	Format *string `toml:"format"`
	File   *string `toml:"file"`
}

// Default returns the compiled-in settings.
func Default() Config {
	return Config{
		Daemon: DaemonConfig{
			BaseURL:        defaultDaemonBaseURL,
			EventsPath:     defaultDaemonEventsPath,
			RequestTimeout: defaultRequestTimeout,
		},
		Transport: TransportConfig{
			HandshakeTimeout:  defaultHandshakeTimeout,
			PingInterval:      defaultPingInterval,
			PongTimeout:       defaultPongTimeout,
			ReconnectInitial:  defaultReconnectInitial,
			ReconnectMax:      defaultReconnectMax,
			DegradedThreshold: defaultDegradedThreshold,
			SendBuffer:        defaultSendBuffer,
		},
		Ingest: IngestConfig{
			DedupWindow: defaultDedupWindow,
		},
		Dispatch: DispatchConfig{
			CommandTimeout: defaultCommandTimeout,
			MaxAttempts:    defaultMaxAttempts,
			RetryBackoff:   defaultRetryBackoff,
		},
		Server: ServerConfig{
			Addr:         defaultServerAddr,
			ReadTimeout:  defaultReadTimeout,
			WriteTimeout: defaultWriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		Auth: AuthConfig{
			TokenTTL: defaultTokenTTL,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective config: compiled defaults, overlaid by the TOML
// file at path (or $KHIVE_GATEWAY_CONFIG, or ./khive-gateway.toml when path
// is empty and either exists), overlaid by environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		if _, err := os.Stat("khive-gateway.toml"); err == nil {
			path = "khive-gateway.toml"
		}
	}

	if path != "" {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overlayFromFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found", path)
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if d := decoded.Daemon; d != nil {
		setString(&cfg.Daemon.BaseURL, d.BaseURL)
		setString(&cfg.Daemon.EventsPath, d.EventsPath)
		if err := setDuration(&cfg.Daemon.RequestTimeout, d.RequestTimeout, "daemon.request_timeout", path); err != nil {
			return err
		}
	}
	if t := decoded.Transport; t != nil {
		if err := setDuration(&cfg.Transport.HandshakeTimeout, t.HandshakeTimeout, "transport.handshake_timeout", path); err != nil {
			return err
		}
		if err := setDuration(&cfg.Transport.PingInterval, t.PingInterval, "transport.ping_interval", path); err != nil {
			return err
		}
		if err := setDuration(&cfg.Transport.PongTimeout, t.PongTimeout, "transport.pong_timeout", path); err != nil {
			return err
		}
		if err := setDuration(&cfg.Transport.ReconnectInitial, t.ReconnectInitial, "transport.reconnect_initial", path); err != nil {
			return err
		}
		if err := setDuration(&cfg.Transport.ReconnectMax, t.ReconnectMax, "transport.reconnect_max", path); err != nil {
			return err
		}
		setInt(&cfg.Transport.DegradedThreshold, t.DegradedThreshold)
		setInt(&cfg.Transport.SendBuffer, t.SendBuffer)
	}
	if i := decoded.Ingest; i != nil {
		setInt(&cfg.Ingest.DedupWindow, i.DedupWindow)
	}
	if d := decoded.Dispatch; d != nil {
		if err := setDuration(&cfg.Dispatch.CommandTimeout, d.CommandTimeout, "dispatch.command_timeout", path); err != nil {
			return err
		}
		setInt(&cfg.Dispatch.MaxAttempts, d.MaxAttempts)
		if err := setDuration(&cfg.Dispatch.RetryBackoff, d.RetryBackoff, "dispatch.retry_backoff", path); err != nil {
			return err
		}
	}
	if s := decoded.Server; s != nil {
		setString(&cfg.Server.Addr, s.Addr)
		if err := setDuration(&cfg.Server.ReadTimeout, s.ReadTimeout, "server.read_timeout", path); err != nil {
			return err
		}
		if err := setDuration(&cfg.Server.WriteTimeout, s.WriteTimeout, "server.write_timeout", path); err != nil {
			return err
		}
		if err := setDuration(&cfg.Server.IdleTimeout, s.IdleTimeout, "server.idle_timeout", path); err != nil {
			return err
		}
	}
	if a := decoded.Auth; a != nil {
		if err := setDuration(&cfg.Auth.TokenTTL, a.TokenTTL, "auth.token_ttl", path); err != nil {
			return err
		}
		for _, op := range a.Operators {
			cfg.Auth.Operators = append(cfg.Auth.Operators, Operator{
				Email:        op.Email,
				PasswordHash: op.PasswordHash,
				Roles:        op.Roles,
			})
		}
	}
	if l := decoded.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		setString(&cfg.Log.Format, l.Format)
		setString(&cfg.Log.File, l.File)
	}

	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KHIVE_DAEMON_URL"); v != "" {
		cfg.Daemon.BaseURL = v
	}
	if v := os.Getenv("KHIVE_GATEWAY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("KHIVE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	if c.Daemon.BaseURL == "" {
		return errors.New("daemon.base_url must not be empty")
	}
	if c.Ingest.DedupWindow < 1 {
		return fmt.Errorf("ingest.dedup_window must be positive, got %d", c.Ingest.DedupWindow)
	}
	if c.Transport.ReconnectInitial <= 0 || c.Transport.ReconnectMax <= 0 {
		return errors.New("transport reconnect intervals must be positive")
	}
	if c.Transport.ReconnectInitial > c.Transport.ReconnectMax {
		return fmt.Errorf("transport.reconnect_initial %s exceeds transport.reconnect_max %s",
			c.Transport.ReconnectInitial, c.Transport.ReconnectMax)
	}
	if c.Transport.DegradedThreshold < 1 {
		return fmt.Errorf("transport.degraded_threshold must be positive, got %d", c.Transport.DegradedThreshold)
	}
	if c.Dispatch.CommandTimeout <= 0 {
		return errors.New("dispatch.command_timeout must be positive")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be positive, got %d", c.Dispatch.MaxAttempts)
	}
	for i, op := range c.Auth.Operators {
		if op.Email == "" || op.PasswordHash == "" {
			return fmt.Errorf("auth.operators[%d] needs both email and password_hash", i)
		}
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, key, path string) error {
	if src == nil {
		return nil
	}
	parsed, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	*dst = parsed
	return nil
}

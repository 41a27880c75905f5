// Package config loads relay configuration from YAML and RELAY_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. RELAY_ADMIN_IDENTITY.
const EnvPrefix = "RELAY"

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Store     StoreConfig     `mapstructure:"store"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Transport TransportConfig `mapstructure:"transport"`
}

type ServerConfig struct {
	GRPC            GRPCConfig    `mapstructure:"grpc"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	// Address for the health service. Empty disables it.
	Address              string `mapstructure:"address"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AdminConfig struct {
	Identity     string `mapstructure:"identity"`
	PasswordHash string `mapstructure:"password_hash"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type RelayConfig struct {
	// DelayUnit is the length of one unit of the message delay argument.
	DelayUnit time.Duration `mapstructure:"delay_unit"`
	// MaxDelay caps the delay argument. Zero means unbounded.
	MaxDelay        int           `mapstructure:"max_delay"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

type TransportConfig struct {
	Kind      string          `mapstructure:"kind"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

type WebSocketConfig struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

type TelegramConfig struct {
	Token       string        `mapstructure:"token"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// Defaults returns the configuration used for every key the file and
// environment leave unset.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			GRPC: GRPCConfig{
				Address:              ":50051",
				MaxConcurrentStreams: 100,
			},
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Store: StoreConfig{
			Driver: "file",
			Path:   "data.json",
		},
		Relay: RelayConfig{
			DelayUnit:       time.Minute,
			DeliveryTimeout: 30 * time.Second,
		},
		Transport: TransportConfig{
			Kind: "websocket",
			WebSocket: WebSocketConfig{
				Address: ":8080",
				Path:    "/ws",
			},
			Telegram: TelegramConfig{
				PollTimeout: 60 * time.Second,
			},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("server.grpc.address", d.Server.GRPC.Address)
	v.SetDefault("server.grpc.max_concurrent_streams", d.Server.GRPC.MaxConcurrentStreams)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("admin.identity", d.Admin.Identity)
	v.SetDefault("admin.password_hash", d.Admin.PasswordHash)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("relay.delay_unit", d.Relay.DelayUnit)
	v.SetDefault("relay.max_delay", d.Relay.MaxDelay)
	v.SetDefault("relay.delivery_timeout", d.Relay.DeliveryTimeout)
	v.SetDefault("transport.kind", d.Transport.Kind)
	v.SetDefault("transport.websocket.address", d.Transport.WebSocket.Address)
	v.SetDefault("transport.websocket.path", d.Transport.WebSocket.Path)
	v.SetDefault("transport.telegram.token", d.Transport.Telegram.Token)
	v.SetDefault("transport.telegram.poll_timeout", d.Transport.Telegram.PollTimeout)
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Short form for the one secret most deployments set from the environment.
	if err := v.BindEnv("transport.telegram.token", "RELAY_TRANSPORT_TELEGRAM_TOKEN", "RELAY_TELEGRAM_TOKEN"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Admin.Identity = strings.TrimSpace(c.Admin.Identity)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Admin.Identity == "" {
		errs = append(errs, errors.New("admin.identity is required"))
	}

	switch c.Store.Driver {
	case "file", "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for driver %q", c.Store.Driver))
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for driver \"postgres\""))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Transport.Kind {
	case "websocket":
		if c.Transport.WebSocket.Address == "" {
			errs = append(errs, errors.New("transport.websocket.address is required"))
		}
	case "telegram":
		if c.Transport.Telegram.Token == "" {
			errs = append(errs, errors.New("transport.telegram.token is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport.kind %q", c.Transport.Kind))
	}

	if c.Relay.DelayUnit <= 0 {
		errs = append(errs, errors.New("relay.delay_unit must be positive"))
	}
	if c.Relay.MaxDelay < 0 {
		errs = append(errs, errors.New("relay.max_delay must not be negative"))
	}
	if c.Relay.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("relay.delivery_timeout must be positive"))
	}
	if c.Server.GRPC.MaxConcurrentStreams < 0 {
		errs = append(errs, errors.New("server.grpc.max_concurrent_streams must not be negative"))
	}

	return errors.Join(errs...)
}

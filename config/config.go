package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultEndpoint is used when neither a socket URL nor an API base URL
	// is configured.
	DefaultEndpoint = "http://localhost:5000"

	// DefaultConnectTimeout bounds the wait for the first successful connect
	// event after opening a transport.
	DefaultConnectTimeout = 12 * time.Second

	// DefaultMaxReconnectAttempts caps sequential reconnect attempts after a
	// server-initiated disconnect.
	DefaultMaxReconnectAttempts = 5

	// DefaultReconnectDelayUnit is multiplied by the attempt number to get
	// the delay before each reconnect attempt (1s, 2s, 3s, ...).
	DefaultReconnectDelayUnit = time.Second
)

// Config holds the realtime client configuration.
type Config struct {
	// SocketURL is an explicit realtime endpoint. Takes precedence over
	// APIBaseURL when set.
	SocketURL string `yaml:"socket_url" validate:"omitempty,url"`

	// APIBaseURL is the dashboard API base; a trailing /api segment is
	// stripped when deriving the realtime endpoint.
	APIBaseURL string `yaml:"api_base_url" validate:"omitempty,url"`

	// NatsURL switches the client to the NATS transport when set.
	NatsURL string `yaml:"nats_url"`

	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" validate:"gte=1"`
	ReconnectDelayUnit   time.Duration `yaml:"reconnect_delay_unit"`
}

var validate = validator.New()

// Load builds a Config from the environment. A .env file is honored when
// present (it never overrides variables already set in the environment).
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		SocketURL:            os.Getenv("TASKDECK_SOCKET_URL"),
		APIBaseURL:           os.Getenv("TASKDECK_API_URL"),
		NatsURL:              os.Getenv("TASKDECK_NATS_URL"),
		ConnectTimeout:       DefaultConnectTimeout,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectDelayUnit:   DefaultReconnectDelayUnit,
	}
	if v := os.Getenv("TASKDECK_CONNECT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TASKDECK_CONNECT_TIMEOUT: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if v := os.Getenv("TASKDECK_MAX_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TASKDECK_MAX_RECONNECT_ATTEMPTS: %w", err)
		}
		cfg.MaxReconnectAttempts = n
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML config file and fills unset fields with defaults.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectDelayUnit <= 0 {
		c.ReconnectDelayUnit = DefaultReconnectDelayUnit
	}
}

// Validate checks the struct-level constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Endpoint resolves the realtime endpoint: explicit socket URL first, then
// the API base URL with one trailing /api segment stripped, then the local
// default.
func (c *Config) Endpoint() string {
	if c.SocketURL != "" {
		return c.SocketURL
	}
	if c.APIBaseURL != "" {
		base := strings.TrimRight(c.APIBaseURL, "/")
		base = strings.TrimSuffix(base, "/api")
		return base
	}
	return DefaultEndpoint
}

// DialEndpoint returns the address handed to the transport factory: the
// NATS URL when the NATS transport is selected, the websocket endpoint
// otherwise.
func (c *Config) DialEndpoint() string {
	if c.NatsURL != "" {
		return c.NatsURL
	}
	return c.Endpoint()
}

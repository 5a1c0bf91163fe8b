package config

import (
	"errors"
	"time"
)

var (
	ErrMissingSigningKey      = errors.New("config: signing.privateKey is required")
	ErrMissingVerificationKey = errors.New("config: relay.verificationKey is required")
	ErrBadLimitMode           = errors.New("config: server.connectionLimit.mode must be reject or cycle")
)

// --- Relay ---

type RelayConfig struct {
	Server    ServerConfig
	Transport TransportConfig
	Signing   SigningConfig
	Log       LogConfig
	// Events adds modifiers to relay actions, keyed by action name.
	Events map[string]EventConfig `mapstructure:"events"`
}

type ServerConfig struct {
	Address         string
	Path            string
	MetricsPath     string `mapstructure:"metricsPath"`
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool `mapstructure:"trustProxy"`
}

type AuthConfig struct {
	// Empty disables admission tokens.
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int    `mapstructure:"maxPerIP"`
	Mode     string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	SendBuffer  int           `mapstructure:"sendBuffer"`
	ReadLimit   int64         `mapstructure:"readLimit"`
}

type SigningConfig struct {
	PrivateKey string `mapstructure:"privateKey"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EventConfig struct {
	Modifiers []ModifierConfig `mapstructure:"modifiers"`
}

type ModifierConfig struct {
	Name   string   `mapstructure:"name"`
	Params []string `mapstructure:"params"`
}

func (c *RelayConfig) Validate() error {
	if c.Signing.PrivateKey == "" {
		return ErrMissingSigningKey
	}
	switch c.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return ErrBadLimitMode
	}
	return nil
}

// --- Client ---

type ClientConfig struct {
	Relay RelayLinkConfig
	Link  LinkConfig
	Debug bool
}

type RelayLinkConfig struct {
	URL             string `mapstructure:"url"`
	VerificationKey string `mapstructure:"verificationKey"`
	Token           string `mapstructure:"token"`
}

type LinkConfig struct {
	PingInterval   time.Duration `mapstructure:"pingInterval"`
	ReconnectDelay time.Duration `mapstructure:"reconnectDelay"`
}

func (c *ClientConfig) Validate() error {
	if c.Relay.VerificationKey == "" {
		return ErrMissingVerificationKey
	}
	return nil
}

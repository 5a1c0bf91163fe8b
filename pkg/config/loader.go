package config

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	RelayConfigName  = "cryptrelay"
	ClientConfigName = "cryptchat"
)

// LoadRelay reads relay configuration from cryptrelay.yaml in the given
// directories (or the working directory) and CRYPTRELAY_* variables.
func LoadRelay(logger *slog.Logger, dirs ...string) (*RelayConfig, error) {
	v := newViper(RelayConfigName, "CRYPTRELAY", dirs)

	// 1. Set default values
	v.SetDefault("server.address", "127.0.0.1:8080")
	v.SetDefault("server.path", "/")
	v.SetDefault("server.metricsPath", "/metrics")
	v.SetDefault("server.auth.jwtSecret", "")
	v.SetDefault("server.connectionLimit.maxPerIP", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("server.trustProxy", false)
	v.SetDefault("transport.readTimeout", 90*time.Second)
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.readLimit", 1<<20)
	v.SetDefault("signing.privateKey", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := read(logger, v); err != nil {
		return nil, err
	}

	var cfg RelayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient reads client configuration from cryptchat.yaml and
// CRYPTCHAT_* variables.
func LoadClient(logger *slog.Logger, dirs ...string) (*ClientConfig, error) {
	v := newViper(ClientConfigName, "CRYPTCHAT", dirs)

	v.SetDefault("relay.url", "ws://127.0.0.1:8080/")
	v.SetDefault("relay.verificationKey", "")
	v.SetDefault("relay.token", "")
	v.SetDefault("link.pingInterval", 30*time.Second)
	v.SetDefault("link.reconnectDelay", 5*time.Second)
	v.SetDefault("debug", false)

	if err := read(logger, v); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper(name, envPrefix string, dirs []string) *viper.Viper {
	v := viper.New()

	// Config file details
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".") // look for config in the working directory

	// Environment variable handling
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func read(logger *slog.Logger, v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return err
		}
		logger.Warn("Config file not found. Relying on defaults and environment variables")
		return nil
	}
	logger.Info("Loaded config file", slog.String("path", v.ConfigFileUsed()))
	return nil
}

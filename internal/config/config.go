// Package config loads gateway configuration from a file and the environment.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/airfi/unifi-hotspot-gateway/internal/probe"
	"github.com/airfi/unifi-hotspot-gateway/internal/unifi"
)

// EnvPrefix prefixes the automatic environment names (PORTAL_SERVER_PORT, ...).
const EnvPrefix = "PORTAL"

// Config holds the configuration for the gateway.
type Config struct {
	// Controller
	ControllerURL      string
	ControllerSite     string
	ControllerUsername string
	ControllerPassword string
	ControllerTimeout  time.Duration

	// HTTP server
	Port      int
	RateLimit float64 // requests per second, 0 disables
	RateBurst int

	// Connectivity probe
	ProbeURL     string
	ProbeTimeout time.Duration

	// Voucher note tag
	VoucherNote string

	// Orchestration
	AuthorizeTimeout time.Duration

	Development bool
}

// Controller returns the unifi client configuration.
func (c *Config) Controller() unifi.Config {
	return unifi.Config{
		URL:      c.ControllerURL,
		Site:     c.ControllerSite,
		Username: c.ControllerUsername,
		Password: c.ControllerPassword,
		Timeout:  c.ControllerTimeout,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ControllerURL == "" {
		return ErrInvalidConfig("controller URL is required (UNIFI_URL)")
	}
	if c.ControllerSite == "" {
		return ErrInvalidConfig("controller site is required")
	}
	if c.ControllerUsername == "" {
		return ErrInvalidConfig("controller username is required (UNIFI_USERNAME)")
	}
	if c.ControllerPassword == "" {
		return ErrInvalidConfig("controller password is required (UNIFI_PASSWORD)")
	}
	if c.ControllerTimeout <= 0 {
		return ErrInvalidConfig("controller timeout must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidConfig("server port must be between 1 and 65535")
	}
	if c.RateLimit < 0 {
		return ErrInvalidConfig("rate limit must not be negative")
	}
	if c.ProbeTimeout <= 0 {
		return ErrInvalidConfig("probe timeout must be positive")
	}
	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Message
}

// ErrInvalidConfig creates a new configuration error.
func ErrInvalidConfig(message string) error {
	return &ConfigError{Message: message}
}

// Load reads configuration. An explicit path must exist; without one,
// ./config/config.yaml is used if present. Environment variables override
// both, including the UNIFI_* and PORT names of earlier deployments.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	cfg := &Config{
		ControllerURL:      v.GetString("controller.url"),
		ControllerSite:     v.GetString("controller.site"),
		ControllerUsername: v.GetString("controller.username"),
		ControllerPassword: v.GetString("controller.password"),
		ControllerTimeout:  v.GetDuration("controller.timeout"),
		Port:               v.GetInt("server.port"),
		RateLimit:          v.GetFloat64("server.rate_limit"),
		RateBurst:          v.GetInt("server.rate_burst"),
		ProbeURL:           v.GetString("probe.url"),
		ProbeTimeout:       v.GetDuration("probe.timeout"),
		VoucherNote:        v.GetString("voucher.note"),
		AuthorizeTimeout:   v.GetDuration("authorize.timeout"),
		Development:        v.GetBool("log.development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var legacyEnv = map[string]string{
	"controller.url":      "UNIFI_URL",
	"controller.site":     "UNIFI_SITE",
	"controller.username": "UNIFI_USERNAME",
	"controller.password": "UNIFI_PASSWORD",
	"server.port":         "PORT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("controller.url", "")
	v.SetDefault("controller.site", unifi.DefaultSite)
	v.SetDefault("controller.username", "")
	v.SetDefault("controller.password", "")
	v.SetDefault("controller.timeout", unifi.DefaultTimeout)
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("probe.url", probe.DefaultURL)
	v.SetDefault("probe.timeout", probe.DefaultTimeout)
	v.SetDefault("voucher.note", unifi.DefaultNoteTag)
	v.SetDefault("authorize.timeout", 60*time.Second)
	v.SetDefault("log.development", false)
}

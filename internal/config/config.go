package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "STRATA"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDataDir           = "data"
	defaultLogLevel          = "info"
	defaultCookieName        = "app_session"
	defaultSweepIntervalH    = 24
	defaultSweepInitialDelay = 10
)

// AppConfig captures runtime configuration for the revision API server.
type AppConfig struct {
	HTTPAddress       string
	DataDir           string
	LogLevel          string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	SweepInterval     time.Duration
	SweepInitialDelay time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("data.dir", defaultDataDir)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", "strata-auth")
	configViper.SetDefault("sweep.interval_hours", defaultSweepIntervalH)
	configViper.SetDefault("sweep.initial_delay_seconds", defaultSweepInitialDelay)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DataDir:           configViper.GetString("data.dir"),
		LogLevel:          configViper.GetString("log.level"),
		SessionSigningKey: configViper.GetString("session.signing_secret"),
		SessionIssuer:     configViper.GetString("session.issuer"),
		SessionCookieName: configViper.GetString("session.cookie_name"),
		SweepInterval:     time.Duration(configViper.GetInt("sweep.interval_hours")) * time.Hour,
		SweepInitialDelay: time.Duration(configViper.GetInt("sweep.initial_delay_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data.dir is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep.interval_hours must be positive")
	}
	return nil
}

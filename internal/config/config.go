package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "SMACKTALK"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "smacktalk.db"
	defaultLogLevel       = "info"
	defaultJWKSURL        = "https://www.googleapis.com/oauth2/v3/certs"
	defaultGiphyBaseURL   = "https://api.giphy.com"
	defaultTokenTTLMin    = 30
	defaultHistoryLimit   = 50
	defaultLedgerCapacity = 4096
	defaultRoomID         = "main"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	GoogleClientID  string
	GoogleJWKSURL   string
	TokenTTL        time.Duration
	GiphyAPIKey     string
	GiphyBaseURL    string
	MediaHosts      []string
	HistoryLimit    int
	LedgerCapacity  int
	DefaultRoomID   string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("google.jwks_url", defaultJWKSURL)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("media.giphy_base_url", defaultGiphyBaseURL)
	configViper.SetDefault("media.allowed_hosts", []string{})
	configViper.SetDefault("chat.history_limit", defaultHistoryLimit)
	configViper.SetDefault("chat.ledger_capacity", defaultLedgerCapacity)
	configViper.SetDefault("chat.default_room", defaultRoomID)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		GoogleClientID: configViper.GetString("google.client_id"),
		GoogleJWKSURL:  configViper.GetString("google.jwks_url"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		GiphyAPIKey:    configViper.GetString("media.giphy_api_key"),
		GiphyBaseURL:   configViper.GetString("media.giphy_base_url"),
		MediaHosts:     configViper.GetStringSlice("media.allowed_hosts"),
		HistoryLimit:   configViper.GetInt("chat.history_limit"),
		LedgerCapacity: configViper.GetInt("chat.ledger_capacity"),
		DefaultRoomID:  configViper.GetString("chat.default_room"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("chat.history_limit must be positive")
	}
	return nil
}

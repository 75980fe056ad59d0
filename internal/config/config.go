package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                     = "LIVEQUIZ"
	defaultHTTPAddress            = "0.0.0.0:8080"
	defaultDatabasePath           = "livequiz.db"
	defaultLogLevel               = "info"
	defaultCookieName             = "portal_session"
	defaultAuthIssuer             = "classdeck-portal"
	defaultProviderURL            = "https://api.openai.com/v1"
	defaultProviderModel          = "gpt-4o-mini"
	defaultProviderTimeoutSeconds = 30
)

// AppConfig captures runtime configuration for the quiz API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	RedisAddress    string
	AuthSigningKey  string
	AuthIssuer      string
	AuthCookieName  string
	ProviderURL     string
	ProviderModel   string
	ProviderKeys    []string
	ProviderTimeout time.Duration
	LogLevel        string
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
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("llm.api_url", defaultProviderURL)
	configViper.SetDefault("llm.model", defaultProviderModel)
	configViper.SetDefault("llm.timeout_s", defaultProviderTimeoutSeconds)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		RedisAddress:    configViper.GetString("redis.address"),
		AuthSigningKey:  configViper.GetString("auth.signing_secret"),
		AuthIssuer:      configViper.GetString("auth.issuer"),
		AuthCookieName:  configViper.GetString("auth.cookie_name"),
		ProviderURL:     configViper.GetString("llm.api_url"),
		ProviderModel:   configViper.GetString("llm.model"),
		ProviderKeys:    splitKeys(configViper.GetString("llm.api_keys")),
		ProviderTimeout: time.Duration(configViper.GetInt("llm.timeout_s")) * time.Second,
		LogLevel:        configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitKeys parses the priority-ordered provider key list from a comma
// separated value, dropping blanks.
func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningKey) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("llm.timeout_s must be positive")
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "PROOFMIND"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "proofmind.db"
	defaultLogLevel        = "info"
	defaultTokenIssuer     = "proofmind-auth"
	defaultTokenAudience   = "proofmind-api"
	defaultTokenTTLMinutes = 30
	defaultRedisChannel    = "proofmind.certificates"
)

// AppConfig captures runtime configuration for the registry.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	TokenIssuer    string
	TokenAudience  string
	TokenTTL       time.Duration
	VerifierID     string
	RedisAddress   string
	RedisChannel   string
	MetricsEnabled bool
	TracingEnabled bool
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
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("redis.channel", defaultRedisChannel)
	configViper.SetDefault("metrics.enabled", true)
	configViper.SetDefault("tracing.enabled", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenIssuer:    configViper.GetString("auth.issuer"),
		TokenAudience:  configViper.GetString("auth.audience"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		VerifierID:     strings.TrimSpace(configViper.GetString("registry.verifier_id")),
		RedisAddress:   strings.TrimSpace(configViper.GetString("redis.address")),
		RedisChannel:   strings.TrimSpace(configViper.GetString("redis.channel")),
		MetricsEnabled: configViper.GetBool("metrics.enabled"),
		TracingEnabled: configViper.GetBool("tracing.enabled"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// ValidateAuth reports whether bearer tokens can be issued and validated.
func (c AppConfig) ValidateAuth() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.TokenIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.TokenAudience) == "" {
		return fmt.Errorf("auth.audience is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.VerifierID == "" {
		return fmt.Errorf("registry.verifier_id is required")
	}
	return nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "TDMR"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "tdmr.db"
	defaultModelDir       = "models"
	defaultLogLevel       = "info"
	defaultMaxUploadBytes = 32 << 20
	defaultUserinfoURL    = "https://api.openstreetmap.org/api/0.6/user/details.json"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	ModelDir        string
	LogLevel        string
	SigningSecret   string
	CookieSecret    string
	UserinfoURL     string
	ValidatorBinary string
	MaxUploadBytes  int64
	SecureCookies   bool
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
	configViper.SetDefault("storage.model_dir", defaultModelDir)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("upload.max_bytes", defaultMaxUploadBytes)
	configViper.SetDefault("auth.userinfo_url", defaultUserinfoURL)
	configViper.SetDefault("session.secure_cookies", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		ModelDir:        configViper.GetString("storage.model_dir"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		CookieSecret:    configViper.GetString("session.cookie_secret"),
		UserinfoURL:     configViper.GetString("auth.userinfo_url"),
		ValidatorBinary: configViper.GetString("validator.binary"),
		MaxUploadBytes:  configViper.GetInt64("upload.max_bytes"),
		SecureCookies:   configViper.GetBool("session.secure_cookies"),
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
	if strings.TrimSpace(c.CookieSecret) == "" {
		return fmt.Errorf("session.cookie_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ModelDir) == "" {
		return fmt.Errorf("storage.model_dir is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	return nil
}

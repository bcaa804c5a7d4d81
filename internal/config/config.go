// Package config loads client and server settings from the environment, an
// optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Client struct {
	ServerURL            string        `mapstructure:"server_url"`
	APIURL               string        `mapstructure:"api_url"`
	Token                string        `mapstructure:"token"`
	UserId               string        `mapstructure:"user_id"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	TypingTimeout        time.Duration `mapstructure:"typing_timeout"`
	TypingThrottle       time.Duration `mapstructure:"typing_throttle"`
	PageSize             int           `mapstructure:"page_size"`
	Debug                bool          `mapstructure:"debug"`
}

type Server struct {
	Port          string        `mapstructure:"port"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	MongoURI      string        `mapstructure:"mongodb_uri"`
	MongoDatabase string        `mapstructure:"mongodb_database"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	ServerID      string        `mapstructure:"server_id"`
	AllowedOrigin string        `mapstructure:"allowed_origin"`
	Debug         bool          `mapstructure:"debug"`
}

var ErrMissingSecret = errors.New("config: JWT_SECRET is required")

// LoadClient reads client settings. path may be empty; environment variables
// override file values (SERVER_URL, API_URL, TOKEN, ...).
func LoadClient(path string) (*Client, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("server_url", "ws://localhost:8080/ws")
	v.SetDefault("api_url", "http://localhost:8080")
	v.SetDefault("reconnect_base_delay", time.Second)
	v.SetDefault("max_reconnect_attempts", 5)
	v.SetDefault("handshake_timeout", 20*time.Second)
	v.SetDefault("typing_timeout", time.Second)
	v.SetDefault("page_size", 50)
	bindEnv(v, "token", "user_id", "username", "password", "typing_throttle", "debug")

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode client: %w", err)
	}
	return &cfg, nil
}

// LoadServer reads mock backend settings.
func LoadServer(path string) (*Server, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("port", "8080")
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("mongodb_database", "wesync")
	v.SetDefault("server_id", "server-1")
	v.SetDefault("allowed_origin", "*")
	bindEnv(v, "jwt_secret", "mongodb_uri", "redis_addr", "debug")

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode server: %w", err)
	}
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	return &cfg, nil
}

func newViper(path string) (*viper.Viper, error) {
	// a missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return v, nil
}

// bindEnv makes keys without a default visible to Unmarshal when they only
// exist in the environment.
func bindEnv(v *viper.Viper, keys ...string) {
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

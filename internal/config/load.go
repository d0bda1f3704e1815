package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

// LoadConfig reads ./config/config.toml, overlaid with the APP_ENV-specific
// database section when one exists.
func LoadConfig() (*AppConfig, error) {
	return LoadConfigFrom("./config")
}

func LoadConfigFrom(dir string) (*AppConfig, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = EnvDevelopment
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("lockout.enabled", true)
	v.SetDefault("lockout.threshold", 5)
	v.SetDefault("lockout.duration", 15*time.Minute)
	v.SetDefault("tokens.ttl", time.Hour)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Load environment-specific database overrides
	if envSettings := v.GetStringMap(fmt.Sprintf("database.%s", env)); len(envSettings) > 0 {
		if err := v.UnmarshalKey(fmt.Sprintf("database.%s", env), &config.Database); err != nil {
			return nil, fmt.Errorf("error unmarshaling env config: %w", err)
		}
	}

	return &config, nil
}

// Package config loads bundata tool configuration from a .env file and
// prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the settings of the bundata CLI and of services embedding the
// engine. Keys map from environment variables: BUNDATA_DATABASE_URL becomes
// database.url and so on.
type Config struct {
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	Schema struct {
		// Path to the schema snapshot JSON.
		Path string `mapstructure:"path"`
	} `mapstructure:"schema"`

	Query struct {
		DefaultLimit     int `mapstructure:"defaultlimit"`
		MaxRelationDepth int `mapstructure:"maxrelationdepth"`
	} `mapstructure:"query"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Load reads configuration into target. The .env file is optional;
// environment variables with the given prefix win over file values.
func Load(prefix string, target any) error {
	v := viper.New()

	v.SetConfigFile(".env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read .env: %w", err)
		}
	}

	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		key, value := pair[0], pair[1]
		if !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		propKey := strings.TrimPrefix(key, prefixUpper)
		propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
		propKey = strings.TrimPrefix(propKey, ".")
		v.Set(propKey, value)
	}

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

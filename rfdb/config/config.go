package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/Disentinel/rfdb/rfdb"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Store StoreConfig `mapstructure:"store"`
	Log   LogConfig   `mapstructure:"log"`
}

// StoreConfig stores graph store settings.
type StoreConfig struct {
	// Path is the store directory; normalized to a .rfdb extension.
	Path string `mapstructure:"path"`
	// AutoFlushThreshold is the number of unpersisted delta entries that
	// triggers an automatic WAL flush.
	AutoFlushThreshold int `mapstructure:"autoFlushThreshold"`
	// FileIndex enables the persistent file-to-nodes index.
	FileIndex bool `mapstructure:"fileIndex"`
}

// LogConfig stores logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetDefault("store.path", "graph"+internal.DefaultStoreExt)
	viper.SetDefault("store.autoFlushThreshold", internal.DefaultAutoFlushThreshold)
	viper.SetDefault("store.fileIndex", false)
	viper.SetDefault("log.level", "info")

	viper.AutomaticEnv()
	viper.SetEnvPrefix(strings.ToUpper(internal.DefaultAppName))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // store.autoFlushThreshold -> RFDB_STORE_AUTOFLUSHTHRESHOLD

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used.
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}

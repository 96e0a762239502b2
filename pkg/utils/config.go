package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Workspace
	WorkspaceRoot      string
	ReconcileAbandoned bool
	JobsManifest       string

	// Server
	HTTPAddr        string
	ShutdownTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// NewViper returns a viper instance with the ledger defaults and LEDGER_ env binding
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("workspace", ".")
	v.SetDefault("reconcile_abandoned", false)
	v.SetDefault("jobs_manifest", "")
	v.SetDefault("http_addr", "127.0.0.1:8080")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_format", "text")

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from defaults, an optional config file and
// LEDGER_* environment variables. Environment variables win over the file.
func LoadConfig(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("ledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &Config{
		WorkspaceRoot:      v.GetString("workspace"),
		ReconcileAbandoned: v.GetBool("reconcile_abandoned"),
		JobsManifest:       v.GetString("jobs_manifest"),
		HTTPAddr:           v.GetString("http_addr"),
		ShutdownTimeout:    v.GetDuration("shutdown_timeout"),
		LogLevel:           v.GetString("log_level"),
		LogFormat:          v.GetString("log_format"),
	}, nil
}

// GetLogLevel converts the log level string to LogLevel type
func (c *Config) GetLogLevel() LogLevel {
	return ParseLogLevel(c.LogLevel)
}

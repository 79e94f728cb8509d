// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UnivExplorer Contributors

// Package config loads authd configuration from defaults, an optional
// YAML file, command-line flags, and a small set of environment
// variables. Configuration is loaded once at startup and never mutated
// while requests are being served.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Environment fallbacks for values that should not live on the
// command line.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvJWTSecret   = "AUTHD_JWT_SECRET"
)

// Config holds runtime settings for the authd server.
type Config struct {
	// ListenAddr is the bind address for the public HTTP API.
	ListenAddr string `koanf:"listen_addr"`

	// MetricsAddr is the bind address for the metrics/health server.
	// Empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`

	// DatabaseURL is the PostgreSQL connection string (pgx).
	DatabaseURL string `koanf:"database_url"`

	// JWTSecret signs bearer tokens (HS256). Required; there is no
	// default, hardcoded or otherwise.
	JWTSecret string `koanf:"jwt_secret"`

	// TokenTTL is the validity window for issued tokens.
	TokenTTL time.Duration `koanf:"token_ttl"`

	// BcryptCost is the password hashing work factor.
	BcryptCost int `koanf:"bcrypt_cost"`

	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`
}

// Default returns the development defaults. JWTSecret and DatabaseURL
// are deliberately absent.
func Default() Config {
	return Config{
		ListenAddr:  ":8085",
		MetricsAddr: "127.0.0.1:9100",
		TokenTTL:    2 * time.Hour,
		BcryptCost:  10,
		LogFormat:   "json",
	}
}

// Load builds a Config by overlaying, in order: defaults, the YAML
// file at path (if non-empty), explicitly set command-line flags, and
// environment fallbacks for the database URL and signing secret.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		// Flag names use dashes; koanf keys use underscores.
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv(EnvDatabaseURL)
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = os.Getenv(EnvJWTSecret)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is complete and coherent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("listen_addr is required")
	}
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database_url is required (or set %s)", EnvDatabaseURL)
	}
	if c.JWTSecret == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("jwt_secret is required (or set %s)", EnvJWTSecret)
	}
	if c.TokenTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("token_ttl must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.LogFormat).
			Errorf("log_format must be 'json' or 'text'")
	}
	return nil
}

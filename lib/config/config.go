// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the Memoflow
// service.
//
// Configuration is loaded from a single YAML file specified by:
//   - MEMOFLOW_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// Secrets (the payment shared secret and the token signing key) are
// referenced by file path, never embedded in the config file itself.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the Memoflow service.
type Config struct {
	// Listen configures the HTTP listener.
	Listen ListenConfig `yaml:"listen"`

	// Store configures the intake session store.
	Store StoreConfig `yaml:"store"`

	// Upstream configures the memo generation backend.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Payment configures the payment gate.
	Payment PaymentConfig `yaml:"payment"`

	// Intake configures the questionnaire and session lifecycle.
	Intake IntakeConfig `yaml:"intake"`

	// Tokens configures report-scoped access tokens.
	Tokens TokenConfig `yaml:"tokens"`
}

// ListenConfig configures the HTTP listener.
type ListenConfig struct {
	// Address is the TCP listen address (e.g., ":8440").
	Address string `yaml:"address"`

	// ShutdownTimeout bounds graceful shutdown, as a Go duration
	// string. Default: "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// StoreConfig configures the SQLite-backed session store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`

	// PoolSize is the connection pool size. Zero means the pool
	// default.
	PoolSize int `yaml:"pool_size"`
}

// UpstreamConfig configures the memo generation backend.
type UpstreamConfig struct {
	// BaseURL is the generation service base URL
	// (e.g., "https://memo-engine.internal:9040").
	BaseURL string `yaml:"base_url"`

	// GenerationTimeout is the ceiling on a single generation event
	// stream, as a Go duration string. After this elapses the relay
	// synthesizes a timeout error event instead of hanging.
	// Default: "5m".
	GenerationTimeout string `yaml:"generation_timeout"`

	// KeepaliveInterval is how often the relay writes a comment
	// frame downstream while the stream is quiet, as a Go duration
	// string. Default: "15s".
	KeepaliveInterval string `yaml:"keepalive_interval"`
}

// PaymentConfig configures the payment gate.
type PaymentConfig struct {
	// SecretFile is the path to the file holding the shared HMAC
	// secret agreed with the payment provider. Required.
	SecretFile string `yaml:"secret_file"`

	// ProviderKey is the provider's publishable key, returned in
	// order descriptors so the client can open the checkout widget.
	// This is not the secret.
	ProviderKey string `yaml:"provider_key"`

	// AmountMinor is the memo price in minor currency units
	// (e.g., cents).
	AmountMinor int64 `yaml:"amount_minor"`

	// Currency is the ISO 4217 currency code (e.g., "USD").
	Currency string `yaml:"currency"`
}

// IntakeConfig configures the questionnaire and session lifecycle.
type IntakeConfig struct {
	// CatalogPath is the path to the question catalog (JSONC).
	CatalogPath string `yaml:"catalog_path"`

	// InactivityWindow is how long a non-terminal session may sit
	// without a transition before it expires, as a Go duration
	// string. Default: "30m".
	InactivityWindow string `yaml:"inactivity_window"`
}

// TokenConfig configures report-scoped access tokens.
type TokenConfig struct {
	// SigningKeyFile is the path to the 32-byte Ed25519 seed used to
	// sign access tokens. Required.
	SigningKeyFile string `yaml:"signing_key_file"`
}

// Default returns the default configuration. These defaults exist
// primarily to ensure all fields have sensible zero-values — the
// config file is required and is the single source of truth.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Address:         ":8440",
			ShutdownTimeout: "10s",
		},
		Store: StoreConfig{
			Path: "memoflow.db",
		},
		Upstream: UpstreamConfig{
			GenerationTimeout: "5m",
			KeepaliveInterval: "15s",
		},
		Payment: PaymentConfig{
			AmountMinor: 14900,
			Currency:    "USD",
		},
		Intake: IntakeConfig{
			CatalogPath:      "questions.jsonc",
			InactivityWindow: "30m",
		},
	}
}

// Load loads configuration from the MEMOFLOW_CONFIG environment
// variable. There are no fallbacks — if MEMOFLOW_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("MEMOFLOW_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("MEMOFLOW_CONFIG environment variable not set; " +
			"set it to the path of your memoflow.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Environment
// variables do not override config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors. All duration strings
// must parse and all required fields must be present.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Address == "" {
		errs = append(errs, fmt.Errorf("listen.address is required"))
	}
	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	if c.Upstream.BaseURL == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url is required"))
	} else if _, err := url.Parse(c.Upstream.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("upstream.base_url: %w", err))
	}
	if c.Payment.SecretFile == "" {
		errs = append(errs, fmt.Errorf("payment.secret_file is required"))
	}
	if c.Payment.AmountMinor <= 0 {
		errs = append(errs, fmt.Errorf("payment.amount_minor must be positive"))
	}
	if c.Payment.Currency == "" {
		errs = append(errs, fmt.Errorf("payment.currency is required"))
	}
	if c.Intake.CatalogPath == "" {
		errs = append(errs, fmt.Errorf("intake.catalog_path is required"))
	}
	if c.Tokens.SigningKeyFile == "" {
		errs = append(errs, fmt.Errorf("tokens.signing_key_file is required"))
	}

	durations := []struct {
		name  string
		value string
	}{
		{"listen.shutdown_timeout", c.Listen.ShutdownTimeout},
		{"upstream.generation_timeout", c.Upstream.GenerationTimeout},
		{"upstream.keepalive_interval", c.Upstream.KeepaliveInterval},
		{"intake.inactivity_window", c.Intake.InactivityWindow},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ShutdownTimeout returns the parsed graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Listen.ShutdownTimeout, 10*time.Second)
}

// GenerationTimeout returns the parsed generation stream ceiling.
func (c *Config) GenerationTimeout() time.Duration {
	return parseDuration(c.Upstream.GenerationTimeout, 5*time.Minute)
}

// KeepaliveInterval returns the parsed stream keepalive interval.
func (c *Config) KeepaliveInterval() time.Duration {
	return parseDuration(c.Upstream.KeepaliveInterval, 15*time.Second)
}

// InactivityWindow returns the parsed session inactivity window.
func (c *Config) InactivityWindow() time.Duration {
	return parseDuration(c.Intake.InactivityWindow, 30*time.Minute)
}

// parseDuration parses a duration string, falling back to the default
// when empty or invalid. Validate reports invalid values as errors;
// this fallback only guards callers that skip validation in tests.
func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

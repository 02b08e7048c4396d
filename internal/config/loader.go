package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// minJWTSecretLength is the minimum accepted HS256 secret length in bytes.
const minJWTSecretLength = 32

// weakJWTSecrets lists placeholder secrets that must never reach production.
var weakJWTSecrets = []string{
	"change-me-to-a-long-random-secret!!",
	"00000000000000000000000000000000",
	"secretsecretsecretsecretsecretse",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Gemini
	if cfg.Gemini.APIKey == "" {
		errs = append(errs, errors.New("gemini.api_key is required"))
	}
	if cfg.Gemini.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("gemini.connect_timeout %v must not be negative", cfg.Gemini.ConnectTimeout))
	}
	for i, model := range cfg.Gemini.FallbackModels {
		if strings.TrimSpace(model) == "" {
			errs = append(errs, fmt.Errorf("gemini.fallback_models[%d] is empty", i))
		}
	}
	if cfg.Gemini.Model == "" {
		slog.Warn("gemini.model is not set; using the provider's built-in default model")
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required"))
	}

	// Auth
	if cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	} else if len(cfg.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d characters, got %d", minJWTSecretLength, len(cfg.Auth.JWTSecret)))
	} else if slices.Contains(weakJWTSecrets, cfg.Auth.JWTSecret) {
		errs = append(errs, errors.New("auth.jwt_secret is a known placeholder value; generate a random secret"))
	}

	return errors.Join(errs...)
}

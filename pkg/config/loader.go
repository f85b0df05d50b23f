package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads fleet.yaml from configDir (and an adjacent .env, if present),
// merges it over the compiled-in defaults, validates the result, and
// returns a ready-to-use *Config.
//
// Steps, mirroring tarsy's config.Initialize:
//  1. Load .env into the process environment (missing file is not an error)
//  2. Read fleet.yaml, expanding ${VAR}/$VAR references
//  3. Parse YAML into a zero-valued Config
//  4. Merge it over the built-in defaults (YAML overrides default)
//  5. Validate
func Load(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, NewLoadError(".env", err)
	}

	yamlPath := filepath.Join(configDir, "fleet.yaml")
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, NewLoadError("fleet.yaml", err)
		}
		log.Info("fleet.yaml not found, using built-in defaults only")
		data = nil
	}
	data = expandEnv(data)

	var overlay Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return nil, NewLoadError("fleet.yaml", fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
	}

	cfg := defaultConfig()
	if err := mergo.Merge(cfg, overlay, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge fleet.yaml over defaults: %w", err)
	}
	cfg.configDir = configDir

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration loaded", "http_addr", cfg.HTTP.Addr, "store_host", cfg.Store.Host)
	return cfg, nil
}

// expandEnv expands ${VAR}/$VAR references in fleet.yaml before parsing,
// so secrets like the DB password never need to be committed in plain
// text (mirrors tarsy's config.ExpandEnv).
func expandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

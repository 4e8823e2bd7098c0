package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// yamlOverlay mirrors the subset of Config settings a deployment may want
// to pin in a checked-in file rather than the environment: mostly the
// less volatile per-component settings (timeouts, CORS, history limits).
// Env vars loaded via Load still take precedence for secrets.
type yamlOverlay struct {
	Streaming *StreamingConfig `yaml:"streaming"`
	History   *HistoryConfig   `yaml:"history"`
	CORS      *CORSConfig      `yaml:"cors"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Adapters  *AdapterTimeouts `yaml:"adapters"`
}

// LoadFromFile expands environment variables in the YAML file at path
// parses the overlay, and
// merges it onto Config built from environment defaults. A missing file
// is not an error — the caller falls back to environment-only config.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	expanded := expandEnv(raw)

	var overlay yamlOverlay
	if err := yaml.Unmarshal(expanded, &overlay); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if overlay.Streaming != nil {
		if err := mergo.Merge(&cfg.Streaming, *overlay.Streaming, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging streaming config: %w", err)
		}
	}
	if overlay.History != nil {
		if err := mergo.Merge(&cfg.History, *overlay.History, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging history config: %w", err)
		}
	}
	if overlay.CORS != nil {
		if err := mergo.Merge(&cfg.CORS, *overlay.CORS, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging cors config: %w", err)
		}
	}
	if overlay.Scheduler != nil {
		if err := mergo.Merge(&cfg.Scheduler, *overlay.Scheduler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging scheduler config: %w", err)
		}
	}
	if overlay.Adapters != nil {
		if err := mergo.Merge(&cfg.Adapters, *overlay.Adapters, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging adapters config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnv expands ${VAR} and $VAR references in YAML content before
// parsing. Missing variables
// expand to empty string; Validate catches required fields left empty.
func expandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

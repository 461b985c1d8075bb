// Package config handles configuration loading and defaults.
package config

import (
	"fmt"
	"strings"
)

// Source represents where a configuration value came from.
type Source string

const (
	SourceDefault  Source = "default"
	SourceUserFile Source = "user file"
	SourceProjFile Source = "project file"
	SourceEnv      Source = "environment"
	SourceFlag     Source = "flag"
)

// WithSources holds configuration along with source information for each field.
type WithSources struct {
	Config  *Config
	Sources map[string]Source
}

// Default values.
const (
	DefaultEngine     = "claude"
	DefaultLogDir     = "~/.drover"
	DefaultMaxRetries = 3
)

// Config holds the full configuration for drover.
type Config struct {
	// Engine is the engine to drive when no flag selects one.
	Engine string `toml:"engine"`

	// Paths
	LogDir  string `toml:"log_dir"`
	WorkDir string `toml:"work_dir"`

	// TimeoutSeconds bounds a single engine invocation. Zero disables
	// the timeout.
	TimeoutSeconds int `toml:"timeout_seconds"`

	// MaxRetries bounds permission retry attempts per run.
	MaxRetries int `toml:"max_retries"`

	// Policy is a permission policy document applied to every run.
	Policy string `toml:"policy"`

	// Engines holds per-engine overrides.
	Engines EngineConfig `toml:"engines"`

	// Logging configuration
	LogLevel      string `toml:"log_level"`
	LogTimestamps bool   `toml:"log_timestamps"`
	NoColor       bool   `toml:"no_color"`
}

// EngineConfig holds per-engine configuration, keyed by engine name.
type EngineConfig map[string]Engine

// Engine holds overrides for a single engine.
type Engine struct {
	Binary string   `toml:"binary"`
	Model  string   `toml:"model"`
	Args   []string `toml:"args"` // Extra arguments passed to the engine binary
}

// UnmarshalTOML decodes the engines table, normalizing engine names.
func (ec *EngineConfig) UnmarshalTOML(data interface{}) error {
	table, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("engines config must be a table")
	}
	if *ec == nil {
		*ec = EngineConfig{}
	}
	for key, value := range table {
		raw, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		engine, err := decodeEngine(raw)
		if err != nil {
			return fmt.Errorf("engine %s: %w", key, err)
		}
		(*ec)[normalizeEngine(key)] = engine
	}
	return nil
}

// Get returns the overrides for a given engine.
func (ec EngineConfig) Get(name string) Engine {
	if ec == nil {
		return Engine{}
	}
	return ec[normalizeEngine(name)]
}

// Set stores overrides for a given engine.
func (ec *EngineConfig) Set(name string, engine Engine) {
	key := normalizeEngine(name)
	if key == "" {
		return
	}
	if *ec == nil {
		*ec = EngineConfig{}
	}
	(*ec)[key] = engine
}

func decodeEngine(raw map[string]interface{}) (Engine, error) {
	var engine Engine
	if v, ok := raw["binary"]; ok {
		binary, ok := v.(string)
		if !ok {
			return engine, fmt.Errorf("binary must be a string")
		}
		engine.Binary = binary
	}
	if v, ok := raw["model"]; ok {
		model, ok := v.(string)
		if !ok {
			return engine, fmt.Errorf("model must be a string")
		}
		engine.Model = model
	}
	if v, ok := raw["args"]; ok {
		args, err := parseArgsValue(v)
		if err != nil {
			return engine, err
		}
		engine.Args = args
	}
	return engine, nil
}

func parseArgsValue(v interface{}) ([]string, error) {
	switch val := v.(type) {
	case []string:
		return filterEmptyArgs(val), nil
	case []interface{}:
		args := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("args must be a string array")
			}
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				args = append(args, trimmed)
			}
		}
		return args, nil
	case string:
		return splitAndTrim(val, ","), nil
	default:
		return nil, fmt.Errorf("args must be a string or string array")
	}
}

func filterEmptyArgs(args []string) []string {
	filtered := make([]string, 0, len(args))
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			filtered = append(filtered, trimmed)
		}
	}
	return filtered
}

// EngineBinary returns the binary override for an engine, or "" when the
// engine's default binary applies.
func (c *Config) EngineBinary(name string) string {
	return c.Engines.Get(name).Binary
}

// EngineModel returns the model override for an engine.
func (c *Config) EngineModel(name string) string {
	return c.Engines.Get(name).Model
}

// EngineArgs returns extra args for an engine.
func (c *Config) EngineArgs(name string) []string {
	args := c.Engines.Get(name).Args
	if len(args) == 0 {
		return nil
	}
	copied := make([]string, len(args))
	copy(copied, args)
	return copied
}

func normalizeEngine(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// boolFromString parses a boolean from a string.
func boolFromString(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// splitAndTrim splits a string by sep and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

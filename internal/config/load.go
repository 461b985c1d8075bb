package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load loads configuration from multiple sources in priority order:
// 1. Defaults
// 2. User config file (~/.drover/drover.toml or OS-specific config dir)
// 3. Project config file (drover.toml or .drover.toml in current directory)
// 4. Environment variables
// 5. CLI flags
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cws, err := load(fs, args, nil)
	if err != nil {
		return nil, err
	}
	return cws.Config, nil
}

// LoadWithSources loads configuration and tracks the source of each value.
func LoadWithSources(fs *flag.FlagSet, args []string) (*WithSources, error) {
	return load(fs, args, make(map[string]Source))
}

func load(fs *flag.FlagSet, args []string, sources map[string]Source) (*WithSources, error) {
	cfg := &Config{}

	setDefaults(cfg)
	if sources != nil {
		for _, field := range configFields() {
			sources[field] = SourceDefault
		}
	}

	if userConfigFile := findUserConfigFile(); userConfigFile != "" {
		if err := loadConfigFile(cfg, userConfigFile, sources, SourceUserFile); err != nil {
			return nil, fmt.Errorf("loading user config file %s: %w", userConfigFile, err)
		}
	}

	if projectConfigFile := findProjectConfigFile(); projectConfigFile != "" {
		if err := loadConfigFile(cfg, projectConfigFile, sources, SourceProjFile); err != nil {
			return nil, fmt.Errorf("loading project config file %s: %w", projectConfigFile, err)
		}
	}

	loadFromEnv(cfg, sources)

	if err := parseFlags(cfg, fs, args, sources); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if err := finalizeConfig(cfg); err != nil {
		return nil, fmt.Errorf("finalizing config: %w", err)
	}

	return &WithSources{Config: cfg, Sources: sources}, nil
}

// configFields returns the list of configurable field names for source tracking.
func configFields() []string {
	return []string{
		"engine",
		"log_dir",
		"work_dir",
		"timeout_seconds",
		"max_retries",
		"policy",
		"log_level",
		"log_timestamps",
		"no_color",
	}
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	cfg.Engine = DefaultEngine
	cfg.LogDir = DefaultLogDir
	cfg.MaxRetries = DefaultMaxRetries

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// loadConfigFile loads TOML config from the given file, updating source
// tracking when sources is non-nil.
func loadConfigFile(cfg *Config, path string, sources map[string]Source, source Source) error {
	before := *cfg
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return err
	}
	if sources == nil {
		return nil
	}

	if cfg.Engine != before.Engine {
		sources["engine"] = source
	}
	if cfg.LogDir != before.LogDir {
		sources["log_dir"] = source
	}
	if cfg.WorkDir != before.WorkDir {
		sources["work_dir"] = source
	}
	if cfg.TimeoutSeconds != before.TimeoutSeconds {
		sources["timeout_seconds"] = source
	}
	if cfg.MaxRetries != before.MaxRetries {
		sources["max_retries"] = source
	}
	if cfg.Policy != before.Policy {
		sources["policy"] = source
	}
	if cfg.LogLevel != before.LogLevel {
		sources["log_level"] = source
	}
	if cfg.LogTimestamps != before.LogTimestamps {
		sources["log_timestamps"] = source
	}
	if cfg.NoColor != before.NoColor {
		sources["no_color"] = source
	}
	return nil
}

// findProjectConfigFile looks for a config file in the current directory.
func findProjectConfigFile() string {
	names := []string{"drover.toml", ".drover.toml"}
	for _, name := range names {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// findUserConfigFile looks for a user-level config file.
// Checks ~/.drover/drover.toml first, then falls back to OS-specific
// config directories if ~/.drover doesn't exist.
func findUserConfigFile() string {
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".drover", "drover.toml")
		if _, err := os.Stat(userConfigPath); err == nil {
			return userConfigPath
		}
	}

	if cfgDir := osUserConfigDir(); cfgDir != "" {
		userConfigPath := filepath.Join(cfgDir, "drover", "drover.toml")
		if _, err := os.Stat(userConfigPath); err == nil {
			return userConfigPath
		}
	}

	return ""
}

// osUserConfigDir returns the OS-specific user config directory.
// Returns empty string if the directory cannot be determined.
func osUserConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return appdata
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, "Library", "Application Support")
		}
	case "linux", "openbsd", "freebsd", "netbsd":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return xdg
		}
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, ".config")
		}
	}
	return ""
}

// GetConfigFile returns the active config file path (project or user).
func (cws *WithSources) GetConfigFile() string {
	for _, source := range cws.Sources {
		if source == SourceProjFile {
			if projectConfigFile := findProjectConfigFile(); projectConfigFile != "" {
				return projectConfigFile
			}
		}
	}
	for _, source := range cws.Sources {
		if source == SourceUserFile {
			if userConfigFile := findUserConfigFile(); userConfigFile != "" {
				return userConfigFile
			}
		}
	}
	return ""
}

// finalizeConfig computes derived values and validates paths.
func finalizeConfig(cfg *Config) error {
	cfg.LogDir = expandPath(cfg.LogDir)

	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
		cfg.WorkDir = wd
	} else {
		cfg.WorkDir = expandPath(cfg.WorkDir)
		if !filepath.IsAbs(cfg.WorkDir) {
			abs, err := filepath.Abs(cfg.WorkDir)
			if err != nil {
				return fmt.Errorf("resolving work dir: %w", err)
			}
			cfg.WorkDir = abs
		}
	}

	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if cfg.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative")
	}

	return nil
}

// expandPath resolves the path forms users put in drover.toml and
// DROVER_* variables: a leading "~" becomes the home directory and
// $VAR references are expanded. Anything else passes through as-is.
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

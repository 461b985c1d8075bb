package config

import (
	"fmt"
	"os"
	"strings"
)

// loadFromEnv overrides config from environment variables, updating
// source tracking when sources is non-nil.
func loadFromEnv(cfg *Config, sources map[string]Source) {
	mark := func(field string) {
		if sources != nil {
			sources[field] = SourceEnv
		}
	}

	if v := os.Getenv("DROVER_ENGINE"); v != "" {
		cfg.Engine = normalizeEngine(v)
		mark("engine")
	}
	if v := os.Getenv("DROVER_LOG_DIR"); v != "" {
		cfg.LogDir = v
		mark("log_dir")
	}
	if v := os.Getenv("DROVER_WORK_DIR"); v != "" {
		cfg.WorkDir = v
		mark("work_dir")
	}
	if v := os.Getenv("DROVER_TIMEOUT"); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			cfg.TimeoutSeconds = i
			mark("timeout_seconds")
		}
	}
	if v := os.Getenv("DROVER_MAX_RETRIES"); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			cfg.MaxRetries = i
			mark("max_retries")
		}
	}
	if v := os.Getenv("DROVER_POLICY"); v != "" {
		cfg.Policy = v
		mark("policy")
	}
	if v := os.Getenv("DROVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
		mark("log_level")
	}
	if v := os.Getenv("DROVER_LOG_TIMESTAMPS"); v != "" {
		cfg.LogTimestamps = boolFromString(v)
		mark("log_timestamps")
	}
	if v := os.Getenv("NO_COLOR"); v != "" {
		cfg.NoColor = true
		mark("no_color")
	}
	if v := os.Getenv("DROVER_NO_COLOR"); v != "" {
		cfg.NoColor = boolFromString(v)
		mark("no_color")
	}

	// Per-engine binary overrides: CLAUDE_BIN, CODEX_BIN, SPRITE_BIN.
	for _, name := range []string{"claude", "codex", "sprite"} {
		key := strings.ToUpper(name) + "_BIN"
		if v := os.Getenv(key); v != "" {
			engine := cfg.Engines.Get(name)
			engine.Binary = v
			cfg.Engines.Set(name, engine)
		}
	}
}

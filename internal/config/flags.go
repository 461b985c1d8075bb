package config

import (
	"flag"
	"time"
)

// parseFlags defines and parses CLI flags, updating source tracking when
// sources is non-nil. Flags override every other source.
func parseFlags(cfg *Config, fs *flag.FlagSet, args []string, sources map[string]Source) error {
	if fs == nil {
		fs = flag.NewFlagSet("drover", flag.ContinueOnError)
	}

	fs.StringVar(&cfg.Engine, "engine", cfg.Engine, "Engine to drive (claude, codex, sprite)")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Log directory")
	fs.StringVar(&cfg.WorkDir, "dir", cfg.WorkDir, "Working directory for the engine")
	fs.IntVar(&cfg.TimeoutSeconds, "timeout", cfg.TimeoutSeconds, "Run timeout in seconds (0 = no timeout)")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Maximum permission retries per run")
	fs.StringVar(&cfg.Policy, "policy", cfg.Policy, "Permission policy document (JSON)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.LogTimestamps, "log-timestamps", cfg.LogTimestamps, "Show timestamps in console output")
	fs.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "Disable colored output")

	var model string
	fs.StringVar(&model, "model", "", "Model override for the selected engine")

	if err := fs.Parse(args); err != nil {
		return err
	}

	flagToSource := map[string]string{
		"engine":         "engine",
		"log-dir":        "log_dir",
		"dir":            "work_dir",
		"timeout":        "timeout_seconds",
		"max-retries":    "max_retries",
		"policy":         "policy",
		"log-level":      "log_level",
		"log-timestamps": "log_timestamps",
		"no-color":       "no_color",
	}

	fs.Visit(func(f *flag.Flag) {
		if sources != nil {
			if field, ok := flagToSource[f.Name]; ok {
				sources[field] = SourceFlag
			}
		}
	})

	cfg.Engine = normalizeEngine(cfg.Engine)
	if model != "" {
		engine := cfg.Engines.Get(cfg.Engine)
		engine.Model = model
		cfg.Engines.Set(cfg.Engine, engine)
	}

	return nil
}

// Timeout converts TimeoutSeconds to a duration. Zero means no timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

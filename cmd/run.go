package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/drover-dev/drover/internal/config"
	"github.com/drover-dev/drover/internal/drive"
	"github.com/drover-dev/drover/internal/engines"
	"github.com/drover-dev/drover/internal/logging"
	"github.com/drover-dev/drover/internal/permission"
	"github.com/drover-dev/drover/internal/proc"
	"github.com/drover-dev/drover/internal/stream"
	"github.com/drover-dev/drover/internal/ui"
)

// runCommand drives one engine invocation end to end.
func runCommand(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("drover run", flag.ContinueOnError)
	promptFlag := fs.String("prompt", "", "Prompt text (defaults to positional arguments)")
	noLog := fs.Bool("no-log", false, "Skip writing the JSONL run log")

	if err := fs.Parse(args); err != nil {
		return err
	}

	prompt := *promptFlag
	if prompt == "" {
		prompt = strings.Join(fs.Args(), " ")
	}
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt is required (pass it as arguments or with -prompt)")
	}

	def, ok := engines.Lookup(cfg.Engine)
	if !ok {
		return fmt.Errorf("unknown engine %q (registered: %s)", cfg.Engine, strings.Join(engines.Names(), ", "))
	}
	if binary := cfg.EngineBinary(def.Name); binary != "" {
		override := *def
		override.Binary = binary
		def = &override
	}

	// Validate a configured policy before spawning anything.
	if cfg.Policy != "" {
		if _, err := permission.ParsePolicy(cfg.Policy); err != nil {
			return fmt.Errorf("policy from config: %w", err)
		}
	}

	opts := logging.DefaultConsoleOptions()
	opts.Level = logging.ParseLevel(cfg.LogLevel)
	opts.ReportTimestamp = cfg.LogTimestamps
	opts.NoColor = cfg.NoColor
	writers := []logging.RecordWriter{logging.NewConsoleWriter(opts)}

	var runLogger *logging.RunLogger
	if !*noLog {
		var err error
		runLogger, err = logging.NewRunLogger(cfg.LogDir, cfg.WorkDir)
		if err != nil {
			return fmt.Errorf("opening run log: %w", err)
		}
		defer runLogger.Close()
		writers = append(writers, logging.NewJSONLWriter(runLogger.Writer()))
	}
	recorder := logging.Normalize(logging.NewMultiWriter(writers...))

	sinks := stream.Sinks{
		Event: func(ev stream.Event) {
			recorder.Write(logging.RecordFromEvent(def.Name, ev))
		},
		Usage: func(u stream.UsageSnapshot) {
			recorder.Write(logging.RecordFromUsage(def.Name, u))
		},
	}

	registry := proc.NewRegistry()
	runner := proc.NewRunner(registry)
	defer registry.TerminateAll()

	mediator := permission.NewMediator(ui.NewPermissionPrompt(), ui.Interactive())
	mediator.MaxRetries = cfg.MaxRetries
	for _, name := range engines.Names() {
		if d, ok := engines.Lookup(name); ok && d.Policy != nil {
			mediator.RegisterBuilder(name, d.Policy)
		}
	}

	env := map[string]string{}
	if cfg.Policy != "" {
		env[permission.EnvKey] = cfg.Policy
	}

	driver := drive.New(runner)
	err := driver.Run(ctx, mediator, def, drive.Options{
		Prompt:    prompt,
		Model:     cfg.EngineModel(def.Name),
		WorkDir:   cfg.WorkDir,
		ExtraArgs: cfg.EngineArgs(def.Name),
		Timeout:   cfg.Timeout(),
		Env:       env,
		Sinks:     sinks,
	})

	recorder.Write(runRecord(def.Name, err))

	if runLogger != nil {
		fmt.Printf("\nLog: %s\n", runLogger.LogPath)
	}
	return err
}

// runRecord converts the run outcome into a terminal log record.
func runRecord(engine string, err error) logging.Record {
	rec := logging.Record{
		Type:      "run",
		Timestamp: time.Now().UTC(),
		Engine:    engine,
	}
	if err == nil {
		return rec
	}

	rec.IsError = true
	rec.Text = err.Error()

	var exitErr *drive.ExitError
	if errors.As(err, &exitErr) {
		rec.ExitCode = exitErr.Code
	} else {
		rec.ExitCode = 1
	}
	return rec
}

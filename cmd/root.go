// Package cmd implements the CLI command structure for drover.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/drover-dev/drover/internal/config"
	"github.com/drover-dev/drover/internal/engines"
	"github.com/drover-dev/drover/internal/logging"
	"github.com/drover-dev/drover/internal/permission"
	"github.com/drover-dev/drover/internal/tail"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Run executes the drover CLI.
func Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("drover", flag.ContinueOnError)
	fs.Usage = func() {
		printUsage(fs, os.Stderr)
	}
	help := fs.Bool("help", false, "Show help")
	fs.BoolVar(help, "h", false, "Show help")
	showVersion := fs.Bool("version", false, "Show version")
	fs.BoolVar(showVersion, "v", false, "Show version")

	cws, err := config.LoadWithSources(fs, args)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := cws.Config
	if *help {
		printUsage(fs, os.Stdout)
		return nil
	}
	if *showVersion {
		return versionCommand()
	}

	// Default to run when no subcommand is given.
	subcommand := "run"
	remainingArgs := fs.Args()
	if len(remainingArgs) > 0 && !strings.HasPrefix(remainingArgs[0], "-") {
		if isSubcommand(remainingArgs[0]) {
			subcommand = remainingArgs[0]
			remainingArgs = remainingArgs[1:]
		}
	}

	switch subcommand {
	case "run":
		return runCommand(ctx, cfg, remainingArgs)
	case "engines":
		return enginesCommand(remainingArgs)
	case "ls":
		return lsCommand(cfg, remainingArgs)
	case "tail":
		return tailCommand(ctx, cfg, remainingArgs)
	case "doctor":
		return doctorCommand(cws, remainingArgs)
	case "version":
		return versionCommand()
	case "help":
		printUsage(fs, os.Stdout)
		return nil
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", subcommand)
		printUsage(fs, os.Stderr)
		return fmt.Errorf("unknown command: %s", subcommand)
	}
}

func isSubcommand(s string) bool {
	switch s {
	case "run", "engines", "ls", "tail", "doctor", "version", "help":
		return true
	}
	return false
}

// enginesCommand lists registered engines.
func enginesCommand(args []string) error {
	fs := flag.NewFlagSet("drover engines", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var defs []*engines.Def
	for _, name := range engines.Names() {
		if def, ok := engines.Lookup(name); ok {
			defs = append(defs, def)
		}
	}
	tail.RenderEngines(os.Stdout, defs)
	return nil
}

// lsCommand lists logged runs for the current project.
func lsCommand(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("drover ls", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logDir, err := logging.FindLogDir(cfg.LogDir, cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("finding log directory: %w", err)
	}
	runs, err := logging.FindRuns(logDir)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	tail.RenderRuns(os.Stdout, runs)
	return nil
}

// tailCommand shows the latest run log, optionally following it.
func tailCommand(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("drover tail", flag.ContinueOnError)
	follow := fs.Bool("f", false, "Follow the log (like tail -f)")
	fs.BoolVar(follow, "follow", false, "Follow the log (like tail -f)")
	n := fs.Int("n", tail.DefaultLines, "Number of records to show")

	if err := fs.Parse(args); err != nil {
		return err
	}

	logDir, err := logging.FindLogDir(cfg.LogDir, cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("finding log directory: %w", err)
	}

	logPath := ""
	if remaining := fs.Args(); len(remaining) == 1 {
		logPath = remaining[0]
	} else {
		logPath, err = logging.FindLatestLog(logDir)
		if err != nil {
			return fmt.Errorf("finding latest log: %w", err)
		}
	}
	if logPath == "" {
		fmt.Println("No log files found.")
		return nil
	}

	fmt.Printf("Tailing: %s\n", logPath)
	if *follow {
		fmt.Println("(Ctrl+C to stop)")
	}
	fmt.Println()

	if err := tail.Print(os.Stdout, logPath, *n); err != nil {
		return err
	}
	if !*follow {
		return nil
	}
	err = tail.Follow(ctx, os.Stdout, logPath)
	if err == context.Canceled {
		return nil
	}
	return err
}

// doctorCommand checks engine binaries, auth, config, and the log dir.
func doctorCommand(cws *config.WithSources, args []string) error {
	fs := flag.NewFlagSet("drover doctor", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg := cws.Config

	fmt.Println("Drover Doctor")
	fmt.Println("=============")
	fmt.Println()

	allOK := true

	if file := cws.GetConfigFile(); file != "" {
		fmt.Printf("Config file: %s\n", file)
	} else {
		fmt.Println("Config file: (none, using defaults)")
	}
	fmt.Println()

	fmt.Printf("Default engine: %s\n", cfg.Engine)
	if _, ok := engines.Lookup(cfg.Engine); ok {
		fmt.Println("  OK")
	} else {
		fmt.Printf("  FAIL: unknown engine (expected %s)\n", strings.Join(engines.Names(), "|"))
		allOK = false
	}
	fmt.Println()

	fmt.Println("Engines:")
	for _, name := range engines.Names() {
		def, _ := engines.Lookup(name)
		binary := def.Binary
		if override := cfg.EngineBinary(name); override != "" {
			binary = override
		}
		if resolved, err := exec.LookPath(binary); err == nil {
			fmt.Printf("  OK   %s (%s)\n", name, resolved)
		} else {
			fmt.Printf("  MISS %s: %s not found", name, binary)
			if def.Install != "" {
				fmt.Printf(" (install with: %s)", def.Install)
			}
			fmt.Println()
		}
		if authMissing(def.AuthEnvVars) {
			fmt.Printf("       %s not set\n", strings.Join(def.AuthEnvVars, " / "))
		}
	}
	fmt.Println()

	fmt.Printf("Policy: ")
	if cfg.Policy == "" {
		fmt.Println("(none)")
	} else if _, err := permission.ParsePolicy(cfg.Policy); err != nil {
		fmt.Printf("FAIL: %v\n", err)
		allOK = false
	} else {
		fmt.Println("OK")
	}
	fmt.Println()

	fmt.Printf("Log directory: %s\n", cfg.LogDir)
	if _, err := os.Stat(cfg.LogDir); err != nil {
		if os.IsNotExist(err) {
			fmt.Println("  Not found (will be created on run)")
		} else {
			fmt.Printf("  FAIL: %v\n", err)
			allOK = false
		}
	} else {
		fmt.Println("  OK")
	}
	fmt.Println()

	if allOK {
		fmt.Println("All checks passed.")
		return nil
	}
	fmt.Println("Some checks failed. Drover may not function correctly.")
	return fmt.Errorf("doctor checks failed")
}

func authMissing(vars []string) bool {
	if len(vars) == 0 {
		return false
	}
	for _, v := range vars {
		if os.Getenv(v) != "" {
			return false
		}
	}
	return true
}

// versionCommand prints version information.
func versionCommand() error {
	fmt.Printf("drover version %s\n", Version)
	return nil
}

// printUsage prints the usage message.
func printUsage(fs *flag.FlagSet, w io.Writer) {
	names := engines.Names()
	sort.Strings(names)

	fmt.Fprintln(w, "Drover - Drive CLI coding engines from one harness")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  drover [command] [options] [prompt]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run [prompt]  Run a prompt through an engine (default command)")
	fmt.Fprintln(w, "  engines       List registered engines")
	fmt.Fprintln(w, "  ls            List logged runs for this project")
	fmt.Fprintln(w, "  tail [file]   Show the latest run log")
	fmt.Fprintln(w, "  doctor        Check engines, auth, and config")
	fmt.Fprintln(w, "  version       Show version information")
	fmt.Fprintln(w, "  help          Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run Options (use with 'run' command):")
	fmt.Fprintln(w, "  -prompt string")
	fmt.Fprintln(w, "        Prompt text (defaults to positional arguments)")
	fmt.Fprintln(w, "  -no-log")
	fmt.Fprintln(w, "        Skip writing the JSONL run log")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Tail Options (use with 'tail' command):")
	fmt.Fprintln(w, "  -f, --follow")
	fmt.Fprintln(w, "        Follow the log (like tail -f)")
	fmt.Fprintln(w, "  -n int")
	fmt.Fprintf(w, "        Number of records to show (default %d)\n", tail.DefaultLines)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Engines: %s\n", strings.Join(names, ", "))
}

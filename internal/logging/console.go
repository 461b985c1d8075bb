package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/drover-dev/drover/internal/stream"
)

// ConsoleOptions holds configuration for console output.
type ConsoleOptions struct {
	Level           log.Level
	Formatter       log.Formatter
	ReportTimestamp bool
	NoColor         bool
	Prefix          string
}

// DefaultConsoleOptions returns default options for console output.
func DefaultConsoleOptions() ConsoleOptions {
	return ConsoleOptions{
		Level:           log.InfoLevel,
		Formatter:       log.TextFormatter,
		ReportTimestamp: false,
		Prefix:          "drover",
	}
}

// ConsoleWriter implements RecordWriter using charmbracelet/log for
// colorful, leveled, human-readable console output.
type ConsoleWriter struct {
	logger *log.Logger
}

// NewConsoleWriter creates a console record writer with the given options.
func NewConsoleWriter(opts ConsoleOptions) *ConsoleWriter {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           opts.Level,
		Formatter:       opts.Formatter,
		ReportTimestamp: opts.ReportTimestamp,
		Prefix:          opts.Prefix,
	})
	if opts.NoColor {
		logger.SetColorProfile(0)
	}
	return &ConsoleWriter{logger: logger}
}

// NewConsoleWriterWithLogger creates a console writer around a custom logger.
func NewConsoleWriterWithLogger(logger *log.Logger) *ConsoleWriter {
	return &ConsoleWriter{logger: logger}
}

// Write writes a record to the console.
func (c *ConsoleWriter) Write(rec Record) error {
	msg := consoleMessage(rec)
	fields := consoleFields(rec)

	switch rec.Type {
	case string(stream.KindError):
		c.logger.Error(msg, fields...)
	case string(stream.KindToolResult):
		if rec.IsError {
			c.logger.Warn(msg, fields...)
			return nil
		}
		c.logger.Info(msg, fields...)
	case string(stream.KindToolStarted), string(stream.KindStatus), "usage", "run":
		c.logger.Info(msg, fields...)
	case string(stream.KindThinkingText), string(stream.KindCheckpoint):
		c.logger.Debug(msg, fields...)
	default:
		c.logger.Info(msg, fields...)
	}
	return nil
}

func consoleFields(rec Record) []any {
	var fields []any
	if rec.Engine != "" {
		fields = append(fields, "engine", rec.Engine)
	}
	if rec.Tool != "" {
		fields = append(fields, "tool", rec.Tool)
	}
	if rec.Type == "usage" {
		fields = append(fields,
			"tokens_in", rec.TokensIn,
			"tokens_out", rec.TokensOut,
			"cached", rec.Cached,
		)
	}
	if rec.Type == "run" {
		fields = append(fields, "exit_code", rec.ExitCode)
	}
	return fields
}

func consoleMessage(rec Record) string {
	if rec.Text != "" {
		return rec.Text
	}
	switch rec.Type {
	case string(stream.KindToolStarted):
		return "Tool started"
	case string(stream.KindToolResult):
		if rec.IsError {
			return "Tool failed"
		}
		return "Tool finished"
	case "usage":
		return "Usage"
	case "run":
		return "Run finished"
	case string(stream.KindError):
		return "Error"
	default:
		return rec.Type
	}
}

// ParseLevel parses a string log level to a charmbracelet/log Level.
func ParseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewTestConsoleWriter creates a console writer that writes to w with
// minimal formatting for test assertions.
func NewTestConsoleWriter(w io.Writer) *ConsoleWriter {
	logger := log.NewWithOptions(w, log.Options{
		Level:           log.DebugLevel,
		Formatter:       log.TextFormatter,
		ReportTimestamp: false,
	})
	return &ConsoleWriter{logger: logger}
}

// Package drive binds the process runner, the stream normalizer, and
// the permission mediator into one agent invocation.
package drive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/drover-dev/drover/internal/engines"
	"github.com/drover-dev/drover/internal/permission"
	"github.com/drover-dev/drover/internal/proc"
	"github.com/drover-dev/drover/internal/stream"
)

// stderrExcerptLimit caps how much stderr an ExitError carries.
const stderrExcerptLimit = 500

// Options configures one agent invocation.
type Options struct {
	Prompt    string
	Model     string
	WorkDir   string
	ExtraArgs []string
	Timeout   time.Duration

	// Env is merged over the parent environment; the mediator injects
	// the effective policy here.
	Env map[string]string

	// Sinks receive normalized display events and usage snapshots.
	Sinks stream.Sinks
}

// ExitError indicates the agent exited non-zero without a more specific
// cause (no auth failure, no permission block).
type ExitError struct {
	Engine string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Engine, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Driver runs engines through a shared process runner.
type Driver struct {
	runner *proc.Runner
}

// New creates a Driver on top of runner.
func New(runner *proc.Runner) *Driver {
	return &Driver{runner: runner}
}

// Run executes one mediated invocation: permission blocks raised by
// Invoke are resolved by the mediator and retried with the mutated
// environment.
func (d *Driver) Run(ctx context.Context, m *permission.Mediator, def *engines.Def, opts Options) error {
	return m.Run(ctx, def.Name, opts.Env, func(ctx context.Context, env map[string]string) error {
		attempt := opts
		attempt.Env = env
		return d.Invoke(ctx, def, attempt)
	})
}

// Invoke executes a single agent invocation without retry handling.
// Permission blocks surface as *permission.RequiredError for a wrapping
// mediator to intercept.
func (d *Driver) Invoke(ctx context.Context, def *engines.Def, opts Options) error {
	inv := engines.Invocation{
		Prompt:  opts.Prompt,
		Model:   opts.Model,
		Args:    opts.ExtraArgs,
		WorkDir: opts.WorkDir,
	}

	spec := proc.Spec{
		Command:       def.Binary,
		Args:          def.BuildArgs(inv),
		Dir:           opts.WorkDir,
		Env:           opts.Env,
		Timeout:       opts.Timeout,
		KeepStdinOpen: def.KeepStdinOpen,
	}
	if def.PromptViaStdin {
		spec.Input = terminated(opts.Prompt)
	}

	finish, sinks := d.wireProtocol(def, opts)

	result, err := d.runner.Run(ctx, spec, sinks)
	flushed := finish()

	if err != nil {
		if errors.Is(err, proc.ErrBinaryNotFound) {
			return fmt.Errorf("%w (install with: %s)", err, def.Install)
		}
		return err
	}
	if flushed != nil {
		return flushed
	}

	if result.Code != 0 {
		if authErr := engines.DetectAuthError(def, result.Code, result.Stdout, result.Stderr); authErr != nil {
			return authErr
		}
		return &ExitError{
			Engine: def.Name,
			Code:   result.Code,
			Stderr: excerpt(result.Stderr),
		}
	}
	return nil
}

// wireProtocol builds the protocol session for the engine's mode and
// the runner sinks feeding it. finish closes the session and returns
// any stream-level terminal condition (permission block, wire error).
func (d *Driver) wireProtocol(def *engines.Def, opts Options) (func() error, proc.Sinks) {
	stderrEvents := stderrForwarder(opts.Sinks)

	switch def.Mode {
	case engines.ModeWire:
		stdin := &handleWriter{}
		sess := stream.NewWireSession(def.Name, opts.Prompt, opts.WorkDir, opts.Sinks, stdin)
		sinks := proc.Sinks{
			OnStdout: sess.Feed,
			OnStderr: stderrEvents,
			OnSpawn: func(h *proc.Handle) {
				stdin.set(h)
				sess.Start()
			},
		}
		finish := func() error {
			sess.Close()
			return sess.Err()
		}
		return finish, sinks

	default:
		sess := stream.NewPrintSession(def.Name, opts.Sinks)
		sinks := proc.Sinks{
			OnStdout: sess.Feed,
			OnStderr: stderrEvents,
		}
		finish := func() error {
			sess.Close()
			if req := sess.PermissionRequest(); req != nil {
				return &permission.RequiredError{Request: *req}
			}
			return nil
		}
		return finish, sinks
	}
}

// stderrForwarder turns stderr chunks into error display events,
// line-buffered so partial lines are not surfaced early.
func stderrForwarder(sinks stream.Sinks) func(string) {
	var buf stream.LineBuffer
	return func(chunk string) {
		for _, line := range buf.Add(chunk) {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if sinks.Event != nil {
				sinks.Event(stream.Event{Kind: stream.KindError, Text: line})
			}
		}
	}
}

// handleWriter adapts the live process handle into an io.Writer for
// wire-mode writebacks. Writes before spawn fail.
type handleWriter struct {
	mu sync.Mutex
	h  *proc.Handle
}

func (w *handleWriter) set(h *proc.Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.h = h
}

func (w *handleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	h := w.h
	w.mu.Unlock()
	if h == nil {
		return 0, errors.New("subprocess not spawned")
	}
	if err := h.WriteInput(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func terminated(prompt string) string {
	if strings.HasSuffix(prompt, "\n") {
		return prompt
	}
	return prompt + "\n"
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrExcerptLimit {
		return s
	}
	return s[:stderrExcerptLimit] + "..."
}

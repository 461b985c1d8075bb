package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	// GracePeriod is how long a terminated subprocess gets to exit after
	// SIGTERM before it is killed.
	GracePeriod = 1 * time.Second

	// readChunkSize is the buffer size for streaming stdout/stderr reads.
	readChunkSize = 32 * 1024
)

// Spec describes one subprocess invocation. It is immutable once passed
// to Runner.Run.
type Spec struct {
	// Command is the binary name or path to execute.
	Command string

	// Args are the ordered command-line arguments.
	Args []string

	// Dir is the working directory (empty = inherit).
	Dir string

	// Env is merged over the parent environment.
	Env map[string]string

	// Input is written to the subprocess stdin.
	Input string

	// KeepStdinOpen leaves stdin open after Input is written so later
	// writes (e.g. auto-approval responses) can reach the subprocess.
	// When false, stdin is closed as soon as Input is delivered so the
	// child never blocks waiting for end-of-input.
	KeepStdinOpen bool

	// Timeout bounds the subprocess runtime. Zero or negative disables it.
	Timeout time.Duration

	// Inherit passes the parent's stdout/stderr through instead of
	// piping and capturing them.
	Inherit bool
}

// ExitResult is the outcome of a subprocess that ran to completion.
// A non-zero Code is not an error at this layer.
type ExitResult struct {
	Code   int
	Stdout string
	Stderr string
}

// Sinks receive streaming output while the subprocess runs. Chunks are
// forwarded in receipt order per stream; no ordering is guaranteed
// between stdout and stderr.
type Sinks struct {
	OnStdout func(chunk string)
	OnStderr func(chunk string)

	// OnSpawn exposes the live handle right after the subprocess starts,
	// so callers can write back to its stdin.
	OnSpawn func(h *Handle)
}

// Handle is the live-process handle. The Runner owns it for the
// process's lifetime; timeout and cancellation paths only signal it.
type Handle struct {
	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdinClosed bool
}

// WriteInput writes data to the subprocess stdin. Returns an error if
// stdin has already been closed.
func (h *Handle) WriteInput(data []byte) error {
	h.mu.Lock()
	if h.stdin == nil || h.stdinClosed {
		h.mu.Unlock()
		return errors.New("stdin closed")
	}
	stdin := h.stdin
	h.mu.Unlock()

	// The write happens outside the lock: a child that never reads
	// stdin blocks it on a full pipe, and CloseStdin must stay able to
	// take the lock and unblock it.
	_, err := stdin.Write(data)
	return err
}

// CloseStdin closes the subprocess stdin. Safe to call more than once.
func (h *Handle) CloseStdin() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeStdinLocked()
}

func (h *Handle) closeStdinLocked() {
	if h.stdin != nil && !h.stdinClosed {
		_ = h.stdin.Close()
		h.stdinClosed = true
	}
}

// Terminate sends SIGTERM to the subprocess. Already-exited processes
// are not an error.
func (h *Handle) Terminate() {
	h.signal(syscall.SIGTERM)
}

func (h *Handle) kill() {
	h.signal(os.Kill)
}

// signal delivers sig, swallowing os.ErrProcessDone for processes that
// already exited.
func (h *Handle) signal(sig os.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = err // nothing useful to do; process state is settled by Wait
	}
}

// Runner executes subprocesses described by Specs. It is stateless
// across invocations apart from the shared registry, so one Runner may
// serve concurrent invocations.
type Runner struct {
	registry *Registry

	// Grace is the SIGTERM→SIGKILL escalation window. Zero means
	// GracePeriod.
	Grace time.Duration
}

// NewRunner creates a Runner that records live subprocesses in reg.
func NewRunner(reg *Registry) *Runner {
	return &Runner{registry: reg, Grace: GracePeriod}
}

// Run spawns the subprocess and blocks until it settles. Exactly one of
// the return values is non-nil. Non-zero exits settle as an ExitResult;
// timeout and cancellation settle as typed errors.
func (r *Runner) Run(ctx context.Context, spec Spec, sinks Sinks) (*ExitResult, error) {
	binary, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Command, ErrBinaryNotFound)
	}

	cmd := exec.Command(binary, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = mergeEnv(spec.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr io.ReadCloser
	if spec.Inherit {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		if stderr, err = cmd.StderrPipe(); err != nil {
			return nil, fmt.Errorf("create stderr pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}

	handle := &Handle{cmd: cmd, stdin: stdin}
	r.registry.add(handle)
	var removeOnce sync.Once
	removeHandle := func() { removeOnce.Do(func() { r.registry.remove(handle) }) }
	defer removeHandle()

	if sinks.OnSpawn != nil {
		sinks.OnSpawn(handle)
	}

	// Stream captured output. Readers must drain before Wait.
	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	if !spec.Inherit {
		wg.Add(2)
		go func() {
			defer wg.Done()
			pump(stdout, &outBuf, sinks.OnStdout)
		}()
		go func() {
			defer wg.Done()
			pump(stderr, &errBuf, sinks.OnStderr)
		}()
	}

	var timedOut, cancelled atomic.Bool
	exited := make(chan struct{})

	grace := r.Grace
	if grace <= 0 {
		grace = GracePeriod
	}

	var timer *time.Timer
	if spec.Timeout > 0 {
		timer = time.AfterFunc(spec.Timeout, func() {
			timedOut.Store(true)
			handle.CloseStdin()
			r.terminateWithGrace(handle, exited, grace)
		})
		defer timer.Stop()
	}

	go func() {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			handle.CloseStdin()
			r.terminateWithGrace(handle, exited, grace)
		case <-exited:
		}
	}()

	// Input delivery runs with the timeout and cancellation paths
	// already armed: a child that never reads stdin blocks the write on
	// a full pipe, and only CloseStdin or the kill ladder unblocks it.
	wg.Add(1)
	go func() {
		defer wg.Done()
		deliverInput(handle, spec)
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	close(exited)
	removeHandle()

	// Termination reasons win over the natural exit status, and
	// cancellation must never settle as success. The watcher goroutine
	// may not have observed ctx.Done() before a fast child exited, so
	// the context is consulted directly as well.
	switch {
	case timedOut.Load():
		return nil, &TimeoutError{Command: spec.Command, Timeout: spec.Timeout}
	case cancelled.Load() || ctx.Err() != nil:
		return nil, &CancelledError{Command: spec.Command, Err: ctx.Err()}
	}

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait %s: %w", spec.Command, waitErr)
		}
		code = exitErr.ExitCode()
	}

	return &ExitResult{
		Code:   code,
		Stdout: outBuf.String(),
		Stderr: errBuf.String(),
	}, nil
}

// terminateWithGrace escalates SIGTERM to SIGKILL if the subprocess has
// not exited within the grace window.
func (r *Runner) terminateWithGrace(h *Handle, exited <-chan struct{}, grace time.Duration) {
	h.Terminate()
	go func() {
		select {
		case <-exited:
		case <-time.After(grace):
			h.kill()
		}
	}()
}

// deliverInput writes the configured input and closes stdin unless the
// caller asked for an interactive (kept-open) channel.
func deliverInput(h *Handle, spec Spec) {
	if spec.Input != "" {
		_ = h.WriteInput([]byte(spec.Input))
	}
	if !spec.KeepStdinOpen {
		h.CloseStdin()
	}
}

// pump forwards each received chunk to the sink while accumulating the
// full stream.
func pump(r io.Reader, buf *strings.Builder, sink func(string)) {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s := string(chunk[:n])
			buf.WriteString(s)
			if sink != nil {
				sink(s)
			}
		}
		if err != nil {
			return
		}
	}
}

// mergeEnv layers overrides on top of the parent environment, with
// deterministic ordering for the override keys.
func mergeEnv(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return os.Environ()
	}
	env := os.Environ()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env)+len(keys))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[name]; ok {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

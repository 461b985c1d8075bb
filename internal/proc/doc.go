// Package proc spawns and supervises a single agent subprocess.
//
// The runner owns the full lifecycle of one child process: spawning,
// stdin delivery, streaming capture of stdout/stderr, timeout and
// cancellation handling, and guaranteed removal from the live-process
// registry. Non-zero exits are not errors at this layer; they are
// returned in the ExitResult for the caller to interpret.
package proc

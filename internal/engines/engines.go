// Package engines defines the external agent engines drover can drive.
package engines

import (
	"strings"

	"github.com/drover-dev/drover/internal/permission"
)

// Mode is the streaming protocol an engine speaks on stdout.
type Mode string

const (
	// ModePrint is the unidirectional line-delimited JSON protocol.
	ModePrint Mode = "print"

	// ModeWire is the bidirectional JSON-RPC-like protocol.
	ModeWire Mode = "wire"
)

// Invocation carries the per-run inputs an engine needs to build its
// command line.
type Invocation struct {
	Prompt  string
	Model   string
	Args    []string
	WorkDir string
}

// Def describes one engine: how to invoke its binary, how to recognize
// its failure modes, and how to build policy grants for it.
type Def struct {
	// Name is the engine identifier.
	Name string

	// Binary is the executable name resolved on PATH.
	Binary string

	// Mode selects the stream protocol.
	Mode Mode

	// PromptViaStdin delivers the prompt on stdin instead of as an
	// argument.
	PromptViaStdin bool

	// KeepStdinOpen leaves stdin open for writebacks (wire mode).
	KeepStdinOpen bool

	// BuildArgs constructs the argument list for one invocation.
	BuildArgs func(inv Invocation) []string

	// Install is printed when the binary is missing.
	Install string

	// AuthEnvVars are the environment variables the engine needs for
	// authentication.
	AuthEnvVars []string

	// AuthHints are vendor error substrings scanned on non-zero exit
	// to detect missing authentication. A heuristic: the wrapped
	// binaries offer no structured error channel.
	AuthHints []string

	// Policy computes the policy delta that unblocks a permission
	// request for this engine.
	Policy permission.PolicyBuilder
}

// AuthError indicates the engine failed because credentials are
// missing or invalid. It names the environment variables to set.
type AuthError struct {
	Engine  string
	EnvVars []string
}

func (e *AuthError) Error() string {
	return e.Engine + ": authentication missing; set " + strings.Join(e.EnvVars, " or ")
}

// DetectAuthError scans combined output for the engine's vendor error
// substrings after a non-zero exit. Returns nil when nothing matches.
func DetectAuthError(def *Def, exitCode int, stdout, stderr string) *AuthError {
	if exitCode == 0 || len(def.AuthHints) == 0 {
		return nil
	}
	combined := strings.ToLower(stdout + "\n" + stderr)
	for _, hint := range def.AuthHints {
		if strings.Contains(combined, strings.ToLower(hint)) {
			return &AuthError{Engine: def.Name, EnvVars: def.AuthEnvVars}
		}
	}
	return nil
}

// patternPolicy grants the request's specific patterns when present,
// leaving any existing wildcard or deny entries untouched, and grants
// the capability outright otherwise.
func patternPolicy(req permission.Request) permission.Policy {
	if len(req.Patterns) > 0 {
		return permission.AllowPatterns(req.Capability, req.Patterns)
	}
	return permission.AllowCapability(req.Capability)
}

package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// EnvKey is the environment variable carrying the serialized policy.
const EnvKey = "DROVER_POLICY"

// DefaultMaxRetries bounds how many times a permission-blocked
// invocation is re-attempted before the original error is re-raised.
const DefaultMaxRetries = 3

// Sentinel errors for mediation failures.
var (
	// ErrPolicyUnresolvable indicates the serialized policy could not
	// be decoded, or no policy builder is registered for the engine.
	ErrPolicyUnresolvable = errors.New("permission policy unresolvable")

	// ErrNonInteractive indicates the caller's output is not an
	// interactive surface, so no decision can be asked for.
	ErrNonInteractive = errors.New("not an interactive session")

	// ErrRejected indicates the caller declined the permission request.
	ErrRejected = errors.New("permission rejected")
)

// Decision is the caller's answer to a permission request.
type Decision int

const (
	// Reject aborts the invocation.
	Reject Decision = iota

	// AllowOnce applies the grant to the immediate retry only.
	AllowOnce

	// AllowAlways persists the grant for the rest of the session.
	AllowAlways
)

// Prompter obtains an interactive decision from the caller.
type Prompter interface {
	Decide(req Request) (Decision, error)
}

// PolicyBuilder computes the policy delta that would unblock a request.
// Each engine registers its own builder; engines with no known policy
// shape get no blind retries.
type PolicyBuilder func(req Request) Policy

// Mediator intercepts RequiredErrors from wrapped invocations and
// drives the decision/retry loop. Always-allow grants are kept in
// session state keyed by engine, shared across invocations within the
// same run.
type Mediator struct {
	prompter    Prompter
	interactive bool

	// MaxRetries overrides DefaultMaxRetries when positive.
	MaxRetries int

	mu       sync.Mutex
	builders map[string]PolicyBuilder
	session  map[string]Policy
}

// NewMediator creates a Mediator. interactive should reflect whether
// the caller's output is a TTY; non-interactive contexts fail fast with
// guidance instead of guessing.
func NewMediator(prompter Prompter, interactive bool) *Mediator {
	return &Mediator{
		prompter:    prompter,
		interactive: interactive,
		builders:    make(map[string]PolicyBuilder),
		session:     make(map[string]Policy),
	}
}

// RegisterBuilder registers the policy builder for an engine.
func (m *Mediator) RegisterBuilder(engine string, b PolicyBuilder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builders[engine] = b
}

func (m *Mediator) maxRetries() int {
	if m.MaxRetries > 0 {
		return m.MaxRetries
	}
	return DefaultMaxRetries
}

func (m *Mediator) builderFor(engine string) (PolicyBuilder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builders[engine]
	return b, ok
}

func (m *Mediator) sessionGrants(engine string) Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session[engine]
}

func (m *Mediator) rememberGrant(engine string, delta Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session[engine] = m.session[engine].Merge(delta)
}

// Run invokes attempt, resolving permission blocks until the invocation
// succeeds, fails for another reason, is rejected, or the retry ceiling
// is reached. The env map passed to attempt carries the effective
// policy under EnvKey; Run never mutates the caller's map.
func (m *Mediator) Run(ctx context.Context, engine string, env map[string]string, attempt func(ctx context.Context, env map[string]string) error) error {
	effective := make(map[string]string, len(env)+1)
	for k, v := range env {
		effective[k] = v
	}

	// Session-scoped grants from earlier invocations apply up front.
	if grants := m.sessionGrants(engine); len(grants) > 0 {
		merged, err := m.mergedPolicy(effective[EnvKey], grants)
		if err != nil {
			return err
		}
		effective[EnvKey] = merged
	}

	var original error
	for retries := 0; ; retries++ {
		err := attempt(ctx, effective)
		if err == nil {
			return nil
		}

		var reqErr *RequiredError
		if !errors.As(err, &reqErr) {
			return err
		}
		if original == nil {
			original = err
		}
		if retries >= m.maxRetries() {
			return original
		}

		delta, err := m.resolve(reqErr.Request)
		if err != nil {
			return err
		}

		merged, err := m.mergedPolicy(effective[EnvKey], delta)
		if err != nil {
			return err
		}
		effective[EnvKey] = merged
	}
}

// resolve obtains a decision for one request and returns the policy
// delta to merge before the retry.
func (m *Mediator) resolve(req Request) (Policy, error) {
	builder, ok := m.builderFor(req.Engine)
	if !ok {
		return nil, fmt.Errorf("%w: no policy builder for engine %q", ErrPolicyUnresolvable, req.Engine)
	}
	if !m.interactive {
		return nil, fmt.Errorf(
			"%w: %s needs permission for %s; pre-seed %s or run from a terminal",
			ErrNonInteractive, req.Engine, req.Describe(), EnvKey,
		)
	}

	decision, err := m.prompter.Decide(req)
	if err != nil {
		return nil, fmt.Errorf("permission prompt: %w", err)
	}

	switch decision {
	case AllowOnce:
		return builder(req), nil
	case AllowAlways:
		delta := builder(req)
		m.rememberGrant(req.Engine, delta)
		return delta, nil
	default:
		return nil, fmt.Errorf("%w: %s for %s", ErrRejected, req.Engine, req.Describe())
	}
}

func (m *Mediator) mergedPolicy(current string, delta Policy) (string, error) {
	policy, err := ParsePolicy(current)
	if err != nil {
		return "", err
	}
	return policy.Merge(delta).String(), nil
}

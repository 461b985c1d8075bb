package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPrompter replays a fixed sequence of decisions.
type scriptedPrompter struct {
	decisions []Decision
	err       error
	asked     []Request
}

func (p *scriptedPrompter) Decide(req Request) (Decision, error) {
	p.asked = append(p.asked, req)
	if p.err != nil {
		return Reject, p.err
	}
	if len(p.decisions) == 0 {
		return Reject, nil
	}
	d := p.decisions[0]
	p.decisions = p.decisions[1:]
	return d, nil
}

func bashRequest(patterns ...string) Request {
	return Request{Engine: "claude", Capability: "bash", Patterns: patterns}
}

func bashBuilder(req Request) Policy {
	return AllowPatterns(req.Capability, req.Patterns)
}

func newTestMediator(p Prompter, interactive bool) *Mediator {
	m := NewMediator(p, interactive)
	m.RegisterBuilder("claude", bashBuilder)
	return m
}

func TestRunSucceedsAfterGrant(t *testing.T) {
	prompter := &scriptedPrompter{decisions: []Decision{AllowOnce}}
	m := newTestMediator(prompter, true)

	var policies []string
	err := m.Run(context.Background(), "claude", nil, func(_ context.Context, env map[string]string) error {
		policies = append(policies, env[EnvKey])
		if len(policies) == 1 {
			return &RequiredError{Request: bashRequest("ls -la")}
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, policies, 2)

	assert.Empty(t, policies[0])
	granted, parseErr := ParsePolicy(policies[1])
	require.NoError(t, parseErr)
	assert.Equal(t, Allow, granted["bash"].Patterns["ls -la"])
}

func TestRunRetryCeilingReturnsOriginalError(t *testing.T) {
	prompter := &scriptedPrompter{decisions: []Decision{AllowOnce, AllowOnce, AllowOnce, AllowOnce, AllowOnce}}
	m := newTestMediator(prompter, true)

	first := &RequiredError{Request: bashRequest("rm -rf build")}
	later := &RequiredError{Request: bashRequest("rm -rf dist")}

	attempts := 0
	err := m.Run(context.Background(), "claude", nil, func(context.Context, map[string]string) error {
		attempts++
		if attempts == 1 {
			return first
		}
		return later
	})

	require.Error(t, err)
	var reqErr *RequiredError
	require.True(t, errors.As(err, &reqErr))
	assert.Same(t, first, reqErr, "the ceiling must re-raise the original error, not the last one")
	assert.Equal(t, 1+DefaultMaxRetries, attempts)
	assert.Len(t, prompter.asked, DefaultMaxRetries)
}

func TestRunMaxRetriesOverride(t *testing.T) {
	prompter := &scriptedPrompter{decisions: []Decision{AllowOnce}}
	m := newTestMediator(prompter, true)
	m.MaxRetries = 1

	attempts := 0
	err := m.Run(context.Background(), "claude", nil, func(context.Context, map[string]string) error {
		attempts++
		return &RequiredError{Request: bashRequest("ls")}
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRunAllowAlwaysPersistsAcrossInvocations(t *testing.T) {
	prompter := &scriptedPrompter{decisions: []Decision{AllowAlways}}
	m := newTestMediator(prompter, true)

	err := m.Run(context.Background(), "claude", nil, func(_ context.Context, env map[string]string) error {
		if env[EnvKey] == "" {
			return &RequiredError{Request: bashRequest("go test ./...")}
		}
		return nil
	})
	require.NoError(t, err)

	// The second invocation starts with the grant already applied, so
	// the attempt never blocks and the prompter is not consulted again.
	var seen string
	err = m.Run(context.Background(), "claude", nil, func(_ context.Context, env map[string]string) error {
		seen = env[EnvKey]
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, prompter.asked, 1)

	granted, parseErr := ParsePolicy(seen)
	require.NoError(t, parseErr)
	assert.Equal(t, Allow, granted["bash"].Patterns["go test ./..."])
}

func TestRunAllowOnceDoesNotPersist(t *testing.T) {
	prompter := &scriptedPrompter{decisions: []Decision{AllowOnce}}
	m := newTestMediator(prompter, true)

	err := m.Run(context.Background(), "claude", nil, func(_ context.Context, env map[string]string) error {
		if env[EnvKey] == "" {
			return &RequiredError{Request: bashRequest("ls")}
		}
		return nil
	})
	require.NoError(t, err)

	var seen string
	err = m.Run(context.Background(), "claude", nil, func(_ context.Context, env map[string]string) error {
		seen = env[EnvKey]
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, seen)
}

func TestRunRejectAborts(t *testing.T) {
	prompter := &scriptedPrompter{decisions: []Decision{Reject}}
	m := newTestMediator(prompter, true)

	attempts := 0
	err := m.Run(context.Background(), "claude", nil, func(context.Context, map[string]string) error {
		attempts++
		return &RequiredError{Request: bashRequest("curl evil.example")}
	})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1, attempts)
}

func TestRunNonInteractiveFailsFast(t *testing.T) {
	prompter := &scriptedPrompter{decisions: []Decision{AllowOnce}}
	m := newTestMediator(prompter, false)

	err := m.Run(context.Background(), "claude", nil, func(context.Context, map[string]string) error {
		return &RequiredError{Request: bashRequest("ls")}
	})
	assert.ErrorIs(t, err, ErrNonInteractive)
	assert.Contains(t, err.Error(), EnvKey)
	assert.Empty(t, prompter.asked, "non-interactive contexts must not prompt")
}

func TestRunNoBuilderIsUnresolvable(t *testing.T) {
	m := NewMediator(&scriptedPrompter{}, true)

	err := m.Run(context.Background(), "sprite", nil, func(context.Context, map[string]string) error {
		return &RequiredError{Request: Request{Engine: "sprite", Capability: "fs"}}
	})
	assert.ErrorIs(t, err, ErrPolicyUnresolvable)
	assert.Contains(t, err.Error(), "sprite")
}

func TestRunPassesThroughOtherErrors(t *testing.T) {
	m := newTestMediator(&scriptedPrompter{decisions: []Decision{AllowOnce}}, true)

	boom := errors.New("boom")
	attempts := 0
	err := m.Run(context.Background(), "claude", nil, func(context.Context, map[string]string) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestRunDoesNotMutateCallerEnv(t *testing.T) {
	prompter := &scriptedPrompter{decisions: []Decision{AllowOnce}}
	m := newTestMediator(prompter, true)

	env := map[string]string{"PATH": "/usr/bin", EnvKey: `{"bash":{"*":"deny"}}`}
	err := m.Run(context.Background(), "claude", env, func(_ context.Context, got map[string]string) error {
		p, parseErr := ParsePolicy(got[EnvKey])
		require.NoError(t, parseErr)
		if p["bash"].Patterns["ls"] != Allow {
			return &RequiredError{Request: bashRequest("ls")}
		}
		// Pre-seeded wildcard deny still present after the merge.
		assert.Equal(t, Deny, p["bash"].Patterns[Wildcard])
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, `{"bash":{"*":"deny"}}`, env[EnvKey])
	assert.Len(t, env, 2)
}

func TestRunPromptErrorPropagates(t *testing.T) {
	prompter := &scriptedPrompter{err: errors.New("tty gone")}
	m := newTestMediator(prompter, true)

	err := m.Run(context.Background(), "claude", nil, func(context.Context, map[string]string) error {
		return &RequiredError{Request: bashRequest("ls")}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission prompt")
}

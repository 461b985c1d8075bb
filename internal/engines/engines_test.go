package engines

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-dev/drover/internal/permission"
)

func TestLookupAndNames(t *testing.T) {
	assert.Equal(t, []string{"claude", "codex", "sprite"}, Names())

	def, ok := Lookup("claude")
	require.True(t, ok)
	assert.Equal(t, "claude", def.Binary)
	assert.Equal(t, ModePrint, def.Mode)

	_, ok = Lookup("gemini")
	assert.False(t, ok)
}

func TestClaudeBuildArgs(t *testing.T) {
	def, _ := Lookup("claude")

	args := def.BuildArgs(Invocation{Prompt: "fix it", Model: "opus", Args: []string{"--max-turns", "5"}})
	assert.Equal(t, []string{
		"--output-format", "stream-json", "--verbose",
		"--model", "opus",
		"--max-turns", "5",
		"-p", "fix it",
	}, args)

	// Without a model the flag is omitted entirely.
	args = def.BuildArgs(Invocation{Prompt: "fix it"})
	assert.NotContains(t, args, "--model")
	assert.False(t, def.PromptViaStdin)
}

func TestCodexBuildArgs(t *testing.T) {
	def, _ := Lookup("codex")
	require.True(t, def.PromptViaStdin, "codex reads the prompt from stdin")

	args := def.BuildArgs(Invocation{Prompt: "ignored on argv", Model: "o4"})
	assert.Equal(t, []string{"exec", "--json", "-m", "o4", "-"}, args)
	assert.NotContains(t, args, "ignored on argv")
}

func TestSpriteBuildArgs(t *testing.T) {
	def, _ := Lookup("sprite")
	assert.Equal(t, ModeWire, def.Mode)
	assert.True(t, def.KeepStdinOpen)

	args := def.BuildArgs(Invocation{Prompt: "hi", Args: []string{"--trace"}})
	assert.Equal(t, []string{"--wire", "--trace"}, args)
}

func TestDetectAuthError(t *testing.T) {
	def, _ := Lookup("claude")

	t.Run("matches hint case-insensitively", func(t *testing.T) {
		authErr := DetectAuthError(def, 1, "", "Error: Invalid API Key provided")
		require.NotNil(t, authErr)
		assert.Equal(t, "claude", authErr.Engine)
		assert.Equal(t, []string{"ANTHROPIC_API_KEY"}, authErr.EnvVars)
		assert.Contains(t, authErr.Error(), "ANTHROPIC_API_KEY")
	})

	t.Run("scans stdout too", func(t *testing.T) {
		assert.NotNil(t, DetectAuthError(def, 2, "please run /login", ""))
	})

	t.Run("zero exit never matches", func(t *testing.T) {
		assert.Nil(t, DetectAuthError(def, 0, "invalid api key", ""))
	})

	t.Run("unrelated failure output", func(t *testing.T) {
		assert.Nil(t, DetectAuthError(def, 1, "", "segmentation fault"))
	})

	t.Run("no hints configured", func(t *testing.T) {
		bare := &Def{Name: "bare"}
		assert.Nil(t, DetectAuthError(bare, 1, "unauthorized", ""))
	})
}

func TestPatternPolicy(t *testing.T) {
	p := patternPolicy(permission.Request{Capability: "bash", Patterns: []string{"ls", "cat go.mod"}})
	assert.Equal(t, permission.Allow, p["bash"].Patterns["ls"])
	assert.Equal(t, permission.Allow, p["bash"].Patterns["cat go.mod"])

	p = patternPolicy(permission.Request{Capability: "network"})
	assert.Equal(t, permission.Allow, p["network"].Verdict)
	assert.Nil(t, p["network"].Patterns)
}

func TestRegisterOverridesByName(t *testing.T) {
	original, _ := Lookup("claude")
	t.Cleanup(func() { Register(original) })

	Register(&Def{Name: "claude", Binary: "claude-next", Mode: ModePrint})
	def, ok := Lookup("claude")
	require.True(t, ok)
	assert.Equal(t, "claude-next", def.Binary)
}

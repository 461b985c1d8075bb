package drive

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-dev/drover/internal/engines"
	"github.com/drover-dev/drover/internal/permission"
	"github.com/drover-dev/drover/internal/proc"
	"github.com/drover-dev/drover/internal/stream"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test uses sh")
	}
}

func newTestDriver() *Driver {
	return New(proc.NewRunner(proc.NewRegistry()))
}

// shEngine builds a print-mode engine that runs a shell script instead
// of a real agent binary.
func shEngine(script string) *engines.Def {
	return &engines.Def{
		Name:   "fake",
		Binary: "sh",
		Mode:   engines.ModePrint,
		BuildArgs: func(engines.Invocation) []string {
			return []string{"-c", script}
		},
		Install: "apt install fake",
	}
}

type eventLog struct {
	events []stream.Event
}

func (l *eventLog) sinks() stream.Sinks {
	return stream.Sinks{Event: func(e stream.Event) { l.events = append(l.events, e) }}
}

func TestInvokeStreamsAssistantOutput(t *testing.T) {
	requireUnix(t)
	d := newTestDriver()

	var log eventLog
	def := shEngine(`echo '{"role":"assistant","content":"done"}'`)
	err := d.Invoke(context.Background(), def, Options{Prompt: "go", Sinks: log.sinks()})
	require.NoError(t, err)

	require.Len(t, log.events, 1)
	assert.Equal(t, stream.KindAssistantText, log.events[0].Kind)
	assert.Equal(t, "done", log.events[0].Text)
}

func TestInvokePromptViaStdin(t *testing.T) {
	requireUnix(t)
	d := newTestDriver()

	var log eventLog
	def := shEngine("cat")
	def.PromptViaStdin = true
	err := d.Invoke(context.Background(), def, Options{Prompt: "say hi", Sinks: log.sinks()})
	require.NoError(t, err)

	// The echoed prompt is not JSON, so it passes through as text.
	require.Len(t, log.events, 1)
	assert.Equal(t, "say hi", log.events[0].Text)
}

func TestInvokeMissingBinaryNamesInstallHint(t *testing.T) {
	d := newTestDriver()

	def := shEngine("true")
	def.Binary = "missing-agent-binary-7301"
	err := d.Invoke(context.Background(), def, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, proc.ErrBinaryNotFound)
	assert.Contains(t, err.Error(), "apt install fake")
}

func TestInvokeNonZeroExit(t *testing.T) {
	requireUnix(t)
	d := newTestDriver()

	def := shEngine("echo oops >&2; exit 4")
	err := d.Invoke(context.Background(), def, Options{})

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, "fake", exitErr.Engine)
	assert.Equal(t, 4, exitErr.Code)
	assert.Equal(t, "oops", exitErr.Stderr)
	assert.Equal(t, "fake exited with code 4: oops", exitErr.Error())
}

func TestInvokeAuthErrorWins(t *testing.T) {
	requireUnix(t)
	d := newTestDriver()

	def := shEngine("echo 'error: not authenticated' >&2; exit 1")
	def.AuthEnvVars = []string{"FAKE_API_KEY"}
	def.AuthHints = []string{"not authenticated"}

	err := d.Invoke(context.Background(), def, Options{})
	var authErr *engines.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, []string{"FAKE_API_KEY"}, authErr.EnvVars)
}

func TestInvokePermissionBlockSurfaces(t *testing.T) {
	requireUnix(t)
	d := newTestDriver()

	def := shEngine(`echo '{"role":"tool","name":"bash","status":"permission_required","permission":{"capability":"bash","pattern":"ls"}}'`)
	err := d.Invoke(context.Background(), def, Options{})

	var reqErr *permission.RequiredError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "fake", reqErr.Request.Engine)
	assert.Equal(t, []string{"ls"}, reqErr.Request.Patterns)
}

func TestRunRetriesThroughMediator(t *testing.T) {
	requireUnix(t)
	d := newTestDriver()

	// The script blocks until the policy env var grants it something.
	def := shEngine(`if [ -z "$` + permission.EnvKey + `" ]; then
  echo '{"role":"tool","name":"bash","status":"permission_required","permission":{"capability":"bash","pattern":"ls"}}'
else
  echo '{"role":"assistant","content":"granted"}'
fi`)
	def.Policy = func(req permission.Request) permission.Policy {
		return permission.AllowPatterns(req.Capability, req.Patterns)
	}

	m := permission.NewMediator(allowOncePrompter{}, true)
	m.RegisterBuilder(def.Name, def.Policy)

	var log eventLog
	err := d.Run(context.Background(), m, def, Options{Prompt: "go", Sinks: log.sinks()})
	require.NoError(t, err)

	var sawGranted bool
	for _, e := range log.events {
		if e.Text == "granted" {
			sawGranted = true
		}
	}
	assert.True(t, sawGranted)
}

type allowOncePrompter struct{}

func (allowOncePrompter) Decide(permission.Request) (permission.Decision, error) {
	return permission.AllowOnce, nil
}

func TestInvokeStderrBecomesErrorEvents(t *testing.T) {
	requireUnix(t)
	d := newTestDriver()

	var log eventLog
	def := shEngine("echo 'warning: something' >&2")
	err := d.Invoke(context.Background(), def, Options{Sinks: log.sinks()})
	require.NoError(t, err)

	require.Len(t, log.events, 1)
	assert.Equal(t, stream.KindError, log.events[0].Kind)
	assert.Equal(t, "warning: something", log.events[0].Text)
}

func TestInvokeTimeoutPropagates(t *testing.T) {
	requireUnix(t)
	d := newTestDriver()

	def := shEngine("sleep 30")
	err := d.Invoke(context.Background(), def, Options{Timeout: 100 * time.Millisecond})

	var timeoutErr *proc.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
}

func TestTerminated(t *testing.T) {
	assert.Equal(t, "hi\n", terminated("hi"))
	assert.Equal(t, "hi\n", terminated("hi\n"))
	assert.Equal(t, "\n", terminated(""))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("  short\n"))

	long := strings.Repeat("e", stderrExcerptLimit+10)
	got := excerpt(long)
	assert.Len(t, got, stderrExcerptLimit+len("..."))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestHandleWriterBeforeSpawn(t *testing.T) {
	var w handleWriter
	_, err := w.Write([]byte("x"))
	assert.Error(t, err)
}

func TestExitErrorWithoutStderr(t *testing.T) {
	err := &ExitError{Engine: "codex", Code: 2}
	assert.Equal(t, "codex exited with code 2", err.Error())
}

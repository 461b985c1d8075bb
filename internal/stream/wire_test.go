package stream

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a goroutine-safe output capture for the session's
// stdin-bound envelopes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) messages(t *testing.T) []wireMessage {
	t.Helper()
	var out []wireMessage
	for _, line := range strings.Split(strings.TrimSpace(b.String()), "\n") {
		if line == "" {
			continue
		}
		var msg wireMessage
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		out = append(out, msg)
	}
	return out
}

func newTestWireSession(c *collector) (*WireSession, *syncBuffer) {
	var out syncBuffer
	s := NewWireSession("sprite", "fix the tests", "/work", c.sinks(), &out)
	s.StartDelay = 0
	return s, &out
}

func TestWireSessionStartSendsRunRequest(t *testing.T) {
	var c collector
	s, out := newTestWireSession(&c)

	s.Start()
	require.Eventually(t, func() bool { return out.String() != "" }, time.Second, 5*time.Millisecond)

	msgs := out.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "2.0", msgs[0].JSONRPC)
	assert.Equal(t, "run", msgs[0].Method)

	var params runParams
	require.NoError(t, json.Unmarshal(msgs[0].Params, &params))
	assert.Equal(t, "fix the tests", params.Prompt)
	assert.Equal(t, "/work", params.CWD)
}

func TestWireSessionAutoApproval(t *testing.T) {
	var c collector
	s, out := newTestWireSession(&c)

	// Numeric id: the response must echo it back byte for byte.
	s.Feed(`{"jsonrpc":"2.0","id":42,"method":"request","params":{"title":"write main.go"}}` + "\n")

	msgs := out.messages(t)
	require.Len(t, msgs, 1, "exactly one response per request")
	assert.Equal(t, "42", string(msgs[0].ID))

	var result approval
	require.NoError(t, json.Unmarshal(msgs[0].Result, &result))
	assert.True(t, result.Approved)
	assert.Equal(t, "approve", result.Action)

	statuses := c.texts(KindStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, "auto-approved: write main.go", statuses[0])
}

func TestWireSessionStringIDEchoed(t *testing.T) {
	var c collector
	s, out := newTestWireSession(&c)

	s.Feed(`{"jsonrpc":"2.0","id":"req-9","method":"request","params":{}}` + "\n")

	msgs := out.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, `"req-9"`, string(msgs[0].ID))
	assert.Equal(t, []string{"auto-approved: request"}, c.texts(KindStatus))
}

func TestWireSessionContentParts(t *testing.T) {
	var c collector
	s, _ := newTestWireSession(&c)

	s.Feed(`{"jsonrpc":"2.0","method":"event","params":{"event":{"type":"content_part","part":{"type":"text","text":"working on it"}}}}` + "\n")
	s.Feed(`{"jsonrpc":"2.0","method":"event","params":{"event":{"type":"content_part","part":{"type":"thinking","text":"let me see"}}}}` + "\n")

	assert.Equal(t, []string{"working on it"}, c.texts(KindAssistantText))
	assert.Equal(t, []string{"let me see"}, c.texts(KindThinkingText))
}

func TestWireSessionToolCallPairing(t *testing.T) {
	var c collector
	s, _ := newTestWireSession(&c)

	s.Feed(`{"jsonrpc":"2.0","method":"event","params":{"event":{"type":"tool_call","id":"call-1","name":"edit_file"}}}` + "\n")
	s.Feed(`{"jsonrpc":"2.0","method":"event","params":{"event":{"type":"tool_result","id":"call-1","output":"3 edits applied"}}}` + "\n")

	require.Len(t, c.events, 2)
	assert.Equal(t, KindToolStarted, c.events[0].Kind)
	assert.Equal(t, "edit_file", c.events[0].Tool)

	assert.Equal(t, KindToolResult, c.events[1].Kind)
	assert.Equal(t, "edit_file", c.events[1].Tool, "result resolves its name from the pending call")
	assert.Equal(t, "edit_file: 3 edits applied", c.events[1].Text)
	assert.Empty(t, s.pending, "settled calls leave the pending map")
}

func TestWireSessionToolResultFailure(t *testing.T) {
	var c collector
	s, _ := newTestWireSession(&c)

	s.Feed(`{"jsonrpc":"2.0","method":"event","params":{"event":{"type":"tool_result","id":"x","name":"bash","status":"failed","output":"exit 2"}}}` + "\n")

	require.Len(t, c.events, 1)
	assert.True(t, c.events[0].IsError)
	assert.Equal(t, "bash", c.events[0].Tool)
}

func TestWireSessionSubagentPrefix(t *testing.T) {
	var c collector
	s, _ := newTestWireSession(&c)

	s.Feed(`{"jsonrpc":"2.0","method":"event","params":{"event":{"type":"subagent_event","id":"review","event":{"type":"content_part","part":{"type":"text","text":"looks fine"}}}}}` + "\n")

	assert.Equal(t, []string{"Subagent review: looks fine"}, c.texts(KindAssistantText))
}

func TestWireSessionRunResponseUsage(t *testing.T) {
	var c collector
	s, _ := newTestWireSession(&c)

	s.Feed(`{"jsonrpc":"2.0","id":"` + s.runID + `","result":{"usage":{"input":20,"output":9}}}` + "\n")

	require.Len(t, c.usage, 1)
	assert.Equal(t, UsageSnapshot{TokensIn: 20, TokensOut: 9}, c.usage[0])
	assert.NoError(t, s.Err())
}

func TestWireSessionRunResponseError(t *testing.T) {
	var c collector
	s, _ := newTestWireSession(&c)

	s.Feed(`{"jsonrpc":"2.0","id":"` + s.runID + `","error":{"code":-32000,"message":"model overloaded"}}` + "\n")

	require.Error(t, s.Err())
	assert.Contains(t, s.Err().Error(), "model overloaded")
	assert.Equal(t, []string{"model overloaded"}, c.texts(KindError))
}

func TestWireSessionResponseForUnknownIDIgnored(t *testing.T) {
	var c collector
	s, _ := newTestWireSession(&c)

	s.Feed(`{"jsonrpc":"2.0","id":"someone-else","result":{"usage":{"input":5}}}` + "\n")

	assert.Empty(t, c.usage)
	assert.NoError(t, s.Err())
}

func TestWireSessionBannerPassthrough(t *testing.T) {
	var c collector
	s, _ := newTestWireSession(&c)

	s.Feed("sprite v2.1 ready\n")
	s.Feed("{\"note\":\"json but not an envelope\"}\n")

	texts := c.texts(KindAssistantText)
	require.Len(t, texts, 2)
	assert.Equal(t, "sprite v2.1 ready", texts[0])
}

func TestWireSessionStatusAndSteps(t *testing.T) {
	var c collector
	s, _ := newTestWireSession(&c)

	s.Feed(`{"jsonrpc":"2.0","method":"status_update","params":{"message":"indexing"}}` + "\n")
	s.Feed(`{"jsonrpc":"2.0","method":"event","params":{"event":{"type":"step_begin","title":"plan"}}}` + "\n")
	s.Feed(`{"jsonrpc":"2.0","method":"event","params":{"event":{"type":"compaction_begin"}}}` + "\n")

	assert.Equal(t, []string{"indexing", "step: plan", "compacting context"}, c.texts(KindStatus))
}

package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StartupDelay is how long the driver waits after spawn before sending
// the run request, so the agent finishes wiring its stdin reader.
const StartupDelay = 150 * time.Millisecond

// wireMessage is a JSON-RPC-like envelope, inbound or outbound. The id
// is kept raw so responses echo the agent's id verbatim regardless of
// whether it sent a string or a number.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// approval is the outbound result granting an agent request.
type approval struct {
	Approved bool   `json:"approved"`
	Action   string `json:"action"`
}

// runParams is the payload of the single run request sent at startup.
type runParams struct {
	Prompt string `json:"prompt"`
	CWD    string `json:"cwd"`
}

// WireSession drives the bidirectional wire-mode exchange: it sends the
// run request, dispatches inbound envelopes to display events, and
// auto-approves requests from the agent so the exchange never pauses
// for a human.
type WireSession struct {
	engine string
	prompt string
	cwd    string
	sinks  Sinks
	lines  LineBuffer

	// StartDelay overrides StartupDelay (tests set it to zero).
	StartDelay time.Duration

	runID   string
	pending map[string]string // call id → tool name

	mu     sync.Mutex
	enc    *json.Encoder
	runErr error
}

// NewWireSession creates a wire-mode session writing outbound envelopes
// to out (the subprocess stdin).
func NewWireSession(engine, prompt, cwd string, sinks Sinks, out io.Writer) *WireSession {
	return &WireSession{
		engine:     engine,
		prompt:     prompt,
		cwd:        cwd,
		sinks:      sinks,
		lines:      LineBuffer{StripANSI: true},
		StartDelay: StartupDelay,
		runID:      uuid.NewString(),
		pending:    make(map[string]string),
		enc:        json.NewEncoder(out),
	}
}

// Start schedules the run request. Called once, right after spawn.
func (s *WireSession) Start() {
	delay := s.StartDelay
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		s.send(wireMessage{
			JSONRPC: "2.0",
			ID:      json.RawMessage(`"` + s.runID + `"`),
			Method:  "run",
			Params:  mustMarshal(runParams{Prompt: s.prompt, CWD: s.cwd}),
		})
	}()
}

// Feed consumes a raw stdout chunk.
func (s *WireSession) Feed(chunk string) {
	for _, line := range s.lines.Add(chunk) {
		s.handleLine(line)
	}
}

// Close flushes a trailing partial line. Orphaned pending tool calls
// are simply discarded.
func (s *WireSession) Close() {
	if line := s.lines.Flush(); line != "" {
		s.handleLine(line)
	}
}

// Err returns the terminal error reported on the run request, or nil.
func (s *WireSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

func (s *WireSession) handleLine(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	var msg wireMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil || (msg.Method == "" && msg.ID == nil) {
		// Startup banners and other non-protocol output pass through.
		s.sinks.emit(Event{Kind: KindAssistantText, Text: line})
		return
	}

	switch {
	case msg.Method == "event":
		s.handleEventEnvelope(msg.Params)
	case msg.Method == "request":
		s.approveRequest(msg)
	case msg.Method == "status_update":
		s.sinks.emit(Event{Kind: KindStatus, Text: paramsText(msg.Params)})
	case msg.Method != "":
		// Unknown method: surface the discriminator rather than
		// silently no-oping.
		s.sinks.emit(Event{Kind: KindStatus, Text: msg.Method})
	default:
		s.handleResponse(msg)
	}
}

// handleResponse processes an envelope addressed by id. Only the run
// request's id is outstanding on our side.
func (s *WireSession) handleResponse(msg wireMessage) {
	if string(msg.ID) != `"`+s.runID+`"` {
		return
	}
	if msg.Error != nil {
		s.mu.Lock()
		s.runErr = fmt.Errorf("%s: %s", s.engine, msg.Error.Message)
		s.mu.Unlock()
		s.sinks.emit(Event{Kind: KindError, Text: msg.Error.Message})
		return
	}
	if len(msg.Result) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(msg.Result, &raw); err == nil {
			if snap, ok := extractUsage(raw); ok {
				s.sinks.usage(snap)
			}
		}
	}
}

// approveRequest answers an agent request immediately and records what
// was approved as a status line.
func (s *WireSession) approveRequest(msg wireMessage) {
	s.send(wireMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result:  mustMarshal(approval{Approved: true, Action: "approve"}),
	})

	title := paramsText(msg.Params)
	if title == "" {
		title = "request"
	}
	s.sinks.emit(Event{Kind: KindStatus, Text: "auto-approved: " + title})
}

// handleEventEnvelope unwraps the typed event object carried by an
// event envelope.
func (s *WireSession) handleEventEnvelope(params json.RawMessage) {
	var outer map[string]any
	if err := json.Unmarshal(params, &outer); err != nil {
		return
	}
	if inner, ok := outer["event"].(map[string]any); ok {
		s.handleEvent("", inner)
		return
	}
	s.handleEvent("", outer)
}

// handleEvent dispatches one typed event. subagent_event recurses with
// an accumulated prefix so nested agent activity stays distinguishable
// without a separate code path.
func (s *WireSession) handleEvent(prefix string, ev map[string]any) {
	evType, _ := ev["type"].(string)
	switch evType {
	case "content_part":
		s.handleContentPart(prefix, ev)
	case "tool_call":
		s.recordToolCall(prefix, ev, true)
	case "tool_call_part":
		s.recordToolCall(prefix, ev, false)
	case "tool_result":
		s.handleToolResult(prefix, ev)
	case "status_update":
		s.sinks.emit(Event{Kind: KindStatus, Text: prefix + eventText(ev)})
	case "step_begin":
		s.sinks.emit(Event{Kind: KindStatus, Text: prefix + stepLabel(ev, "step")})
	case "step_interrupted":
		s.sinks.emit(Event{Kind: KindStatus, Text: prefix + stepLabel(ev, "step interrupted")})
	case "compaction_begin":
		s.sinks.emit(Event{Kind: KindStatus, Text: prefix + "compacting context"})
	case "compaction_end":
		s.sinks.emit(Event{Kind: KindStatus, Text: prefix + "compaction done"})
	case "usage", "usage_update":
		if snap, ok := extractUsage(ev); ok {
			s.sinks.usage(snap)
		}
	case "subagent_event":
		s.handleSubagent(prefix, ev)
	default:
		if evType != "" {
			s.sinks.emit(Event{Kind: KindStatus, Text: prefix + evType})
		}
	}
}

func (s *WireSession) handleContentPart(prefix string, ev map[string]any) {
	part, _ := ev["part"].(map[string]any)
	if part == nil {
		part = ev
	}
	text, _ := part["text"].(string)
	if text == "" {
		return
	}
	kind := KindAssistantText
	if partType, _ := part["type"].(string); partType == "thinking" {
		kind = KindThinkingText
	}
	s.sinks.emit(Event{Kind: kind, Text: prefix + text})
}

// recordToolCall populates the pending map. Only the initial tool_call
// announces the invocation; tool_call_part may still fill in a name
// that arrived late.
func (s *WireSession) recordToolCall(prefix string, ev map[string]any, announce bool) {
	id := callID(ev)
	name := toolName(ev)
	if id != "" && name != "" {
		s.pending[id] = name
	}
	if announce {
		display := name
		if display == "" {
			display = "tool"
		}
		s.sinks.emit(Event{Kind: KindToolStarted, Tool: name, ID: id, Text: prefix + display})
	}
}

// handleToolResult resolves the pending name for the call id, falling
// back to a name carried on the result record itself.
func (s *WireSession) handleToolResult(prefix string, ev map[string]any) {
	id := callID(ev)
	name := s.pending[id]
	delete(s.pending, id)
	if name == "" {
		name = toolName(ev)
	}

	status, _ := ev["status"].(string)
	errFlag, _ := ev["error"].(bool)
	isError := errFlag || status == "error" || status == "failed"

	s.sinks.emit(Event{
		Kind:    KindToolResult,
		Tool:    name,
		ID:      id,
		Text:    prefix + toolSummary(name, outputText(ev)),
		IsError: isError,
	})
}

func (s *WireSession) handleSubagent(prefix string, ev map[string]any) {
	id, _ := ev["id"].(string)
	if id == "" {
		id, _ = ev["subagent_id"].(string)
	}
	inner, ok := ev["event"].(map[string]any)
	if !ok {
		return
	}
	s.handleEvent(prefix+"Subagent "+id+": ", inner)
}

// send serializes one outbound envelope. Thread-safe: the run request
// goroutine and the feed path both write.
func (s *WireSession) send(msg wireMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(msg) // best-effort: stdin may already be closed
}

func callID(ev map[string]any) string {
	if id, ok := ev["id"].(string); ok {
		return id
	}
	if id, ok := ev["call_id"].(string); ok {
		return id
	}
	return ""
}

func toolName(ev map[string]any) string {
	if name, ok := ev["name"].(string); ok {
		return name
	}
	if title, ok := ev["title"].(string); ok {
		return title
	}
	return ""
}

func eventText(ev map[string]any) string {
	if msg, ok := ev["message"].(string); ok {
		return msg
	}
	if status, ok := ev["status"].(string); ok {
		return status
	}
	return "status"
}

func stepLabel(ev map[string]any, fallback string) string {
	if title, ok := ev["title"].(string); ok && title != "" {
		return fallback + ": " + title
	}
	return fallback
}

func paramsText(params json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(params, &m); err != nil {
		return ""
	}
	for _, key := range []string{"title", "message", "name", "status"} {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

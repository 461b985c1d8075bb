package stream

import (
	"encoding/json"
	"strings"

	"github.com/drover-dev/drover/internal/permission"
)

// toolPreviewLimit caps the tool output preview in display events.
const toolPreviewLimit = 200

// PrintSession normalizes print-mode output: one JSON record per line,
// dispatched on the "role" discriminator. Lines that do not parse as a
// JSON object pass through verbatim as opaque text.
type PrintSession struct {
	engine string
	sinks  Sinks
	lines  LineBuffer
	dedupe transcriptDeduper

	perm *permission.Request
}

// NewPrintSession creates a print-mode session for one invocation.
func NewPrintSession(engine string, sinks Sinks) *PrintSession {
	return &PrintSession{
		engine: engine,
		sinks:  sinks,
		lines:  LineBuffer{StripANSI: true},
	}
}

// Feed consumes a raw stdout chunk. Chunks may split JSON lines at any
// byte; records are only parsed once their line is complete.
func (s *PrintSession) Feed(chunk string) {
	for _, line := range s.lines.Add(chunk) {
		s.handleLine(line)
	}
}

// Close flushes a trailing partial line, if any.
func (s *PrintSession) Close() {
	if line := s.lines.Flush(); line != "" {
		s.handleLine(line)
	}
}

// PermissionRequest returns the first permission-pending record seen
// during the stream, or nil.
func (s *PrintSession) PermissionRequest() *permission.Request {
	return s.perm
}

func (s *PrintSession) handleLine(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		// Opaque passthrough: never dropped, never an error.
		s.sinks.emit(Event{Kind: KindAssistantText, Text: line})
		return
	}

	role, _ := raw["role"].(string)
	switch role {
	case "assistant":
		s.handleAssistant(raw)
	case "tool":
		s.handleTool(raw)
	case "_usage":
		if snap, ok := extractUsage(raw); ok {
			s.sinks.usage(snap)
		}
	case "_checkpoint":
		id, _ := raw["id"].(string)
		s.sinks.emit(Event{Kind: KindCheckpoint, Text: "checkpoint", ID: id})
	default:
		// Valid JSON with an unrecognized role is ignored.
	}
}

// handleAssistant splits the record's parts into visible text and the
// annotated thinking stream.
func (s *PrintSession) handleAssistant(raw map[string]any) {
	text, thinking := assistantSegments(raw)
	if thinking != "" {
		s.sinks.emit(Event{Kind: KindThinkingText, Text: thinking})
	}
	if text == "" {
		return
	}
	// Engines that re-emit the accumulated transcript instead of deltas
	// would otherwise duplicate every paragraph.
	if delta := s.dedupe.delta(text); delta != "" {
		s.sinks.emit(Event{Kind: KindAssistantText, Text: delta})
	}
}

func (s *PrintSession) handleTool(raw map[string]any) {
	name, _ := raw["name"].(string)
	if name == "" {
		name, _ = raw["tool"].(string)
	}
	status, _ := raw["status"].(string)
	errFlag, _ := raw["error"].(bool)
	isError := errFlag || status == "error" || status == "failed"

	if status == "permission_required" || status == "blocked" {
		isError = true
		if s.perm == nil {
			s.perm = permissionFromRecord(s.engine, raw)
		}
	}

	s.sinks.emit(Event{
		Kind:    KindToolResult,
		Tool:    name,
		Text:    toolSummary(name, outputText(raw)),
		IsError: isError,
	})
}

// assistantSegments extracts plain-text and thinking segments from the
// record's parts sequence. String items pass through as visible text;
// typed items contribute to their respective stream.
func assistantSegments(raw map[string]any) (text, thinking string) {
	parts, ok := raw["content"].([]any)
	if !ok {
		parts, ok = raw["parts"].([]any)
	}
	if !ok {
		if flat, ok := raw["content"].(string); ok {
			return flat, ""
		}
		if flat, ok := raw["text"].(string); ok {
			return flat, ""
		}
		return "", ""
	}

	var visible, thought strings.Builder
	for _, item := range parts {
		switch part := item.(type) {
		case string:
			visible.WriteString(part)
		case map[string]any:
			partType, _ := part["type"].(string)
			switch partType {
			case "text":
				if t, ok := part["text"].(string); ok {
					visible.WriteString(t)
				}
			case "thinking":
				if t, ok := part["thinking"].(string); ok {
					thought.WriteString(t)
				} else if t, ok := part["text"].(string); ok {
					thought.WriteString(t)
				}
			}
		}
	}
	return visible.String(), thought.String()
}

// permissionFromRecord builds a Request from a permission-pending tool
// record. The pattern field accepts a single string or an ordered list.
func permissionFromRecord(engine string, raw map[string]any) *permission.Request {
	req := &permission.Request{Engine: engine}

	perm, _ := raw["permission"].(map[string]any)
	if perm == nil {
		perm = raw
	}
	if capability, ok := perm["capability"].(string); ok {
		req.Capability = capability
	} else if name, ok := raw["name"].(string); ok {
		req.Capability = name
	}
	if path, ok := perm["path"].(string); ok {
		req.Path = path
	}
	switch pat := perm["pattern"].(type) {
	case string:
		req.Patterns = []string{pat}
	case []any:
		for _, p := range pat {
			if s, ok := p.(string); ok {
				req.Patterns = append(req.Patterns, s)
			}
		}
	}
	if patterns, ok := perm["patterns"].([]any); ok {
		for _, p := range patterns {
			if s, ok := p.(string); ok {
				req.Patterns = append(req.Patterns, s)
			}
		}
	}
	if meta, ok := perm["meta"].(map[string]any); ok {
		req.Meta = make(map[string]string, len(meta))
		for k, v := range meta {
			if s, ok := v.(string); ok {
				req.Meta[k] = s
			}
		}
	}
	return req
}

func outputText(raw map[string]any) string {
	if out, ok := raw["output"].(string); ok {
		return out
	}
	if out, ok := raw["result"].(string); ok {
		return out
	}
	return ""
}

// toolSummary formats "name: preview" with the preview capped.
func toolSummary(name, output string) string {
	preview := truncate(strings.TrimSpace(output), toolPreviewLimit)
	if name == "" {
		return preview
	}
	if preview == "" {
		return name
	}
	return name + ": " + preview
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// transcriptDeduper suppresses re-emitted transcript paragraphs by
// diffing each assistant text against the last seen full-text snapshot
// and the last emitted paragraph.
type transcriptDeduper struct {
	lastFull      string
	lastParagraph string
}

// delta returns the incremental text to emit, or "" when the record
// repeats what was already displayed.
func (d *transcriptDeduper) delta(text string) string {
	if text == d.lastFull {
		return ""
	}

	out := text
	if d.lastFull != "" && strings.HasPrefix(text, d.lastFull) {
		out = strings.TrimLeft(strings.TrimPrefix(text, d.lastFull), "\n")
	}
	d.lastFull = text

	if out == "" || out == d.lastParagraph {
		return ""
	}
	paragraphs := strings.Split(out, "\n\n")
	if len(paragraphs) > 0 && paragraphs[0] == d.lastParagraph {
		paragraphs = paragraphs[1:]
		out = strings.Join(paragraphs, "\n\n")
	}
	if out == "" {
		return ""
	}
	d.lastParagraph = paragraphs[len(paragraphs)-1]
	return out
}

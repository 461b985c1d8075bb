package stream

// Kind identifies a display event.
type Kind string

const (
	// KindAssistantText is visible assistant output.
	KindAssistantText Kind = "assistant_text"

	// KindThinkingText is the assistant's annotated thinking stream.
	KindThinkingText Kind = "thinking_text"

	// KindToolStarted marks the start of a tool invocation.
	KindToolStarted Kind = "tool_started"

	// KindToolResult carries a completed tool invocation summary.
	KindToolResult Kind = "tool_result"

	// KindStatus is a driver or agent status line.
	KindStatus Kind = "status"

	// KindError is error text from the agent or the driver.
	KindError Kind = "error"

	// KindCheckpoint marks a checkpoint record in the stream.
	KindCheckpoint Kind = "checkpoint"
)

// Event is one normalized display event. Events are emitted in arrival
// order and never reordered or buffered beyond line boundaries.
type Event struct {
	Kind Kind

	// Text is the display text for the event.
	Text string

	// Tool is the tool name for tool events.
	Tool string

	// IsError marks a failed tool invocation.
	IsError bool

	// ID is the checkpoint label or tool call id, when present.
	ID string
}

// UsageSnapshot is a point-in-time token usage extraction from one
// parsed record. At most one snapshot is emitted per usage record; when
// a record carries no recognizable token data the normalizer reports no
// snapshot rather than zeros.
type UsageSnapshot struct {
	TokensIn  int
	TokensOut int
	Cached    int
}

// Sinks receive normalized output. Callbacks run synchronously on the
// feeding goroutine, so a slow sink naturally throttles parsing.
type Sinks struct {
	Event func(Event)
	Usage func(UsageSnapshot)
}

func (s Sinks) emit(e Event) {
	if s.Event != nil {
		s.Event(e)
	}
}

func (s Sinks) usage(u UsageSnapshot) {
	if s.Usage != nil {
		s.Usage(u)
	}
}

package permission

import (
	"fmt"
	"strings"
)

// Request describes a permission the agent is blocked on.
type Request struct {
	// Engine identifies the agent engine that raised the block.
	Engine string

	// Capability is the blocked capability or category (e.g. "bash",
	// "network", "write").
	Capability string

	// Patterns are the specific invocations requested for
	// pattern-scoped capabilities (e.g. sandboxed commands). Order is
	// preserved.
	Patterns []string

	// Path is the target path, when the capability is path-scoped.
	Path string

	// Meta carries free-form engine-specific detail.
	Meta map[string]string
}

// Describe renders the request for prompts and error messages.
func (r Request) Describe() string {
	var b strings.Builder
	b.WriteString(r.Capability)
	if len(r.Patterns) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(r.Patterns, ", "))
	}
	if r.Path != "" {
		fmt.Fprintf(&b, " on %s", r.Path)
	}
	return b.String()
}

// RequiredError is the distinguished failure raised when an invocation
// stopped on a pending permission decision. It is the only error kind
// the Mediator intercepts; everything else propagates terminally.
type RequiredError struct {
	Request Request
}

func (e *RequiredError) Error() string {
	return fmt.Sprintf("%s: permission required: %s", e.Request.Engine, e.Request.Describe())
}

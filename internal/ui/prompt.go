// Package ui provides the interactive permission prompt.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/drover-dev/drover/internal/permission"
)

// PermissionPrompt asks the user to resolve a permission request. It
// implements permission.Prompter.
type PermissionPrompt struct {
	in  io.Reader
	out io.Writer
}

// NewPermissionPrompt creates a prompt bound to the terminal.
func NewPermissionPrompt() *PermissionPrompt {
	return &PermissionPrompt{in: os.Stdin, out: os.Stderr}
}

// Decide shows the prompt and blocks until the user picks an option.
func (p *PermissionPrompt) Decide(req permission.Request) (permission.Decision, error) {
	program := tea.NewProgram(newPromptModel(req), tea.WithInput(p.in), tea.WithOutput(p.out))
	final, err := program.Run()
	if err != nil {
		return permission.Reject, fmt.Errorf("permission prompt: %w", err)
	}
	m, ok := final.(*promptModel)
	if !ok {
		return permission.Reject, fmt.Errorf("permission prompt: unexpected model")
	}
	return m.decision, nil
}

type promptChoice struct {
	label    string
	decision permission.Decision
}

type promptModel struct {
	req      permission.Request
	choices  []promptChoice
	cursor   int
	done     bool
	decision permission.Decision
}

func newPromptModel(req permission.Request) *promptModel {
	return &promptModel{
		req: req,
		choices: []promptChoice{
			{label: "Allow once", decision: permission.AllowOnce},
			{label: "Allow for this session", decision: permission.AllowAlways},
			{label: "Reject", decision: permission.Reject},
		},
		decision: permission.Reject,
	}
}

func (m *promptModel) Init() tea.Cmd {
	return nil
}

func (m *promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.done = true
			m.decision = permission.Reject
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "j":
			if m.cursor < len(m.choices)-1 {
				m.cursor++
			}
			return m, nil
		case "1", "2", "3":
			idx := int(msg.String()[0] - '1')
			if idx < len(m.choices) {
				m.done = true
				m.decision = m.choices[idx].decision
				return m, tea.Quit
			}
			return m, nil
		case "enter":
			m.done = true
			m.decision = m.choices[m.cursor].decision
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *promptModel) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	title := "Permission Required"
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", len(title)) + "\n\n")

	b.WriteString("  " + m.req.Describe() + "\n")
	if len(m.req.Patterns) > 0 {
		for _, pattern := range m.req.Patterns {
			b.WriteString("    - " + pattern + "\n")
		}
	}
	if m.req.Path != "" {
		b.WriteString("    path: " + m.req.Path + "\n")
	}
	b.WriteString("\n")

	for i, choice := range m.choices {
		cursor := " "
		if i == m.cursor {
			cursor = ">"
		}
		b.WriteString(fmt.Sprintf("  %s %d. %s\n", cursor, i+1, choice.label))
	}

	b.WriteString("\nUse arrows or 1-3, enter to confirm, q to reject\n")
	return b.String()
}

// IsTTY reports whether w is attached to a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Interactive reports whether both stdin and stderr are terminals, which
// the prompt needs to operate.
func Interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && IsTTY(os.Stderr)
}

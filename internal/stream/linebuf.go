package stream

import (
	"regexp"
	"strings"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// LineBuffer assembles raw output chunks into complete lines. Partial
// lines are held until a newline arrives, so no record is ever parsed
// from an incomplete chunk. Carriage returns are normalized away and
// ANSI escape sequences are optionally stripped before parsing.
type LineBuffer struct {
	// StripANSI removes terminal escape sequences from each line.
	StripANSI bool

	partial strings.Builder
}

// Add consumes a chunk and returns the complete lines it finished.
func (b *LineBuffer) Add(chunk string) []string {
	chunk = strings.ReplaceAll(chunk, "\r", "")

	var lines []string
	for {
		idx := strings.IndexByte(chunk, '\n')
		if idx < 0 {
			b.partial.WriteString(chunk)
			return lines
		}
		b.partial.WriteString(chunk[:idx])
		lines = append(lines, b.take())
		chunk = chunk[idx+1:]
	}
}

// Flush returns any buffered partial line as a final line, or "" when
// nothing is pending.
func (b *LineBuffer) Flush() string {
	if b.partial.Len() == 0 {
		return ""
	}
	return b.take()
}

func (b *LineBuffer) take() string {
	line := b.partial.String()
	b.partial.Reset()
	if b.StripANSI {
		line = ansiEscape.ReplaceAllString(line, "")
	}
	return line
}

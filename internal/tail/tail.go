// Package tail reads, renders, and follows per-run JSONL logs.
package tail

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/drover-dev/drover/internal/logging"
)

// DefaultLines is how many trailing records Print shows by default.
const DefaultLines = 40

// Print writes the last n records of a JSONL log as human-readable lines.
func Print(w io.Writer, path string, n int) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	if n <= 0 {
		n = DefaultLines
	}

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log: %w", err)
	}

	for _, line := range lines {
		fmt.Fprintln(w, FormatLine(line))
	}
	return nil
}

// Follow prints records appended to path until ctx is done. Existing
// content is skipped; only new records are shown.
func Follow(ctx context.Context, w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek log: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so renames and recreations are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch log dir: %w", err)
	}

	var partial string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path || !event.Has(fsnotify.Write) {
				continue
			}
			next, err := drain(w, file, offset, &partial)
			if err != nil {
				return err
			}
			offset = next
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch log: %w", err)
		}
	}
}

// drain reads bytes appended past offset and prints complete lines,
// carrying an unterminated trailing line in partial.
func drain(w io.Writer, file *os.File, offset int64, partial *string) (int64, error) {
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log: %w", err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return offset, fmt.Errorf("read log: %w", err)
	}
	offset += int64(len(data))

	buf := *partial + string(data)
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Fprintln(w, FormatLine(line))
	}
	*partial = buf
	return offset, nil
}

// FormatLine renders one JSONL record for the terminal. Lines that fail
// to parse pass through untouched.
func FormatLine(line string) string {
	var rec logging.Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Type == "" {
		return line
	}

	ts := rec.Timestamp.Local().Format("15:04:05")
	switch rec.Type {
	case "usage":
		return fmt.Sprintf("%s  usage  in=%d out=%d cached=%d", ts, rec.TokensIn, rec.TokensOut, rec.Cached)
	case "run":
		return fmt.Sprintf("%s  run finished  exit=%d", ts, rec.ExitCode)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-14s", ts, rec.Type)
	if rec.Tool != "" {
		fmt.Fprintf(&b, " [%s]", rec.Tool)
	}
	if rec.IsError {
		b.WriteString(" (failed)")
	}
	if rec.Text != "" {
		b.WriteString(" " + firstLine(rec.Text))
	}
	return b.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx] + " ..."
	}
	return s
}

// Package logging writes per-run JSONL logs and console output.
package logging

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunLogger manages the JSONL log file for one drover run.
type RunLogger struct {
	Dir     string
	RunID   string
	LogPath string
	file    *os.File
}

// NewRunLogger creates a per-run log directory and JSONL file under
// baseDir/<project-slug>/<run-id>.jsonl.
func NewRunLogger(baseDir, workDir string) (*RunLogger, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("log base dir is empty")
	}

	resolvedWorkDir := workDir
	if resolvedWorkDir == "" {
		resolvedWorkDir = "."
	}
	if abs, err := filepath.Abs(resolvedWorkDir); err == nil {
		resolvedWorkDir = abs
	}

	baseDir = resolveBaseDir(baseDir, resolvedWorkDir)
	projectRoot := resolveProjectRoot(resolvedWorkDir)
	logDir := filepath.Join(baseDir, projectSlug(projectRoot))

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	runID := newRunID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s.jsonl", runID))
	file, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	return &RunLogger{
		Dir:     logDir,
		RunID:   runID,
		LogPath: logPath,
		file:    file,
	}, nil
}

// Writer returns the underlying log file writer.
func (r *RunLogger) Writer() *os.File {
	return r.file
}

// Close closes the log file.
func (r *RunLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

func resolveBaseDir(baseDir, workDir string) string {
	if filepath.IsAbs(baseDir) {
		return filepath.Clean(baseDir)
	}
	return filepath.Clean(filepath.Join(workDir, baseDir))
}

func resolveProjectRoot(workDir string) string {
	if workDir == "" {
		return "."
	}
	if _, err := exec.LookPath("git"); err == nil {
		cmd := exec.Command("git", "-C", workDir, "rev-parse", "--show-toplevel")
		if output, err := cmd.Output(); err == nil {
			root := strings.TrimSpace(string(output))
			if root != "" {
				return root
			}
		}
	}
	return workDir
}

func projectSlug(projectRoot string) string {
	name := filepath.Base(projectRoot)
	slug := slugify(name)
	hash := hashPath(projectRoot)
	return fmt.Sprintf("%s-%s", slug, hash)
}

func slugify(input string) string {
	if strings.TrimSpace(input) == "" {
		return "project"
	}

	var b strings.Builder
	lastUnderscore := false
	for i := 0; i < len(input); i++ {
		c := input[i]
		valid := (c >= 'A' && c <= 'Z') ||
			(c >= 'a' && c <= 'z') ||
			(c >= '0' && c <= '9') ||
			c == '.' || c == '_' || c == '-'
		if !valid {
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		}
		b.WriteByte(c)
		lastUnderscore = false
	}

	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return "project"
	}
	return slug
}

func hashPath(input string) string {
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:])[:8]
}

// newRunID combines a sortable timestamp with a short unique suffix so
// concurrent runs in the same project never collide.
func newRunID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
}

// FindLogDir resolves the log directory for a work directory without
// creating it.
func FindLogDir(baseDir, workDir string) (string, error) {
	if baseDir == "" {
		return "", fmt.Errorf("log base dir is empty")
	}

	resolvedWorkDir := workDir
	if resolvedWorkDir == "" {
		resolvedWorkDir = "."
	}
	if abs, err := filepath.Abs(resolvedWorkDir); err == nil {
		resolvedWorkDir = abs
	}

	baseDir = resolveBaseDir(baseDir, resolvedWorkDir)
	projectRoot := resolveProjectRoot(resolvedWorkDir)
	return filepath.Join(baseDir, projectSlug(projectRoot)), nil
}

// Run describes one logged run.
type Run struct {
	RunID   string
	Path    string
	ModTime time.Time
	Size    int64
}

// FindRuns lists logged runs in a directory, newest first.
func FindRuns(logDir string) ([]Run, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log dir: %w", err)
	}

	var runs []Run
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		runs = append(runs, Run{
			RunID:   strings.TrimSuffix(entry.Name(), ".jsonl"),
			Path:    filepath.Join(logDir, entry.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].ModTime.After(runs[j].ModTime)
	})
	return runs, nil
}

// FindLatestLog finds the newest JSONL log file in a directory, or ""
// when none exist.
func FindLatestLog(logDir string) (string, error) {
	runs, err := FindRuns(logDir)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", nil
	}
	return runs[0].Path, nil
}

// Package workspace defines the project-workspace writing capability.
// Task execution happens outside the kernel; the kernel only records
// completed task outputs through this interface.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Writer persists a task output into the project workspace.
type Writer interface {
	WriteTaskOutput(swarmID, taskID string, output map[string]any) error
}

// DirWriter writes outputs as JSON files under a per-swarm directory.
type DirWriter struct {
	root string
}

func NewDirWriter(root string) *DirWriter {
	return &DirWriter{root: root}
}

func (w *DirWriter) WriteTaskOutput(swarmID, taskID string, output map[string]any) error {
	if w.root == "" || len(output) == 0 {
		return nil
	}
	dir := filepath.Join(w.root, sanitize(swarmID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	path := filepath.Join(dir, sanitize(taskID)+".json")
	return os.WriteFile(path, data, 0o644)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

// Discard is a Writer that drops outputs, for callers that only need
// the kernel's own persistence.
type Discard struct{}

func (Discard) WriteTaskOutput(string, string, map[string]any) error {
	return nil
}

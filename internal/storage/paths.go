package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout names beneath the storage root.
const (
	ConversationsDirName = "contexts"
	ProjectsDirName      = "projects"
	IndexFileName        = "context-index.json"
	HistoryDirName       = "history"
	RecordExt            = ".json"
)

// Paths derives every on-disk location from a single root directory.
// Nothing is created until a write needs it.
type Paths struct {
	Root string
}

// NewPaths returns the layout rooted at root.
func NewPaths(root string) Paths {
	return Paths{Root: filepath.Clean(root)}
}

// ConversationsDir holds all conversation-scoped records.
func (p Paths) ConversationsDir() string {
	return filepath.Join(p.Root, ConversationsDirName)
}

// ProjectsDir holds one subdirectory per project id.
func (p Paths) ProjectsDir() string {
	return filepath.Join(p.Root, ProjectsDirName)
}

// ProjectDir is the partition of a single project.
func (p Paths) ProjectDir(projectID string) string {
	return filepath.Join(p.ProjectsDir(), projectID)
}

// IndexFile is the auxiliary index document.
func (p Paths) IndexFile() string {
	return filepath.Join(p.Root, IndexFileName)
}

// HistoryDir holds the revision history database.
func (p Paths) HistoryDir() string {
	return filepath.Join(p.Root, HistoryDirName)
}

// EnsureDir creates dir and its parents. Pre-existing directories are fine.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// ValidateName checks that s can be used as a single path component.
func ValidateName(field, s string) error {
	switch {
	case strings.TrimSpace(s) == "":
		return fmt.Errorf("%s cannot be empty", field)
	case s == "." || s == "..":
		return fmt.Errorf("%s %q is not a valid name", field, s)
	case strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0):
		return fmt.Errorf("%s %q must not contain path separators", field, s)
	}
	return nil
}

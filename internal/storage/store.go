// Package storage maps context records onto the partitioned file tree.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperr "github.com/DatanoiseTV/contextmcp/internal/errors"
	"github.com/DatanoiseTV/contextmcp/internal/record"
)

// Store reads and writes individual record files keyed by (id, scope).
type Store struct {
	paths Paths
}

// NewStore creates a store over the given layout.
func NewStore(paths Paths) *Store {
	return &Store{paths: paths}
}

// Path resolves the file of (id, projectID). An empty projectID selects
// the conversation partition. No directories are created.
func (s *Store) Path(id, projectID string) (string, error) {
	if err := ValidateName("id", id); err != nil {
		return "", apperr.Wrap(apperr.CodeMalformedArguments, "invalid context id", err)
	}
	if projectID != "" {
		if err := ValidateName("projectId", projectID); err != nil {
			return "", apperr.Wrap(apperr.CodeMalformedArguments, "invalid project id", err)
		}
		return filepath.Join(s.paths.ProjectDir(projectID), id+RecordExt), nil
	}
	return filepath.Join(s.paths.ConversationsDir(), id+RecordExt), nil
}

// Write serializes c to its resolved path, replacing any previous version.
func (s *Store) Write(c record.Context) error {
	path, err := s.Path(c.Common().ID, c.Scope().ProjectID)
	if err != nil {
		return err
	}
	data, err := record.Encode(c)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageFailure, "encode context", err)
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return apperr.Wrap(apperr.CodeStorageFailure, "prepare partition", err)
	}
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return apperr.Wrap(apperr.CodeStorageFailure, "write context", err)
	}
	return nil
}

// Read loads the record stored under (id, projectID). A missing file is
// reported as NotFound; anything else is a storage failure.
func (s *Store) Read(id, projectID string) (record.Context, error) {
	path, err := s.Path(id, projectID)
	if err != nil {
		return nil, err
	}
	c, err := Load(path, scopeOf(projectID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Newf(apperr.CodeNotFound, "Context not found with ID: %s", id)
	}
	return c, err
}

// Load decodes the record file at path, which must lie in the partition
// of scope. Missing files surface as fs.ErrNotExist; read and decode
// failures, and records whose kind, scope or id contradict their
// location, as StorageFailure.
func Load(path string, scope record.Scope) (record.Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.CodeStorageFailure, "read context", err)
	}
	c, err := record.Decode(data)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, fmt.Sprintf("decode %s", path), err)
	}
	if err := checkLocation(c, path, scope); err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, fmt.Sprintf("load %s", path), err)
	}
	return c, nil
}

func scopeOf(projectID string) record.Scope {
	if projectID == "" {
		return record.ConversationScope
	}
	return record.ProjectScope(projectID)
}

func checkLocation(c record.Context, path string, scope record.Scope) error {
	if got := c.Scope(); got != scope {
		return fmt.Errorf("%s context with scope %s found in %s partition", c.Kind(), got, scope)
	}
	if id := strings.TrimSuffix(filepath.Base(path), RecordExt); c.Common().ID != id {
		return fmt.Errorf("context id %q does not match file name", c.Common().ID)
	}
	return nil
}

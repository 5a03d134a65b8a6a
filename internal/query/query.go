// Package query answers list requests by reading partitions directly.
package query

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperr "github.com/DatanoiseTV/contextmcp/internal/errors"
	"github.com/DatanoiseTV/contextmcp/internal/record"
	"github.com/DatanoiseTV/contextmcp/internal/storage"
)

// Filter narrows a listing. Zero-valued fields do not filter.
type Filter struct {
	ProjectID string
	Tag       string
	Kind      record.Kind
}

// Engine lists records from the file tree.
type Engine struct {
	paths storage.Paths
}

// NewEngine creates an engine over the given layout.
func NewEngine(paths storage.Paths) *Engine {
	return &Engine{paths: paths}
}

// List returns the records matching f, most recent first. A single
// unreadable record fails the whole listing.
func (e *Engine) List(f Filter) ([]record.Context, error) {
	var (
		contexts []record.Context
		err      error
	)
	switch {
	case f.ProjectID != "":
		if verr := storage.ValidateName("projectId", f.ProjectID); verr != nil {
			return nil, apperr.Wrap(apperr.CodeMalformedArguments, "invalid project id", verr)
		}
		contexts, err = readPartition(e.paths.ProjectDir(f.ProjectID), record.ProjectScope(f.ProjectID))
	case f.Kind == record.KindProject:
		contexts, err = e.readProjects()
	case f.Kind == record.KindConversation:
		contexts, err = readPartition(e.paths.ConversationsDir(), record.ConversationScope)
	default:
		contexts, err = e.All()
	}
	if err != nil {
		return nil, err
	}

	if f.Tag != "" {
		kept := contexts[:0]
		for _, c := range contexts {
			if record.HasTag(c, f.Tag) {
				kept = append(kept, c)
			}
		}
		contexts = kept
	}

	SortByRecency(contexts)
	return contexts, nil
}

// All returns every record in the project tree followed by the
// conversation partition, unsorted.
func (e *Engine) All() ([]record.Context, error) {
	projects, err := e.readProjects()
	if err != nil {
		return nil, err
	}
	conversations, err := readPartition(e.paths.ConversationsDir(), record.ConversationScope)
	if err != nil {
		return nil, err
	}
	return append(projects, conversations...), nil
}

// SortByRecency orders contexts by timestamp, newest first. Equal
// timestamps keep their read order.
func SortByRecency(contexts []record.Context) {
	sort.SliceStable(contexts, func(i, j int) bool {
		return contexts[i].Common().Timestamp.After(contexts[j].Common().Timestamp)
	})
}

func (e *Engine) readProjects() ([]record.Context, error) {
	entries, err := readDir(e.paths.ProjectsDir())
	if err != nil {
		return nil, err
	}
	contexts := []record.Context{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		found, err := readPartition(e.paths.ProjectDir(entry.Name()), record.ProjectScope(entry.Name()))
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, found...)
	}
	return contexts, nil
}

// readPartition decodes every *.json file directly inside dir, the
// partition of scope.
func readPartition(dir string, scope record.Scope) ([]record.Context, error) {
	entries, err := readDir(dir)
	if err != nil {
		return nil, err
	}
	contexts := []record.Context{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), storage.RecordExt) {
			continue
		}
		c, err := storage.Load(filepath.Join(dir, entry.Name()), scope)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// removed between ReadDir and ReadFile
				continue
			}
			return nil, err
		}
		contexts = append(contexts, c)
	}
	return contexts, nil
}

// readDir lists dir in name order; a missing directory is an empty partition.
func readDir(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.CodeStorageFailure, "list "+dir, err)
	}
	return entries, nil
}

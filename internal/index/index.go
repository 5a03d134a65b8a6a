// Package index maintains the auxiliary file listing every known record.
//
// The index is a non-authoritative cache over the record tree: a missing or
// corrupt index file is treated as empty and rewritten on the next upsert.
// Mutations are serialized by an in-process mutex and an advisory lock
// on a sibling ".lock" file, so concurrent writers in one or several
// processes do not drop each other's entries.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/DatanoiseTV/contextmcp/internal/record"
	"github.com/DatanoiseTV/contextmcp/internal/storage"
)

// DefaultLockTimeout bounds how long a writer waits for the index lock.
const DefaultLockTimeout = 5 * time.Second

const lockRetryDelay = 20 * time.Millisecond

// ErrLockTimeout is returned when the index lock could not be acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for index lock")

// document is the on-disk shape of the index file.
type document struct {
	Contexts []json.RawMessage `json:"contexts"`
}

// Manager reads and rewrites the index file.
type Manager struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
	logger      zerolog.Logger
	mu          sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lockTimeout = d
		}
	}
}

// WithLogger sets the logger used for best-effort fallbacks.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager for the index file at path.
func NewManager(path string, opts ...Option) *Manager {
	m := &Manager{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: DefaultLockTimeout,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the index file location.
func (m *Manager) Path() string {
	return m.path
}

// Entries returns the indexed records. A missing or unreadable index
// yields an empty list.
func (m *Manager) Entries() []record.Context {
	return m.load()
}

// Upsert replaces the entry sharing c's (id, scope), or appends c.
func (m *Manager) Upsert(ctx context.Context, c record.Context) error {
	return m.withLock(ctx, func() error {
		entries := m.load()
		replaced := false
		for i, e := range entries {
			if record.SameKey(e, c) {
				entries[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, c)
		}
		return m.write(entries)
	})
}

// Rebuild replaces the whole index with records.
func (m *Manager) Rebuild(ctx context.Context, records []record.Context) error {
	return m.withLock(ctx, func() error {
		return m.write(records)
	})
}

func (m *Manager) withLock(ctx context.Context, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := storage.EnsureDir(filepath.Dir(m.path)); err != nil {
		return err
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	locked, err := m.lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %v", ErrLockTimeout, m.lockTimeout)
		}
		return fmt.Errorf("failed to lock index: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w after %v", ErrLockTimeout, m.lockTimeout)
	}
	defer func() {
		if err := m.lock.Unlock(); err != nil {
			m.logger.Warn().Err(err).Str("path", m.path).Msg("failed to release index lock")
		}
	}()

	return fn()
}

// load reads the index, degrading to empty on any failure.
func (m *Manager) load() []record.Context {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn().Err(err).Str("path", m.path).Msg("index unreadable, treating as empty")
		}
		return []record.Context{}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		m.logger.Warn().Err(err).Str("path", m.path).Msg("index corrupt, treating as empty")
		return []record.Context{}
	}

	entries := make([]record.Context, 0, len(doc.Contexts))
	for i, raw := range doc.Contexts {
		c, err := record.Decode(raw)
		if err != nil {
			m.logger.Warn().Err(err).Int("entry", i).Msg("dropping unreadable index entry")
			continue
		}
		entries = append(entries, c)
	}
	return entries
}

func (m *Manager) write(entries []record.Context) error {
	if entries == nil {
		entries = []record.Context{}
	}
	data, err := json.MarshalIndent(struct {
		Contexts []record.Context `json:"contexts"`
	}{entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := storage.WriteFileAtomic(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

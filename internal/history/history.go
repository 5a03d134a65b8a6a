// Package history keeps prior revisions of every saved context in BadgerDB.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/DatanoiseTV/contextmcp/internal/record"
)

// DefaultLimit is the number of revisions retained per context.
const DefaultLimit = 50

// Revision is one saved version of a context.
type Revision struct {
	Revision   int             `json:"revision"`
	RevisionID string          `json:"revisionId"`
	SavedAt    time.Time       `json:"savedAt"`
	Record     json.RawMessage `json:"record"`
}

// entry is the stored value: all revisions of one (scope, id) key.
type entry struct {
	ID        string     `json:"id"`
	Scope     string     `json:"scope"`
	Latest    int        `json:"latest"`
	Revisions []Revision `json:"revisions"`
}

// Log is a badger-backed revision log.
type Log struct {
	db    *badger.DB
	limit int

	// mu serializes Append. Each append rewrites the key's entry, so
	// concurrent transactions on one key would conflict.
	mu sync.Mutex
}

// Open opens (or creates) the revision database in dir. An empty dir
// opens an in-memory database.
func Open(dir string, limit int) (*Log, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{db: db, limit: limit}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func key(id string, scope record.Scope) []byte {
	return []byte(scope.String() + "\x00" + id)
}

// Append records c as the newest revision of its (id, scope) and trims
// the history to the configured limit.
func (l *Log) Append(c record.Context) (Revision, error) {
	snapshot, err := record.Encode(c)
	if err != nil {
		return Revision{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var rev Revision
	err = l.db.Update(func(txn *badger.Txn) error {
		k := key(c.Common().ID, c.Scope())
		e, err := getEntry(txn, k)
		if err != nil {
			return err
		}
		if e == nil {
			e = &entry{ID: c.Common().ID, Scope: c.Scope().String()}
		}

		rev = Revision{
			Revision:   e.Latest + 1,
			RevisionID: uuid.NewString(),
			SavedAt:    c.Common().Timestamp,
			Record:     snapshot,
		}
		e.Latest = rev.Revision
		e.Revisions = append(e.Revisions, rev)
		if over := len(e.Revisions) - l.limit; over > 0 {
			e.Revisions = e.Revisions[over:]
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal history: %w", err)
		}
		return txn.Set(k, data)
	})
	return rev, err
}

// Revisions returns the retained revisions of (id, projectID), oldest first.
// Unknown keys yield an empty list.
func (l *Log) Revisions(id, projectID string) ([]Revision, error) {
	var revs []Revision
	err := l.db.View(func(txn *badger.Txn) error {
		e, err := getEntry(txn, key(id, record.ProjectScope(projectID)))
		if err != nil || e == nil {
			return err
		}
		revs = e.Revisions
		return nil
	})
	if revs == nil {
		revs = []Revision{}
	}
	return revs, err
}

func getEntry(txn *badger.Txn, k []byte) (*entry, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e := &entry{}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, e)
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return e, nil
}

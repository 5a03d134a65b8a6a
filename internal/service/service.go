// Package service is the operation surface consumed by the transport:
// save, get, list and history over the record store, index and query engine.
package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperr "github.com/DatanoiseTV/contextmcp/internal/errors"
	"github.com/DatanoiseTV/contextmcp/internal/history"
	"github.com/DatanoiseTV/contextmcp/internal/index"
	"github.com/DatanoiseTV/contextmcp/internal/query"
	"github.com/DatanoiseTV/contextmcp/internal/record"
	"github.com/DatanoiseTV/contextmcp/internal/storage"
)

// ProjectInput carries the arguments of save_project_context.
type ProjectInput struct {
	ID              string
	ProjectID       string
	Content         string
	ParentContextID string
	References      []string
	Tags            []string
	Metadata        map[string]any
}

// ConversationInput carries the arguments of save_conversation_context.
type ConversationInput struct {
	ID             string
	SessionID      string
	Content        string
	ContinuationOf string
	Tags           []string
	Metadata       map[string]any
}

// Service wires the store, index, query engine and optional history.
type Service struct {
	store   *storage.Store
	index   *index.Manager
	query   *query.Engine
	history *history.Log
	logger  zerolog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHistory enables revision history.
func WithHistory(l *history.Log) Option {
	return func(s *Service) { s.history = l }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a service over paths. The index manager is shared with
// maintenance commands, so it is passed in.
func New(paths storage.Paths, idx *index.Manager, opts ...Option) *Service {
	s := &Service{
		store:  storage.NewStore(paths),
		index:  idx,
		query:  query.NewEngine(paths),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HistoryEnabled reports whether revisions are being recorded.
func (s *Service) HistoryEnabled() bool {
	return s.history != nil
}

// SaveProjectContext stores a project-scoped context, replacing any
// previous record with the same (id, projectId).
func (s *Service) SaveProjectContext(ctx context.Context, in ProjectInput) (*record.ProjectContext, error) {
	if err := requireName("id", in.ID); err != nil {
		return nil, err
	}
	if err := requireName("projectId", in.ProjectID); err != nil {
		return nil, err
	}
	if err := requireContent(in.Content); err != nil {
		return nil, err
	}

	c := &record.ProjectContext{
		Base:            s.base(in.ID, in.Content, in.Tags, in.Metadata),
		ProjectID:       in.ProjectID,
		ParentContextID: in.ParentContextID,
		References:      in.References,
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SaveConversationContext stores a conversation-scoped context. The
// session id is kept on the record but does not affect where it lives.
func (s *Service) SaveConversationContext(ctx context.Context, in ConversationInput) (*record.ConversationContext, error) {
	if err := requireName("id", in.ID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, apperr.New(apperr.CodeMalformedArguments, "sessionId is required")
	}
	if err := requireContent(in.Content); err != nil {
		return nil, err
	}

	c := &record.ConversationContext{
		Base:           s.base(in.ID, in.Content, in.Tags, in.Metadata),
		SessionID:      in.SessionID,
		ContinuationOf: in.ContinuationOf,
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetContext returns the content of the record stored under (id, projectID).
func (s *Service) GetContext(_ context.Context, id, projectID string) (string, error) {
	if err := requireName("id", id); err != nil {
		return "", err
	}
	c, err := s.store.Read(id, projectID)
	if err != nil {
		return "", err
	}
	return c.Common().Content, nil
}

// ListContexts returns the full records matching f, most recent first.
func (s *Service) ListContexts(_ context.Context, f query.Filter) ([]record.Context, error) {
	return s.query.List(f)
}

// ContextHistory returns the retained revisions of (id, projectID).
func (s *Service) ContextHistory(_ context.Context, id, projectID string) ([]history.Revision, error) {
	if s.history == nil {
		return nil, apperr.New(apperr.CodeUnknownOperation, "context history is disabled")
	}
	if err := requireName("id", id); err != nil {
		return nil, err
	}
	if projectID != "" {
		if err := requireName("projectId", projectID); err != nil {
			return nil, err
		}
	}
	revs, err := s.history.Revisions(id, projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, "read history", err)
	}
	return revs, nil
}

// Reindex rebuilds the index from a full scan of the partitions and
// returns the number of records indexed.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	all, err := s.query.All()
	if err != nil {
		return 0, err
	}
	if err := s.index.Rebuild(ctx, all); err != nil {
		return 0, apperr.Wrap(apperr.CodeStorageFailure, "rebuild index", err)
	}
	s.logger.Info().Int("records", len(all)).Str("index", s.index.Path()).Msg("index rebuilt")
	return len(all), nil
}

// IndexReport compares the index with the records on disk. Keys are
// "<scope>/<id>", e.g. "project/p1/c1" or "conversation/c2".
type IndexReport struct {
	OnDisk   int
	Indexed  int
	Missing  []string // on disk, absent from the index
	Stale    []string // indexed, no longer on disk
	Outdated []string // indexed with a different timestamp or content
}

// InSync reports whether the index matches the partitions exactly.
func (r IndexReport) InSync() bool {
	return len(r.Missing) == 0 && len(r.Stale) == 0 && len(r.Outdated) == 0
}

// CheckIndex scans the partitions and reports how the index differs,
// without writing anything.
func (s *Service) CheckIndex(_ context.Context) (IndexReport, error) {
	all, err := s.query.All()
	if err != nil {
		return IndexReport{}, err
	}
	entries := s.index.Entries()

	indexed := make(map[string]record.Context, len(entries))
	for _, c := range entries {
		indexed[indexKey(c)] = c
	}

	report := IndexReport{OnDisk: len(all), Indexed: len(entries)}
	seen := make(map[string]bool, len(all))
	for _, c := range all {
		k := indexKey(c)
		seen[k] = true
		e, ok := indexed[k]
		switch {
		case !ok:
			report.Missing = append(report.Missing, k)
		case !e.Common().Timestamp.Equal(c.Common().Timestamp) || e.Common().Content != c.Common().Content:
			report.Outdated = append(report.Outdated, k)
		}
	}
	for _, c := range entries {
		if k := indexKey(c); !seen[k] {
			report.Stale = append(report.Stale, k)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Stale)
	sort.Strings(report.Outdated)
	return report, nil
}

func indexKey(c record.Context) string {
	return c.Scope().String() + "/" + c.Common().ID
}

// save writes the record, then updates the index and history. The record
// file is authoritative: index and history failures are logged only.
func (s *Service) save(ctx context.Context, c record.Context) error {
	if err := s.store.Write(c); err != nil {
		return err
	}

	log := s.logger.With().Str("id", c.Common().ID).Str("scope", c.Scope().String()).Logger()
	if err := s.index.Upsert(ctx, c); err != nil {
		log.Warn().Err(err).Msg("failed to update index")
	}
	if s.history != nil {
		if _, err := s.history.Append(c); err != nil {
			log.Warn().Err(err).Msg("failed to record history")
		}
	}
	log.Debug().Msg("context saved")
	return nil
}

func (s *Service) base(id, content string, tags []string, metadata map[string]any) record.Base {
	return record.Base{
		ID:        id,
		Content:   content,
		Timestamp: s.now().UTC(),
		Tags:      tags,
		Metadata:  metadata,
	}
}

func requireName(field, value string) error {
	if err := storage.ValidateName(field, value); err != nil {
		return apperr.Wrap(apperr.CodeMalformedArguments, "invalid "+field, err)
	}
	return nil
}

func requireContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.New(apperr.CodeMalformedArguments, "content is required")
	}
	return nil
}

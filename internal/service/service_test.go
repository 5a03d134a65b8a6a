package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/DatanoiseTV/contextmcp/internal/errors"
	"github.com/DatanoiseTV/contextmcp/internal/history"
	"github.com/DatanoiseTV/contextmcp/internal/index"
	"github.com/DatanoiseTV/contextmcp/internal/query"
	"github.com/DatanoiseTV/contextmcp/internal/record"
	"github.com/DatanoiseTV/contextmcp/internal/storage"
)

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type env struct {
	svc   *Service
	paths storage.Paths
	index *index.Manager
}

func newTestService(t *testing.T, withHistory bool) *env {
	t.Helper()
	paths := storage.NewPaths(t.TempDir())
	idx := index.NewManager(paths.IndexFile())
	clock := &stepClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}

	opts := []Option{WithClock(clock.Now)}
	if withHistory {
		log, err := history.Open("", 0)
		require.NoError(t, err)
		t.Cleanup(func() { _ = log.Close() })
		opts = append(opts, WithHistory(log))
	}
	return &env{svc: New(paths, idx, opts...), paths: paths, index: idx}
}

func (e *env) call(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	out, err := e.svc.Dispatch(context.Background(), name, args)
	require.NoError(t, err)
	return out
}

func (e *env) list(t *testing.T, args map[string]any) []record.Context {
	t.Helper()
	var raw []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(e.call(t, OpListContexts, args)), &raw))
	contexts := make([]record.Context, 0, len(raw))
	for _, r := range raw {
		c, err := record.Decode(r)
		require.NoError(t, err)
		contexts = append(contexts, c)
	}
	return contexts
}

func TestScenario_ProjectSaveGetList(t *testing.T) {
	e := newTestService(t, false)

	out := e.call(t, OpSaveProjectContext, map[string]any{"id": "c1", "projectId": "proj1", "content": "hello"})
	assert.Equal(t, "Project context saved with ID: c1", out)

	assert.Equal(t, "hello", e.call(t, OpGetContext, map[string]any{"id": "c1", "projectId": "proj1"}))

	listed := e.list(t, map[string]any{"projectId": "proj1"})
	require.Len(t, listed, 1)
	assert.Equal(t, "c1", listed[0].Common().ID)

	assert.Equal(t, "[]", e.call(t, OpListContexts, map[string]any{"type": "conversation"}))
}

func TestRoundTrip_ConversationContext(t *testing.T) {
	e := newTestService(t, false)

	out := e.call(t, OpSaveConversationContext, map[string]any{
		"id":             "conv1",
		"sessionId":      "session-9",
		"content":        "multi\nline content",
		"continuationOf": "conv0",
		"tags":           []any{"a", "b"},
		"metadata":       map[string]any{"model": "x", "turns": float64(3)},
	})
	assert.Equal(t, "Conversation context saved with ID: conv1", out)
	assert.Equal(t, "multi\nline content", e.call(t, OpGetContext, map[string]any{"id": "conv1"}))

	// sessionId does not become a path component
	assert.FileExists(t, filepath.Join(e.paths.ConversationsDir(), "conv1.json"))

	listed := e.list(t, nil)
	require.Len(t, listed, 1)
	conv, ok := listed[0].(*record.ConversationContext)
	require.True(t, ok)
	assert.Equal(t, "session-9", conv.SessionID)
	assert.Equal(t, "conv0", conv.ContinuationOf)
	assert.Equal(t, []string{"a", "b"}, conv.Tags)
	assert.Equal(t, map[string]any{"model": "x", "turns": float64(3)}, conv.Metadata)
}

func TestOverwrite_LeavesSecondContentAndOneIndexEntry(t *testing.T) {
	e := newTestService(t, false)

	e.call(t, OpSaveProjectContext, map[string]any{"id": "c1", "projectId": "p", "content": "first"})
	e.call(t, OpSaveProjectContext, map[string]any{"id": "c1", "projectId": "p", "content": "second"})

	assert.Equal(t, "second", e.call(t, OpGetContext, map[string]any{"id": "c1", "projectId": "p"}))
	entries := e.index.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Common().Content)
}

func TestScopeIsolation(t *testing.T) {
	e := newTestService(t, false)

	e.call(t, OpSaveConversationContext, map[string]any{"id": "x", "sessionId": "s", "content": "conversation"})
	e.call(t, OpSaveProjectContext, map[string]any{"id": "x", "projectId": "p", "content": "project"})

	assert.Equal(t, "conversation", e.call(t, OpGetContext, map[string]any{"id": "x"}))
	assert.Equal(t, "project", e.call(t, OpGetContext, map[string]any{"id": "x", "projectId": "p"}))
	assert.Len(t, e.index.Entries(), 2)
}

func TestTimestampAssignedAtSave(t *testing.T) {
	e := newTestService(t, false)

	e.call(t, OpSaveProjectContext, map[string]any{"id": "c", "projectId": "p", "content": "v1"})
	first := e.list(t, nil)[0].Common().Timestamp
	e.call(t, OpSaveProjectContext, map[string]any{"id": "c", "projectId": "p", "content": "v2"})
	second := e.list(t, nil)[0].Common().Timestamp

	assert.True(t, second.After(first))
	assert.Equal(t, time.UTC, second.Location())
}

func TestListRecencyAndTagFilter(t *testing.T) {
	e := newTestService(t, false)

	e.call(t, OpSaveConversationContext, map[string]any{"id": "t1", "sessionId": "s", "content": "1", "tags": []any{"t"}})
	e.call(t, OpSaveProjectContext, map[string]any{"id": "t2", "projectId": "p", "content": "2"})
	e.call(t, OpSaveProjectContext, map[string]any{"id": "t3", "projectId": "q", "content": "3", "tags": []any{"t", "u"}})

	all := e.list(t, nil)
	require.Len(t, all, 3)
	assert.Equal(t, "t3", all[0].Common().ID)
	assert.Equal(t, "t2", all[1].Common().ID)
	assert.Equal(t, "t1", all[2].Common().ID)

	tagged := e.list(t, map[string]any{"tag": "t"})
	require.Len(t, tagged, 2)
	assert.Equal(t, "t3", tagged[0].Common().ID)
	assert.Equal(t, "t1", tagged[1].Common().ID)

	projects := e.list(t, map[string]any{"type": "project"})
	assert.Len(t, projects, 2)
}

func TestGetMissing_IsNotFoundAndCreatesNothing(t *testing.T) {
	e := newTestService(t, false)

	_, err := e.svc.Dispatch(context.Background(), OpGetContext, map[string]any{"id": "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, apperr.RPCInvalidRequest, apperr.RPCCode(err))
	assert.Contains(t, err.Error(), "missing")

	entries, err := os.ReadDir(e.paths.Root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDispatch_MalformedArgumentsFailBeforeIO(t *testing.T) {
	e := newTestService(t, false)

	cases := []struct {
		name string
		op   string
		args map[string]any
	}{
		{"missing id", OpSaveProjectContext, map[string]any{"projectId": "p", "content": "x"}},
		{"missing projectId", OpSaveProjectContext, map[string]any{"id": "a", "content": "x"}},
		{"empty content", OpSaveProjectContext, map[string]any{"id": "a", "projectId": "p", "content": ""}},
		{"blank content", OpSaveConversationContext, map[string]any{"id": "a", "sessionId": "s", "content": " \n\t"}},
		{"blank id", OpSaveProjectContext, map[string]any{"id": "  ", "projectId": "p", "content": "x"}},
		{"blank sessionId", OpSaveConversationContext, map[string]any{"id": "a", "sessionId": " ", "content": "x"}},
		{"missing sessionId", OpSaveConversationContext, map[string]any{"id": "a", "content": "x"}},
		{"id not a string", OpSaveConversationContext, map[string]any{"id": 7.0, "sessionId": "s", "content": "x"}},
		{"tags not strings", OpSaveConversationContext, map[string]any{"id": "a", "sessionId": "s", "content": "x", "tags": []any{1.0}}},
		{"tags not array", OpSaveProjectContext, map[string]any{"id": "a", "projectId": "p", "content": "x", "tags": "t"}},
		{"metadata not object", OpSaveProjectContext, map[string]any{"id": "a", "projectId": "p", "content": "x", "metadata": "m"}},
		{"references not strings", OpSaveProjectContext, map[string]any{"id": "a", "projectId": "p", "content": "x", "references": []any{true}}},
		{"path traversal", OpSaveProjectContext, map[string]any{"id": "../a", "projectId": "p", "content": "x"}},
		{"get without id", OpGetContext, map[string]any{}},
		{"bad type", OpListContexts, map[string]any{"type": "memo"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.Dispatch(context.Background(), tc.op, tc.args)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrMalformedArguments)
		})
	}

	entries, err := os.ReadDir(e.paths.Root)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial writes")
}

func TestDispatch_UnknownOperation(t *testing.T) {
	e := newTestService(t, false)

	_, err := e.svc.Dispatch(context.Background(), "delete_context", map[string]any{"id": "a"})
	assert.ErrorIs(t, err, apperr.ErrUnknownOperation)
	assert.Equal(t, apperr.RPCMethodNotFound, apperr.RPCCode(err))

	// history is not exposed when disabled
	_, err = e.svc.Dispatch(context.Background(), OpGetContextHistory, map[string]any{"id": "a"})
	assert.ErrorIs(t, err, apperr.ErrUnknownOperation)
}

func TestSave_SucceedsWhenIndexIsUnwritable(t *testing.T) {
	e := newTestService(t, false)
	// a directory where the index file should be makes every index write fail
	require.NoError(t, os.MkdirAll(e.paths.IndexFile(), 0o755))

	out := e.call(t, OpSaveProjectContext, map[string]any{"id": "c1", "projectId": "p", "content": "kept"})
	assert.Equal(t, "Project context saved with ID: c1", out)
	assert.Equal(t, "kept", e.call(t, OpGetContext, map[string]any{"id": "c1", "projectId": "p"}))
}

func TestListCorruptRecord_IsStorageFailure(t *testing.T) {
	e := newTestService(t, false)
	e.call(t, OpSaveConversationContext, map[string]any{"id": "ok", "sessionId": "s", "content": "x"})
	require.NoError(t, os.WriteFile(filepath.Join(e.paths.ConversationsDir(), "broken.json"), []byte("{"), 0o644))

	_, err := e.svc.ListContexts(context.Background(), query.Filter{})
	assert.ErrorIs(t, err, apperr.ErrStorageFailure)
	assert.Equal(t, apperr.RPCInternalError, apperr.RPCCode(err))
}

func TestHistory_RecordsEverySave(t *testing.T) {
	e := newTestService(t, true)

	e.call(t, OpSaveProjectContext, map[string]any{"id": "c1", "projectId": "p", "content": "v1"})
	e.call(t, OpSaveProjectContext, map[string]any{"id": "c1", "projectId": "p", "content": "v2"})
	e.call(t, OpSaveConversationContext, map[string]any{"id": "c1", "sessionId": "s", "content": "other scope"})

	var revs []history.Revision
	require.NoError(t, json.Unmarshal([]byte(e.call(t, OpGetContextHistory, map[string]any{"id": "c1", "projectId": "p"})), &revs))
	require.Len(t, revs, 2)
	assert.Equal(t, 1, revs[0].Revision)
	assert.Equal(t, 2, revs[1].Revision)

	snap, err := record.Decode(revs[0].Record)
	require.NoError(t, err)
	assert.Equal(t, "v1", snap.Common().Content)

	assert.Equal(t, "[]", e.call(t, OpGetContextHistory, map[string]any{"id": "never-saved"}))
}

func TestReindex_RebuildsFromTree(t *testing.T) {
	e := newTestService(t, false)
	e.call(t, OpSaveProjectContext, map[string]any{"id": "a", "projectId": "p", "content": "x"})
	e.call(t, OpSaveConversationContext, map[string]any{"id": "b", "sessionId": "s", "content": "y"})
	require.NoError(t, os.WriteFile(e.paths.IndexFile(), []byte("garbage"), 0o644))

	n, err := e.svc.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, e.index.Entries(), 2)
}

func TestHistory_ConcurrentSavesKeepEveryRevision(t *testing.T) {
	e := newTestService(t, true)
	const n = 40

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.svc.Dispatch(context.Background(), OpSaveProjectContext, map[string]any{
				"id": "same", "projectId": "p", "content": fmt.Sprintf("v%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	revs, err := e.svc.ContextHistory(context.Background(), "same", "p")
	require.NoError(t, err)
	require.Len(t, revs, n)
	for i, rev := range revs {
		assert.Equal(t, i+1, rev.Revision)
	}
}

func TestCheckIndex_ReportsDrift(t *testing.T) {
	e := newTestService(t, false)
	e.call(t, OpSaveProjectContext, map[string]any{"id": "a", "projectId": "p", "content": "x"})
	e.call(t, OpSaveConversationContext, map[string]any{"id": "b", "sessionId": "s", "content": "y"})

	report, err := e.svc.CheckIndex(context.Background())
	require.NoError(t, err)
	assert.True(t, report.InSync())
	assert.Equal(t, 2, report.OnDisk)
	assert.Equal(t, 2, report.Indexed)

	// b disappears from disk, c is written behind the index's back and a
	// is rewritten with new content.
	require.NoError(t, os.Remove(filepath.Join(e.paths.ConversationsDir(), "b.json")))
	require.NoError(t, storage.NewStore(e.paths).Write(&record.ConversationContext{
		Base:      record.Base{ID: "c", Content: "z", Timestamp: time.Now().UTC()},
		SessionID: "s",
	}))
	require.NoError(t, storage.NewStore(e.paths).Write(&record.ProjectContext{
		Base:      record.Base{ID: "a", Content: "changed", Timestamp: time.Now().UTC()},
		ProjectID: "p",
	}))

	report, err = e.svc.CheckIndex(context.Background())
	require.NoError(t, err)
	assert.False(t, report.InSync())
	assert.Equal(t, []string{"conversation/c"}, report.Missing)
	assert.Equal(t, []string{"conversation/b"}, report.Stale)
	assert.Equal(t, []string{"project/p/a"}, report.Outdated)

	_, err = e.svc.Reindex(context.Background())
	require.NoError(t, err)
	report, err = e.svc.CheckIndex(context.Background())
	require.NoError(t, err)
	assert.True(t, report.InSync())
}

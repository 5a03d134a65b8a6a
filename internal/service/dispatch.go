package service

import (
	"context"
	"encoding/json"
	"fmt"

	apperr "github.com/DatanoiseTV/contextmcp/internal/errors"
	"github.com/DatanoiseTV/contextmcp/internal/query"
	"github.com/DatanoiseTV/contextmcp/internal/record"
)

// Operation names exposed to the transport.
const (
	OpSaveProjectContext      = "save_project_context"
	OpSaveConversationContext = "save_conversation_context"
	OpGetContext              = "get_context"
	OpListContexts            = "list_contexts"
	OpGetContextHistory       = "get_context_history"
)

// Dispatch runs the named operation against a loosely-typed argument map
// and returns the text of the single result block. Argument shape is
// checked before any I/O.
func (s *Service) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	a := argReader{args: args}

	switch name {
	case OpSaveProjectContext:
		in := ProjectInput{
			ID:              a.str("id"),
			ProjectID:       a.str("projectId"),
			Content:         a.str("content"),
			ParentContextID: a.str("parentContextId"),
			References:      a.strings("references"),
			Tags:            a.strings("tags"),
			Metadata:        a.object("metadata"),
		}
		if err := a.err(); err != nil {
			return "", err
		}
		if _, err := s.SaveProjectContext(ctx, in); err != nil {
			return "", err
		}
		return fmt.Sprintf("Project context saved with ID: %s", in.ID), nil

	case OpSaveConversationContext:
		in := ConversationInput{
			ID:             a.str("id"),
			SessionID:      a.str("sessionId"),
			Content:        a.str("content"),
			ContinuationOf: a.str("continuationOf"),
			Tags:           a.strings("tags"),
			Metadata:       a.object("metadata"),
		}
		if err := a.err(); err != nil {
			return "", err
		}
		if _, err := s.SaveConversationContext(ctx, in); err != nil {
			return "", err
		}
		return fmt.Sprintf("Conversation context saved with ID: %s", in.ID), nil

	case OpGetContext:
		id, projectID := a.str("id"), a.str("projectId")
		if err := a.err(); err != nil {
			return "", err
		}
		return s.GetContext(ctx, id, projectID)

	case OpListContexts:
		f := query.Filter{ProjectID: a.str("projectId"), Tag: a.str("tag")}
		kind := a.str("type")
		if err := a.err(); err != nil {
			return "", err
		}
		if kind != "" {
			k, err := record.ParseKind(kind)
			if err != nil {
				return "", apperr.Wrap(apperr.CodeMalformedArguments, "invalid type", err)
			}
			f.Kind = k
		}
		contexts, err := s.ListContexts(ctx, f)
		if err != nil {
			return "", err
		}
		return marshalResult(contexts)

	case OpGetContextHistory:
		if s.history == nil {
			break
		}
		id, projectID := a.str("id"), a.str("projectId")
		if err := a.err(); err != nil {
			return "", err
		}
		revs, err := s.ContextHistory(ctx, id, projectID)
		if err != nil {
			return "", err
		}
		return marshalResult(revs)
	}

	return "", apperr.Newf(apperr.CodeUnknownOperation, "Unknown tool: %s", name)
}

func marshalResult(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", apperr.Wrap(apperr.CodeStorageFailure, "encode result", err)
	}
	return string(data), nil
}

// argReader pulls typed values out of a JSON-decoded argument map,
// remembering the first shape error.
type argReader struct {
	args  map[string]any
	first error
}

func (a *argReader) fail(name, want string, got any) {
	if a.first == nil {
		a.first = apperr.Newf(apperr.CodeMalformedArguments, "%s must be %s, got %T", name, want, got)
	}
}

func (a *argReader) err() error {
	return a.first
}

// str returns a string argument; absent or null yields "".
func (a *argReader) str(name string) string {
	v, ok := a.args[name]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		a.fail(name, "a string", v)
	}
	return s
}

// strings returns a string-array argument; absent or null yields nil.
func (a *argReader) strings(name string) []string {
	v, ok := a.args[name]
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				a.fail(name, "an array of strings", item)
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		a.fail(name, "an array of strings", v)
		return nil
	}
}

// object returns an object argument; absent or null yields nil.
func (a *argReader) object(name string) map[string]any {
	v, ok := a.args[name]
	if !ok || v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		a.fail(name, "an object", v)
	}
	return m
}

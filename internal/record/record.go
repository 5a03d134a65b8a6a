// Package record defines the persisted context entities and their JSON form.
package record

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Kind discriminates the two context variants.
type Kind string

const (
	KindProject      Kind = "project"
	KindConversation Kind = "conversation"
)

// ParseKind validates a caller-supplied kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindProject, KindConversation:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("type must be %q or %q, got %q", KindProject, KindConversation, s)
	}
}

// Base holds the fields shared by every context.
type Base struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Context is one persisted record. It is implemented only by
// *ProjectContext and *ConversationContext.
type Context interface {
	Kind() Kind
	Scope() Scope
	Common() *Base
	sealed()
}

// ProjectContext is a context stored under a specific project.
type ProjectContext struct {
	Base
	ProjectID       string   `json:"projectId"`
	ParentContextID string   `json:"parentContextId,omitempty"`
	References      []string `json:"references,omitempty"`
}

func (*ProjectContext) Kind() Kind { return KindProject }
func (c *ProjectContext) Scope() Scope { return ProjectScope(c.ProjectID) }
func (c *ProjectContext) Common() *Base { return &c.Base }
func (*ProjectContext) sealed() {}

// MarshalJSON writes the record with its "type" discriminant.
func (c *ProjectContext) MarshalJSON() ([]byte, error) {
	type plain ProjectContext
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*plain
	}{KindProject, (*plain)(c)})
}

// ConversationContext is a context stored in the flat conversation partition.
// SessionID is informational and never part of the storage path.
type ConversationContext struct {
	Base
	SessionID      string `json:"sessionId"`
	ContinuationOf string `json:"continuationOf,omitempty"`
}

func (*ConversationContext) Kind() Kind { return KindConversation }
func (*ConversationContext) Scope() Scope { return ConversationScope }
func (c *ConversationContext) Common() *Base { return &c.Base }
func (*ConversationContext) sealed() {}

// MarshalJSON writes the record with its "type" discriminant.
func (c *ConversationContext) MarshalJSON() ([]byte, error) {
	type plain ConversationContext
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*plain
	}{KindConversation, (*plain)(c)})
}

// Scope is the partition a record lives in: a project id, or the
// conversation partition when ProjectID is empty.
type Scope struct {
	ProjectID string
}

// ConversationScope is the shared conversation partition.
var ConversationScope = Scope{}

// ProjectScope returns the scope of the given project.
func ProjectScope(projectID string) Scope {
	return Scope{ProjectID: projectID}
}

// IsProject reports whether the scope is a project partition.
func (s Scope) IsProject() bool { return s.ProjectID != "" }

func (s Scope) String() string {
	if s.IsProject() {
		return "project/" + s.ProjectID
	}
	return "conversation"
}

// HasTag reports whether c carries tag exactly (case-sensitive).
func HasTag(c Context, tag string) bool {
	return slices.Contains(c.Common().Tags, tag)
}

// SameKey reports whether a and b share the storage key (id, scope).
func SameKey(a, b Context) bool {
	return a.Common().ID == b.Common().ID && a.Scope() == b.Scope()
}

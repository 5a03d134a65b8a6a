package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// timestampLayouts are accepted besides RFC 3339 when reading records.
// Times without a zone are taken as UTC.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Encode serializes c as pretty-printed JSON, omitting absent optional fields.
func Encode(c Context) ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context %q: %w", c.Common().ID, err)
	}
	return data, nil
}

// Decode parses a record. When the "type" field is absent the kind is
// inferred from which of projectId / sessionId is present. Date-only and
// zone-less ISO 8601 timestamps are normalized to UTC.
func Decode(data []byte) (Context, error) {
	var probe struct {
		Type      Kind            `json:"type"`
		ProjectID json.RawMessage `json:"projectId"`
		SessionID json.RawMessage `json:"sessionId"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse context: %w", err)
	}
	if ts, ok := lenientTimestamp(probe.Timestamp); ok {
		var err error
		if data, err = replaceTimestamp(data, ts); err != nil {
			return nil, err
		}
	}

	kind := probe.Type
	if kind == "" {
		switch {
		case probe.ProjectID != nil:
			kind = KindProject
		case probe.SessionID != nil:
			kind = KindConversation
		default:
			return nil, fmt.Errorf("context has neither projectId nor sessionId")
		}
	}

	var c Context
	switch kind {
	case KindProject:
		c = &ProjectContext{}
	case KindConversation:
		c = &ConversationContext{}
	default:
		return nil, fmt.Errorf("unknown context type %q", kind)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse %s context: %w", kind, err)
	}
	return c, nil
}

// lenientTimestamp parses raw with timestampLayouts. It reports false when
// raw is absent, already RFC 3339, or matches no layout.
func lenientTimestamp(raw json.RawMessage) (time.Time, bool) {
	var s string
	if raw == nil || json.Unmarshal(raw, &s) != nil {
		return time.Time{}, false
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func replaceTimestamp(data []byte, ts time.Time) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse context: %w", err)
	}
	encoded, err := json.Marshal(ts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode timestamp: %w", err)
	}
	fields["timestamp"] = encoded
	return json.Marshal(fields)
}

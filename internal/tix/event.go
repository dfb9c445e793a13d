package tix

import "encoding/json"

// Event kinds discriminated by field t (§4.1).
const (
	EventConfig = "config"
	EventSpec   = "spec"
	EventStage  = "stage"
	EventTask   = "task"
	EventIssue  = "issue"
	EventNote   = "note"
	EventAccept = "accept"
	EventReject = "reject"
	EventDelete = "delete"
	EventInbox  = "inbox"
)

// legacyMetaKeys are the inline telemetry keys the reference corpus shows
// appearing directly on a ticket event rather than nested under "meta".
// Both forms are accepted on read; only the nested form is emitted on
// write (§9 Open Question, decided in DESIGN.md).
var legacyMetaKeys = map[string]bool{
	"cost":       true,
	"tokens_in":  true,
	"tokens_out": true,
	"iterations": true,
	"retries":    true,
	"kill_count": true,
	"model":      true,
}

// RawEvent is a single decoded plan log line: its discriminator plus the
// full field map, used both for replay and for round-tripping unknown
// fields.
type RawEvent struct {
	T      string
	Fields map[string]any
}

// ParseEventLine decodes one JSONL line into a RawEvent. Blank lines and
// comment lines (first non-whitespace '#') are not valid events and
// should be filtered by the caller before this is invoked.
func ParseEventLine(line []byte) (*RawEvent, error) {
	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, NewError(ErrParse, "parse_event", err)
	}
	t, _ := fields["t"].(string)
	if t == "" {
		return nil, NewError(ErrParse, "parse_event", nil)
	}
	return &RawEvent{T: t, Fields: fields}, nil
}

// StrField reads a string field only if present, distinguishing "absent"
// from "present and empty" for last-write-wins semantics.
func (e *RawEvent) StrField(key string) *string {
	if v, ok := e.Fields[key]; ok {
		if s, ok := v.(string); ok {
			return &s
		}
	}
	return nil
}

// NumField reads a numeric field.
func (e *RawEvent) NumField(key string) (float64, bool) {
	if v, ok := e.Fields[key]; ok {
		if f, ok := v.(float64); ok {
			return f, true
		}
	}
	return 0, false
}

// StrSliceField reads a string-array field (e.g. deps, labels).
func (e *RawEvent) StrSliceField(key string) []string {
	v, ok := e.Fields[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// NestedMetaField extracts the nested meta object, if present.
func (e *RawEvent) NestedMetaField() map[string]MetaValue {
	raw, ok := e.Fields["meta"].(map[string]any)
	if !ok {
		return nil
	}
	return metaFromAny(raw)
}

// InlineMetaField extracts any recognized legacy inline telemetry keys
// present directly on the event.
func (e *RawEvent) InlineMetaField() map[string]MetaValue {
	out := map[string]MetaValue{}
	for k := range legacyMetaKeys {
		if v, ok := e.Fields[k]; ok {
			switch val := v.(type) {
			case float64:
				out[k] = NumMeta(val)
			case string:
				out[k] = TextMeta(val)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func metaFromAny(raw map[string]any) map[string]MetaValue {
	out := make(map[string]MetaValue, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case float64:
			out[k] = NumMeta(val)
		case string:
			out[k] = TextMeta(val)
		}
	}
	return out
}

// EncodeTicketEvent builds the JSON line for a create-or-update ticket
// event (task/issue/note). id, name, status and priority are always
// emitted; every other field below is emitted only when set, and the
// cache's upsert semantics treat absent fields as "unchanged".
// resolved_at, compacted_at and the denormalized name refs are never
// emitted.
func EncodeTicketEvent(t *Ticket) ([]byte, error) {
	m := map[string]any{
		"t":    string(t.Type),
		"id":   t.ID,
		"name": t.Name,
		"s":    t.Status.LogCode(),
	}
	if t.Spec != "" {
		m["spec"] = t.Spec
	}
	if t.Notes != "" {
		m["notes"] = t.Notes
	}
	if t.Accept != "" {
		m["accept"] = t.Accept
	}
	m["priority"] = t.Priority.String()
	if len(t.Deps) > 0 {
		m["deps"] = t.Deps
	}
	if t.Parent != "" {
		m["parent"] = t.Parent
	}
	if t.CreatedFrom != "" {
		m["created_from"] = t.CreatedFrom
	}
	if t.Supersedes != "" {
		m["supersedes"] = t.Supersedes
	}
	if t.SupersedesReason != "" {
		m["supersedes_reason"] = t.SupersedesReason
	}
	if len(t.Labels) > 0 {
		m["labels"] = t.Labels
	}
	if t.Author != "" {
		m["author"] = t.Author
	}
	if t.DoneAt != "" {
		m["done_at"] = t.DoneAt
	}
	if t.CompletedAt != 0 {
		m["completed_at"] = t.CompletedAt
	}
	if t.Branch != "" {
		m["branch"] = t.Branch
	}
	if t.KillReason != "" {
		m["kill_reason"] = t.KillReason
	}
	if t.KillLog != "" {
		m["kill_log"] = t.KillLog
	}
	if t.CreatedAt != 0 {
		m["created_at"] = t.CreatedAt
	}
	if t.UpdatedAt != 0 {
		m["updated_at"] = t.UpdatedAt
	}
	if len(t.Meta) > 0 {
		meta := map[string]any{}
		for k, v := range t.Meta {
			if v.Num != nil {
				meta[k] = *v.Num
			} else if v.Text != nil {
				meta[k] = *v.Text
			}
		}
		m["meta"] = meta
	}
	return json.Marshal(m)
}

// EncodeAcceptEvent builds an accept tombstone event.
func EncodeAcceptEvent(id, doneAt, reason, name string, timestamp int64) ([]byte, error) {
	m := map[string]any{"t": EventAccept, "id": id, "done_at": doneAt}
	if reason != "" {
		m["reason"] = reason
	}
	if name != "" {
		m["name"] = name
	}
	if timestamp != 0 {
		m["timestamp"] = timestamp
	}
	return json.Marshal(m)
}

// EncodeRejectEvent builds a reject tombstone event.
func EncodeRejectEvent(id, doneAt, reason, name string, timestamp int64) ([]byte, error) {
	m := map[string]any{"t": EventReject, "id": id, "done_at": doneAt, "reason": reason}
	if name != "" {
		m["name"] = name
	}
	if timestamp != 0 {
		m["timestamp"] = timestamp
	}
	return json.Marshal(m)
}

// EncodeDeleteEvent builds a delete event.
func EncodeDeleteEvent(id string, timestamp int64) ([]byte, error) {
	return json.Marshal(map[string]any{"t": EventDelete, "id": id, "timestamp": timestamp})
}

// EncodeConfigEvent builds a config event carrying arbitrary session
// options; most-recent wins (§4.1).
func EncodeConfigEvent(options map[string]any) ([]byte, error) {
	m := map[string]any{"t": EventConfig}
	for k, v := range options {
		m[k] = v
	}
	return json.Marshal(m)
}

// EncodeSpecEvent builds a spec event.
func EncodeSpecEvent(specPath string) ([]byte, error) {
	return json.Marshal(map[string]any{"t": EventSpec, "spec": specPath})
}

// EncodeStageEvent builds an informational stage-transition event.
func EncodeStageEvent(stage string) ([]byte, error) {
	return json.Marshal(map[string]any{"t": EventStage, "stage": stage})
}

// Package message defines the unit of work exchanged between producers,
// drivers and handlers.
package message

import (
	"reflect"
	"time"

	"github.com/ricco24/hermes/internal/runtime/ids"
)

// Payload is the structured body of a message. New normalises it to the JSON
// data model: string, bool, nil, int64 for whole numbers, float64 for other
// numbers, []any and nested map[string]any. Typed slices, maps and structs
// are converted the way encoding/json would render them.
type Payload map[string]any

// Message is immutable once constructed. Accessors return copies of the
// mutable parts so a consumer never aliases the producer's maps.
type Message struct {
	id        string
	typ       string
	payload   Payload
	createdAt time.Time
	executeAt time.Time
	retries   int
	metadata  Metadata
}

// Option customises a Message under construction.
type Option func(*Message)

// WithID overrides the generated ULID.
func WithID(id string) Option {
	return func(m *Message) { m.id = id }
}

// WithCreatedAt overrides the creation timestamp (defaults to now).
func WithCreatedAt(t time.Time) Option {
	return func(m *Message) { m.createdAt = t }
}

// WithExecuteAt sets the earliest time the message should be handled.
func WithExecuteAt(t time.Time) Option {
	return func(m *Message) { m.executeAt = t }
}

// WithDelay is WithExecuteAt relative to the creation time.
func WithDelay(d time.Duration) Option {
	return func(m *Message) {
		if d > 0 {
			m.executeAt = m.createdAt.Add(d)
		}
	}
}

// WithRetries records how many times the message has already failed.
func WithRetries(n int) Option {
	return func(m *Message) {
		if n > 0 {
			m.retries = n
		}
	}
}

// WithMetadata attaches headers to the message.
func WithMetadata(md Metadata) Option {
	return func(m *Message) { m.metadata = md.Clone() }
}

// New builds a message of the given type. The payload map is copied and
// normalised so it compares equal to itself after a serializer round trip.
func New(typ string, payload Payload, opts ...Option) *Message {
	m := &Message{
		typ:       typ,
		payload:   payload.normalize(),
		createdAt: time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.createdAt = normalizeTime(m.createdAt)
	m.executeAt = normalizeTime(m.executeAt)
	if m.id == "" {
		m.id = ids.NewAt(m.createdAt)
	}
	if len(m.metadata) == 0 {
		m.metadata = nil
	}
	return m
}

func (m *Message) ID() string           { return m.id }
func (m *Message) Type() string         { return m.typ }
func (m *Message) CreatedAt() time.Time { return m.createdAt }
func (m *Message) Retries() int         { return m.retries }

// ExecuteAt returns the earliest processing time; zero means immediately.
func (m *Message) ExecuteAt() time.Time { return m.executeAt }

// Payload returns a copy of the message body.
func (m *Message) Payload() Payload { return m.payload.clone() }

// Metadata returns a copy of the message headers, or nil when there are none.
func (m *Message) Metadata() Metadata {
	if m.metadata == nil {
		return nil
	}
	return m.metadata.Clone()
}

// Header returns a single metadata value.
func (m *Message) Header(key string) string { return m.metadata[key] }

// Due reports whether the message may be handled at now.
func (m *Message) Due(now time.Time) bool {
	return m.executeAt.IsZero() || !m.executeAt.After(now)
}

// ForRetry returns a copy scheduled for executeAt with the retry counter
// incremented. Id, type, payload and metadata are preserved.
func (m *Message) ForRetry(executeAt time.Time) *Message {
	return &Message{
		id:        m.id,
		typ:       m.typ,
		payload:   m.payload.clone(),
		createdAt: m.createdAt,
		executeAt: normalizeTime(executeAt),
		retries:   m.retries + 1,
		metadata:  m.Metadata(),
	}
}

// WithHeaders returns a copy whose metadata also carries md. Entries in md
// win over existing keys.
func (m *Message) WithHeaders(md Metadata) *Message {
	out := *m
	out.payload = m.payload.clone()
	out.metadata = m.metadata.WithAll(md)
	if len(out.metadata) == 0 {
		out.metadata = nil
	}
	return &out
}

// Equal reports whether two messages carry the same id, type, timestamps,
// retry count, payload and metadata.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.id == other.id &&
		m.typ == other.typ &&
		m.createdAt.Equal(other.createdAt) &&
		m.executeAt.Equal(other.executeAt) &&
		m.retries == other.retries &&
		equalValues(map[string]any(m.payload), map[string]any(other.payload)) &&
		equalMetadata(m.metadata, other.metadata)
}

func (p Payload) normalize() Payload {
	if len(p) == 0 {
		return nil
	}
	return normalizeValue(map[string]any(p)).(map[string]any)
}

func (p Payload) clone() Payload {
	if len(p) == 0 {
		return nil
	}
	return cloneValue(map[string]any(p)).(map[string]any)
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[k] = cloneValue(inner)
		}
		return out
	case Payload:
		return cloneValue(map[string]any(typed))
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

func equalValues(a, b any) bool {
	switch ta := a.(type) {
	case map[string]any:
		tb, ok := b.(map[string]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for k, va := range ta {
			vb, present := tb[k]
			if !present || !equalValues(va, vb) {
				return false
			}
		}
		return true
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !equalValues(ta[i], tb[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func equalMetadata(a, b Metadata) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if other, ok := b[k]; !ok || other != v {
			return false
		}
	}
	return true
}

// normalizeTime strips the monotonic reading and location so timestamps
// compare equal after a serialization round trip.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Round(0)
}

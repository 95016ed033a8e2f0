// Package serializer converts messages to and from their transport bytes.
//
// Both codecs share one envelope layout:
//
//	{"message": {"id", "type", "created", "execute_at", "retries", "payload", "metadata"}}
//
// with timestamps as RFC 3339 strings (nanosecond precision, UTC).
package serializer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ricco24/hermes/message"
)

// ErrMalformed is wrapped by every Deserialize failure.
var ErrMalformed = errors.New("serializer: malformed message")

// Serializer is the pluggable wire format used by drivers.
type Serializer interface {
	Serialize(msg *message.Message) ([]byte, error)
	Deserialize(data []byte) (*message.Message, error)
}

const (
	fieldEnvelope  = "message"
	fieldID        = "id"
	fieldType      = "type"
	fieldCreated   = "created"
	fieldExecuteAt = "execute_at"
	fieldRetries   = "retries"
	fieldPayload   = "payload"
	fieldMetadata  = "metadata"
)

// Default returns the serializer drivers fall back to.
func Default() Serializer {
	return JSON{}
}

func toFields(msg *message.Message) map[string]any {
	fields := map[string]any{
		fieldID:      msg.ID(),
		fieldType:    msg.Type(),
		fieldCreated: msg.CreatedAt().Format(time.RFC3339Nano),
		fieldRetries: msg.Retries(),
	}
	if at := msg.ExecuteAt(); !at.IsZero() {
		fields[fieldExecuteAt] = at.Format(time.RFC3339Nano)
	}
	if payload := msg.Payload(); payload != nil {
		fields[fieldPayload] = map[string]any(payload)
	}
	if md := msg.Metadata(); md != nil {
		headers := make(map[string]any, len(md))
		for k, v := range md {
			headers[k] = v
		}
		fields[fieldMetadata] = headers
	}
	return map[string]any{fieldEnvelope: fields}
}

func fromFields(root map[string]any) (*message.Message, error) {
	fields, ok := root[fieldEnvelope].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q envelope", ErrMalformed, fieldEnvelope)
	}

	id, _ := fields[fieldID].(string)
	typ, _ := fields[fieldType].(string)
	if id == "" || typ == "" {
		return nil, fmt.Errorf("%w: id and type are required", ErrMalformed)
	}

	created, err := parseTime(fields, fieldCreated, true)
	if err != nil {
		return nil, err
	}
	executeAt, err := parseTime(fields, fieldExecuteAt, false)
	if err != nil {
		return nil, err
	}

	opts := []message.Option{
		message.WithID(id),
		message.WithCreatedAt(created),
		message.WithExecuteAt(executeAt),
	}

	switch retries := fields[fieldRetries].(type) {
	case nil:
	case float64:
		opts = append(opts, message.WithRetries(int(retries)))
	case int:
		opts = append(opts, message.WithRetries(retries))
	case int64:
		opts = append(opts, message.WithRetries(int(retries)))
	case json.Number:
		n, err := retries.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: retries: %v", ErrMalformed, err)
		}
		opts = append(opts, message.WithRetries(int(n)))
	default:
		return nil, fmt.Errorf("%w: retries has type %T", ErrMalformed, retries)
	}

	if raw, present := fields[fieldMetadata]; present && raw != nil {
		headers, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: metadata has type %T", ErrMalformed, raw)
		}
		md := make(message.Metadata, len(headers))
		for k, v := range headers {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: metadata %q is not a string", ErrMalformed, k)
			}
			md[k] = s
		}
		opts = append(opts, message.WithMetadata(md))
	}

	var payload message.Payload
	if raw, present := fields[fieldPayload]; present && raw != nil {
		body, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: payload has type %T", ErrMalformed, raw)
		}
		payload = body
	}

	return message.New(typ, payload, opts...), nil
}

func parseTime(fields map[string]any, key string, required bool) (time.Time, error) {
	raw, _ := fields[key].(string)
	if raw == "" {
		if required {
			return time.Time{}, fmt.Errorf("%w: %s is required", ErrMalformed, key)
		}
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return parsed, nil
}

package runtime

import (
	"context"
	"fmt"

	"github.com/ricco24/hermes/driver"
	herrors "github.com/ricco24/hermes/internal/runtime/errors"
	"github.com/ricco24/hermes/internal/runtime/jsoncodec"
	"github.com/ricco24/hermes/message"
)

// JSONMessage carries the payload decoded into T next to the original message.
type JSONMessage[T any] struct {
	Payload T
	Message *message.Message
}

// JSONHandlerFunc processes a payload decoded into T.
type JSONHandlerFunc[T any] func(ctx context.Context, msg JSONMessage[T]) error

// JSONHandler adapts a typed handler. The payload map goes through the JSON
// codec, so T uses ordinary json struct tags.
func JSONHandler[T any](handler JSONHandlerFunc[T]) (driver.Handler, error) {
	if handler == nil {
		return nil, herrors.ErrHandlerRequired
	}
	return func(ctx context.Context, msg *message.Message) error {
		var typed T
		if err := DecodePayload(msg, &typed); err != nil {
			return err
		}
		return handler(ctx, JSONMessage[T]{Payload: typed, Message: msg})
	}, nil
}

// DecodePayload decodes msg's payload into v.
func DecodePayload(msg *message.Message, v any) error {
	data, err := jsoncodec.Marshal(map[string]any(msg.Payload()))
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", msg.Type(), err)
	}
	if err := jsoncodec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Type(), err)
	}
	return nil
}

// NewJSONMessage builds a message whose payload is v encoded as a JSON object.
func NewJSONMessage[T any](messageType string, v T, opts ...message.Option) (*message.Message, error) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", messageType, err)
	}
	var payload message.Payload
	if err := jsoncodec.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%s payload must encode to a JSON object: %w", messageType, err)
	}
	return message.New(messageType, payload, opts...), nil
}

package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herrors "github.com/ricco24/hermes/internal/runtime/errors"
	"github.com/ricco24/hermes/message"
)

type emailPayload struct {
	To       string   `json:"to"`
	Subject  string   `json:"subject"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags,omitempty"`
}

func TestJSONHandler(t *testing.T) {
	var got JSONMessage[emailPayload]
	handler, err := JSONHandler(func(_ context.Context, msg JSONMessage[emailPayload]) error {
		got = msg
		return nil
	})
	require.NoError(t, err)

	msg := message.New("email", message.Payload{
		"to":       "ops@example.com",
		"subject":  "hi",
		"priority": 2,
		"tags":     []any{"a", "b"},
	})
	require.NoError(t, handler(context.Background(), msg))

	assert.Equal(t, emailPayload{To: "ops@example.com", Subject: "hi", Priority: 2, Tags: []string{"a", "b"}}, got.Payload)
	assert.Same(t, msg, got.Message)
}

func TestJSONHandlerDecodeError(t *testing.T) {
	called := false
	handler, err := JSONHandler(func(context.Context, JSONMessage[emailPayload]) error {
		called = true
		return nil
	})
	require.NoError(t, err)

	err = handler(context.Background(), message.New("email", message.Payload{"priority": "high"}))
	assert.ErrorContains(t, err, "decode email payload")
	assert.False(t, called)
}

func TestJSONHandlerRequired(t *testing.T) {
	_, err := JSONHandler[emailPayload](nil)
	assert.ErrorIs(t, err, herrors.ErrHandlerRequired)
}

func TestNewJSONMessage(t *testing.T) {
	msg, err := NewJSONMessage("email", emailPayload{To: "a@b.c", Subject: "s"})
	require.NoError(t, err)
	assert.Equal(t, "email", msg.Type())
	assert.Equal(t, "a@b.c", msg.Payload()["to"])

	var back emailPayload
	require.NoError(t, DecodePayload(msg, &back))
	assert.Equal(t, "s", back.Subject)

	_, err = NewJSONMessage("count", 42)
	assert.ErrorContains(t, err, "must encode to a JSON object")
}

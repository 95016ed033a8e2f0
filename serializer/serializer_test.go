package serializer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricco24/hermes/message"
)

func codecs() map[string]Serializer {
	return map[string]Serializer{
		"json":  JSON{},
		"proto": Proto{},
	}
}

func sampleMessages() map[string]*message.Message {
	created := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	return map[string]*message.Message{
		"minimal": message.New("ping", nil),
		"full": message.New("order.created",
			message.Payload{
				"id":      "A-1",
				"amount":  12.5,
				"paid":    true,
				"note":    nil,
				"items":   []any{"x", 2.0, map[string]any{"sku": "s"}},
				"address": map[string]any{"city": "Bratislava"},
			},
			message.WithCreatedAt(created),
			message.WithExecuteAt(created.Add(90*time.Second)),
			message.WithRetries(3),
			message.WithMetadata(message.Metadata{"tenant": "acme", "trace": "t-1"}),
		),
		"native go types": message.New("t", message.Payload{
			"count":  7,
			"limit":  int64(1 << 53),
			"tags":   []string{"a", "b"},
			"scores": []int{1, -2},
			"ratio":  float32(0.25),
		}),
		"local zone": message.New("t", message.Payload{"k": "v"},
			message.WithCreatedAt(time.Date(2023, 1, 1, 0, 0, 0, 1, time.FixedZone("CET", 3600)))),
	}
}

func TestRoundTrip(t *testing.T) {
	for codecName, codec := range codecs() {
		for name, msg := range sampleMessages() {
			t.Run(codecName+"/"+name, func(t *testing.T) {
				data, err := codec.Serialize(msg)
				require.NoError(t, err)

				got, err := codec.Deserialize(data)
				require.NoError(t, err)

				assert.True(t, msg.Equal(got), "round trip changed message: %#v vs %#v", msg, got)
				assert.Equal(t, msg.ID(), got.ID())
				assert.Equal(t, msg.Type(), got.Type())
				assert.True(t, msg.CreatedAt().Equal(got.CreatedAt()))
				assert.True(t, msg.ExecuteAt().Equal(got.ExecuteAt()))
				assert.Equal(t, msg.Retries(), got.Retries())
				assert.Equal(t, msg.Payload(), got.Payload())
				assert.Equal(t, msg.Metadata(), got.Metadata())
			})
		}
	}
}

func TestSerializeNil(t *testing.T) {
	for name, codec := range codecs() {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Serialize(nil)
			assert.Error(t, err)
		})
	}
}

func TestProtoRejectsUnrepresentablePayload(t *testing.T) {
	msg := message.New("t", message.Payload{"ch": make(chan int)})
	_, err := Proto{}.Serialize(msg)
	assert.Error(t, err)
}

func TestJSONDeserializeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"message":`,
		"no envelope":      `{"id":"1","type":"t"}`,
		"missing type":     `{"message":{"id":"1","created":"2024-01-01T00:00:00Z"}}`,
		"missing created":  `{"message":{"id":"1","type":"t"}}`,
		"bad created":      `{"message":{"id":"1","type":"t","created":"yesterday"}}`,
		"bad execute_at":   `{"message":{"id":"1","type":"t","created":"2024-01-01T00:00:00Z","execute_at":"soon"}}`,
		"bad retries":      `{"message":{"id":"1","type":"t","created":"2024-01-01T00:00:00Z","retries":"two"}}`,
		"payload not map":  `{"message":{"id":"1","type":"t","created":"2024-01-01T00:00:00Z","payload":[1]}}`,
		"metadata not map": `{"message":{"id":"1","type":"t","created":"2024-01-01T00:00:00Z","metadata":"x"}}`,
		"metadata value":   `{"message":{"id":"1","type":"t","created":"2024-01-01T00:00:00Z","metadata":{"k":1}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := JSON{}.Deserialize([]byte(body))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestProtoDeserializeMalformed(t *testing.T) {
	_, err := Proto{}.Deserialize([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Proto{}.Deserialize(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestJSONWireLayout(t *testing.T) {
	msg := message.New("t", message.Payload{"k": "v"},
		message.WithID("01HX"),
		message.WithCreatedAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	data, err := JSON{}.Serialize(msg)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"message":{"id":"01HX","type":"t","created":"2024-01-01T00:00:00Z","retries":0,"payload":{"k":"v"}}}`,
		string(data))
}

func TestDefaultIsJSON(t *testing.T) {
	assert.IsType(t, JSON{}, Default())
}

func TestJSONKeepsLargeIntegers(t *testing.T) {
	msg := message.New("t", message.Payload{"big": int64(9007199254740993), "ids": []int64{-9007199254740995}})

	data, err := JSON{}.Serialize(msg)
	require.NoError(t, err)
	got, err := JSON{}.Deserialize(data)
	require.NoError(t, err)

	assert.True(t, msg.Equal(got))
	assert.Equal(t, int64(9007199254740993), got.Payload()["big"])
	assert.Equal(t, []any{int64(-9007199254740995)}, got.Payload()["ids"])
}

func TestProtoRejectsIntegersBeyondDoublePrecision(t *testing.T) {
	msg := message.New("t", message.Payload{"nested": map[string]any{"big": int64(9007199254740993)}})

	_, err := Proto{}.Serialize(msg)
	assert.ErrorContains(t, err, "payload.nested.big")
}

func TestDecodedIntegersAreInt64(t *testing.T) {
	for name, codec := range codecs() {
		t.Run(name, func(t *testing.T) {
			data, err := codec.Serialize(message.New("t", message.Payload{"n": 3, "f": 1.5}))
			require.NoError(t, err)
			got, err := codec.Deserialize(data)
			require.NoError(t, err)

			assert.Equal(t, int64(3), got.Payload()["n"])
			assert.Equal(t, 1.5, got.Payload()["f"])
		})
	}
}

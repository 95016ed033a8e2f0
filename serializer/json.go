package serializer

import (
	"fmt"

	"github.com/ricco24/hermes/internal/runtime/jsoncodec"
	"github.com/ricco24/hermes/message"
)

// JSON encodes messages as JSON documents using sonic.
type JSON struct{}

func (JSON) Serialize(msg *message.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("serializer: nil message")
	}
	return jsoncodec.Marshal(toFields(msg))
}

func (JSON) Deserialize(data []byte) (*message.Message, error) {
	var root map[string]any
	if err := jsoncodec.UnmarshalNumbers(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromFields(root)
}

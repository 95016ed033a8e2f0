package serializer

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ricco24/hermes/message"
)

// Proto encodes messages as a binary google.protobuf.Struct. It trades
// readability on the wire for a smaller, schema-checked encoding.
//
// Struct numbers are doubles, so integers beyond 2^53 are rejected instead
// of being silently rounded. Use the JSON codec for such payloads.
type Proto struct{}

// maxExactInt is the largest magnitude a double holds without rounding.
const maxExactInt = 1 << 53

func (Proto) Serialize(msg *message.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("serializer: nil message")
	}
	if err := checkExactNumbers("payload", map[string]any(msg.Payload())); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(toFields(msg))
	if err != nil {
		return nil, fmt.Errorf("serializer: payload not representable: %w", err)
	}
	return proto.Marshal(st)
}

func (Proto) Deserialize(data []byte) (*message.Message, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromFields(st.AsMap())
}

func checkExactNumbers(path string, v any) error {
	switch t := v.(type) {
	case int64:
		if t > maxExactInt || t < -maxExactInt {
			return fmt.Errorf("serializer: %s: integer %d does not fit a protobuf double", path, t)
		}
	case map[string]any:
		for k, inner := range t {
			if err := checkExactNumbers(path+"."+k, inner); err != nil {
				return err
			}
		}
	case []any:
		for i, inner := range t {
			if err := checkExactNumbers(fmt.Sprintf("%s[%d]", path, i), inner); err != nil {
				return err
			}
		}
	}
	return nil
}

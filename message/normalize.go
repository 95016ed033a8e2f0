package message

import (
	"encoding/json"
	"math"
	"reflect"

	"github.com/ricco24/hermes/internal/runtime/jsoncodec"
)

// normalizeValue rewrites v into the JSON data model that survives a
// serializer round trip: string, bool, nil, int64 for whole numbers that fit,
// float64 for the rest, []any and map[string]any. Values JSON cannot carry
// are returned unchanged and fail later at Serialize.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int64:
		return v
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = normalizeValue(inner)
		}
		return out
	case Payload:
		return normalizeValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = normalizeValue(inner)
		}
		return out
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint:
		return normalizeUint(uint64(t))
	case uint64:
		return normalizeUint(t)
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	case json.Number:
		return normalizeNumber(t)
	case json.Marshaler:
		return viaJSON(v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return normalizeUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 || (rv.Kind() == reflect.Slice && rv.IsNil()) {
			return viaJSON(v)
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
			return viaJSON(v)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizeValue(iter.Value().Interface())
		}
		return out
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalizeValue(rv.Elem().Interface())
	}
	return viaJSON(v)
}

// viaJSON handles structs and types with their own JSON encoding by
// encoding them and normalising what comes back.
func viaJSON(v any) any {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := jsoncodec.UnmarshalNumbers(data, &out); err != nil {
		return v
	}
	return normalizeValue(out)
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// normalizeFloat maps whole floats inside the int64 range to int64, so 2.0
// and 2 are the same value once they have been through JSON text.
func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return f
	}
	if f < -(1<<63) || f >= 1<<63 {
		return f
	}
	return int64(f)
}

func normalizeNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return normalizeFloat(f)
	}
	return n.String()
}

package eav

import (
	"encoding/json"
	"fmt"
)

// Value type tags stored in the attrs.type column. The tag is the discriminant
// of a closed union, not a Go type name. Strings are stored verbatim with an
// empty tag; every other kind is serialized to JSON.
const (
	TypeString = "string"
	TypeBool   = "bool"
	TypeNumber = "number"
	TypeNull   = "null"
	TypeArray  = "array"
	TypeMap    = "map"
)

// SerializeValue encodes a value for storage, returning its type tag and the
// stored text. Strings pass through untouched with an empty tag.
func SerializeValue(v any) (typ string, text string, err error) {
	switch v := v.(type) {
	case string:
		return "", v, nil
	case nil:
		return TypeNull, "null", nil
	case bool:
		typ = TypeBool
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		typ = TypeNumber
	case []any:
		typ = TypeArray
	case map[string]any:
		typ = TypeMap
	default:
		return "", "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return "", "", fmt.Errorf("%w: %T: %v", ErrUnsupportedValue, v, err)
	}
	return typ, string(raw), nil
}

// DeserializeValue decodes stored text back into a value. An empty or string
// tag returns the text unchanged; anything else is parsed as JSON, so numbers
// come back as float64 regardless of the width they were written with.
func DeserializeValue(text string, typ string) (any, error) {
	if typ == "" || typ == TypeString {
		return text, nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("eav: decode %s value: %w", typ, err)
	}
	return v, nil
}

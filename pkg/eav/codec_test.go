package eav

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializeValueStrings(t *testing.T) {
	typ, text, err := SerializeValue("hello")
	require.NoError(t, err)
	require.Equal(t, "", typ)
	require.Equal(t, "hello", text)

	// Strings that look like JSON still pass through verbatim.
	typ, text, err = SerializeValue(`{"not":"parsed"}`)
	require.NoError(t, err)
	require.Equal(t, "", typ)
	require.Equal(t, `{"not":"parsed"}`, text)
}

func TestSerializeValueTags(t *testing.T) {
	tests := []struct {
		name string
		in   any
		typ  string
		text string
	}{
		{"bool", true, TypeBool, "true"},
		{"int", 42, TypeNumber, "42"},
		{"float", 1.5, TypeNumber, "1.5"},
		{"null", nil, TypeNull, "null"},
		{"array", []any{float64(1), "two"}, TypeArray, `[1,"two"]`},
		{"map", map[string]any{"k": "v"}, TypeMap, `{"k":"v"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			typ, text, err := SerializeValue(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.typ, typ)
			require.Equal(t, tc.text, text)
		})
	}
}

func TestSerializeValueUnsupported(t *testing.T) {
	_, _, err := SerializeValue(struct{ X int }{1})
	require.ErrorIs(t, err, ErrUnsupportedValue)

	_, _, err = SerializeValue(map[int]string{1: "x"})
	require.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestDeserializeValueRoundTrip(t *testing.T) {
	// Numbers come back as float64 whatever width they went in with.
	tests := []struct {
		name string
		in   any
		out  any
	}{
		{"string", "plain", "plain"},
		{"bool", false, false},
		{"int", 7, float64(7)},
		{"float", 2.25, 2.25},
		{"null", nil, nil},
		{"array", []any{"a", float64(1)}, []any{"a", float64(1)}},
		{"map", map[string]any{"n": float64(3)}, map[string]any{"n": float64(3)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			typ, text, err := SerializeValue(tc.in)
			require.NoError(t, err)
			got, err := DeserializeValue(text, typ)
			require.NoError(t, err)
			require.Equal(t, tc.out, got)
		})
	}
}

func TestDeserializeValueStringTag(t *testing.T) {
	// Both the empty tag and the explicit tag mean verbatim text.
	got, err := DeserializeValue("raw", "")
	require.NoError(t, err)
	require.Equal(t, "raw", got)

	got, err = DeserializeValue("raw", TypeString)
	require.NoError(t, err)
	require.Equal(t, "raw", got)
}

func TestDeserializeValueMalformed(t *testing.T) {
	_, err := DeserializeValue("{", TypeMap)
	require.Error(t, err)
}

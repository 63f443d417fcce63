package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"max uint64", uint64(math.MaxUint64), "18446744073709551615"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"html not escaped", "<a&b>", `"<a&b>"`},
		{"nested", map[string]any{"b": []any{int64(1), "x"}, "a": false}, `{"a":false,"b":[1,"x"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"zebra": 1, "alpha": 2, "beta": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(got))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D..., which sort before U+FF61.
	got, err := MarshalCanonical(map[string]any{"\uff61": 1, "\U0001F600": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff61\":1}", string(got))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	got, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(got))

	got, err = MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(got))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "e\u0301"
	got, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	for _, v := range []any{nil, 1.5, float32(2), struct{}{}, map[string]any{"x": nil}} {
		_, err := MarshalCanonical(v)
		assert.Error(t, err, "%#v", v)
	}
}

func TestChecksum(t *testing.T) {
	sum := sha256.Sum256([]byte("d\x00payload"))
	assert.Equal(t, hex.EncodeToString(sum[:]), Checksum("d", []byte("payload")))
	assert.NotEqual(t, Checksum("d1", []byte("x")), Checksum("d", []byte("1x")))
}

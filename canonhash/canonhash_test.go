package canonhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_KeyOrdering(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(a))
}

func TestCanonicalJSON_NoWhitespace(t *testing.T) {
	b, err := CanonicalJSON(map[string]any{"x": []any{1, 2, 3}})
	require.NoError(t, err)
	assert.NotContains(t, string(b), " ")
	assert.NotContains(t, string(b), "\n")
}

func TestCanonicalJSON_NumberNormalization(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"integer float64", float64(42), "42"},
		{"already integer", 42, "42"},
		{"fractional", 1.5, "1.5"},
		{"negative", -7, "-7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := CanonicalJSON(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(b))
		})
	}
}

func TestCanonicalJSON_ArrayOrderPreserved(t *testing.T) {
	b, err := CanonicalJSON([]any{3, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, "[3,1,2]", string(b))
}

func TestCanonicalJSON_StringEscaping(t *testing.T) {
	b, err := CanonicalJSON("line1\nline2\t\"quoted\"")
	require.NoError(t, err)
	assert.Equal(t, `"line1\nline2\t\"quoted\""`, string(b))
}

func TestCanonicalJSON_Deterministic(t *testing.T) {
	v := map[string]any{
		"z": 1,
		"a": map[string]any{"y": 2, "x": 1},
		"m": []any{1, "two", 3.0},
	}
	first, err := CanonicalJSON(v)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := CanonicalJSON(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCanonicalJSON_NestedObjects(t *testing.T) {
	b, err := CanonicalJSON(map[string]any{
		"outer": map[string]any{"b": 2, "a": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"outer":{"a":1,"b":2}}`, string(b))
}

func TestCanonicalJSON_Null(t *testing.T) {
	b, err := CanonicalJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestContentHash_Length(t *testing.T) {
	h := ContentHash([]byte("hello"))
	assert.Len(t, h, 64)
}

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash([]byte("same input"))
	b := ContentHash([]byte("same input"))
	assert.Equal(t, a, b)
}

func TestContentHash_DifferentInputsDiffer(t *testing.T) {
	a := ContentHash([]byte("input a"))
	b := ContentHash([]byte("input b"))
	assert.NotEqual(t, a, b)
}

func TestHashValue_MatchesManualPipeline(t *testing.T) {
	v := map[string]any{"b": 1, "a": 2}
	h, err := HashValue(v)
	require.NoError(t, err)

	canonical, err := CanonicalJSON(v)
	require.NoError(t, err)
	assert.Equal(t, ContentHash(canonical), h)
}

func TestHashValue_OrderIndependent(t *testing.T) {
	h1, err := HashValue(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := HashValue(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

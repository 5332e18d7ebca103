package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ComputesHashFromPayloadOnly(t *testing.T) {
	a, err := New("text", map[string]any{"text": "HOLA"}, map[string]any{"note": "seed"})
	require.NoError(t, err)
	assert.Len(t, a.Hash, 64)
	assert.NoError(t, a.Verify())
}

func TestNew_MetadataExcludedFromHash(t *testing.T) {
	a1, err := New("text", map[string]any{"text": "HOLA"}, map[string]any{"note": "a"})
	require.NoError(t, err)
	a2, err := New("text", map[string]any{"text": "HOLA"}, map[string]any{"note": "b"})
	require.NoError(t, err)
	assert.Equal(t, a1.Hash, a2.Hash)
}

func TestVerify_DetectsTamperedPayload(t *testing.T) {
	a, err := New("text", map[string]any{"text": "HOLA"}, nil)
	require.NoError(t, err)
	a.Payload = map[string]any{"text": "CHANGED"}
	assert.Error(t, a.Verify())
}

func TestMemoryStore_PutIdempotentOnHash(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	a, err := New("text", map[string]any{"text": "HOLA"}, nil)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, a))
	require.NoError(t, store.Put(ctx, a))

	got, ok, err := store.Get(ctx, a.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.Hash, got.Hash)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, ok, err := store.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

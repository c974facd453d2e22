package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKV_SetGetDel(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	_, found, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), 0))
	v, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, kv.Del(ctx, "k"))
	_, found, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)

	// Deleting a missing key is not an error.
	require.NoError(t, kv.Del(ctx, "k"))
}

func TestKV_TTLExpiry(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	_, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)

	time.Sleep(30 * time.Millisecond)
	_, found, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestKV_Overwrite(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", []byte("a"), 0))
	require.NoError(t, kv.Set(ctx, "k", []byte("b"), 0))
	v, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("b"), v)
}

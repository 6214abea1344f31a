package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *EmbeddingCache {
	t.Helper()
	srv := miniredis.RunT(t)

	c, err := NewEmbeddingCache(srv.Addr(), "", 0, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, hit, err := c.GetEmbedding(ctx, "nomic-embed-text", "hello")
	require.NoError(t, err)
	assert.False(t, hit)

	want := []float64{0.1, -0.2, 0.3}
	require.NoError(t, c.SetEmbedding(ctx, "nomic-embed-text", "hello", want))

	got, hit, err := c.GetEmbedding(ctx, "nomic-embed-text", "hello")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)
}

func TestEmbeddingCacheKeyIsolation(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetEmbedding(ctx, "model-a", "hello", []float64{1}))

	// 不同模型相同文本不共享缓存
	_, hit, err := c.GetEmbedding(ctx, "model-b", "hello")
	require.NoError(t, err)
	assert.False(t, hit)

	_, hit, err = c.GetEmbedding(ctx, "model-a", "world")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCachedAnswer(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, hit, err := c.GetCachedAnswer(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.SetCachedAnswer(ctx, "abc123", "resposta"))

	answer, hit, err := c.GetCachedAnswer(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "resposta", answer)
}

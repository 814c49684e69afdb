package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"goflare.io/pixcache/internal/cache"
	"goflare.io/pixcache/internal/models"
)

func newTestLayer(t *testing.T) *Layer {
	t.Helper()
	l, err := New(Config{
		MaxSize:    1 << 20,
		DefaultTTL: time.Minute,
		Priority:   cache.MemoryPriority,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestNew_RejectsNonPositiveSize(t *testing.T) {
	_, err := New(Config{MaxSize: 0})
	assert.Error(t, err)
}

func TestLayer_SetGet(t *testing.T) {
	ctx := context.Background()
	l := newTestLayer(t)

	require.NoError(t, l.Set(ctx, "image:a", []byte("payload"), 0))

	value, found, err := l.Get(ctx, "image:a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("payload"), value)

	_, found, err = l.Get(ctx, "image:missing")
	require.NoError(t, err)
	assert.False(t, found)

	stats := l.Stats(ctx)
	assert.Equal(t, cache.MemoryLayerName, stats.Layer)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Keys)
	assert.Equal(t, int64(len("payload")), stats.MemoryUsage)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestLayer_Expiry(t *testing.T) {
	ctx := context.Background()
	l := newTestLayer(t)

	require.NoError(t, l.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
	exists, err := l.Exists(ctx, "short")
	require.NoError(t, err)
	assert.True(t, exists)

	time.Sleep(50 * time.Millisecond)

	_, found, err := l.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLayer_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	l := newTestLayer(t)

	require.NoError(t, l.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, l.Set(ctx, "b", []byte("2"), 0))

	require.NoError(t, l.Delete(ctx, "a"))
	require.NoError(t, l.Delete(ctx, "never-set"))

	exists, err := l.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, l.Clear(ctx))
	exists, err = l.Exists(ctx, "b")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, l.Stats(ctx).Keys)
}

func TestLayer_CancelledContext(t *testing.T) {
	l := newTestLayer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := l.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, l.Set(ctx, "k", []byte("v"), 0), context.Canceled)
	assert.Equal(t, int64(2), l.Stats(context.Background()).Errors)
}

func TestLayer_Metadata(t *testing.T) {
	l := newTestLayer(t)
	assert.Equal(t, cache.MemoryLayerName, l.Name())
	assert.Equal(t, cache.MemoryPriority, l.Priority())
}

func TestLayer_TTL(t *testing.T) {
	ctx := context.Background()
	l := newTestLayer(t)

	require.NoError(t, l.Set(ctx, "a", []byte("v"), 30*time.Second))
	ttl, err := l.TTL(ctx, "a")
	require.NoError(t, err)
	assert.InDelta(t, float64(30*time.Second), float64(ttl), float64(time.Second))

	_, err = l.TTL(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrKeyNotFound)
}

package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"goflare.io/pixcache/internal/cache"
	"goflare.io/pixcache/internal/models"
	"goflare.io/pixcache/internal/storage"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type recordingObserver struct {
	mu       sync.Mutex
	writes   map[string]int64
	accesses map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{writes: map[string]int64{}, accesses: map[string]int{}}
}

func (o *recordingObserver) RecordFileWrite(name string, size int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes[name] = size
}

func (o *recordingObserver) RecordFileAccess(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accesses[name]++
}

func newTestLayer(t *testing.T, dir string, observer Observer) *Layer {
	t.Helper()
	l, err := New(Config{
		Directory:  dir,
		DefaultTTL: time.Hour,
		Priority:   cache.FilePriority,
		Observer:   observer,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return l
}

func TestNew_RequiresDirectory(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestLayer_SetWritesContentAndMetadata(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	observer := newRecordingObserver()
	l := newTestLayer(t, dir, observer)

	require.NoError(t, l.Set(ctx, "image:cat", pngHeader, 0))

	base := baseFor("image:cat")
	_, err := os.Stat(filepath.Join(dir, base+".png"))
	require.NoError(t, err)

	meta, err := l.readMetadata("image:cat")
	require.NoError(t, err)
	assert.Equal(t, base+".png", meta.FileName)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Equal(t, int64(len(pngHeader)), meta.Size)
	assert.False(t, meta.ExpiresAt.IsZero())

	assert.Equal(t, int64(len(pngHeader)), observer.writes[base+".png"])

	value, found, err := l.Get(ctx, "image:cat")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, pngHeader, value)
	assert.Equal(t, 1, observer.accesses[base+".png"])
}

func TestLayer_UnknownContentUsesBinExtension(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := newTestLayer(t, dir, nil)

	require.NoError(t, l.Set(ctx, "blob", []byte{0x00, 0x01, 0x02, 0xff}, 0))

	_, err := os.Stat(filepath.Join(dir, baseFor("blob")+".bin"))
	assert.NoError(t, err)
}

func TestLayer_ExpiredEntriesAreRemoved(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := newTestLayer(t, dir, nil)

	require.NoError(t, l.Set(ctx, "short", []byte("hello world"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, found, err := l.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found)

	files, err := storage.ListFiles(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLayer_EvictedContentIsAMiss(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := newTestLayer(t, dir, nil)

	require.NoError(t, l.Set(ctx, "k", pngHeader, 0))
	require.NoError(t, os.Remove(filepath.Join(dir, baseFor("k")+".png")))

	_, found, err := l.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	exists, err := l.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLayer_DeleteExistsClear(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitkeep"), nil, 0o600))
	l := newTestLayer(t, dir, nil)

	require.NoError(t, l.Set(ctx, "a", pngHeader, 0))
	require.NoError(t, l.Set(ctx, "b", []byte(`{"x":1}`), 0))

	exists, err := l.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, l.Delete(ctx, "a"))
	require.NoError(t, l.Delete(ctx, "a"))
	exists, err = l.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)

	stats := l.Stats(ctx)
	assert.Equal(t, int64(1), stats.Keys)
	assert.Equal(t, int64(len(`{"x":1}`)), stats.MemoryUsage)

	require.NoError(t, l.Clear(ctx))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".gitkeep", entries[0].Name())
}

func TestLayer_FilterSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := newTestLayer(t, dir, nil)
	require.NoError(t, first.Set(ctx, "persisted", pngHeader, 0))

	second := newTestLayer(t, dir, nil)
	assert.True(t, second.filter.Test("persisted"))

	value, found, err := second.Get(ctx, "persisted")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, pngHeader, value)
}

func TestLayer_RebuildFilterConcurrentWithSet(t *testing.T) {
	ctx := context.Background()
	l := newTestLayer(t, t.TempDir(), nil)

	const n = 200
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				assert.NoError(t, l.RebuildFilter(ctx))
			}
		}
	}()

	for i := range n {
		require.NoError(t, l.Set(ctx, fmt.Sprintf("img:%d", i), pngHeader, 0))
	}
	close(done)
	wg.Wait()

	for i := range n {
		key := fmt.Sprintf("img:%d", i)
		_, found, err := l.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, found, key)
	}
}

func TestLayer_MissingDirectoryIsRecreatedOnSet(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "cache")
	l := newTestLayer(t, dir, nil)
	require.NoError(t, os.RemoveAll(dir))

	_, found, err := l.Get(ctx, "anything")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, l.Set(ctx, "anything", pngHeader, 0))
	exists, err := l.Exists(ctx, "anything")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLayer_Metadata(t *testing.T) {
	l := newTestLayer(t, t.TempDir(), nil)
	assert.Equal(t, cache.FileLayerName, l.Name())
	assert.Equal(t, cache.FilePriority, l.Priority())
}

func TestLayer_TTL(t *testing.T) {
	ctx := context.Background()
	l := newTestLayer(t, t.TempDir(), nil)

	require.NoError(t, l.Set(ctx, "default", pngHeader, 0))
	ttl, err := l.TTL(ctx, "default")
	require.NoError(t, err)
	assert.InDelta(t, float64(time.Hour), float64(ttl), float64(time.Second))

	require.NoError(t, l.Set(ctx, "short", pngHeader, 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	_, err = l.TTL(ctx, "short")
	assert.ErrorIs(t, err, models.ErrEntryExpired)

	_, err = l.TTL(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrKeyNotFound)
}

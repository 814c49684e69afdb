package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/pixcache/internal/models"
)

func TestCollector_CacheOperations(t *testing.T) {
	c, err := NewCollector("test")
	require.NoError(t, err)

	c.ObserveCacheOperation("get", "memory", OutcomeHit, time.Millisecond)
	c.ObserveCacheOperation("get", "memory", OutcomeHit, time.Millisecond)
	c.ObserveCacheOperation("get", "multi-layer", OutcomeMiss, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("get", "memory", OutcomeHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("get", "multi-layer", OutcomeMiss)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.operationDuration))
}

func TestCollector_Storage(t *testing.T) {
	c, err := NewCollector("test")
	require.NoError(t, err)

	c.ObserveStorage(models.StorageStats{TotalFiles: 12, TotalSize: 4096}, models.StatusWarning)

	assert.Equal(t, 12.0, testutil.ToFloat64(c.storageFiles))
	assert.Equal(t, 4096.0, testutil.ToFloat64(c.storageBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storageStatus.WithLabelValues("warning")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.storageStatus.WithLabelValues("healthy")))
}

func TestCollector_EvictionAndCleanup(t *testing.T) {
	c, err := NewCollector("test")
	require.NoError(t, err)

	c.ObserveEviction(models.EvictionResult{Strategy: "lru", FilesEvicted: 3, SizeFreed: 300})
	c.ObserveCleanup(models.CleanupResult{FilesRemoved: 2, SizeFreed: 20, Errors: []string{"x"}})
	c.ObserveCleanup(models.CleanupResult{FilesRemoved: 50, SizeFreed: 500, DryRun: true})

	assert.Equal(t, 3.0, testutil.ToFloat64(c.evictedFiles.WithLabelValues("lru")))
	assert.Equal(t, 300.0, testutil.ToFloat64(c.evictedBytes.WithLabelValues("lru")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cleanupFiles))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.cleanupBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cleanupErrors))
}

func TestCollector_Handler(t *testing.T) {
	c, err := NewCollector("test")
	require.NoError(t, err)
	c.ObserveCacheOperation("set", "file", OutcomeOK, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_cache_operations_total"))
}

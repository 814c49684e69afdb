// Package metrics exposes cache and storage activity as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goflare.io/pixcache/internal/models"
)

// Outcomes of a cache operation.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder receives observations from the cache and storage services.
type Recorder interface {
	ObserveCacheOperation(operation, layer, outcome string, duration time.Duration)
	ObserveStorage(stats models.StorageStats, status models.ThresholdStatus)
	ObserveEviction(result models.EvictionResult)
	ObserveCleanup(result models.CleanupResult)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveCacheOperation(string, string, string, time.Duration) {}
func (Nop) ObserveStorage(models.StorageStats, models.ThresholdStatus) {}
func (Nop) ObserveEviction(models.EvictionResult) {}
func (Nop) ObserveCleanup(models.CleanupResult) {}

var _ Recorder = Nop{}

// Collector implements Recorder on a private Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	storageFiles      prometheus.Gauge
	storageBytes      prometheus.Gauge
	storageStatus     *prometheus.GaugeVec
	evictedFiles      *prometheus.CounterVec
	evictedBytes      *prometheus.CounterVec
	cleanupFiles      prometheus.Counter
	cleanupBytes      prometheus.Counter
	cleanupErrors     prometheus.Counter
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = "pixcache"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Cache operations by operation, layer and outcome.",
		}, []string{"operation", "layer", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "operation_duration_seconds",
			Help:      "Latency of cache operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"operation"}),
		storageFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "files",
			Help:      "Number of files in the cache directory at the last scan.",
		}),
		storageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bytes",
			Help:      "Total size of the cache directory at the last scan.",
		}),
		storageStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "status",
			Help:      "1 for the current threshold status, 0 otherwise.",
		}, []string{"status"}),
		evictedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eviction",
			Name:      "files_total",
			Help:      "Files removed by eviction, per strategy.",
		}, []string{"strategy"}),
		evictedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eviction",
			Name:      "bytes_total",
			Help:      "Bytes freed by eviction, per strategy.",
		}, []string{"strategy"}),
		cleanupFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "files_total",
			Help:      "Files removed by retention cleanup.",
		}),
		cleanupBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "bytes_total",
			Help:      "Bytes freed by retention cleanup.",
		}),
		cleanupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "errors_total",
			Help:      "Per-file errors reported by retention cleanup.",
		}),
	}

	for _, collector := range []prometheus.Collector{
		c.operations, c.operationDuration,
		c.storageFiles, c.storageBytes, c.storageStatus,
		c.evictedFiles, c.evictedBytes,
		c.cleanupFiles, c.cleanupBytes, c.cleanupErrors,
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collected metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (c *Collector) ObserveCacheOperation(operation, layer, outcome string, duration time.Duration) {
	c.operations.WithLabelValues(operation, layer, outcome).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) ObserveStorage(stats models.StorageStats, status models.ThresholdStatus) {
	c.storageFiles.Set(float64(stats.TotalFiles))
	c.storageBytes.Set(float64(stats.TotalSize))
	if status == "" {
		return
	}
	for _, s := range []models.ThresholdStatus{models.StatusHealthy, models.StatusWarning, models.StatusCritical} {
		value := 0.0
		if s == status {
			value = 1
		}
		c.storageStatus.WithLabelValues(string(s)).Set(value)
	}
}

func (c *Collector) ObserveEviction(result models.EvictionResult) {
	c.evictedFiles.WithLabelValues(result.Strategy).Add(float64(result.FilesEvicted))
	c.evictedBytes.WithLabelValues(result.Strategy).Add(float64(result.SizeFreed))
}

func (c *Collector) ObserveCleanup(result models.CleanupResult) {
	if result.DryRun {
		return
	}
	c.cleanupFiles.Add(float64(result.FilesRemoved))
	c.cleanupBytes.Add(float64(result.SizeFreed))
	c.cleanupErrors.Add(float64(len(result.Errors)))
}

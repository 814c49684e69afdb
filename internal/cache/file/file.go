// Package file implements the durable on-disk cache layer.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"goflare.io/pixcache/internal/cache"
	"goflare.io/pixcache/internal/keys"
	"goflare.io/pixcache/internal/models"
	"goflare.io/pixcache/internal/storage"
	"goflare.io/pixcache/internal/utils"
)

const (
	filePerm       = 0o640
	defaultFileExt = ".bin"
)

// Observer is told about files the layer writes and serves, so that access
// patterns reflect real usage between directory scans.
type Observer interface {
	RecordFileWrite(name string, size int64)
	RecordFileAccess(name string)
}

// Config configures the file layer.
type Config struct {
	Directory              string
	DefaultTTL             time.Duration
	Priority               int
	BloomExpectedItems     uint
	BloomFalsePositiveRate float64
	Observer               Observer
	Logger                 *zap.Logger
}

// Layer stores one content file and one metadata file per key.
type Layer struct {
	dir        string
	defaultTTL time.Duration
	priority   int
	filter     *BloomFilter
	rebuildMu  sync.Mutex
	observer   Observer
	counters   cache.Counters
	logger     *zap.Logger
}

var (
	_ cache.Layer   = (*Layer)(nil)
	_ cache.Expirer = (*Layer)(nil)
)

// New creates the file layer, creating the directory and loading the bloom
// filter from any entries already on disk.
func New(cfg Config) (*Layer, error) {
	if cfg.Directory == "" {
		return nil, errors.New("file layer directory cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := storage.EnsureDir(cfg.Directory); err != nil {
		return nil, err
	}

	l := &Layer{
		dir:        cfg.Directory,
		defaultTTL: cfg.DefaultTTL,
		priority:   cfg.Priority,
		filter:     NewBloomFilter(cfg.BloomExpectedItems, cfg.BloomFalsePositiveRate),
		observer:   cfg.Observer,
		logger:     cfg.Logger.With(zap.String("layer", cache.FileLayerName)),
	}

	if err := l.RebuildFilter(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load bloom filter: %w", err)
	}
	return l, nil
}

// SetObserver attaches the access observer after construction.
func (l *Layer) SetObserver(o Observer) {
	l.observer = o
}

// Directory returns the directory the layer writes to.
func (l *Layer) Directory() string {
	return l.dir
}

func baseFor(key string) string {
	return keys.Hash(key)
}

func (l *Layer) path(name string) string {
	return filepath.Join(l.dir, name)
}

func (l *Layer) readMetadata(key string) (*Metadata, error) {
	data, err := os.ReadFile(l.path(baseFor(key) + storage.MetadataSuffix))
	if err != nil {
		return nil, err
	}
	meta, err := unmarshalMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt metadata for %s: %w", key, err)
	}
	if meta.Key != key {
		// Hash collision with another key.
		return nil, fs.ErrNotExist
	}
	return meta, nil
}

// Get retrieves the content stored for key.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		l.counters.Errors.Inc()
		return nil, false, err
	}

	if !l.filter.Test(key) {
		l.counters.Misses.Inc()
		return nil, false, nil
	}

	meta, err := l.readMetadata(key)
	if errors.Is(err, fs.ErrNotExist) {
		l.counters.Misses.Inc()
		return nil, false, nil
	}
	if err != nil {
		l.counters.Errors.Inc()
		return nil, false, err
	}

	if meta.IsExpired(time.Now()) {
		if _, _, err := storage.RemoveArtifact(l.dir, meta.FileName); err != nil {
			l.logger.Warn("Failed to remove expired file", zap.String("key", key), zap.Error(err))
		}
		l.counters.Misses.Inc()
		return nil, false, nil
	}

	data, err := os.ReadFile(l.path(meta.FileName))
	if errors.Is(err, fs.ErrNotExist) {
		// Content evicted underneath the metadata.
		removeQuietly(l.path(baseFor(key) + storage.MetadataSuffix))
		l.counters.Misses.Inc()
		return nil, false, nil
	}
	if err != nil {
		l.counters.Errors.Inc()
		return nil, false, fmt.Errorf("failed to read %s: %w", meta.FileName, err)
	}

	l.counters.Hits.Inc()
	if l.observer != nil {
		l.observer.RecordFileAccess(meta.FileName)
	}
	return data, true, nil
}

// Set writes value and its metadata. The content extension follows the
// detected media type so that retention policies can match on it.
func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		l.counters.Errors.Inc()
		return err
	}
	if err := storage.EnsureDir(l.dir); err != nil {
		l.counters.Errors.Inc()
		return err
	}

	mtype := mimetype.Detect(value)
	ext := mtype.Extension()
	if ext == "" {
		ext = defaultFileExt
	}

	base := baseFor(key)
	name := base + ext
	now := time.Now()
	meta := &Metadata{
		Key:         key,
		FileName:    name,
		Size:        int64(len(value)),
		Format:      strings.TrimPrefix(ext, "."),
		ContentType: mtype.String(),
		CreatedAt:   now,
	}
	if expiration := utils.GetExpirationTime(l.defaultTTL, ttl); expiration > 0 {
		meta.ExpiresAt = now.Add(expiration)
	}

	if previous, err := l.readMetadata(key); err == nil && previous.FileName != name {
		removeQuietly(l.path(previous.FileName))
	}

	if err := l.writeAtomic(base, name, value); err != nil {
		l.counters.Errors.Inc()
		return err
	}

	encoded, err := meta.marshal()
	if err != nil {
		l.counters.Errors.Inc()
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := l.writeAtomic(base, base+storage.MetadataSuffix, encoded); err != nil {
		l.counters.Errors.Inc()
		return err
	}

	l.filter.Add(key)
	if l.observer != nil {
		l.observer.RecordFileWrite(name, meta.Size)
	}
	return nil
}

func (l *Layer) writeAtomic(base, name string, data []byte) error {
	tmp, err := os.CreateTemp(l.dir, base+"-*"+storage.TempSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		removeQuietly(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		removeQuietly(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		removeQuietly(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, l.path(name)); err != nil {
		removeQuietly(tmpName)
		return fmt.Errorf("failed to rename %s: %w", name, err)
	}
	return nil
}

// Delete removes the content and metadata for key. Absent keys are a no-op.
func (l *Layer) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	meta, err := l.readMetadata(key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		// Unreadable metadata: drop it so the key stops resolving.
		removeQuietly(l.path(baseFor(key) + storage.MetadataSuffix))
		return nil
	}

	if _, _, err := storage.RemoveArtifact(l.dir, meta.FileName); err != nil {
		l.counters.Errors.Inc()
		return err
	}
	return nil
}

// Exists reports whether a live entry for key is on disk.
func (l *Layer) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !l.filter.Test(key) {
		return false, nil
	}

	meta, err := l.readMetadata(key)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if meta.IsExpired(time.Now()) {
		return false, nil
	}

	_, err = os.Stat(l.path(meta.FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// TTL reports the time key has left according to its metadata.
func (l *Layer) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	meta, err := l.readMetadata(key)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, models.ErrKeyNotFound
	}
	if err != nil {
		return 0, err
	}
	if meta.ExpiresAt.IsZero() {
		return 0, nil
	}
	left := time.Until(meta.ExpiresAt)
	if left <= 0 {
		return 0, models.ErrEntryExpired
	}
	return left, nil
}

// Clear removes every cached file, leaving reserved entries in place.
func (l *Layer) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		l.filter.Reset()
		return storage.EnsureDir(l.dir)
	}
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || storage.IsReserved(entry.Name()) {
			continue
		}
		if err := os.Remove(l.path(entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	l.filter.Reset()
	if len(errs) > 0 {
		l.counters.Errors.Inc()
		return fmt.Errorf("failed to clear file layer: %w", errors.Join(errs...))
	}
	return nil
}

// Stats reports counters with the number and total size of content files.
func (l *Layer) Stats(_ context.Context) models.LayerStats {
	files, err := storage.ListFiles(l.dir)
	if err != nil {
		l.logger.Warn("Failed to list cache directory", zap.Error(err))
	}

	var count, size int64
	for _, f := range files {
		if strings.HasSuffix(f.Name, storage.TempSuffix) {
			continue
		}
		count++
		size += f.Size
	}
	return l.counters.Snapshot(cache.FileLayerName, count, size)
}

// RebuildFilter reloads the bloom filter from the metadata files on disk.
// Keys written while the directory is being read are carried over.
func (l *Layer) RebuildFilter(ctx context.Context) error {
	l.rebuildMu.Lock()
	defer l.rebuildMu.Unlock()

	l.filter.BeginRebuild()
	known, err := l.storedKeys(ctx)
	if err != nil {
		l.filter.AbortRebuild()
		return err
	}

	l.filter.Replace(known)
	l.logger.Debug("Bloom filter rebuilt", zap.Int("keys", len(known)))
	return nil
}

func (l *Layer) storedKeys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	known := make([]string, 0, len(entries)/2)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !storage.IsMetadata(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(l.path(entry.Name()))
		if err != nil {
			continue
		}
		meta, err := unmarshalMetadata(data)
		if err != nil {
			l.logger.Warn("Skipping corrupt metadata", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		known = append(known, meta.Key)
	}
	return known, nil
}

// Name returns the layer name.
func (l *Layer) Name() string { return cache.FileLayerName }

// Priority returns the layer priority.
func (l *Layer) Priority() int { return l.priority }

func removeQuietly(path string) {
	_ = os.Remove(path)
}

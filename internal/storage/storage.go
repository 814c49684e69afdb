// Package storage holds the directory conventions shared by the file cache
// layer and the monitoring, eviction and cleanup services.
//
// Every cached resource is one content file named {base}{ext} plus a
// companion metadata file {base}.meta.json. Reserved entries such as
// .gitkeep are never listed, scanned or removed.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// MetadataSuffix marks the companion metadata file of a content file.
	MetadataSuffix = ".meta.json"
	// TempSuffix marks in-flight writes.
	TempSuffix = ".tmp"

	dirPerm = 0o750
)

var reserved = map[string]struct{}{
	".gitkeep": {},
}

// FileEntry describes one content file in the cache directory.
type FileEntry struct {
	Name      string
	Size      int64
	ModTime   time.Time
	Extension string
}

// IsReserved reports whether name must be ignored by scans and cleanup.
func IsReserved(name string) bool {
	_, ok := reserved[name]
	return ok
}

// IsMetadata reports whether name is a companion metadata file.
func IsMetadata(name string) bool {
	return strings.HasSuffix(name, MetadataSuffix)
}

// BaseName strips the extension from a content file name.
func BaseName(name string) string {
	if IsMetadata(name) {
		return strings.TrimSuffix(name, MetadataSuffix)
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// MetadataName returns the companion metadata file name for a content file.
func MetadataName(name string) string {
	return BaseName(name) + MetadataSuffix
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// EnsureDir creates dir if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	return nil
}

// ListFiles lists the content files of dir. A missing directory is created
// and reported as empty. Files that vanish while listing are skipped.
func ListFiles(dir string) ([]FileEntry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, EnsureDir(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	files := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || IsReserved(name) || IsMetadata(name) {
			continue
		}

		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		files = append(files, FileEntry{
			Name:      name,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Extension: Extension(name),
		})
	}
	return files, nil
}

// RemoveArtifact deletes a content file and its companion metadata.
// It returns the freed content size and whether the content file existed;
// a file that is already gone is not an error.
func RemoveArtifact(dir, name string) (int64, bool, error) {
	if IsReserved(name) {
		return 0, false, nil
	}

	path := filepath.Join(dir, filepath.Base(name))
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		removeQuietly(filepath.Join(dir, MetadataName(name)))
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to remove %s: %w", name, err)
	}
	if !IsMetadata(name) {
		removeQuietly(filepath.Join(dir, MetadataName(name)))
	}
	return info.Size(), true, nil
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}

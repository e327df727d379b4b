package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/colthorp/portal-cache-go/internal/core"
)

// FilesystemBackend stores each partition as a directory of JSON blobs:
// <root>/<partition>/<escaped key>.json
type FilesystemBackend struct {
	root      string
	writeLock sync.Mutex
}

// NewFilesystemBackend creates a new filesystem-based cache backend.
func NewFilesystemBackend(root string) *FilesystemBackend {
	if root == "" {
		root = core.CacheRoot()
	}
	return &FilesystemBackend{root: root}
}

// Path returns the filesystem path for the given partition and key.
func (b *FilesystemBackend) Path(partition, key string) string {
	return filepath.Join(b.root, partition, url.PathEscape(key)+".json")
}

func validPartition(partition string) error {
	if partition == "" || strings.ContainsAny(partition, `/\`) || partition == "." || partition == ".." {
		return fmt.Errorf("invalid partition name %q", partition)
	}
	return nil
}

// Get returns the blob stored under key, or ok=false if absent.
func (b *FilesystemBackend) Get(ctx context.Context, partition, key string) ([]byte, bool, error) {
	if err := validPartition(partition); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(b.Path(partition, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache file: %w", err)
	}
	return data, true, nil
}

// Put persists the blob atomically.
func (b *FilesystemBackend) Put(ctx context.Context, partition, key string, data []byte) error {
	if err := validPartition(partition); err != nil {
		return err
	}

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	return writeFileAtomic(b.Path(partition, key), data)
}

// Delete removes one key.
func (b *FilesystemBackend) Delete(ctx context.Context, partition, key string) error {
	if err := validPartition(partition); err != nil {
		return err
	}

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	if err := os.Remove(b.Path(partition, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

// DeletePartition removes the partition directory.
func (b *FilesystemBackend) DeletePartition(ctx context.Context, partition string) (bool, error) {
	if err := validPartition(partition); err != nil {
		return false, err
	}

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	dir := filepath.Join(b.root, partition)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove partition %s: %w", partition, err)
	}
	return true, nil
}

// Partitions lists partition directories under the root.
func (b *FilesystemBackend) Partitions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// FileMetaStore keeps every metadata key in one JSON document, rewritten
// atomically on each change.
type FileMetaStore struct {
	path    string
	verbose bool
	mu      sync.Mutex
}

// NewFileMetaStore creates a metadata store backed by path.
func NewFileMetaStore(path string, verbose bool) *FileMetaStore {
	if path == "" {
		path = filepath.Join(core.CacheRoot(), "metadata.json")
	}
	return &FileMetaStore{path: path, verbose: verbose}
}

// load reads the document. A corrupt document is removed and treated as empty.
func (s *FileMetaStore) load() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &values); err != nil {
		core.Eprint(fmt.Sprintf("[Cache] Discarding corrupt metadata document %s: %v", s.path, err), s.verbose)
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			core.Eprint(fmt.Sprintf("[Cache] Failed to remove %s: %v", s.path, err), s.verbose)
		}
		return make(map[string]string), nil
	}
	return values, nil
}

func (s *FileMetaStore) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

// GetMeta returns the value for key.
func (s *FileMetaStore) GetMeta(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// SetMeta stores value under key.
func (s *FileMetaStore) SetMeta(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

// RemoveMeta deletes key.
func (s *FileMetaStore) RemoveMeta(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

// MetaKeys lists all keys in sorted order.
func (s *FileMetaStore) MetaKeys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// writeFileAtomic writes to a uniquely named temp file in the same directory,
// then renames it over path. Concurrent writers never share a temp file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryBackend is an in-memory cache backend for testing.
type MemoryBackend struct {
	partitions map[string]map[string][]byte
	mu         sync.RWMutex

	// FailReads and FailWrites inject storage errors.
	FailReads  bool
	FailWrites bool
}

var errInjected = errors.New("injected storage failure")

// NewMemoryBackend creates a new in-memory cache backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		partitions: make(map[string]map[string][]byte),
	}
}

// Get returns a copy of the stored blob.
func (b *MemoryBackend) Get(ctx context.Context, partition, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.FailReads {
		return nil, false, errInjected
	}
	data, ok := b.partitions[partition][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Put stores a copy of the blob.
func (b *MemoryBackend) Put(ctx context.Context, partition, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWrites {
		return errInjected
	}
	p, ok := b.partitions[partition]
	if !ok {
		p = make(map[string][]byte)
		b.partitions[partition] = p
	}
	p[key] = append([]byte(nil), data...)
	return nil
}

// Delete removes one key.
func (b *MemoryBackend) Delete(ctx context.Context, partition, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWrites {
		return errInjected
	}
	delete(b.partitions[partition], key)
	return nil
}

// DeletePartition removes a partition.
func (b *MemoryBackend) DeletePartition(ctx context.Context, partition string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWrites {
		return false, errInjected
	}
	_, ok := b.partitions[partition]
	delete(b.partitions, partition)
	return ok, nil
}

// Partitions lists partition names in sorted order.
func (b *MemoryBackend) Partitions(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.partitions))
	for name := range b.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// MemoryMetaStore is an in-memory MetaStore for testing.
type MemoryMetaStore struct {
	values map[string]string
	mu     sync.RWMutex

	// FailReads injects storage errors on GetMeta; FailWrites on SetMeta
	// and RemoveMeta.
	FailReads  bool
	FailWrites bool
}

// NewMemoryMetaStore creates an empty in-memory metadata store.
func NewMemoryMetaStore() *MemoryMetaStore {
	return &MemoryMetaStore{values: make(map[string]string)}
}

// GetMeta returns the value for key.
func (s *MemoryMetaStore) GetMeta(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads {
		return "", false, errInjected
	}
	v, ok := s.values[key]
	return v, ok, nil
}

// SetMeta stores value under key.
func (s *MemoryMetaStore) SetMeta(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return errInjected
	}
	s.values[key] = value
	return nil
}

// RemoveMeta deletes key.
func (s *MemoryMetaStore) RemoveMeta(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return errInjected
	}
	delete(s.values, key)
	return nil
}

// MetaKeys lists all keys in sorted order.
func (s *MemoryMetaStore) MetaKeys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

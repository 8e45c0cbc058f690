package cache

import (
	"context"
	"net/http"
	"sort"
	"sync"
)

// MemoryStorage keeps containers in process memory.
// Entries are held in encoded form so callers never share mutable state with the store.
type MemoryStorage struct {
	mu         sync.RWMutex
	containers map[string]map[string][]byte
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		containers: make(map[string]map[string][]byte),
	}
}

// Open returns the named container, creating it if absent.
func (s *MemoryStorage) Open(ctx context.Context, name string) (Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if _, ok := s.containers[name]; !ok {
		s.containers[name] = make(map[string][]byte)
	}
	count := len(s.containers)
	s.mu.Unlock()

	observe(BackendMemory, "open", nil)
	Containers.WithLabelValues(BackendMemory).Set(float64(count))
	return &memoryContainer{storage: s, name: name}, nil
}

// Has reports whether the named container exists.
func (s *MemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.containers[name]
	return ok, nil
}

// Keys returns the names of all containers, sorted.
func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.containers))
	for name := range s.containers {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	observe(BackendMemory, "keys", nil)
	Containers.WithLabelValues(BackendMemory).Set(float64(len(names)))
	return names, nil
}

// Delete removes the named container and its entries.
func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	_, ok := s.containers[name]
	delete(s.containers, name)
	count := len(s.containers)
	s.mu.Unlock()

	observe(BackendMemory, "drop", nil)
	Containers.WithLabelValues(BackendMemory).Set(float64(count))
	return ok, nil
}

// Close is a no-op for the memory backend.
func (s *MemoryStorage) Close() error {
	return nil
}

type memoryContainer struct {
	storage *MemoryStorage
	name    string
}

func (c *memoryContainer) Name() string {
	return c.name
}

func (c *memoryContainer) Match(ctx context.Context, r *http.Request) (*Entry, error) {
	key := NewRequestKey(r).String()

	c.storage.mu.RLock()
	data, ok := c.storage.containers[c.name][key]
	c.storage.mu.RUnlock()

	if !ok {
		observe(BackendMemory, "match", ErrCacheMiss)
		return nil, ErrCacheMiss
	}
	entry, err := matchEntry(data, r)
	observe(BackendMemory, "match", err)
	return entry, err
}

func (c *memoryContainer) Put(ctx context.Context, r *http.Request, entry *Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		observe(BackendMemory, "put", err)
		return err
	}
	key := NewRequestKey(r).String()

	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	entries, ok := c.storage.containers[c.name]
	if !ok {
		observe(BackendMemory, "put", ErrContainerDeleted)
		return ErrContainerDeleted
	}
	entries[key] = data
	observe(BackendMemory, "put", nil)
	return nil
}

func (c *memoryContainer) Delete(ctx context.Context, r *http.Request) (bool, error) {
	key := NewRequestKey(r).String()

	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	entries, ok := c.storage.containers[c.name]
	if !ok {
		return false, nil
	}
	_, existed := entries[key]
	delete(entries, key)
	observe(BackendMemory, "delete", nil)
	return existed, nil
}

func (c *memoryContainer) Keys(ctx context.Context) ([]RequestKey, error) {
	c.storage.mu.RLock()
	raw := make([]string, 0, len(c.storage.containers[c.name]))
	for key := range c.storage.containers[c.name] {
		raw = append(raw, key)
	}
	c.storage.mu.RUnlock()

	return parseKeys(raw)
}

// parseKeys converts raw key strings to sorted RequestKeys.
func parseKeys(raw []string) ([]RequestKey, error) {
	sort.Strings(raw)
	keys := make([]RequestKey, 0, len(raw))
	for _, s := range raw {
		k, err := ParseRequestKey(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

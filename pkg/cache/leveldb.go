package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStorage stores containers in an embedded LevelDB database.
//
// Layout:
//
//	c:<name>                marker for an existing container
//	e:<name>\x00<key>       JSON entry
type LevelDBStorage struct {
	db *leveldb.DB
	// mu serializes check-then-write sequences against container deletion
	mu sync.Mutex
}

// NewLevelDBStorage opens (creating if needed) the database directory at path.
func NewLevelDBStorage(path string) (*LevelDBStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDBStorage{db: db}, nil
}

func containerMarker(name string) []byte {
	return []byte("c:" + name)
}

func entryPrefix(name string) []byte {
	return []byte("e:" + name + "\x00")
}

func entryKey(name, key string) []byte {
	return append(entryPrefix(name), key...)
}

// Open returns the named container, creating it if absent.
func (s *LevelDBStorage) Open(ctx context.Context, name string) (Container, error) {
	s.mu.Lock()
	err := s.db.Put(containerMarker(name), nil, nil)
	s.mu.Unlock()
	observe(BackendLevelDB, "open", err)
	if err != nil {
		return nil, fmt.Errorf("leveldb open container: %w", err)
	}
	return &leveldbContainer{storage: s, name: name}, nil
}

// Has reports whether the named container exists.
func (s *LevelDBStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.db.Has(containerMarker(name), nil)
	if err != nil {
		return false, fmt.Errorf("leveldb has container: %w", err)
	}
	return ok, nil
}

// Keys returns the names of all containers, sorted.
func (s *LevelDBStorage) Keys(ctx context.Context) ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte("c:")), nil)
	defer iter.Release()

	names := make([]string, 0)
	for iter.Next() {
		names = append(names, string(iter.Key()[2:]))
	}
	err := iter.Error()
	observe(BackendLevelDB, "keys", err)
	if err != nil {
		return nil, fmt.Errorf("leveldb list containers: %w", err)
	}
	sort.Strings(names)
	Containers.WithLabelValues(BackendLevelDB).Set(float64(len(names)))
	return names, nil
}

// Delete removes the container marker and all its entries in one batch.
func (s *LevelDBStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existed, err := s.db.Has(containerMarker(name), nil)
	if err != nil {
		observe(BackendLevelDB, "drop", err)
		return false, fmt.Errorf("leveldb has container: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Delete(containerMarker(name))
	iter := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		observe(BackendLevelDB, "drop", err)
		return false, fmt.Errorf("leveldb scan entries: %w", err)
	}

	err = s.db.Write(batch, nil)
	observe(BackendLevelDB, "drop", err)
	if err != nil {
		return false, fmt.Errorf("leveldb delete container: %w", err)
	}
	return existed, nil
}

// Close closes the database.
func (s *LevelDBStorage) Close() error {
	return s.db.Close()
}

type leveldbContainer struct {
	storage *LevelDBStorage
	name    string
}

func (c *leveldbContainer) Name() string {
	return c.name
}

func (c *leveldbContainer) Match(ctx context.Context, r *http.Request) (*Entry, error) {
	key := NewRequestKey(r).String()

	data, err := c.storage.db.Get(entryKey(c.name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		observe(BackendLevelDB, "match", ErrCacheMiss)
		return nil, ErrCacheMiss
	}
	if err != nil {
		observe(BackendLevelDB, "match", err)
		return nil, fmt.Errorf("leveldb get: %w", err)
	}

	entry, err := matchEntry(data, r)
	observe(BackendLevelDB, "match", err)
	return entry, err
}

func (c *leveldbContainer) Put(ctx context.Context, r *http.Request, entry *Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		observe(BackendLevelDB, "put", err)
		return err
	}
	key := NewRequestKey(r).String()

	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	ok, err := c.storage.db.Has(containerMarker(c.name), nil)
	if err != nil {
		observe(BackendLevelDB, "put", err)
		return fmt.Errorf("leveldb has container: %w", err)
	}
	if !ok {
		observe(BackendLevelDB, "put", ErrContainerDeleted)
		return ErrContainerDeleted
	}
	err = c.storage.db.Put(entryKey(c.name, key), data, nil)
	observe(BackendLevelDB, "put", err)
	if err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

func (c *leveldbContainer) Delete(ctx context.Context, r *http.Request) (bool, error) {
	k := entryKey(c.name, NewRequestKey(r).String())

	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	existed, err := c.storage.db.Has(k, nil)
	if err != nil {
		observe(BackendLevelDB, "delete", err)
		return false, fmt.Errorf("leveldb has: %w", err)
	}
	err = c.storage.db.Delete(k, nil)
	observe(BackendLevelDB, "delete", err)
	if err != nil {
		return false, fmt.Errorf("leveldb delete: %w", err)
	}
	return existed, nil
}

func (c *leveldbContainer) Keys(ctx context.Context) ([]RequestKey, error) {
	prefix := entryPrefix(c.name)
	iter := c.storage.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	raw := make([]string, 0)
	for iter.Next() {
		raw = append(raw, string(iter.Key()[len(prefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldb list keys: %w", err)
	}
	return parseKeys(raw)
}

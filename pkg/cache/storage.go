package cache

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the container
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrContainerDeleted indicates a write to a container that no longer exists
	ErrContainerDeleted = errors.New("cache container deleted")
)

// Storage manages named cache containers.
//
// Implementations must be safe for concurrent use. Every single operation is
// atomic; callers never need read-modify-write sequences.
type Storage interface {
	// Open returns the named container, creating it if absent.
	Open(ctx context.Context, name string) (Container, error)

	// Has reports whether the named container exists.
	Has(ctx context.Context, name string) (bool, error)

	// Keys returns the names of all containers, sorted.
	Keys(ctx context.Context) ([]string, error)

	// Delete removes the named container and all of its entries.
	// It reports whether a container was removed.
	Delete(ctx context.Context, name string) (bool, error)

	// Close releases the backend resources.
	Close() error
}

// Container is a single named cache of request/response pairs.
//
// A Container handle stays valid after its container is deleted, but writes
// through it fail with ErrContainerDeleted and reads miss.
type Container interface {
	// Name returns the container name.
	Name() string

	// Match returns the stored entry for r, or ErrCacheMiss.
	Match(ctx context.Context, r *http.Request) (*Entry, error)

	// Put stores entry under the key of r, replacing any previous entry.
	Put(ctx context.Context, r *http.Request, entry *Entry) error

	// Delete removes the entry stored for r and reports whether one existed.
	Delete(ctx context.Context, r *http.Request) (bool, error)

	// Keys lists the request keys held by the container.
	Keys(ctx context.Context) ([]RequestKey, error)
}

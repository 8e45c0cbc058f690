// Package cache provides named cache containers of HTTP request/response pairs.
//
// It mirrors the cache storage a browser exposes to its workers: a Storage holds
// any number of named containers, a Container maps request keys to stored
// responses. The agent keeps one container per deployed generation and deletes
// the others on activation.
//
// Several backends implement Storage:
//
//   - MemoryStorage  - in-process maps, for tests and single-node use
//   - RedisStorage   - one Redis hash per container plus a set of container names
//   - SQLiteStorage  - containers and entries tables in a single SQLite file
//   - LevelDBStorage - prefixed keys in a LevelDB directory
//
// # Basic Usage
//
//	storage := cache.NewMemoryStorage()
//
//	// Open (creating if absent) the container for the current generation
//	container, err := storage.Open(ctx, "food-scale-v7")
//	if err != nil {
//		return err
//	}
//
//	// Look up a request
//	entry, err := container.Match(ctx, req)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Cache miss - go to the network
//	}
//
// # Storing Responses
//
//	// ResponseToEntry reads the body once and restores it on resp,
//	// so the caller and the cache each get their own copy.
//	entry, err := cache.ResponseToEntry(resp, req)
//	if err != nil {
//		return err
//	}
//	if err := container.Put(ctx, req, entry); err != nil {
//		return err
//	}
//
// # Matching Rules
//
// Entries are keyed by method and normalized URL (see RequestKey). When the
// stored response carried a Vary header, the request header values it names are
// kept with the entry and a later request only matches when they are equal.
// "Vary: *" never matches. There is no freshness check: a stored entry is served
// until its container is deleted.
//
// # Metrics
//
// Every backend exports Prometheus counters:
//
//   - cache_agent_storage_operations_total{backend,operation}
//   - cache_agent_storage_errors_total{backend,operation}
//   - cache_agent_storage_containers{backend}
package cache

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

var sqliteSchema = []string{
	"CREATE TABLE IF NOT EXISTS containers (name TEXT PRIMARY KEY, created_at INTEGER)",
	"CREATE TABLE IF NOT EXISTS entries (container TEXT NOT NULL, key TEXT NOT NULL, data BLOB, PRIMARY KEY (container, key))",
	"PRAGMA journal_mode=WAL",
}

// SQLiteStorage stores containers in a SQLite database file.
// Use "file::memory:?cache=shared" for an in-memory database.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStorage opens (creating if needed) the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Open returns the named container, creating it if absent.
func (s *SQLiteStorage) Open(ctx context.Context, name string) (Container, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO containers (name, created_at) VALUES (?, ?)", name, time.Now().Unix())
	observe(BackendSQLite, "open", err)
	if err != nil {
		return nil, fmt.Errorf("sqlite open container: %w", err)
	}
	return &sqliteContainer{storage: s, name: name}, nil
}

// Has reports whether the named container exists.
func (s *SQLiteStorage) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM containers WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite has container: %w", err)
	}
	return true, nil
}

// Keys returns the names of all containers, sorted.
func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM containers ORDER BY name")
	if err != nil {
		observe(BackendSQLite, "keys", err)
		return nil, fmt.Errorf("sqlite list containers: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			observe(BackendSQLite, "keys", err)
			return nil, fmt.Errorf("sqlite scan container: %w", err)
		}
		names = append(names, name)
	}
	err = rows.Err()
	observe(BackendSQLite, "keys", err)
	if err != nil {
		return nil, fmt.Errorf("sqlite list containers: %w", err)
	}
	Containers.WithLabelValues(BackendSQLite).Set(float64(len(names)))
	return names, nil
}

// Delete removes the container row and its entries in one transaction.
func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	removed, err := s.deleteTx(ctx, name)
	observe(BackendSQLite, "drop", err)
	return removed, err
}

func (s *SQLiteStorage) deleteTx(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE container = ?", name); err != nil {
		return false, fmt.Errorf("sqlite delete entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM containers WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("sqlite delete container: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite commit: %w", err)
	}
	return n > 0, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteContainer struct {
	storage *SQLiteStorage
	name    string
}

func (c *sqliteContainer) Name() string {
	return c.name
}

func (c *sqliteContainer) Match(ctx context.Context, r *http.Request) (*Entry, error) {
	key := NewRequestKey(r).String()

	var data []byte
	err := c.storage.db.QueryRowContext(ctx,
		"SELECT data FROM entries WHERE container = ? AND key = ?", c.name, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		observe(BackendSQLite, "match", ErrCacheMiss)
		return nil, ErrCacheMiss
	}
	if err != nil {
		observe(BackendSQLite, "match", err)
		return nil, fmt.Errorf("sqlite match: %w", err)
	}

	entry, err := matchEntry(data, r)
	observe(BackendSQLite, "match", err)
	return entry, err
}

func (c *sqliteContainer) Put(ctx context.Context, r *http.Request, entry *Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		observe(BackendSQLite, "put", err)
		return err
	}
	key := NewRequestKey(r).String()

	c.storage.writeMutex.Lock()
	defer c.storage.writeMutex.Unlock()
	// the insert only happens while the container row exists
	res, err := c.storage.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (container, key, data)
		 SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM containers WHERE name = ?)`,
		c.name, key, data, c.name)
	if err != nil {
		observe(BackendSQLite, "put", err)
		return fmt.Errorf("sqlite put: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		observe(BackendSQLite, "put", err)
		return fmt.Errorf("sqlite rows affected: %w", err)
	}
	if n == 0 {
		observe(BackendSQLite, "put", ErrContainerDeleted)
		return ErrContainerDeleted
	}
	observe(BackendSQLite, "put", nil)
	return nil
}

func (c *sqliteContainer) Delete(ctx context.Context, r *http.Request) (bool, error) {
	key := NewRequestKey(r).String()

	c.storage.writeMutex.Lock()
	defer c.storage.writeMutex.Unlock()
	res, err := c.storage.db.ExecContext(ctx,
		"DELETE FROM entries WHERE container = ? AND key = ?", c.name, key)
	observe(BackendSQLite, "delete", err)
	if err != nil {
		return false, fmt.Errorf("sqlite delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite rows affected: %w", err)
	}
	return n > 0, nil
}

func (c *sqliteContainer) Keys(ctx context.Context) ([]RequestKey, error) {
	rows, err := c.storage.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE container = ?", c.name)
	if err != nil {
		return nil, fmt.Errorf("sqlite list keys: %w", err)
	}
	defer rows.Close()

	raw := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlite scan key: %w", err)
		}
		raw = append(raw, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite list keys: %w", err)
	}
	return parseKeys(raw)
}

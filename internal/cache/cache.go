package cache

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
)

// Store is a generic TTL value cache for read-side consumers such as the
// quote display endpoint. Entries expire after their TTL and, when the store
// grows past its capacity, the least recently created entries are evicted
// first. The settlement write path never touches this cache.
type Store struct {
	db       *sql.DB
	lock     *flock.Flock
	capacity int
	now      func() time.Time
}

const DefaultCapacity = 1024

func Open(path, lockPath string, capacity int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, piperr.Wrap(piperr.CodeInternal, "create cache directory", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, piperr.Wrap(piperr.CodeInternal, "create cache lock directory", err)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, piperr.Wrap(piperr.CodeInternal, "open sqlite cache", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			created_at_ms INTEGER NOT NULL,
			ttl_ms INTEGER NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_cache_created ON cache_entries(created_at_ms ASC);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, piperr.Wrap(piperr.CodeInternal, "init cache schema", err)
		}
	}

	store := &Store{db: db, lock: flock.New(lockPath), capacity: capacity, now: time.Now}
	// Drop whatever expired while the process was down.
	_ = store.Prune()
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes expired entries. Called on Open; eviction keeps growth
// bounded between prunes.
func (s *Store) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	nowMs := s.now().UTC().UnixMilli()
	if _, err := s.db.Exec("DELETE FROM cache_entries WHERE created_at_ms + ttl_ms < ?", nowMs); err != nil {
		return piperr.Wrap(piperr.CodeInternal, "prune cache", err)
	}
	return nil
}

// Get returns the cached value, or a miss for absent and expired keys alike.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var (
		value     []byte
		createdMs int64
		ttlMs     int64
	)
	err := s.db.QueryRow(
		"SELECT value, created_at_ms, ttl_ms FROM cache_entries WHERE key = ?", key,
	).Scan(&value, &createdMs, &ttlMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, piperr.Wrap(piperr.CodeInternal, "cache read", err)
	}
	if s.now().UTC().UnixMilli() > createdMs+ttlMs {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) Has(key string) (bool, error) {
	_, hit, err := s.Get(key)
	return hit, err
}

// Set writes the value and evicts the oldest entries past capacity.
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return piperr.Wrap(piperr.CodeInternal, "lock cache", err)
	}
	if !locked {
		return piperr.New(piperr.CodeInternal, "lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	ttlMs := ttl.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = 1000
	}
	_, err = s.db.Exec(`
		INSERT INTO cache_entries (key, value, created_at_ms, ttl_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			created_at_ms=excluded.created_at_ms,
			ttl_ms=excluded.ttl_ms
	`, key, value, s.now().UTC().UnixMilli(), ttlMs)
	if err != nil {
		return piperr.Wrap(piperr.CodeInternal, "cache write", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM cache_entries WHERE key NOT IN (
			SELECT key FROM cache_entries ORDER BY created_at_ms DESC, rowid DESC LIMIT ?
		)
	`, s.capacity)
	if err != nil {
		return piperr.Wrap(piperr.CodeInternal, "cache evict", err)
	}
	return nil
}

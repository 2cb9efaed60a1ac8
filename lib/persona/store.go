// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package persona

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/couriergram/courier/lib/clock"
	"github.com/couriergram/courier/lib/sqlitepool"
)

// Normal is the reserved persona name meaning "no custom persona".
const Normal = "normal"

// defaultCacheTTL is how long resolved personas are served from
// memory before hitting SQLite again.
const defaultCacheTTL = time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS personas (
	name TEXT PRIMARY KEY,
	prompt TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_persona (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	name TEXT NOT NULL DEFAULT 'normal',
	updated_at INTEGER NOT NULL
);
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Pool is the shared connection pool. Required.
	Pool *sqlitepool.Pool

	// CacheTTL bounds how stale cached reads may be. Zero means one
	// minute; negative disables caching.
	CacheTTL time.Duration

	// Clock drives cache expiry and the updated_at column. Nil means
	// clock.Real().
	Clock clock.Clock

	// Logger receives diagnostics. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Store reads and writes personas. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	found     bool
	expiresAt time.Time
}

// New creates a Store, ensures its schema exists, and seeds the
// active persona row.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("persona: Pool is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}

	conn, err := cfg.Pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer cfg.Pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("persona: creating schema: %w", err)
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO active_persona (id, name, updated_at)
		SELECT 1, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM active_persona WHERE id = 1)`,
		&sqlitex.ExecOptions{
			Args: []any{Normal, clk.Now().UnixMilli()},
		})
	if err != nil {
		return nil, fmt.Errorf("persona: seeding active persona: %w", err)
	}

	return &Store{
		pool:   cfg.Pool,
		ttl:    ttl,
		clock:  clk,
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}, nil
}

// Text returns the prompt body for a persona name. The bool reports
// whether the persona exists.
func (store *Store) Text(ctx context.Context, name string) (string, bool, error) {
	cacheKey := "text:" + name
	if entry, ok := store.cached(cacheKey); ok {
		return entry.value, entry.found, nil
	}

	conn, err := store.pool.Take(ctx)
	if err != nil {
		return "", false, err
	}
	defer store.pool.Put(conn)

	var prompt string
	var found bool
	err = sqlitex.Execute(conn, "SELECT prompt FROM personas WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			prompt = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("persona: reading %q: %w", name, err)
	}

	store.store(cacheKey, prompt, found)
	return prompt, found, nil
}

// Exists reports whether a persona with this name is stored.
func (store *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, found, err := store.Text(ctx, name)
	return found, err
}

// Active returns the name of the currently active persona. A missing
// row reads as [Normal].
func (store *Store) Active(ctx context.Context) (string, error) {
	if entry, ok := store.cached("active"); ok {
		return entry.value, nil
	}

	conn, err := store.pool.Take(ctx)
	if err != nil {
		return "", err
	}
	defer store.pool.Put(conn)

	active := Normal
	err = sqlitex.Execute(conn, "SELECT name FROM active_persona WHERE id = 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			active = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return "", fmt.Errorf("persona: reading active persona: %w", err)
	}

	store.store("active", active, true)
	return active, nil
}

// SetActive switches the active persona. The name must be [Normal] or
// an existing persona.
func (store *Store) SetActive(ctx context.Context, name string) error {
	if name != Normal {
		exists, err := store.Exists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("persona: %q does not exist", name)
		}
	}

	conn, err := store.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer store.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO active_persona (id, name, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{name, store.clock.Now().UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("persona: setting active persona: %w", err)
	}

	store.invalidate("active")
	store.logger.Info("active persona changed", "persona", name)
	return nil
}

// Define creates or replaces a persona. [Normal] is reserved and
// cannot be defined.
func (store *Store) Define(ctx context.Context, name, prompt string) error {
	if name == Normal {
		return fmt.Errorf("persona: %q is reserved", Normal)
	}
	if name == "" || prompt == "" {
		return fmt.Errorf("persona: name and prompt are required")
	}

	conn, err := store.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer store.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO personas (name, prompt)
		VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET prompt = excluded.prompt`,
		&sqlitex.ExecOptions{
			Args: []any{name, prompt},
		})
	if err != nil {
		return fmt.Errorf("persona: defining %q: %w", name, err)
	}

	store.invalidate("text:" + name)
	store.logger.Info("persona defined", "persona", name)
	return nil
}

// List returns all stored persona names in lexical order.
func (store *Store) List(ctx context.Context) ([]string, error) {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer store.pool.Put(conn)

	var names []string
	err = sqlitex.Execute(conn, "SELECT name FROM personas ORDER BY name", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			names = append(names, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("persona: listing personas: %w", err)
	}
	return names, nil
}

func (store *Store) cached(key string) (cacheEntry, bool) {
	if store.ttl < 0 {
		return cacheEntry{}, false
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	entry, ok := store.cache[key]
	if !ok {
		return cacheEntry{}, false
	}
	if !store.clock.Now().Before(entry.expiresAt) {
		delete(store.cache, key)
		return cacheEntry{}, false
	}
	return entry, true
}

func (store *Store) store(key, value string, found bool) {
	if store.ttl < 0 {
		return
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.cache[key] = cacheEntry{
		value:     value,
		found:     found,
		expiresAt: store.clock.Now().Add(store.ttl),
	}
}

func (store *Store) invalidate(key string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.cache, key)
}

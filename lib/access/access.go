// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package access controls who may talk to the assistant. The owner is
// configured statically and is always allowed; other users must be
// granted access, which is persisted in SQLite so grants survive
// restarts.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/couriergram/courier/lib/clock"
	"github.com/couriergram/courier/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS granted_users (
	user_id INTEGER PRIMARY KEY,
	granted_at INTEGER NOT NULL
);
`

// Grant records one user's access.
type Grant struct {
	UserID    int64
	GrantedAt time.Time
}

// Config holds the parameters for opening a Store.
type Config struct {
	// Pool is the shared connection pool. Required.
	Pool *sqlitepool.Pool

	// OwnerID is the user who is always allowed and may manage
	// grants. Zero means no owner.
	OwnerID int64

	// Clock supplies grant timestamps. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives diagnostics. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Store answers authorization questions. Safe for concurrent use.
type Store struct {
	pool    *sqlitepool.Pool
	ownerID int64
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates a Store and ensures its schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("access: Pool is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	conn, err := cfg.Pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer cfg.Pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("access: creating schema: %w", err)
	}

	return &Store{pool: cfg.Pool, ownerID: cfg.OwnerID, clock: clk, logger: logger}, nil
}

// IsOwner reports whether userID is the configured owner.
func (store *Store) IsOwner(userID int64) bool {
	return store.ownerID != 0 && userID == store.ownerID
}

// Allowed reports whether userID may use the assistant. The owner is
// always allowed; storage errors deny with a logged error rather than
// failing open.
func (store *Store) Allowed(ctx context.Context, userID int64) bool {
	if store.IsOwner(userID) {
		return true
	}

	granted, err := store.isGranted(ctx, userID)
	if err != nil {
		store.logger.Error("grant lookup failed, denying",
			"user_id", userID,
			"error", err,
		)
		return false
	}
	return granted
}

// Grant allows userID. Returns false when the user already had
// access.
func (store *Store) Grant(ctx context.Context, userID int64) (bool, error) {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer store.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO granted_users (user_id, granted_at)
		VALUES (?, ?)
		ON CONFLICT (user_id) DO NOTHING`,
		&sqlitex.ExecOptions{
			Args: []any{userID, store.clock.Now().UnixMilli()},
		})
	if err != nil {
		return false, fmt.Errorf("access: granting user %d: %w", userID, err)
	}

	added := conn.Changes() > 0
	if added {
		store.logger.Info("access granted", "user_id", userID)
	}
	return added, nil
}

// Revoke removes userID's access. Returns false when the user did not
// have access.
func (store *Store) Revoke(ctx context.Context, userID int64) (bool, error) {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer store.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM granted_users WHERE user_id = ?", &sqlitex.ExecOptions{
		Args: []any{userID},
	})
	if err != nil {
		return false, fmt.Errorf("access: revoking user %d: %w", userID, err)
	}

	removed := conn.Changes() > 0
	if removed {
		store.logger.Info("access revoked", "user_id", userID)
	}
	return removed, nil
}

// Grants returns all grants, newest first.
func (store *Store) Grants(ctx context.Context) ([]Grant, error) {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer store.pool.Put(conn)

	var grants []Grant
	err = sqlitex.Execute(conn, `
		SELECT user_id, granted_at FROM granted_users
		ORDER BY granted_at DESC, user_id DESC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				grants = append(grants, Grant{
					UserID:    stmt.ColumnInt64(0),
					GrantedAt: time.UnixMilli(stmt.ColumnInt64(1)).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("access: listing grants: %w", err)
	}
	return grants, nil
}

func (store *Store) isGranted(ctx context.Context, userID int64) (bool, error) {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer store.pool.Put(conn)

	var granted bool
	err = sqlitex.Execute(conn, "SELECT 1 FROM granted_users WHERE user_id = ?", &sqlitex.ExecOptions{
		Args: []any{userID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			granted = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("access: checking user %d: %w", userID, err)
	}
	return granted, nil
}

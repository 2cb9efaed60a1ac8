// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/couriergram/courier/lib/clock"
	"github.com/couriergram/courier/lib/codec"
	"github.com/couriergram/courier/lib/llm"
	"github.com/couriergram/courier/lib/sqlitepool"
)

// fetchLimit bounds how many rows RecentWithinBudget reads before the
// budget walk, so a long-lived chat never loads its entire history.
const fetchLimit = 500

// fallbackRecentLimit is how many messages Recent returns when the
// budget-bounded read path fails.
const fallbackRecentLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY,
	chat_id TEXT NOT NULL,
	role TEXT NOT NULL,
	parts BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	user_id INTEGER,
	message_id INTEGER,
	token_count INTEGER NOT NULL DEFAULT 0,
	sender_name TEXT NOT NULL DEFAULT '',
	sender_username TEXT NOT NULL DEFAULT '',
	is_group INTEGER NOT NULL DEFAULT 0,
	has_image INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_created
	ON messages(chat_id, created_at DESC);
`

// Record is a message together with its transport-level attribution,
// as written to and read from storage.
type Record struct {
	llm.Message

	// UserID is the platform identifier of the sender, zero for
	// assistant messages.
	UserID int64

	// MessageID is the platform identifier of the inbound message,
	// zero when not applicable.
	MessageID int64
}

// Stats summarizes one chat's stored history.
type Stats struct {
	TotalMessages int64
	TotalTokens   int64

	// FirstMessage and LastMessage are zero when the chat has no
	// stored messages.
	FirstMessage time.Time
	LastMessage  time.Time
}

// Config holds the parameters for opening a Store.
type Config struct {
	// Pool is the shared connection pool. Required.
	Pool *sqlitepool.Pool

	// Clock supplies message timestamps. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives diagnostics. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Store reads and writes conversation history. Safe for concurrent
// use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Store and ensures its schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("history: Pool is required")
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
		return nil, fmt.Errorf("history: creating schema: %w", err)
	}

	return &Store{pool: cfg.Pool, clock: clk, logger: logger}, nil
}

// Append persists a message and returns its row ID.
func (store *Store) Append(ctx context.Context, chatID string, record Record) (int64, error) {
	parts, err := codec.Marshal(record.Content)
	if err != nil {
		return 0, fmt.Errorf("history: encoding parts: %w", err)
	}

	conn, err := store.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer store.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO messages
			(chat_id, role, parts, created_at, user_id, message_id,
			 token_count, sender_name, sender_username, is_group, has_image)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				chatID,
				string(record.Role),
				parts,
				store.clock.Now().UnixMilli(),
				record.UserID,
				record.MessageID,
				record.TokenCount,
				record.SenderName,
				record.SenderUsername,
				boolInt(record.IsGroup),
				boolInt(record.HasImage()),
			},
		})
	if err != nil {
		return 0, fmt.Errorf("history: appending message: %w", err)
	}

	rowID := conn.LastInsertRowID()
	store.logger.Debug("message appended",
		"chat_id", chatID,
		"row_id", rowID,
		"role", string(record.Role),
		"tokens", record.TokenCount,
	)
	return rowID, nil
}

// RecentWithinBudget returns recent messages whose stored token counts
// fit maxTokens, oldest first. The newest message is always included
// even when it alone exceeds the budget. When excludeImages is set,
// messages containing images are not considered at all.
//
// Read failures do not fail the caller: the method falls back to
// [Store.Recent] with a logged error, and returns nil only when that
// also fails.
func (store *Store) RecentWithinBudget(ctx context.Context, chatID string, maxTokens int, excludeImages bool) []llm.Message {
	messages, err := store.recentWithinBudget(ctx, chatID, maxTokens, excludeImages)
	if err != nil {
		store.logger.Error("budget-bounded history read failed, falling back to recent",
			"chat_id", chatID,
			"error", err,
		)
		fallback, fallbackErr := store.Recent(ctx, chatID, fallbackRecentLimit)
		if fallbackErr != nil {
			store.logger.Error("recent-message fallback failed",
				"chat_id", chatID,
				"error", fallbackErr,
			)
			return nil
		}
		return fallback
	}
	return messages
}

func (store *Store) recentWithinBudget(ctx context.Context, chatID string, maxTokens int, excludeImages bool) ([]llm.Message, error) {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer store.pool.Put(conn)

	query := `
		SELECT role, parts, token_count, sender_name, sender_username, is_group
		FROM messages
		WHERE chat_id = ?`
	if excludeImages {
		query += " AND has_image = 0"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"

	var newestFirst []llm.Message
	var usedTokens int
	done := false

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{chatID, fetchLimit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if done {
				return nil
			}

			message, decodeErr := scanMessage(stmt)
			if decodeErr != nil {
				return decodeErr
			}

			// The newest message is the active prompt; it is kept
			// regardless of cost.
			if len(newestFirst) > 0 && usedTokens+message.TokenCount > maxTokens {
				done = true
				return nil
			}
			newestFirst = append(newestFirst, message)
			usedTokens += message.TokenCount
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: reading messages: %w", err)
	}

	// Reverse into chronological order.
	for left, right := 0, len(newestFirst)-1; left < right; left, right = left+1, right-1 {
		newestFirst[left], newestFirst[right] = newestFirst[right], newestFirst[left]
	}

	store.logger.Debug("history window loaded",
		"chat_id", chatID,
		"messages", len(newestFirst),
		"tokens", usedTokens,
		"exclude_images", excludeImages,
	)
	return newestFirst, nil
}

// Recent returns the most recent `limit` stored messages for chatID
// in chronological order. Used as the degraded read path when the
// budget-bounded query fails.
func (store *Store) Recent(ctx context.Context, chatID string, limit int) ([]llm.Message, error) {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer store.pool.Put(conn)

	var messages []llm.Message
	err = sqlitex.Execute(conn, `
		SELECT role, parts, token_count, sender_name, sender_username, is_group
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{chatID, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				message, decodeErr := scanMessage(stmt)
				if decodeErr != nil {
					return decodeErr
				}
				messages = append(messages, message)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: reading recent messages: %w", err)
	}

	for left, right := 0, len(messages)-1; left < right; left, right = left+1, right-1 {
		messages[left], messages[right] = messages[right], messages[left]
	}
	return messages, nil
}

// Clear deletes all messages for chatID and returns how many were
// removed.
func (store *Store) Clear(ctx context.Context, chatID string) (int64, error) {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer store.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM messages WHERE chat_id = ?", &sqlitex.ExecOptions{
		Args: []any{chatID},
	})
	if err != nil {
		return 0, fmt.Errorf("history: clearing chat %s: %w", chatID, err)
	}

	deleted := int64(conn.Changes())
	store.logger.Info("history cleared", "chat_id", chatID, "deleted", deleted)
	return deleted, nil
}

// Stats returns aggregate statistics for chatID.
func (store *Store) Stats(ctx context.Context, chatID string) (Stats, error) {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer store.pool.Put(conn)

	var stats Stats
	err = sqlitex.Execute(conn, `
		SELECT COUNT(*), COALESCE(SUM(token_count), 0),
		       COALESCE(MIN(created_at), 0), COALESCE(MAX(created_at), 0)
		FROM messages
		WHERE chat_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{chatID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.TotalMessages = stmt.ColumnInt64(0)
				stats.TotalTokens = stmt.ColumnInt64(1)
				if first := stmt.ColumnInt64(2); first != 0 {
					stats.FirstMessage = time.UnixMilli(first).UTC()
				}
				if last := stmt.ColumnInt64(3); last != 0 {
					stats.LastMessage = time.UnixMilli(last).UTC()
				}
				return nil
			},
		})
	if err != nil {
		return Stats{}, fmt.Errorf("history: reading stats for chat %s: %w", chatID, err)
	}
	return stats, nil
}

// GroupChats returns the distinct chat IDs that contain group
// messages, for the retention pass.
func (store *Store) GroupChats(ctx context.Context) ([]string, error) {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer store.pool.Put(conn)

	var chatIDs []string
	err = sqlitex.Execute(conn,
		"SELECT DISTINCT chat_id FROM messages WHERE is_group = 1 ORDER BY chat_id",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				chatIDs = append(chatIDs, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: listing group chats: %w", err)
	}
	return chatIDs, nil
}

// CleanupGroup deletes all but the most recent keepRecent group
// messages for chatID, bounding group-chat growth. Returns how many
// rows were deleted.
func (store *Store) CleanupGroup(ctx context.Context, chatID string, keepRecent int) (int64, error) {
	conn, err := store.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer store.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		DELETE FROM messages
		WHERE chat_id = ? AND is_group = 1
		AND id NOT IN (
			SELECT id FROM messages
			WHERE chat_id = ? AND is_group = 1
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)`,
		&sqlitex.ExecOptions{
			Args: []any{chatID, chatID, keepRecent},
		})
	if err != nil {
		return 0, fmt.Errorf("history: cleaning up group chat %s: %w", chatID, err)
	}

	deleted := int64(conn.Changes())
	if deleted > 0 {
		store.logger.Info("old group messages removed",
			"chat_id", chatID,
			"deleted", deleted,
			"kept", keepRecent,
		)
	}
	return deleted, nil
}

// scanMessage decodes one row of the standard six-column SELECT into a
// message.
func scanMessage(stmt *sqlite.Stmt) (llm.Message, error) {
	parts := make([]byte, stmt.ColumnLen(1))
	stmt.ColumnBytes(1, parts)

	var content []llm.ContentPart
	if err := codec.Unmarshal(parts, &content); err != nil {
		return llm.Message{}, fmt.Errorf("history: decoding parts: %w", err)
	}

	return llm.Message{
		Role:           llm.Role(stmt.ColumnText(0)),
		Content:        content,
		TokenCount:     stmt.ColumnInt(2),
		SenderName:     stmt.ColumnText(3),
		SenderUsername: stmt.ColumnText(4),
		IsGroup:        stmt.ColumnInt(5) != 0,
	}, nil
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// The meta table is generic string-keyed, string-valued scratch space for
// the scheduler and summarizer. Keys are namespaced by the caller (always
// including the chat id, sometimes kind and date) so state never leaks
// across chats; values are opaque strings and callers own parsing.

// GetMeta returns the value for key. ok is false when the key is absent.
func (s *Store) GetMeta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.withRepair(ctx, "get meta", func() error {
		qErr := s.db.QueryRowContext(ctx,
			`SELECT value FROM meta WHERE key = ?`, key,
		).Scan(&value)
		if errors.Is(qErr, sql.ErrNoRows) {
			value, ok = "", false
			return nil
		}
		if qErr != nil {
			return qErr
		}
		ok = true
		return nil
	})
	return value, ok, err
}

// SetMeta writes key=value, overwriting any previous value (last writer
// wins — conversation-scoped keys are only ever written under that
// conversation's lock).
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return s.withRepair(ctx, "set meta", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		)
		return err
	})
}

func chatTypeKey(chatID int64) string { return fmt.Sprintf("chat:type:%d", chatID) }

// SetChatType records whether the chat is a private conversation or a group.
// The platform id sign convention is only a heuristic; an explicit record
// from the inbound path is authoritative.
func (s *Store) SetChatType(ctx context.Context, chatID int64, private bool) error {
	v := "group"
	if private {
		v = "private"
	}
	return s.SetMeta(ctx, chatTypeKey(chatID), v)
}

// ChatType returns the recorded classification. ok is false when no message
// from the chat has ever been classified.
func (s *Store) ChatType(ctx context.Context, chatID int64) (private, ok bool, err error) {
	v, ok, err := s.GetMeta(ctx, chatTypeKey(chatID))
	if err != nil || !ok {
		return false, false, err
	}
	return v == "private", true, nil
}

// DeleteMeta removes a key. Absent keys are not an error.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	return s.withRepair(ctx, "delete meta", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, key)
		return err
	})
}

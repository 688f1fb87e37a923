package store

import (
	"context"
	"fmt"
	"time"
)

// Message roles. The engine distinguishes only the human side and its own
// output; system entries are assembled at generation time, never stored.
const (
	RoleUser  = "user"
	RoleAgent = "assistant"
)

// Message is one stored conversation turn. Ordering is always by TS — the
// store may be pointed at a pre-existing table whose physical row order
// differs from message order.
type Message struct {
	ChatID   int64
	AuthorID int64 // platform user id; 0 for agent-authored rows
	Role     string
	Content  string
	TS       time.Time
}

// AppendMessage persists a message. A zero TS means "now". Rows are
// append-only; nothing ever mutates them.
func (s *Store) AppendMessage(ctx context.Context, m Message) error {
	if m.TS.IsZero() {
		m.TS = time.Now()
	}
	return s.withRepair(ctx, "append message", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO messages (chat_id, author_id, role, content, ts) VALUES (?, ?, ?, ?, ?)`,
			m.ChatID, m.AuthorID, m.Role, m.Content, m.TS.Unix(),
		)
		return err
	})
}

// RecentMessages returns the most recent limit messages for the chat,
// ordered oldest→newest.
func (s *Store) RecentMessages(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	var msgs []Message
	err := s.withRepair(ctx, "recent messages", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT chat_id, author_id, role, content, ts FROM messages
			 WHERE chat_id = ? ORDER BY ts DESC LIMIT ?`,
			chatID, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		msgs, err = scanMessages(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// RecentMessagesByAuthor returns the most recent limit messages a specific
// user wrote in the chat, oldest→newest.
func (s *Store) RecentMessagesByAuthor(ctx context.Context, chatID, authorID int64, limit int) ([]Message, error) {
	var msgs []Message
	err := s.withRepair(ctx, "recent messages by author", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT chat_id, author_id, role, content, ts FROM messages
			 WHERE chat_id = ? AND author_id = ? ORDER BY ts DESC LIMIT ?`,
			chatID, authorID, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		msgs, err = scanMessages(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// CountUserMessagesSince returns how many user-authored messages arrived in
// the chat strictly after since. Agent rows are excluded; summarization
// thresholds track human traffic, not the agent's own output.
func (s *Store) CountUserMessagesSince(ctx context.Context, chatID int64, since time.Time) (int, error) {
	var n int
	err := s.withRepair(ctx, "count user messages since", func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE chat_id = ? AND role = ? AND ts > ?`,
			chatID, RoleUser, since.Unix(),
		).Scan(&n)
	})
	return n, err
}

// LastUserMessageAt returns the timestamp of the chat's most recent
// user-authored message. ok is false when the chat has no user messages.
func (s *Store) LastUserMessageAt(ctx context.Context, chatID int64) (at time.Time, ok bool, err error) {
	err = s.withRepair(ctx, "last user message", func() error {
		var ts int64
		var count int
		qErr := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(ts), 0), COUNT(*) FROM messages WHERE chat_id = ? AND role = ?`,
			chatID, RoleUser,
		).Scan(&ts, &count)
		if qErr != nil {
			return qErr
		}
		if count > 0 {
			at = time.Unix(ts, 0)
			ok = true
		}
		return nil
	})
	return at, ok, err
}

// ActiveChats lists the ids of chats with at least one message since the
// given time. Used by the proactive scheduler to bound its sweep.
func (s *Store) ActiveChats(ctx context.Context, since time.Time) ([]int64, error) {
	var ids []int64
	err := s.withRepair(ctx, "active chats", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT chat_id FROM messages WHERE ts >= ? ORDER BY chat_id`,
			since.Unix(),
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		ids = ids[:0]
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan chat id: %w", err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.ChatID, &m.AuthorID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.TS = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

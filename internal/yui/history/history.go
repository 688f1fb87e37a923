// Package history assembles the ordered message context fed to the text
// generator: persona preamble, the chat's summary digest, bounded general
// history, bounded user-scoped background, and the current message.
package history

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/llm"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/store"
)

// Config bounds the context window. Both caps keep the generator's input
// size predictable; truncation always keeps the most recent entries.
type Config struct {
	// GeneralLimit is the number of general chat messages included.
	// Default: 18.
	GeneralLimit int
	// UserLimit is the number of user-scoped messages surfaced as
	// background context. Default: 6.
	UserLimit int
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{GeneralLimit: 18, UserLimit: 6}
}

// Builder assembles generation contexts from the store.
type Builder struct {
	store *store.Store
	cfg   Config
}

// NewBuilder creates a Builder. Zero-value config fields fall back to
// defaults.
func NewBuilder(s *store.Store, cfg Config) *Builder {
	def := DefaultConfig()
	if cfg.GeneralLimit <= 0 {
		cfg.GeneralLimit = def.GeneralLimit
	}
	if cfg.UserLimit <= 0 {
		cfg.UserLimit = def.UserLimit
	}
	return &Builder{store: s, cfg: cfg}
}

// Build produces the role-tagged sequence for one turn, in order: persona
// preamble, digest (suppressed for short/neutral current messages), general
// history, user-scoped background, the current message.
//
// A short/neutral current message (bare acknowledgement, "ok", a thumbs-up)
// must not resurrect older topics, so the digest is omitted for it even when
// one exists.
func (b *Builder) Build(ctx context.Context, chatID, userID int64, currentText, digest string, preamble []llm.Message) ([]llm.Message, error) {
	msgs := make([]llm.Message, 0, len(preamble)+b.cfg.GeneralLimit+4)
	msgs = append(msgs, preamble...)

	if digest != "" && !IsShortNeutral(currentText) {
		msgs = append(msgs, llm.Message{
			Role:    llm.RoleSystem,
			Content: "What you remember about this chat:\n" + digest,
		})
	}

	general, err := b.store.RecentMessages(ctx, chatID, b.cfg.GeneralLimit)
	if err != nil {
		return nil, fmt.Errorf("history: load general: %w", err)
	}
	for _, m := range general {
		msgs = append(msgs, llm.Message{Role: roleFor(m), Content: m.Content})
	}

	if userID != 0 {
		scoped, err := b.store.RecentMessagesByAuthor(ctx, chatID, userID, b.cfg.UserLimit)
		if err != nil {
			return nil, fmt.Errorf("history: load user-scoped: %w", err)
		}
		if block := backgroundBlock(scoped); block != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: block})
		}
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: currentText})
	return msgs, nil
}

// backgroundBlock renders user-scoped history as a single system entry so
// the generator treats it as background, not as turns it must answer.
func backgroundBlock(scoped []store.Message) string {
	if len(scoped) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Recent lines from the current speaker (background, not questions to answer):")
	for _, m := range scoped {
		sb.WriteString("\n- ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func roleFor(m store.Message) string {
	if m.Role == store.RoleAgent {
		return llm.RoleAssistant
	}
	return llm.RoleUser
}

// fillers is the closed set of acknowledgement utterances that never resume
// an older topic.
var fillers = map[string]struct{}{
	"ok": {}, "okay": {}, "sure": {}, "got it": {}, "kk": {}, "yep": {},
	"thanks": {}, "thx": {}, "...": {}, "…": {}, "👍": {}, "+": {},
	"ок": {}, "ага": {}, "угу": {}, "ладно": {}, "спс": {}, "да": {},
}

// IsShortNeutral reports whether text is empty, very short, or a filler
// acknowledgement. Such messages are excluded from summary-context
// inclusion and from topic-resumption logic.
func IsShortNeutral(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return true
	}
	if utf8.RuneCountInString(t) <= 3 {
		return true
	}
	_, isFiller := fillers[strings.TrimRight(t, ".!")]
	return isFiller
}

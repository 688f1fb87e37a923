// Package summary keeps long conversations inside a fixed context budget by
// periodically compressing older history into a short persistent digest per
// chat. Summarization is incremental and opportunistic: chats are marked
// dirty when enough new traffic accumulates, and a dirty chat is updated at
// most once per minimum interval.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/llm"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/store"
)

const digestInstruction = "Rewrite the chat memory below as at most %d short lines. " +
	"Keep durable facts, preferences and relationships between people. " +
	"Drop transient drama, small talk and anything resolved. " +
	"Never add facts that are not present in the source text."

// Config holds the summarization thresholds.
type Config struct {
	// TriggerCount is the number of new user messages since the last digest
	// that marks a chat dirty on its own. Default: 25.
	TriggerCount int
	// MinCount is the smaller minimum that, combined with TimeThreshold,
	// also marks a chat dirty. Default: 8.
	MinCount int
	// TimeThreshold is how long since the last update before MinCount new
	// user messages suffice. Default: 6 h.
	TimeThreshold time.Duration
	// MinInterval is the minimum spacing between two digest updates for the
	// same chat. Default: 30 min.
	MinInterval time.Duration
	// MaxWindow bounds how many recent messages one update scans.
	// Default: 60.
	MaxWindow int
	// MaxLines caps the digest length. Default: 6.
	MaxLines int
	// MaxOutputTokens bounds the generation call. Default: 256.
	MaxOutputTokens int
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		TriggerCount:    25,
		MinCount:        8,
		TimeThreshold:   6 * time.Hour,
		MinInterval:     30 * time.Minute,
		MaxWindow:       60,
		MaxLines:        6,
		MaxOutputTokens: 256,
	}
}

// chatState is the per-chat summarization record persisted in the meta
// table. Timestamps are Unix seconds; zero means "never".
type chatState struct {
	Dirty            bool  `json:"dirty"`
	MarkedAt         int64 `json:"marked_at,omitempty"`
	PendingThrough   int64 `json:"pending_through,omitempty"`
	ProcessedThrough int64 `json:"processed_through,omitempty"`
	LastUpdate       int64 `json:"last_update,omitempty"`
}

// Summarizer owns the clean → dirty → updating → clean cycle per chat.
// Mutating calls must be made while holding the chat's lock.
type Summarizer struct {
	store  *store.Store
	gen    llm.Generator
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Summarizer. Zero-value config fields fall back to defaults.
func New(s *store.Store, gen llm.Generator, cfg Config, logger *slog.Logger) *Summarizer {
	def := DefaultConfig()
	if cfg.TriggerCount <= 0 {
		cfg.TriggerCount = def.TriggerCount
	}
	if cfg.MinCount <= 0 {
		cfg.MinCount = def.MinCount
	}
	if cfg.TimeThreshold <= 0 {
		cfg.TimeThreshold = def.TimeThreshold
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = def.MaxWindow
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = def.MaxLines
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{store: s, gen: gen, cfg: cfg, logger: logger, now: time.Now}
}

func stateKey(chatID int64) string  { return fmt.Sprintf("summary:state:%d", chatID) }
func digestKey(chatID int64) string { return fmt.Sprintf("summary:digest:%d", chatID) }

// Digest returns the chat's current digest, or "" when none exists.
func (s *Summarizer) Digest(ctx context.Context, chatID int64) (string, error) {
	v, _, err := s.store.GetMeta(ctx, digestKey(chatID))
	return v, err
}

// Observe is called once per persisted message. It checks the dirty
// conditions and marks the chat dirty when either threshold is crossed.
func (s *Summarizer) Observe(ctx context.Context, chatID int64, msgTS time.Time) error {
	st, err := s.loadState(ctx, chatID)
	if err != nil {
		return err
	}
	if st.Dirty {
		// Already dirty — just extend the pending window.
		if ts := msgTS.Unix(); ts > st.PendingThrough {
			st.PendingThrough = ts
			return s.saveState(ctx, chatID, st)
		}
		return nil
	}

	count, err := s.store.CountUserMessagesSince(ctx, chatID, time.Unix(st.ProcessedThrough, 0))
	if err != nil {
		return err
	}

	if count >= s.cfg.TriggerCount || s.staleWithTraffic(st, count) {
		return s.MarkDirty(ctx, chatID, msgTS)
	}
	return nil
}

// staleWithTraffic is the slow-chat path: an existing digest has aged past
// the time threshold and at least a minimum of new user messages arrived. Chats
// with no digest yet only qualify through the count threshold.
func (s *Summarizer) staleWithTraffic(st chatState, count int) bool {
	if st.LastUpdate == 0 {
		return false
	}
	elapsed := s.now().Sub(time.Unix(st.LastUpdate, 0))
	return elapsed >= s.cfg.TimeThreshold && count >= s.cfg.MinCount
}

// MarkDirty transitions the chat to dirty, remembering the last message
// timestamp seen so Update can advance the processed-through marker.
func (s *Summarizer) MarkDirty(ctx context.Context, chatID int64, lastMessageTS time.Time) error {
	st, err := s.loadState(ctx, chatID)
	if err != nil {
		return err
	}
	if !st.Dirty {
		st.Dirty = true
		st.MarkedAt = s.now().Unix()
	}
	if ts := lastMessageTS.Unix(); ts > st.PendingThrough {
		st.PendingThrough = ts
	}
	return s.saveState(ctx, chatID, st)
}

// IsDueForUpdate reports whether the chat's digest should be regenerated
// now. The check is a pure read: calling it twice without an intervening
// qualifying event yields the same answer.
func (s *Summarizer) IsDueForUpdate(ctx context.Context, chatID int64) (bool, error) {
	st, err := s.loadState(ctx, chatID)
	if err != nil {
		return false, err
	}
	if !st.Dirty {
		return false, nil
	}
	if st.LastUpdate > 0 && s.now().Sub(time.Unix(st.LastUpdate, 0)) < s.cfg.MinInterval {
		return false, nil
	}
	count, err := s.store.CountUserMessagesSince(ctx, chatID, time.Unix(st.ProcessedThrough, 0))
	if err != nil {
		return false, err
	}
	if count >= s.cfg.TriggerCount {
		return true, nil
	}
	return s.staleWithTraffic(st, count), nil
}

// Update regenerates the chat's digest from a bounded window of recent
// history plus the previous digest, persists it, advances the
// processed-through marker, and clears the dirty flag. The caller must hold
// the chat's lock.
func (s *Summarizer) Update(ctx context.Context, chatID int64) error {
	st, err := s.loadState(ctx, chatID)
	if err != nil {
		return err
	}

	window, err := s.store.RecentMessages(ctx, chatID, s.cfg.MaxWindow)
	if err != nil {
		return fmt.Errorf("summary: load window: %w", err)
	}
	if len(window) == 0 {
		// Nothing to compress; clear dirty so the chat goes back to clean.
		st.Dirty = false
		return s.saveState(ctx, chatID, st)
	}

	prev, err := s.Digest(ctx, chatID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	if prev != "" {
		sb.WriteString("Current memory:\n")
		sb.WriteString(prev)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Recent conversation:\n")
	for _, m := range window {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}

	out, err := s.gen.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(digestInstruction, s.cfg.MaxLines)},
		{Role: llm.RoleUser, Content: sb.String()},
	}, s.cfg.MaxOutputTokens)
	if err != nil {
		return fmt.Errorf("summary: generate digest: %w", err)
	}

	digest := clampLines(out, s.cfg.MaxLines)
	if err := s.store.SetMeta(ctx, digestKey(chatID), digest); err != nil {
		return err
	}

	st.Dirty = false
	st.LastUpdate = s.now().Unix()
	if st.PendingThrough > st.ProcessedThrough {
		st.ProcessedThrough = st.PendingThrough
	} else {
		st.ProcessedThrough = window[len(window)-1].TS.Unix()
	}
	if err := s.saveState(ctx, chatID, st); err != nil {
		return err
	}

	s.logger.Info("summary: digest updated",
		"chat_id", chatID,
		"window", len(window),
		"digest_len", len(digest),
	)
	return nil
}

func (s *Summarizer) loadState(ctx context.Context, chatID int64) (chatState, error) {
	var st chatState
	raw, ok, err := s.store.GetMeta(ctx, stateKey(chatID))
	if err != nil {
		return st, fmt.Errorf("summary: load state: %w", err)
	}
	if !ok {
		return st, nil
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		// A corrupt record resets the cycle rather than wedging the chat.
		s.logger.Warn("summary: corrupt state record, resetting", "chat_id", chatID, "err", err)
		return chatState{}, nil
	}
	return st, nil
}

func (s *Summarizer) saveState(ctx context.Context, chatID int64, st chatState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("summary: marshal state: %w", err)
	}
	return s.store.SetMeta(ctx, stateKey(chatID), string(raw))
}

// clampLines keeps at most max non-empty lines of text.
func clampLines(text string, max int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	kept := make([]string, 0, max)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, line)
		if len(kept) == max {
			break
		}
	}
	return strings.Join(kept, "\n")
}

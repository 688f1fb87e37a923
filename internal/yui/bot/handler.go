// Package bot drives one inbound turn end to end: record the message, decide
// whether to speak, assemble context, generate, and deliver with a simulated
// typing delay. All chat-scoped state is touched only under the chat's lock.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/chatlock"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/history"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/llm"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/store"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/summary"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/trigger"
)

// Messenger is the outbound half of the platform transport.
type Messenger interface {
	SendTyping(ctx context.Context, chatID int64) error
	SendText(ctx context.Context, chatID int64, text string, replyTo int) error
}

// Inbound is one platform message plus the sender identity fields used for
// profile upkeep.
type Inbound struct {
	trigger.Inbound
	MessageID int
	Username  string
	FirstName string
}

// Config tunes the turn pipeline. Zero values fall back to defaults.
type Config struct {
	// Persona is the system preamble prepended to every generation.
	Persona string
	// FallbackReplies are in-persona lines sent when generation fails on a
	// turn that must be answered.
	FallbackReplies []string
	// LockTimeout bounds the wait for the chat lock; on expiry the turn is
	// dropped. Default: 5 s.
	LockTimeout time.Duration
	// TypingPerRune, TypingMin, TypingMax shape the simulated typing delay.
	// Defaults: 70 ms per rune, clamped to [2 s, 14 s].
	TypingPerRune time.Duration
	TypingMin     time.Duration
	TypingMax     time.Duration
	// MaxOutputTokens bounds each generation call. Default: 420.
	MaxOutputTokens int
	// MaxReplyRunes truncates outbound text to the platform limit.
	// Default: 3500.
	MaxReplyRunes int
}

var defaultFallbacks = []string{
	"ой, у меня мысли спутались… повтори, пожалуйста?",
	"sorry, my head went blank for a second. say that again?",
}

// Handler owns the inbound-turn pipeline.
type Handler struct {
	store     *store.Store
	history   *history.Builder
	summary   *summary.Summarizer
	detector  *trigger.Detector
	locks     *chatlock.Registry
	gen       llm.Generator
	messenger Messenger
	cfg       Config
	logger    *slog.Logger
	pick      func(n int) int

	mu    sync.Mutex
	typed map[int64]struct{} // chats whose type is already persisted
}

// New wires a Handler. Zero-value config fields fall back to defaults.
func New(s *store.Store, hb *history.Builder, sum *summary.Summarizer, det *trigger.Detector, locks *chatlock.Registry, gen llm.Generator, m Messenger, cfg Config, logger *slog.Logger) *Handler {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.TypingPerRune <= 0 {
		cfg.TypingPerRune = 70 * time.Millisecond
	}
	if cfg.TypingMin <= 0 {
		cfg.TypingMin = 2 * time.Second
	}
	if cfg.TypingMax <= 0 {
		cfg.TypingMax = 14 * time.Second
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 420
	}
	if cfg.MaxReplyRunes <= 0 {
		cfg.MaxReplyRunes = 3500
	}
	if len(cfg.FallbackReplies) == 0 {
		cfg.FallbackReplies = defaultFallbacks
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store: s, history: hb, summary: sum, detector: det, locks: locks,
		gen: gen, messenger: m, cfg: cfg, logger: logger,
		pick:  rand.Intn,
		typed: make(map[int64]struct{}),
	}
}

// Handle processes one inbound message. A turn that cannot take its chat's
// lock within the configured timeout is dropped; the platform redelivers or
// the user retries, and that beats queueing behind a stuck turn.
func (h *Handler) Handle(ctx context.Context, msg Inbound) error {
	if msg.FromBot || strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	decision := h.detector.Classify(msg.Inbound)
	logger := h.logger.With("turn_id", uuid.NewString(), "chat_id", msg.ChatID)

	if !h.locks.Acquire(msg.ChatID, h.cfg.LockTimeout) {
		logger.Warn("turn dropped: chat lock busy")
		return nil
	}
	defer h.locks.Release(msg.ChatID)

	if err := h.record(ctx, msg); err != nil {
		return err
	}
	if decision == trigger.Ignore {
		return nil
	}

	// The interjection slot is consumed up front so a failed generation
	// still counts against cooldown and the hourly cap.
	if decision == trigger.MayInterject {
		h.detector.CommitInterjection(msg.ChatID)
	}

	reply, err := h.generateReply(ctx, msg, decision)
	if err != nil {
		if decision != trigger.MustAnswer {
			logger.Warn("interjection skipped: generation failed", "err", err)
			return nil
		}
		logger.Error("generation failed, sending fallback", "err", err)
		reply = h.cfg.FallbackReplies[h.pick(len(h.cfg.FallbackReplies))]
	}

	reply = Truncate(reply, h.cfg.MaxReplyRunes)
	h.simulateTyping(ctx, msg.ChatID, typingDelay(reply, h.cfg.TypingPerRune, h.cfg.TypingMin, h.cfg.TypingMax))

	if err := h.store.AppendMessage(ctx, store.Message{
		ChatID: msg.ChatID, Role: store.RoleAgent, Content: reply,
	}); err != nil {
		return fmt.Errorf("bot: persist reply: %w", err)
	}

	replyTo := 0
	if !msg.Private && decision == trigger.MustAnswer {
		replyTo = msg.MessageID
	}
	if err := h.messenger.SendText(ctx, msg.ChatID, reply, replyTo); err != nil {
		// Delivery faults are logged, never retried here, and never crash
		// the turn worker.
		logger.Error("delivery failed", "err", err)
	}
	return nil
}

// record persists the inbound message and keeps the sender's profile and the
// summarizer's counters current. It runs for every message, including ones
// the agent ignores.
func (h *Handler) record(ctx context.Context, msg Inbound) error {
	h.recordChatType(ctx, msg.ChatID, msg.Private)
	if err := h.store.TouchProfile(ctx, msg.SenderID, msg.Username, msg.FirstName); err != nil {
		return fmt.Errorf("bot: touch profile: %w", err)
	}
	if name := ExtractName(msg.Text); name != "" {
		if err := h.store.SetProfileName(ctx, msg.SenderID, name); err != nil {
			return fmt.Errorf("bot: learn name: %w", err)
		}
		h.logger.Info("learned name", "user_id", msg.SenderID, "name", name)
	}
	now := time.Now()
	if err := h.store.AppendMessage(ctx, store.Message{
		ChatID: msg.ChatID, AuthorID: msg.SenderID, Role: store.RoleUser,
		Content: msg.Text, TS: now,
	}); err != nil {
		return fmt.Errorf("bot: persist inbound: %w", err)
	}
	if err := h.summary.Observe(ctx, msg.ChatID, now); err != nil {
		h.logger.Warn("summary observe failed", "chat_id", msg.ChatID, "err", err)
	}
	return nil
}

// recordChatType persists the chat's private/group classification the first
// time a message arrives from it, so background sweeps never have to guess
// from the chat id alone. One write per chat per process; a failed write is
// retried on the next message.
func (h *Handler) recordChatType(ctx context.Context, chatID int64, private bool) {
	h.mu.Lock()
	_, seen := h.typed[chatID]
	if !seen {
		h.typed[chatID] = struct{}{}
	}
	h.mu.Unlock()
	if seen {
		return
	}
	if err := h.store.SetChatType(ctx, chatID, private); err != nil {
		h.logger.Warn("chat type record failed", "chat_id", chatID, "err", err)
		h.mu.Lock()
		delete(h.typed, chatID)
		h.mu.Unlock()
	}
}

func (h *Handler) generateReply(ctx context.Context, msg Inbound, decision trigger.Decision) (string, error) {
	digest, err := h.summary.Digest(ctx, msg.ChatID)
	if err != nil {
		h.logger.Warn("digest load failed, continuing without", "chat_id", msg.ChatID, "err", err)
		digest = ""
	}

	preamble := make([]llm.Message, 0, 4)
	if h.cfg.Persona != "" {
		preamble = append(preamble, llm.Message{Role: llm.RoleSystem, Content: h.cfg.Persona})
	}
	if p, err := h.store.GetProfile(ctx, msg.SenderID); err == nil && p != nil {
		if line := speakerLine(p); line != "" {
			preamble = append(preamble, llm.Message{Role: llm.RoleSystem, Content: line})
		}
	}
	if IsIdentityQuestion(msg.Text) {
		preamble = append(preamble, llm.Message{
			Role:    llm.RoleSystem,
			Content: "The speaker is asking who or what you are. Answer briefly and in character; do not lecture.",
		})
	}
	if decision == trigger.MayInterject {
		preamble = append(preamble, llm.Message{
			Role:    llm.RoleSystem,
			Content: "You were not addressed. Add one short, natural remark to the ongoing group conversation; never answer on someone else's behalf.",
		})
	}

	msgs, err := h.history.Build(ctx, msg.ChatID, msg.SenderID, msg.Text, digest, preamble)
	if err != nil {
		return "", err
	}
	return h.gen.Generate(ctx, msgs, h.cfg.MaxOutputTokens)
}

func speakerLine(p *store.Profile) string {
	name := p.Name
	if name == "" {
		name = p.FirstName
	}
	switch {
	case name != "" && p.Relationship == store.RelationshipPrivileged:
		return fmt.Sprintf("The current speaker is %s, someone especially close to you.", name)
	case name != "":
		return fmt.Sprintf("The current speaker is %s.", name)
	case p.Relationship == store.RelationshipPrivileged:
		return "The current speaker is someone especially close to you."
	}
	return ""
}

// Truncate caps text at max runes, never splitting a rune.
func Truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max])
}

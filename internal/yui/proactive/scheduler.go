// Package proactive decides when the agent speaks without being addressed:
// morning and evening greetings at a randomized daily instant, idle
// check-ins in private chats, ambient pings in groups. A background tick
// loop evaluates every recently active chat under that chat's lock, subject
// to quiet hours, daily caps, and a global per-chat cooldown.
package proactive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/chatlock"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/llm"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/store"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/summary"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/timewin"
)

// Messenger is the outbound transport the scheduler delivers through.
type Messenger interface {
	SendTyping(ctx context.Context, chatID int64) error
	SendText(ctx context.Context, chatID int64, text string, replyTo int) error
}

// Config tunes the scheduler. Zero values fall back to defaults.
type Config struct {
	// TickInterval drives the evaluation loop. Default: 1 min.
	TickInterval time.Duration
	// LockTimeout bounds the per-chat lock wait; a busy chat is simply
	// re-evaluated next tick. Default: 2 s.
	LockTimeout time.Duration
	// Retention bounds which chats the sweep considers at all.
	// Default: 14 days.
	Retention time.Duration
	// DormantAfter is the long-idle ceiling; chats quiet for longer are
	// skipped. Default: 7 days.
	DormantAfter time.Duration
	// DailyCapPrivate / DailyCapGroup cap autonomous sends per chat per
	// local day. Defaults: 3 / 1.
	DailyCapPrivate int
	DailyCapGroup   int
	// GlobalCooldown is the minimum gap between any two autonomous sends to
	// one chat. Default: 90 min.
	GlobalCooldown time.Duration
	// Quiet suppresses all proactive sends. Default: 23–9.
	Quiet timewin.HourWindow
	// Morning / Evening windows and their per-chat-type probabilities.
	// Defaults: 8–11 at 0.5/0.15, 19–23 at 0.5/0.15.
	Morning            timewin.HourWindow
	Evening            timewin.HourWindow
	MorningProbPrivate float64
	MorningProbGroup   float64
	EveningProbPrivate float64
	EveningProbGroup   float64
	// Check-in band for private chats: idle time within
	// [CheckinMinHours, CheckinMaxHours] makes a check-in eligible.
	// Defaults: 36–96 h at 0.6.
	CheckinMinHours int
	CheckinMaxHours int
	CheckinProb     float64
	// Ambient ping for groups: idle beyond AmbientIdleMinutes.
	// Defaults: 180 min at 0.07.
	AmbientIdleMinutes int
	AmbientProb        float64
	// SnippetLines caps the recent-user-lines context fed to generation.
	// Default: 6.
	SnippetLines int
	// MaxOutputTokens bounds each generation call. Default: 200.
	MaxOutputTokens int
	// TypingPerRune / TypingMin / TypingMax shape the simulated typing
	// delay. Defaults: 70 ms per rune, [2 s, 10 s].
	TypingPerRune time.Duration
	TypingMin     time.Duration
	TypingMax     time.Duration
	// Location is the zone for all "local day" and quiet-hours decisions.
	// Default: time.Local.
	Location *time.Location
	// Persona is prepended to every proactive generation.
	Persona string
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:       time.Minute,
		LockTimeout:        2 * time.Second,
		Retention:          14 * 24 * time.Hour,
		DormantAfter:       7 * 24 * time.Hour,
		DailyCapPrivate:    3,
		DailyCapGroup:      1,
		GlobalCooldown:     90 * time.Minute,
		Quiet:              timewin.HourWindow{Start: 23, End: 9},
		Morning:            timewin.HourWindow{Start: 8, End: 11},
		Evening:            timewin.HourWindow{Start: 19, End: 23},
		MorningProbPrivate: 0.5,
		MorningProbGroup:   0.15,
		EveningProbPrivate: 0.5,
		EveningProbGroup:   0.15,
		CheckinMinHours:    36,
		CheckinMaxHours:    96,
		CheckinProb:        0.6,
		AmbientIdleMinutes: 180,
		AmbientProb:        0.07,
		SnippetLines:       6,
		MaxOutputTokens:    200,
		TypingPerRune:      70 * time.Millisecond,
		TypingMin:          2 * time.Second,
		TypingMax:          10 * time.Second,
	}
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.DormantAfter <= 0 {
		cfg.DormantAfter = def.DormantAfter
	}
	if cfg.DailyCapPrivate <= 0 {
		cfg.DailyCapPrivate = def.DailyCapPrivate
	}
	if cfg.DailyCapGroup <= 0 {
		cfg.DailyCapGroup = def.DailyCapGroup
	}
	if cfg.GlobalCooldown <= 0 {
		cfg.GlobalCooldown = def.GlobalCooldown
	}
	if cfg.Morning == (timewin.HourWindow{}) {
		cfg.Morning = def.Morning
	}
	if cfg.Evening == (timewin.HourWindow{}) {
		cfg.Evening = def.Evening
	}
	if cfg.MorningProbPrivate <= 0 {
		cfg.MorningProbPrivate = def.MorningProbPrivate
	}
	if cfg.MorningProbGroup <= 0 {
		cfg.MorningProbGroup = def.MorningProbGroup
	}
	if cfg.EveningProbPrivate <= 0 {
		cfg.EveningProbPrivate = def.EveningProbPrivate
	}
	if cfg.EveningProbGroup <= 0 {
		cfg.EveningProbGroup = def.EveningProbGroup
	}
	if cfg.CheckinMinHours <= 0 {
		cfg.CheckinMinHours = def.CheckinMinHours
	}
	if cfg.CheckinMaxHours <= 0 {
		cfg.CheckinMaxHours = def.CheckinMaxHours
	}
	if cfg.CheckinProb <= 0 {
		cfg.CheckinProb = def.CheckinProb
	}
	if cfg.AmbientIdleMinutes <= 0 {
		cfg.AmbientIdleMinutes = def.AmbientIdleMinutes
	}
	if cfg.AmbientProb <= 0 {
		cfg.AmbientProb = def.AmbientProb
	}
	if cfg.SnippetLines <= 0 {
		cfg.SnippetLines = def.SnippetLines
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	if cfg.TypingPerRune <= 0 {
		cfg.TypingPerRune = def.TypingPerRune
	}
	if cfg.TypingMin <= 0 {
		cfg.TypingMin = def.TypingMin
	}
	if cfg.TypingMax <= 0 {
		cfg.TypingMax = def.TypingMax
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return cfg
}

// Scheduler owns the proactive tick loop.
type Scheduler struct {
	store     *store.Store
	summary   *summary.Summarizer
	locks     *chatlock.Registry
	gen       llm.Generator
	messenger Messenger
	cfg       Config
	loc       *time.Location
	logger    *slog.Logger

	now      func() time.Time
	rand     func() float64
	lastTick atomic.Int64
}

// New wires a Scheduler. Zero-value config fields fall back to defaults.
func New(s *store.Store, sum *summary.Summarizer, locks *chatlock.Registry, gen llm.Generator, m Messenger, cfg Config, logger *slog.Logger) *Scheduler {
	cfg = normalize(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store: s, summary: sum, locks: locks, gen: gen, messenger: m,
		cfg: cfg, loc: cfg.Location, logger: logger,
		now:  time.Now,
		rand: rand.Float64,
	}
}

// Run drives the tick loop until ctx is cancelled. Callers are expected to
// wrap it in a supervisor that restarts on panic.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	s.logger.Info("proactive scheduler started", "tick", s.cfg.TickInterval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("proactive scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// LastTick returns when the loop last completed a sweep; the zero time
// means it has not run yet. Health checks use it as a liveness signal.
func (s *Scheduler) LastTick() time.Time {
	ts := s.lastTick.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// Tick sweeps every recently active chat once.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	chats, err := s.store.ActiveChats(ctx, now.Add(-s.cfg.Retention))
	if err != nil {
		s.logger.Error("tick: list chats", "err", err)
		return
	}
	for _, chatID := range chats {
		s.evaluateChat(ctx, chatID)
	}
	s.lastTick.Store(s.now().Unix())
}

// evaluateChat runs the gate chain for one chat and fires at most one
// action. Everything happens under the chat's lock so a tick never races an
// inbound turn or another tick.
func (s *Scheduler) evaluateChat(ctx context.Context, chatID int64) {
	if !s.locks.Acquire(chatID, s.cfg.LockTimeout) {
		return
	}
	defer s.locks.Release(chatID)

	disabled, err := s.chatDisabled(ctx, chatID)
	if err != nil {
		s.logger.Error("evaluate: disabled flag", "chat_id", chatID, "err", err)
		return
	}
	if disabled {
		return
	}

	// Opportunistic summarization rides the same lock as the sweep.
	if due, err := s.summary.IsDueForUpdate(ctx, chatID); err == nil && due {
		if err := s.summary.Update(ctx, chatID); err != nil {
			s.logger.Warn("summary update failed", "chat_id", chatID, "err", err)
		}
	}

	now := s.now().In(s.loc)
	if s.cfg.Quiet.Contains(now) {
		return
	}

	lastUser, ok, err := s.store.LastUserMessageAt(ctx, chatID)
	if err != nil {
		s.logger.Error("evaluate: last activity", "chat_id", chatID, "err", err)
		return
	}
	if !ok || now.Sub(lastUser) > s.cfg.DormantAfter {
		return
	}

	private, err := s.chatIsPrivate(ctx, chatID)
	if err != nil {
		s.logger.Error("evaluate: chat type", "chat_id", chatID, "err", err)
		return
	}

	dailyCap := s.cfg.DailyCapGroup
	if private {
		dailyCap = s.cfg.DailyCapPrivate
	}
	count, err := s.dailyCount(ctx, chatID, now)
	if err != nil {
		s.logger.Error("evaluate: daily counter", "chat_id", chatID, "err", err)
		return
	}
	if count >= dailyCap {
		return
	}

	if last, ok, err := s.lastProactiveAt(ctx, chatID); err != nil {
		s.logger.Error("evaluate: cooldown", "chat_id", chatID, "err", err)
		return
	} else if ok && now.Sub(last) < s.cfg.GlobalCooldown {
		return
	}

	// Priority order; the first ready kind ends the tick for this chat.
	for _, c := range s.candidates(ctx, chatID, private, lastUser, now) {
		ready, err := c.ready()
		if err != nil {
			s.logger.Error("slot check", "chat_id", chatID, "kind", string(c.kind), "err", err)
			continue
		}
		if !ready {
			continue
		}
		if s.rand() < c.prob {
			s.fire(ctx, chatID, c.kind, private, now)
		}
		return
	}
}

type candidate struct {
	kind  Kind
	prob  float64
	ready func() (bool, error)
}

// candidates lists the kinds applicable to this chat in priority order. The
// readiness checks are deferred: a windowed check consumes the day's slot, so
// it may only run once the higher-priority kinds have declined the tick.
func (s *Scheduler) candidates(ctx context.Context, chatID int64, private bool, lastUser, now time.Time) []candidate {
	morningProb, eveningProb := s.cfg.MorningProbGroup, s.cfg.EveningProbGroup
	if private {
		morningProb, eveningProb = s.cfg.MorningProbPrivate, s.cfg.EveningProbPrivate
	}

	out := []candidate{
		{KindMorning, morningProb, func() (bool, error) {
			return s.windowedSlotReady(ctx, chatID, KindMorning, s.cfg.Morning, now)
		}},
		{KindEvening, eveningProb, func() (bool, error) {
			return s.windowedSlotReady(ctx, chatID, KindEvening, s.cfg.Evening, now)
		}},
	}

	idle := now.Sub(lastUser)
	if private {
		out = append(out, candidate{KindCheckin, s.cfg.CheckinProb, func() (bool, error) {
			if idle < time.Duration(s.cfg.CheckinMinHours)*time.Hour ||
				idle > time.Duration(s.cfg.CheckinMaxHours)*time.Hour {
				return false, nil
			}
			return s.dailySlotOpen(ctx, chatID, KindCheckin, now)
		}})
	} else {
		out = append(out, candidate{KindAmbient, s.cfg.AmbientProb, func() (bool, error) {
			if idle < time.Duration(s.cfg.AmbientIdleMinutes)*time.Minute {
				return false, nil
			}
			return s.dailySlotOpen(ctx, chatID, KindAmbient, now)
		}})
	}
	return out
}

// fire generates, post-processes, and delivers one proactive message, then
// records the bookkeeping that enforces caps, cooldown, and anti-repetition.
// Any failure means silence this tick; autonomous speech is optional.
func (s *Scheduler) fire(ctx context.Context, chatID int64, kind Kind, private bool, now time.Time) {
	text, err := s.compose(ctx, chatID, kind)
	if err != nil {
		s.logger.Warn("proactive generation failed", "chat_id", chatID, "kind", string(kind), "err", err)
		return
	}

	hash := contentHash(text)
	prevHash, _, err := s.store.GetMeta(ctx, metaKey(chatID, "last_hash"))
	if err != nil {
		s.logger.Error("fire: load last hash", "chat_id", chatID, "err", err)
		return
	}
	if hash == prevHash {
		s.logger.Info("proactive output repeated, skipping", "chat_id", chatID, "kind", string(kind))
		return
	}

	s.simulateTyping(ctx, chatID, typingDelay(text, s.cfg.TypingPerRune, s.cfg.TypingMin, s.cfg.TypingMax))

	if err := s.store.AppendMessage(ctx, store.Message{
		ChatID: chatID, Role: store.RoleAgent, Content: text,
	}); err != nil {
		s.logger.Error("fire: persist", "chat_id", chatID, "err", err)
		return
	}
	if err := s.messenger.SendText(ctx, chatID, text, 0); err != nil {
		s.logger.Error("fire: delivery failed", "chat_id", chatID, "err", err)
	}

	if kind == KindCheckin || kind == KindAmbient {
		if err := s.markDailySlotFired(ctx, chatID, kind, now); err != nil {
			s.logger.Error("fire: mark slot", "chat_id", chatID, "err", err)
		}
	}
	s.recordFiring(ctx, chatID, kind, text, hash, now)
	s.logger.Info("proactive sent", "chat_id", chatID, "kind", string(kind), "private", private)
}

func (s *Scheduler) compose(ctx context.Context, chatID int64, kind Kind) (string, error) {
	snippet, err := s.userSnippet(ctx, chatID)
	if err != nil {
		return "", err
	}

	msgs := make([]llm.Message, 0, 3)
	if s.cfg.Persona != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: s.cfg.Persona})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: kindInstruction(kind)})
	if snippet != "" {
		msgs = append(msgs, llm.Message{
			Role:    llm.RoleSystem,
			Content: "Recent lines from the chat, for tone only:\n" + snippet,
		})
	}

	out, err := s.gen.Generate(ctx, msgs, s.cfg.MaxOutputTokens)
	if err != nil {
		return "", err
	}
	text := postProcess(out)
	if text == "" {
		return "", fmt.Errorf("proactive: empty output after post-processing")
	}
	return text, nil
}

func kindInstruction(kind Kind) string {
	switch kind {
	case KindMorning:
		return "Write one short, warm good-morning message to this chat. No questions about why nobody wrote."
	case KindEvening:
		return "Write one short, cozy good-evening or good-night message to this chat."
	case KindCheckin:
		return "You have not heard from this person in a while. Write one short, caring check-in message. Do not guilt-trip."
	default:
		return "The group chat has gone quiet. Write one short, light remark or question to gently restart the conversation."
	}
}

// userSnippet returns the most recent user-authored lines, newest last,
// length-capped.
func (s *Scheduler) userSnippet(ctx context.Context, chatID int64) (string, error) {
	msgs, err := s.store.RecentMessages(ctx, chatID, s.cfg.SnippetLines*3)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, s.cfg.SnippetLines)
	for i := len(msgs) - 1; i >= 0 && len(lines) < s.cfg.SnippetLines; i-- {
		if msgs[i].Role != store.RoleUser {
			continue
		}
		line := msgs[i].Content
		if utf8.RuneCountInString(line) > 120 {
			line = string([]rune(line)[:120])
		}
		lines = append(lines, "- "+line)
	}
	// Collected newest-first; restore chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n"), nil
}

// postProcess strips stage directions and surrounding quotes the generator
// sometimes adds around autonomous messages.
func postProcess(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if strings.HasPrefix(t, "(") || strings.HasPrefix(t, "[") || strings.HasPrefix(t, "*") {
			continue
		}
		kept = append(kept, t)
	}
	out := strings.Join(kept, "\n")
	out = strings.Trim(out, `"«»`)
	return strings.TrimSpace(out)
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func metaKey(chatID int64, field string) string {
	return fmt.Sprintf("proactive:%s:%d", field, chatID)
}

func (s *Scheduler) chatDisabled(ctx context.Context, chatID int64) (bool, error) {
	v, ok, err := s.store.GetMeta(ctx, metaKey(chatID, "disabled"))
	return ok && v == "1", err
}

// chatIsPrivate reads the classification the inbound path recorded; absent a
// record it falls back to the platform id convention (groups are negative).
func (s *Scheduler) chatIsPrivate(ctx context.Context, chatID int64) (bool, error) {
	private, ok, err := s.store.ChatType(ctx, chatID)
	if err != nil {
		return false, err
	}
	if ok {
		return private, nil
	}
	return chatID > 0, nil
}

func (s *Scheduler) dailyCount(ctx context.Context, chatID int64, now time.Time) (int, error) {
	key := fmt.Sprintf("proactive:count:%d:%s", chatID, timewin.DayKey(now))
	v, ok, err := s.store.GetMeta(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, convErr := strconv.Atoi(v)
	if convErr != nil {
		return 0, nil
	}
	return n, nil
}

func (s *Scheduler) lastProactiveAt(ctx context.Context, chatID int64) (time.Time, bool, error) {
	v, ok, err := s.store.GetMeta(ctx, metaKey(chatID, "last_ts"))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ts, convErr := strconv.ParseInt(v, 10, 64)
	if convErr != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(ts, 0), true, nil
}

func (s *Scheduler) recordFiring(ctx context.Context, chatID int64, kind Kind, text, hash string, now time.Time) {
	count, err := s.dailyCount(ctx, chatID, now)
	if err != nil {
		s.logger.Error("record: daily counter", "chat_id", chatID, "err", err)
	}
	sets := map[string]string{
		metaKey(chatID, "last_ts"):   strconv.FormatInt(now.Unix(), 10),
		metaKey(chatID, "last_kind"): string(kind),
		metaKey(chatID, "last_hash"): hash,
		metaKey(chatID, "last_text"): truncateRunes(text, 200),
		fmt.Sprintf("proactive:count:%d:%s", chatID, timewin.DayKey(now)): strconv.Itoa(count + 1),
	}
	for k, v := range sets {
		if err := s.store.SetMeta(ctx, k, v); err != nil {
			s.logger.Error("record: set meta", "chat_id", chatID, "key", k, "err", err)
		}
	}
}

func truncateRunes(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max])
}

func typingDelay(reply string, perRune, min, max time.Duration) time.Duration {
	d := time.Duration(utf8.RuneCountInString(reply)) * perRune
	if d < min {
		d = min
	}
	if d > max {
		d = max
	}
	return d
}

const typingRefresh = 4 * time.Second

func (s *Scheduler) simulateTyping(ctx context.Context, chatID int64, d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		_ = s.messenger.SendTyping(ctx, chatID)
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		wait := typingRefresh
		if remaining < wait {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

package proactive

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/chatlock"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/llm"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/store"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/summary"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/timewin"
)

type fakeGenerator struct {
	reply string
}

func (f *fakeGenerator) Generate(_ context.Context, _ []llm.Message, _ int) (string, error) {
	return f.reply, nil
}

type sentText struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentText
}

func (f *fakeMessenger) SendTyping(_ context.Context, _ int64) error { return nil }

func (f *fakeMessenger) SendText(_ context.Context, chatID int64, text string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{chatID, text})
	return nil
}

func (f *fakeMessenger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	sched     *Scheduler
	store     *store.Store
	messenger *fakeMessenger
	gen       *fakeGenerator
	now       time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "yui.db"), nil)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	gen := &fakeGenerator{reply: "привет, давно тебя не слышно"}
	m := &fakeMessenger{}
	cfg.Location = time.UTC
	cfg.TypingPerRune = time.Nanosecond
	cfg.TypingMin = time.Millisecond
	cfg.TypingMax = 2 * time.Millisecond

	sum := summary.New(s, gen, summary.Config{}, nil)
	sched := New(s, sum, chatlock.NewRegistry(), gen, m, cfg, nil)
	fx := &fixture{sched: sched, store: s, messenger: m, gen: gen}
	sched.now = func() time.Time { return fx.now }
	sched.rand = func() float64 { return 0 }
	return fx
}

func (fx *fixture) seedUserMessage(t *testing.T, chatID int64, ts time.Time) {
	t.Helper()
	err := fx.store.AppendMessage(context.Background(), store.Message{
		ChatID: chatID, AuthorID: 100, Role: store.RoleUser, Content: "hello", TS: ts,
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
}

func TestTick_CheckinOncePerDay(t *testing.T) {
	fx := newFixture(t, Config{GlobalCooldown: time.Minute})
	ctx := context.Background()

	// Private chat idle for 48 h, inside the 36–96 h band; the probability
	// gate is forced open (rand() = 0).
	fx.now = time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	fx.seedUserMessage(t, 100, fx.now.Add(-48*time.Hour))

	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 1 {
		t.Fatalf("expected exactly one check-in, got %d", n)
	}

	// Later the same day, cooldown long past: the check-in slot is consumed,
	// morning is over, evening has not started.
	fx.now = fx.now.Add(2 * time.Hour)
	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 1 {
		t.Fatalf("check-in must fire at most once per day, got %d sends", n)
	}

	if fx.sched.LastTick().IsZero() {
		t.Error("LastTick must move after a sweep")
	}
}

func TestTick_DailyCapHolds(t *testing.T) {
	fx := newFixture(t, Config{
		GlobalCooldown:  time.Minute,
		DailyCapPrivate: 1,
		Evening:         timewin.HourWindow{Start: 15, End: 23},
	})
	ctx := context.Background()

	fx.now = time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	fx.seedUserMessage(t, 100, fx.now.Add(-48*time.Hour))

	fx.sched.Tick(ctx) // check-in fires
	if n := fx.messenger.count(); n != 1 {
		t.Fatalf("expected the first send, got %d", n)
	}

	// Evening becomes eligible (armed at 15:00, rand = 0), cooldown elapsed,
	// but the daily cap of 1 is already spent.
	fx.gen.reply = "хорошего вечера!"
	for hour := 16; hour <= 22; hour++ {
		fx.now = time.Date(2026, 3, 12, hour, 0, 0, 0, time.UTC)
		fx.sched.Tick(ctx)
	}
	if n := fx.messenger.count(); n != 1 {
		t.Fatalf("daily cap of 1 exceeded: %d sends", n)
	}

	// Next day the cap resets.
	fx.seedUserMessage(t, 100, time.Date(2026, 3, 13, 9, 30, 0, 0, time.UTC))
	fx.now = time.Date(2026, 3, 13, 10, 0, 0, 0, time.UTC)
	fx.sched.Tick(ctx) // morning armed at 8:00 was missed... armed today at 8:00, now 10:00 in window
	if n := fx.messenger.count(); n != 2 {
		t.Fatalf("cap must reset on a new day, got %d sends", n)
	}
}

func TestTick_AntiRepetitionSkipsIdenticalOutput(t *testing.T) {
	fx := newFixture(t, Config{
		GlobalCooldown: time.Minute,
		Evening:        timewin.HourWindow{Start: 19, End: 23},
	})
	ctx := context.Background()

	fx.now = time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	fx.seedUserMessage(t, 100, fx.now.Add(-48*time.Hour))

	fx.sched.Tick(ctx) // check-in with the fixture's canned reply
	if n := fx.messenger.count(); n != 1 {
		t.Fatalf("expected the first send, got %d", n)
	}

	// Evening fires with byte-identical generator output; the content-hash
	// check must reject it.
	fx.now = time.Date(2026, 3, 12, 19, 30, 0, 0, time.UTC)
	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 1 {
		t.Fatalf("identical consecutive proactive output must be rejected, got %d sends", n)
	}
}

func TestTick_QuietHoursBlockEverything(t *testing.T) {
	fx := newFixture(t, Config{
		GlobalCooldown: time.Minute,
		Quiet:          timewin.HourWindow{Start: 23, End: 9},
	})
	ctx := context.Background()

	fx.now = time.Date(2026, 3, 12, 2, 0, 0, 0, time.UTC)
	fx.seedUserMessage(t, 100, fx.now.Add(-48*time.Hour))

	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 0 {
		t.Fatalf("no proactive send may happen during quiet hours, got %d", n)
	}
}

func TestTick_DormantChatSkipped(t *testing.T) {
	fx := newFixture(t, Config{GlobalCooldown: time.Minute, Retention: 30 * 24 * time.Hour})
	ctx := context.Background()

	fx.now = time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	fx.seedUserMessage(t, 100, fx.now.Add(-10*24*time.Hour))

	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 0 {
		t.Fatalf("dormant chat must be skipped, got %d sends", n)
	}
}

func TestTick_DisabledChatSkipped(t *testing.T) {
	fx := newFixture(t, Config{GlobalCooldown: time.Minute})
	ctx := context.Background()

	fx.now = time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	fx.seedUserMessage(t, 100, fx.now.Add(-48*time.Hour))
	if err := fx.store.SetMeta(ctx, metaKey(100, "disabled"), "1"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}

	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 0 {
		t.Fatalf("disabled chat must be skipped, got %d sends", n)
	}
}

func TestTick_ArmedInstantPersistsAcrossTicks(t *testing.T) {
	fx := newFixture(t, Config{GlobalCooldown: time.Minute})
	ctx := context.Background()

	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	fx.seedUserMessage(t, 100, day.Add(-2*time.Hour))

	// First tick arms the morning slot at 09:30 (rand = 0.5 over 8–11).
	fx.sched.rand = func() float64 { return 0.5 }
	fx.now = day.Add(8 * time.Hour)
	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 0 {
		t.Fatalf("nothing may fire before the armed instant, got %d", n)
	}

	// A later tick with a different random source must honor the persisted
	// instant, not re-roll it.
	fx.sched.rand = func() float64 { return 0 }
	fx.now = day.Add(9 * time.Hour) // 09:00, still before 09:30
	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 0 {
		t.Fatalf("re-rolled armed instant detected: fired before 09:30")
	}

	fx.now = day.Add(9*time.Hour + 45*time.Minute)
	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 1 {
		t.Fatalf("morning greeting must fire after the armed instant, got %d", n)
	}
}

func TestTick_MorningSlotConsumedEvenWhenGateFails(t *testing.T) {
	fx := newFixture(t, Config{
		GlobalCooldown:     time.Minute,
		MorningProbPrivate: 0.001,
	})
	ctx := context.Background()

	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	fx.seedUserMessage(t, 100, day.Add(-2*time.Hour))

	// Armed at 08:00 (rand = 0 for the instant), gate roll 0.5 fails.
	rolls := []float64{0, 0.5}
	fx.sched.rand = func() float64 {
		r := rolls[0]
		if len(rolls) > 1 {
			rolls = rolls[1:]
		}
		return r
	}
	fx.now = day.Add(9 * time.Hour)
	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 0 {
		t.Fatalf("failed gate must not send, got %d", n)
	}

	// Gate would now pass, but the day's slot is already consumed.
	fx.sched.rand = func() float64 { return 0 }
	fx.now = day.Add(10 * time.Hour)
	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 0 {
		t.Fatalf("morning slot must be consumed once per day, got %d sends", n)
	}
}

func TestTick_GroupAmbientPing(t *testing.T) {
	fx := newFixture(t, Config{
		GlobalCooldown:     time.Minute,
		AmbientIdleMinutes: 60,
		AmbientProb:        0.9,
	})
	ctx := context.Background()

	// Negative chat id: a group. Idle for 2 h, afternoon, quiet window off.
	fx.now = time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	fx.seedUserMessage(t, -200, fx.now.Add(-2*time.Hour))
	fx.gen.reply = "что-то тихо тут стало"

	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 1 {
		t.Fatalf("expected one ambient ping, got %d", n)
	}

	// Once per day.
	fx.now = fx.now.Add(3 * time.Hour)
	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 1 {
		t.Fatalf("ambient ping must fire at most once per day, got %d", n)
	}
}

func TestPostProcess(t *testing.T) {
	in := "(thinks for a moment)\n«доброе утро, сони»\n*smiles*"
	if got := postProcess(in); got != "доброе утро, сони" {
		t.Errorf("postProcess = %q", got)
	}
	if got := postProcess("  plain line  "); got != "plain line" {
		t.Errorf("postProcess plain = %q", got)
	}
}

func TestTick_OverlappingWindowsLeaveEveningSlotAlone(t *testing.T) {
	fx := newFixture(t, Config{
		GlobalCooldown: time.Minute,
		Morning:        timewin.HourWindow{Start: 8, End: 14},
		Evening:        timewin.HourWindow{Start: 10, End: 16},
	})
	ctx := context.Background()

	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	fx.seedUserMessage(t, 100, day.Add(9*time.Hour))

	// 11:00 is inside both windows; morning wins on priority.
	fx.now = day.Add(11 * time.Hour)
	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 1 {
		t.Fatalf("expected the morning greeting, got %d sends", n)
	}

	// The evening slot must not have been touched on the morning tick.
	if _, ok, err := fx.store.GetMeta(ctx, slotKey(100, KindEvening)); err != nil || ok {
		t.Fatalf("evening slot consumed alongside morning: ok=%v err=%v", ok, err)
	}

	// Still inside the evening window, cooldown elapsed: evening fires too.
	fx.gen.reply = "уютного вечера!"
	fx.now = day.Add(13 * time.Hour)
	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 2 {
		t.Fatalf("evening greeting lost its slot, got %d sends", n)
	}
}

func TestTick_StoredChatTypeWins(t *testing.T) {
	fx := newFixture(t, Config{GlobalCooldown: time.Minute})
	ctx := context.Background()

	// Positive id, but recorded as a group: the private-only check-in path
	// must not run; the ambient path must.
	fx.now = time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)
	fx.seedUserMessage(t, 100, fx.now.Add(-48*time.Hour))
	if err := fx.store.SetChatType(ctx, 100, false); err != nil {
		t.Fatalf("SetChatType: %v", err)
	}

	fx.sched.Tick(ctx)
	if n := fx.messenger.count(); n != 1 {
		t.Fatalf("expected one ambient ping, got %d sends", n)
	}
	if kind, _, _ := fx.store.GetMeta(ctx, metaKey(100, "last_kind")); kind != string(KindAmbient) {
		t.Fatalf("recorded group classification ignored: fired %q", kind)
	}
}

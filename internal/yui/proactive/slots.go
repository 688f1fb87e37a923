package proactive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/timewin"
)

// Kind is one autonomous speech category. Each chat has one slot per kind
// per local day.
type Kind string

const (
	KindMorning Kind = "morning"
	KindEvening Kind = "evening"
	KindCheckin Kind = "checkin"
	KindAmbient Kind = "ambient"
)

// Slot phases. A windowed slot (morning/evening) is armed once per day at a
// randomized instant and consumed exactly once whether or not the
// probability gate then fires; daily slots (checkin/ambient) go straight
// from idle to fired on an actual attempt.
const (
	phaseIdle  = "idle"
	phaseArmed = "armed"
	phaseFired = "fired"
)

// slot is the persisted per-chat per-kind record. Day is the local calendar
// day the record belongs to; records from an earlier day are stale and the
// slot re-arms.
type slot struct {
	Day         string `json:"day"`
	Phase       string `json:"phase"`
	ScheduledAt int64  `json:"scheduled_at,omitempty"`
}

func slotKey(chatID int64, kind Kind) string {
	return fmt.Sprintf("proactive:slot:%d:%s", chatID, kind)
}

func (s *Scheduler) loadSlot(ctx context.Context, chatID int64, kind Kind) (slot, error) {
	var sl slot
	raw, ok, err := s.store.GetMeta(ctx, slotKey(chatID, kind))
	if err != nil {
		return sl, err
	}
	if !ok {
		return slot{Phase: phaseIdle}, nil
	}
	if err := json.Unmarshal([]byte(raw), &sl); err != nil {
		s.logger.Warn("corrupt slot record, resetting",
			"chat_id", chatID, "kind", string(kind), "err", err)
		return slot{Phase: phaseIdle}, nil
	}
	return sl, nil
}

func (s *Scheduler) saveSlot(ctx context.Context, chatID int64, kind Kind, sl slot) error {
	raw, err := json.Marshal(sl)
	if err != nil {
		return err
	}
	return s.store.SetMeta(ctx, slotKey(chatID, kind), string(raw))
}

// windowedSlotReady advances the morning/evening slot state machine for
// today and reports whether the slot should be consumed on this tick. The
// armed instant is persisted, so repeated ticks and restarts agree on the
// day's randomized send time.
func (s *Scheduler) windowedSlotReady(ctx context.Context, chatID int64, kind Kind, window timewin.HourWindow, now time.Time) (bool, error) {
	day := timewin.DayKey(now)
	sl, err := s.loadSlot(ctx, chatID, kind)
	if err != nil {
		return false, err
	}

	if sl.Day != day {
		sl = slot{
			Day:         day,
			Phase:       phaseArmed,
			ScheduledAt: window.RandomInstant(now, s.rand).Unix(),
		}
		if err := s.saveSlot(ctx, chatID, kind, sl); err != nil {
			return false, err
		}
		s.logger.Debug("slot armed",
			"chat_id", chatID, "kind", string(kind),
			"at", time.Unix(sl.ScheduledAt, 0).In(s.loc).Format(time.TimeOnly))
	}

	if sl.Phase != phaseArmed || now.Unix() < sl.ScheduledAt {
		return false, nil
	}

	// Past the scheduled instant but already outside the window: the day's
	// attempt was missed (late start, long downtime). Consume without firing.
	if !window.Contains(now) {
		sl.Phase = phaseFired
		if err := s.saveSlot(ctx, chatID, kind, sl); err != nil {
			return false, err
		}
		return false, nil
	}

	// Consume the day's slot before the probability gate runs: one attempt
	// per day, fired or not.
	sl.Phase = phaseFired
	if err := s.saveSlot(ctx, chatID, kind, sl); err != nil {
		return false, err
	}
	return true, nil
}

// dailySlotOpen reports whether the checkin/ambient slot is still unused
// today. Unlike windowed slots it is not consumed here; markDailySlotFired
// runs only when an attempt actually happens, so a failed probability gate
// retries on a later tick.
func (s *Scheduler) dailySlotOpen(ctx context.Context, chatID int64, kind Kind, now time.Time) (bool, error) {
	sl, err := s.loadSlot(ctx, chatID, kind)
	if err != nil {
		return false, err
	}
	return sl.Day != timewin.DayKey(now) || sl.Phase != phaseFired, nil
}

func (s *Scheduler) markDailySlotFired(ctx context.Context, chatID int64, kind Kind, now time.Time) error {
	return s.saveSlot(ctx, chatID, kind, slot{Day: timewin.DayKey(now), Phase: phaseFired})
}

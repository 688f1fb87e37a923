package bot

import (
	"context"
	"time"
	"unicode/utf8"
)

// typingRefresh is how often the typing indicator is re-sent while the
// simulated delay runs; the platform drops the indicator after a few seconds
// of silence.
const typingRefresh = 4 * time.Second

// typingDelay computes the simulated typing time for a reply: a per-rune
// rate clamped to [min, max].
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

// simulateTyping keeps the chat's typing indicator alive for the duration,
// returning early when ctx is cancelled. Indicator send failures are
// ignored; the delay is presentation, not correctness.
func (h *Handler) simulateTyping(ctx context.Context, chatID int64, d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		_ = h.messenger.SendTyping(ctx, chatID)
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

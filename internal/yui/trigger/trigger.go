// Package trigger classifies inbound messages: must the agent answer, may it
// interject uninvited, or should it stay silent. Classification is a pure
// read; interjection bookkeeping is committed separately so retries never
// double-count.
package trigger

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/timewin"
)

// Decision is the outcome of classifying one inbound message.
type Decision int

const (
	Ignore Decision = iota
	MustAnswer
	MayInterject
)

func (d Decision) String() string {
	switch d {
	case MustAnswer:
		return "must_answer"
	case MayInterject:
		return "may_interject"
	default:
		return "ignore"
	}
}

// Inbound carries the addressing facts the platform layer already knows.
// Mention and reply-target parsing happen in the transport, not here.
type Inbound struct {
	ChatID      int64
	SenderID    int64
	Text        string
	Private     bool
	FromBot     bool
	MentionsBot bool
	ReplyToBot  bool
}

// Config tunes interjection behaviour. Zero values fall back to defaults.
type Config struct {
	// AddressPrefixes are the leading tokens that count as addressing the
	// agent in a group ("yui", "бот", ...).
	AddressPrefixes []string
	// Cooldown is the minimum gap between two interjections in one chat.
	// Default: 15 min.
	Cooldown time.Duration
	// HourlyCap bounds interjections per chat per clock hour. Default: 2.
	HourlyCap int
	// Probability gates each eligible interjection. Default: 0.3.
	Probability float64
	// Quiet is the local-time window during which interjections are
	// suppressed unless the message carries a strong-emotion keyword.
	Quiet timewin.HourWindow
	// Location is the zone for the quiet-hours clock. Default: time.Local.
	Location *time.Location
}

var defaultAddressPrefixes = []string{"yui", "юи", "bot", "бот", "ai", "ии"}

// Strong-emotion keywords get through quiet hours; someone upset at 3am
// still deserves company.
var emotionKeywords = []string{
	"awful", "terrible", "hate", "angry", "furious", "sad", "crying",
	"scared", "depressed", "help me",
	"ужас", "кошмар", "бесит", "ненавижу", "злюсь", "грустно", "плачу",
	"страшно", "обидно", "помогите",
}

var secondPersonWords = []string{"you", "ты", "вы", "тебя", "тебе", "вас", "вам"}

type hourBucket struct {
	chatID int64
	hour   int64
}

// Detector applies the classification rules and tracks per-chat
// interjection cooldowns and hourly counters in memory.
type Detector struct {
	cfg  Config
	loc  *time.Location
	now  func() time.Time
	rand func() float64

	mu            sync.Mutex
	lastInterject map[int64]time.Time
	hourCounts    map[hourBucket]int
}

// New creates a Detector. Zero-value config fields fall back to defaults.
func New(cfg Config) *Detector {
	if len(cfg.AddressPrefixes) == 0 {
		cfg.AddressPrefixes = defaultAddressPrefixes
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}
	if cfg.HourlyCap <= 0 {
		cfg.HourlyCap = 2
	}
	if cfg.Probability <= 0 {
		cfg.Probability = 0.3
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Detector{
		cfg:           cfg,
		loc:           loc,
		now:           time.Now,
		rand:          rand.Float64,
		lastInterject: make(map[int64]time.Time),
		hourCounts:    make(map[hourBucket]int),
	}
}

// Classify maps one inbound message to a Decision. It mutates no state;
// callers that act on MayInterject must call CommitInterjection exactly once
// per actual attempt.
func (d *Detector) Classify(msg Inbound) Decision {
	if msg.FromBot {
		return Ignore
	}
	// Stickers, bare media and voice notes arrive with no text; the agent
	// only ever engages with words, even in private chats.
	if strings.TrimSpace(msg.Text) == "" {
		return Ignore
	}
	if d.mustAnswer(msg) {
		return MustAnswer
	}
	if msg.Private {
		return Ignore
	}
	if d.mayInterject(msg) {
		return MayInterject
	}
	return Ignore
}

func (d *Detector) mustAnswer(msg Inbound) bool {
	if msg.Private || msg.ReplyToBot || msg.MentionsBot {
		return true
	}
	return d.hasAddressPrefix(msg.Text)
}

func (d *Detector) hasAddressPrefix(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, p := range d.cfg.AddressPrefixes {
		if !strings.HasPrefix(t, p) {
			continue
		}
		rest := t[len(p):]
		if rest == "" {
			return true
		}
		switch rest[0] {
		case ' ', ',', ':', '!', '?', '.':
			return true
		}
	}
	return false
}

func (d *Detector) mayInterject(msg Inbound) bool {
	emotional := containsAny(msg.Text, emotionKeywords)
	if !emotional && !d.mentionsAgentKeyword(msg.Text) && !isSecondPersonQuestion(msg.Text) {
		return false
	}

	now := d.now()
	if !emotional && d.cfg.Quiet.Contains(now.In(d.loc)) {
		return false
	}

	d.mu.Lock()
	last, seen := d.lastInterject[msg.ChatID]
	count := d.hourCounts[hourBucket{msg.ChatID, now.Unix() / 3600}]
	d.mu.Unlock()

	if seen && now.Sub(last) < d.cfg.Cooldown {
		return false
	}
	if count >= d.cfg.HourlyCap {
		return false
	}
	return d.rand() < d.cfg.Probability
}

// mentionsAgentKeyword reports whether the text references the agent by name
// or role anywhere, not just as a leading address token.
func (d *Detector) mentionsAgentKeyword(text string) bool {
	t := strings.ToLower(text)
	for _, p := range d.cfg.AddressPrefixes {
		if containsWord(t, p) {
			return true
		}
	}
	return false
}

func isSecondPersonQuestion(text string) bool {
	if !strings.Contains(text, "?") {
		return false
	}
	t := strings.ToLower(text)
	for _, w := range secondPersonWords {
		if containsWord(t, w) {
			return true
		}
	}
	return false
}

// CommitInterjection records that an interjection attempt actually happened:
// the cooldown timestamp advances and the current hour's counter increments.
// Call it once per attempt, before generating, so a failed generation still
// consumes the slot.
func (d *Detector) CommitInterjection(chatID int64) {
	now := d.now()
	hour := now.Unix() / 3600

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastInterject[chatID] = now
	d.hourCounts[hourBucket{chatID, hour}]++
	for b := range d.hourCounts {
		if b.hour < hour-1 {
			delete(d.hourCounts, b)
		}
	}
}

func containsAny(text string, keywords []string) bool {
	t := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// containsWord matches word against lowercase text on rune-class boundaries
// so "ai" does not fire inside "maintain".
func containsWord(t, word string) bool {
	for i := 0; ; {
		j := strings.Index(t[i:], word)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(word)
		if boundaryBefore(t, start) && boundaryAfter(t, end) {
			return true
		}
		i = start + 1
	}
}

func boundaryBefore(t string, i int) bool {
	if i == 0 {
		return true
	}
	return !isWordByte(t[i-1])
}

func boundaryAfter(t string, i int) bool {
	if i >= len(t) {
		return true
	}
	return !isWordByte(t[i])
}

func isWordByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b >= 0x80:
		// Multi-byte rune continuation or start; treat as word material so
		// Cyrillic tokens only match on real boundaries.
		return true
	}
	return false
}

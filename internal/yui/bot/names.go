package bot

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Self-reported name statements, English and Russian. The capture is cleaned
// before use; garbage captures are rejected rather than guessed at.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is\s+([\p{L}][\p{L} '-]{0,30})`),
	regexp.MustCompile(`(?i)\bcall me\s+([\p{L}][\p{L} '-]{0,30})`),
	regexp.MustCompile(`(?i)меня зовут\s+([\p{L}][\p{L} '-]{0,30})`),
	regexp.MustCompile(`(?i)зови меня\s+([\p{L}][\p{L} '-]{0,30})`),
	regexp.MustCompile(`(?i)можешь звать меня\s+([\p{L}][\p{L} '-]{0,30})`),
}

// nameStopwords are captures that are never a name.
var nameStopwords = map[string]struct{}{
	"bot": {}, "nobody": {}, "no one": {}, "nothing": {},
	"бот": {}, "никто": {}, "неважно": {}, "секрет": {},
}

// ExtractName pulls a self-reported name out of a message, or "" when the
// message carries none.
func ExtractName(text string) string {
	for _, re := range namePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if name := cleanName(m[1]); name != "" {
			return name
		}
	}
	return ""
}

func cleanName(raw string) string {
	name := strings.TrimSpace(raw)
	// Keep only the first clause; "call me Max, by the way" captures greedily.
	if i := strings.IndexAny(name, ",.!?;:\n"); i >= 0 {
		name = name[:i]
	}
	name = strings.Trim(name, ` "'`)
	if n := utf8.RuneCountInString(name); n < 2 || n > 24 {
		return ""
	}
	if _, stop := nameStopwords[strings.ToLower(name)]; stop {
		return ""
	}
	return name
}

var identityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwho are you\b`),
	regexp.MustCompile(`(?i)\bwhat are you\b`),
	regexp.MustCompile(`(?i)\bare you (a |an )?(bot|robot|ai)\b`),
	regexp.MustCompile(`(?i)кто ты`),
	regexp.MustCompile(`(?i)ты кто`),
	regexp.MustCompile(`(?i)что ты такое`),
	regexp.MustCompile(`(?i)ты\s+(бот|робот|нейросеть|ии)(\PL|$)`),
}

// IsIdentityQuestion reports whether the message asks who or what the agent
// is. Such turns get a short extra instruction so the persona answers
// briefly instead of deflecting or monologuing.
func IsIdentityQuestion(text string) bool {
	for _, re := range identityPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

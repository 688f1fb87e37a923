package bot

import "testing"

func TestExtractName(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"my name is Max", "Max"},
		{"btw my name is Anna, nice to meet you", "Anna"},
		{"call me Ishmael.", "Ishmael"},
		{"меня зовут Лена", "Лена"},
		{"зови меня Саша!", "Саша"},
		{"можешь звать меня Мария-Антуанетта", "Мария-Антуанетта"},
		{"my name is X", ""},       // too short
		{"call me nobody", ""},     // stopword
		{"меня зовут никто", ""},   // stopword
		{"what is your name?", ""}, // not self-reporting
		{"hello there", ""},
	}
	for _, tt := range tests {
		if got := ExtractName(tt.text); got != tt.want {
			t.Errorf("ExtractName(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestIsIdentityQuestion(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"who are you?", true},
		{"so what are you exactly", true},
		{"are you a bot?", true},
		{"кто ты вообще", true},
		{"ты кто", true},
		{"ты бот?", true},
		{"что ты такое", true},
		{"who was at the party", false},
		{"ты придёшь завтра?", false},
	}
	for _, tt := range tests {
		if got := IsIdentityQuestion(tt.text); got != tt.want {
			t.Errorf("IsIdentityQuestion(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("привет", 4); got != "прив" {
		t.Errorf("Truncate = %q, want %q", got, "прив")
	}
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("Truncate must leave short text alone, got %q", got)
	}
}

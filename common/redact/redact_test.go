package redact_test

import (
	"strings"
	"testing"

	"github.com/gungold-XwX/yui-telegram-bot/common/redact"
)

func TestString_RedactsSensitiveValues(t *testing.T) {
	token := "123456:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"
	line := "Post \"https://api.telegram.org/bot" + token + "/sendMessage\": timeout"

	got := redact.String(line, token)
	if strings.Contains(got, token) {
		t.Fatalf("token leaked: %q", got)
	}
	if !strings.Contains(got, "[REDACTED]") {
		t.Fatalf("placeholder missing: %q", got)
	}
}

func TestString_MultipleValues(t *testing.T) {
	got := redact.String("key=sk-abc123 token=tok-xyz789", "sk-abc123", "tok-xyz789")
	if got != "key=[REDACTED] token=[REDACTED]" {
		t.Errorf("got %q", got)
	}
}

func TestString_ShortValuesSkipped(t *testing.T) {
	if got := redact.String("a cat sat", "cat"); got != "a cat sat" {
		t.Errorf("short value must not be redacted, got %q", got)
	}
}

func TestString_NoValues(t *testing.T) {
	if got := redact.String("unchanged"); got != "unchanged" {
		t.Errorf("got %q", got)
	}
}

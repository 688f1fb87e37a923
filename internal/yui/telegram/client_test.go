package telegram

import (
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestSanitize(t *testing.T) {
	token := "123456:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"
	err := errors.New("Post \"https://api.telegram.org/bot" + token + "/sendMessage\": timeout")

	got := sanitize(err, token)
	if strings.Contains(got.Error(), token) {
		t.Fatalf("token leaked: %v", got)
	}
	if sanitize(nil, token) != nil {
		t.Error("nil error must stay nil")
	}
}

func TestMessageText(t *testing.T) {
	if got := messageText(&tgbotapi.Message{Text: "hello"}); got != "hello" {
		t.Errorf("messageText = %q", got)
	}
	if got := messageText(&tgbotapi.Message{Caption: "a photo"}); got != "a photo" {
		t.Errorf("caption fallback = %q", got)
	}
}

func TestMentionsUser(t *testing.T) {
	msg := &tgbotapi.Message{Text: "hey @Yui_bot what do you think"}
	if !mentionsUser(msg, "yui_bot") {
		t.Error("case-insensitive mention not detected")
	}
	if mentionsUser(&tgbotapi.Message{Text: "no mention here"}, "yui_bot") {
		t.Error("false positive mention")
	}
	if mentionsUser(msg, "") {
		t.Error("empty username must never match")
	}
}

func TestRepliesToUser(t *testing.T) {
	reply := &tgbotapi.Message{
		ReplyToMessage: &tgbotapi.Message{From: &tgbotapi.User{ID: 7}},
	}
	if !repliesToUser(reply, 7) {
		t.Error("reply to own message not detected")
	}
	if repliesToUser(reply, 8) {
		t.Error("reply to someone else misattributed")
	}
	if repliesToUser(&tgbotapi.Message{}, 7) {
		t.Error("non-reply misattributed")
	}
}

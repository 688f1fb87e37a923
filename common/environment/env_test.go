package environment_test

import (
	"testing"

	"github.com/gungold-XwX/yui-telegram-bot/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	if got := environment.StringOr("TEST_STRING", "default"); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := environment.StringOr("TEST_STRING_UNSET", "default"); got != "default" {
		t.Errorf("got %q", got)
	}
}

func TestString(t *testing.T) {
	t.Setenv("TEST_EMPTY", "")
	if _, ok := environment.String("TEST_EMPTY"); !ok {
		t.Error("set-but-empty variable must report ok")
	}
	if _, ok := environment.String("TEST_STRING_UNSET"); ok {
		t.Error("unset variable must not report ok")
	}
}

func TestStringSliceOr(t *testing.T) {
	t.Setenv("TEST_SLICE", "a, b ,, c")
	got := environment.StringSliceOr("TEST_SLICE", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("got %v", got)
	}
	def := []string{"x"}
	if got := environment.StringSliceOr("TEST_SLICE_UNSET", def); len(got) != 1 || got[0] != "x" {
		t.Errorf("default lost: %v", got)
	}
}

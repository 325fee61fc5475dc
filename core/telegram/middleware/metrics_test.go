package middleware

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestHasKeyboard(t *testing.T) {
	if hasKeyboard(nil) || hasKeyboard([]any{tele.ModeHTML}) {
		t.Fatal("no markup given")
	}
	if !hasKeyboard([]any{tele.ModeHTML, &tele.ReplyMarkup{}}) {
		t.Fatal("markup option missed")
	}
	if !hasKeyboard([]any{&tele.SendOptions{ReplyMarkup: &tele.ReplyMarkup{}}}) {
		t.Fatal("markup inside send options missed")
	}
}

func TestIsMedia(t *testing.T) {
	if !isMedia(&tele.Photo{}) || !isMedia(&tele.Document{}) {
		t.Fatal("media not recognised")
	}
	if isMedia("hello") {
		t.Fatal("text is not media")
	}
}

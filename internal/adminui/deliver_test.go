package adminui

import (
	"context"
	"errors"
	"testing"

	"github.com/m3rciful/pocketsaas/internal/broadcast"
	"github.com/m3rciful/pocketsaas/internal/tgtest"

	tele "gopkg.in/telebot.v4"
)

func TestPostFromMessage(t *testing.T) {
	cases := []struct {
		name string
		msg  *tele.Message
		kind broadcast.MediaKind
		text string
	}{
		{"text", &tele.Message{Text: "hello"}, "", "hello"},
		{"photo", &tele.Message{Photo: &tele.Photo{File: tele.File{FileID: "p1"}}, Caption: "cap"}, broadcast.MediaPhoto, "cap"},
		{"animation wins over document", &tele.Message{
			Animation: &tele.Animation{File: tele.File{FileID: "a1"}},
			Document:  &tele.Document{File: tele.File{FileID: "d1"}},
		}, broadcast.MediaAnimation, ""},
		{"video", &tele.Message{Video: &tele.Video{File: tele.File{FileID: "v1"}}}, broadcast.MediaVideo, ""},
		{"video note", &tele.Message{VideoNote: &tele.VideoNote{File: tele.File{FileID: "n1"}}}, broadcast.MediaVideoNote, ""},
		{"document", &tele.Message{Document: &tele.Document{File: tele.File{FileID: "d2"}}, Caption: "pdf"}, broadcast.MediaDocument, "pdf"},
	}
	for _, tc := range cases {
		p, ok := PostFromMessage(tc.msg)
		if !ok {
			t.Fatalf("%s: not converted", tc.name)
		}
		if p.Text != tc.text {
			t.Fatalf("%s: text = %q", tc.name, p.Text)
		}
		if tc.kind == "" {
			if p.Media != nil {
				t.Fatalf("%s: unexpected media", tc.name)
			}
			continue
		}
		if p.Media == nil || p.Media.Kind != tc.kind {
			t.Fatalf("%s: media = %+v", tc.name, p.Media)
		}
	}
	if _, ok := PostFromMessage(&tele.Message{Sticker: &tele.Sticker{}}); ok {
		t.Fatal("sticker must not convert")
	}
	if _, ok := PostFromMessage(nil); ok {
		t.Fatal("nil message must not convert")
	}
}

func TestSendableCoversEveryMediaKind(t *testing.T) {
	want := map[broadcast.MediaKind]string{
		broadcast.MediaPhoto:     "sendPhoto",
		broadcast.MediaVideo:     "sendVideo",
		broadcast.MediaDocument:  "sendDocument",
		broadcast.MediaAnimation: "sendAnimation",
		broadcast.MediaVideoNote: "sendVideoNote",
	}
	for kind, endpoint := range want {
		_, got, err := sendable(broadcast.Post{Media: &broadcast.Media{Kind: kind, FileID: "f"}})
		if err != nil || got != endpoint {
			t.Fatalf("%s: endpoint=%q err=%v", kind, got, err)
		}
	}
	if _, _, err := sendable(broadcast.Post{Media: &broadcast.Media{Kind: "sticker"}}); err == nil {
		t.Fatal("unknown kind must fail")
	}
	if _, _, err := sendable(broadcast.Post{}); !errors.Is(err, broadcast.ErrEmptyPost) {
		t.Fatalf("empty post err = %v", err)
	}
}

func TestDelivererSendsThroughBot(t *testing.T) {
	srv := tgtest.NewServer(t)
	d := NewDeliverer(srv.Bot(t), nil)

	photo := broadcast.Post{Text: "look", Media: &broadcast.Media{Kind: broadcast.MediaPhoto, FileID: "AgAD"}}
	if err := d.Deliver(context.Background(), 42, photo); err != nil {
		t.Fatalf("Deliver photo: %v", err)
	}
	calls := srv.Calls("sendPhoto")
	if len(calls) != 1 || calls[0].Params["photo"] != "AgAD" || calls[0].Params["caption"] != "look" || calls[0].Params["chat_id"] != "42" {
		t.Fatalf("sendPhoto calls = %+v", calls)
	}

	kinds := map[broadcast.MediaKind]string{
		broadcast.MediaVideo:     "video",
		broadcast.MediaDocument:  "document",
		broadcast.MediaAnimation: "animation",
		broadcast.MediaVideoNote: "video_note",
	}
	for kind, param := range kinds {
		post := broadcast.Post{Media: &broadcast.Media{Kind: kind, FileID: "id-" + string(kind)}}
		if err := d.Deliver(context.Background(), 42, post); err != nil {
			t.Fatalf("Deliver %s: %v", kind, err)
		}
		calls := srv.Calls()
		if last := calls[len(calls)-1]; last.Params[param] != "id-"+string(kind) {
			t.Fatalf("%s: params = %+v", kind, last.Params)
		}
	}

	srv.FailChat("sendMessage", 43, tgtest.Failure{Code: 403, Description: "Forbidden: bot was blocked by the user"})
	err := d.Deliver(context.Background(), 43, broadcast.Post{Text: "hi"})
	if !errors.Is(err, tele.ErrBlockedByUser) {
		t.Fatalf("blocked err = %v", err)
	}
}

package adminui

import (
	"context"
	"fmt"

	"github.com/m3rciful/pocketsaas/core/telegram/sender"
	"github.com/m3rciful/pocketsaas/internal/broadcast"

	tele "gopkg.in/telebot.v4"
)

// Deliverer sends campaign posts through one bot, with the sender's retry
// policy when a dispatcher is set.
type Deliverer struct {
	bot  *tele.Bot
	disp *sender.Dispatcher
}

// NewDeliverer returns a Deliverer. disp may be nil.
func NewDeliverer(bot *tele.Bot, disp *sender.Dispatcher) *Deliverer {
	return &Deliverer{bot: bot, disp: disp}
}

// Deliver implements broadcast.Deliverer.
func (d *Deliverer) Deliver(ctx context.Context, chatID int64, p broadcast.Post) error {
	what, endpoint, err := sendable(p)
	if err != nil {
		return err
	}
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	run := func() error {
		_, err := d.bot.Send(tele.ChatID(chatID), what, opts)
		return err
	}
	if d.disp == nil {
		return run()
	}
	return d.disp.Do(ctx, "broadcast.post", endpoint, run)
}

// sendable maps a post to the telebot value to send and its API method.
func sendable(p broadcast.Post) (any, string, error) {
	if p.Media == nil {
		if p.Text == "" {
			return nil, "", broadcast.ErrEmptyPost
		}
		return p.Text, "sendMessage", nil
	}
	file := tele.File{FileID: p.Media.FileID}
	switch p.Media.Kind {
	case broadcast.MediaPhoto:
		return &tele.Photo{File: file, Caption: p.Text}, "sendPhoto", nil
	case broadcast.MediaVideo:
		return &tele.Video{File: file, Caption: p.Text}, "sendVideo", nil
	case broadcast.MediaDocument:
		return &tele.Document{File: file, Caption: p.Text}, "sendDocument", nil
	case broadcast.MediaAnimation:
		return &tele.Animation{File: file, Caption: p.Text}, "sendAnimation", nil
	case broadcast.MediaVideoNote:
		return &tele.VideoNote{File: file}, "sendVideoNote", nil
	}
	return nil, "", fmt.Errorf("adminui: unsupported media kind %q", p.Media.Kind)
}

// PostFromMessage converts an operator message into a campaign post. It
// reports false for messages that carry nothing sendable.
func PostFromMessage(m *tele.Message) (broadcast.Post, bool) {
	if m == nil {
		return broadcast.Post{}, false
	}
	media := func(kind broadcast.MediaKind, id string) (broadcast.Post, bool) {
		return broadcast.Post{Text: m.Caption, Media: &broadcast.Media{Kind: kind, FileID: id}}, true
	}
	switch {
	case m.Photo != nil:
		return media(broadcast.MediaPhoto, m.Photo.FileID)
	case m.Animation != nil:
		// animations also arrive with a document attached
		return media(broadcast.MediaAnimation, m.Animation.FileID)
	case m.Video != nil:
		return media(broadcast.MediaVideo, m.Video.FileID)
	case m.VideoNote != nil:
		return media(broadcast.MediaVideoNote, m.VideoNote.FileID)
	case m.Document != nil:
		return media(broadcast.MediaDocument, m.Document.FileID)
	case m.Text != "":
		return broadcast.Post{Text: m.Text}, true
	}
	return broadcast.Post{}, false
}

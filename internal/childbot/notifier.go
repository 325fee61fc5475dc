package childbot

import (
	"context"
	"sync"

	tg "github.com/m3rciful/pocketsaas/core/telegram"
	"github.com/m3rciful/pocketsaas/internal/funnel"
	"github.com/m3rciful/pocketsaas/internal/model"

	tele "gopkg.in/telebot.v4"
)

// Notifier pushes users forward after a postback, speaking through the
// tenant's own bot. It implements postback.Notifier.
type Notifier struct {
	machine *funnel.Machine
	assets  string
	newBot  func(token string) (*tele.Bot, error)

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

// NewNotifier returns a Notifier that sends with send-only bots.
func NewNotifier(machine *funnel.Machine, assetsDir string) *Notifier {
	return &Notifier{
		machine: machine,
		assets:  assetsDir,
		newBot:  tg.NewOfflineBot,
		bots:    make(map[string]*tele.Bot),
	}
}

// Notify shows the screen that follows a conversion of kind.
func (n *Notifier) Notify(ctx context.Context, t model.Tenant, userID int64, kind model.EventKind) error {
	bot, err := n.bot(t.BotToken)
	if err != nil {
		return err
	}
	return n.machine.Notify(ctx, t, userID, kind, NewTransport(bot, nil, n.assets))
}

func (n *Notifier) bot(token string) (*tele.Bot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.bots[token]; ok {
		return b, nil
	}
	b, err := n.newBot(token)
	if err != nil {
		return nil, err
	}
	n.bots[token] = b
	return b, nil
}

package parentbot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	tg "github.com/m3rciful/pocketsaas/core/telegram"
	"github.com/m3rciful/pocketsaas/core/telegram/callbacks"
	"github.com/m3rciful/pocketsaas/internal/broadcast"
	"github.com/m3rciful/pocketsaas/internal/callback"
	"github.com/m3rciful/pocketsaas/internal/i18n"
	"github.com/m3rciful/pocketsaas/internal/model"
	"github.com/m3rciful/pocketsaas/internal/tenant"
	"github.com/m3rciful/pocketsaas/internal/tgtest"

	tele "gopkg.in/telebot.v4"
)

const (
	operator = int64(42)
	admin    = int64(900)
	channel  = int64(-100500)
	token    = "987654:ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

type fakeTenants struct {
	mu      sync.Mutex
	byID    map[int64]model.Tenant
	nextID  int64
	reject  bool
	deleted []int64
}

func (f *fakeTenants) Register(_ context.Context, ownerID int64, tok string) (model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return model.Tenant{}, fmt.Errorf("%w: Unauthorized", tenant.ErrTokenRejected)
	}
	name := "shop_bot"
	for _, t := range f.byID {
		if t.OwnerTelegramID == ownerID {
			t.BotToken, t.IsActive = tok, true
			f.byID[t.ID] = t
			return t, nil
		}
	}
	f.nextID++
	t := model.Tenant{ID: f.nextID, OwnerTelegramID: ownerID, BotToken: tok, BotUsername: &name, IsActive: true}
	f.byID[t.ID] = t
	return t, nil
}

func (f *fakeTenants) ByOwner(_ context.Context, ownerID int64) (model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byID {
		if t.OwnerTelegramID == ownerID {
			return t, nil
		}
	}
	return model.Tenant{}, model.ErrNotFound
}

func (f *fakeTenants) Get(_ context.Context, id int64) (model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return model.Tenant{}, model.ErrNotFound
	}
	return t, nil
}

func (f *fakeTenants) List(context.Context) ([]model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Tenant, 0, len(f.byID))
	for _, t := range f.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTenants) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeRecipients struct {
	mu       sync.Mutex
	ids      []int64
	segments []model.Segment
}

func (f *fakeRecipients) SegmentUserIDs(_ context.Context, seg model.Segment) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, seg)
	return f.ids, nil
}

type harness struct {
	t          *testing.T
	srv        *tgtest.Server
	texts      *i18n.Catalog
	tenants    *fakeTenants
	recipients *fakeRecipients
	bot        *Bot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	texts, err := i18n.Load("en")
	if err != nil {
		t.Fatalf("i18n: %v", err)
	}
	h := &harness{
		t:          t,
		srv:        tgtest.NewServer(t),
		texts:      texts,
		tenants:    &fakeTenants{byID: map[int64]model.Tenant{}},
		recipients: &fakeRecipients{ids: []int64{1, 2, 3}},
	}
	b, err := New(Options{
		Tenants:          h.tenants,
		Recipients:       h.recipients,
		Texts:            texts,
		PrivateChannelID: channel,
		GlobalAdmins:     []int64{admin},
		PostbackBase:     "https://pb.example.com/",
		Broadcast:        broadcast.Config{Location: time.UTC},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(b.orch.Close)
	b.bind(tg.Runtime{Bot: h.srv.Bot(t)})
	h.bot = b
	return h
}

func (h *harness) addTenant(id, owner int64, username string) {
	h.tenants.mu.Lock()
	defer h.tenants.mu.Unlock()
	h.tenants.byID[id] = model.Tenant{ID: id, OwnerTelegramID: owner, BotUsername: &username, IsActive: true}
	h.tenants.nextID = max(h.tenants.nextID, id)
}

func (h *harness) press(userID int64, data string) {
	h.t.Helper()
	key, payload, err := callback.Decode(data)
	if err != nil {
		h.t.Fatalf("decode %q: %v", data, err)
	}
	handler, ok := h.bot.reg.GetCallback(key)
	if !ok {
		h.t.Fatalf("no handler for %s", key)
	}
	c := tele.NewContext(h.bot.api, tgtest.Callback(userID, data))
	callbacks.SetPayload(c, payload)
	if err := handler(c); err != nil {
		h.t.Fatalf("%s: %v", data, err)
	}
}

// send routes text like the message router: open dialogue, command, then
// the text fallback.
func (h *harness) send(userID int64, text string) {
	h.t.Helper()
	c := tele.NewContext(h.bot.api, tgtest.Message(userID, text))
	var err error
	if h.bot.fsm.InProgress(userID) {
		err = h.bot.fsm.ManagerHandler(c)
	} else if _, cmd, ok := h.bot.reg.LookupCommand(text); ok {
		err = cmd.Handler(c)
	} else {
		err = h.bot.reg.TextFallback()(c)
	}
	if err != nil {
		h.t.Fatalf("send %q: %v", text, err)
	}
}

func (h *harness) expectText(contains string) {
	h.t.Helper()
	if got := h.srv.LastText(); !strings.Contains(got, contains) {
		h.t.Fatalf("last text = %q, want it to contain %q", got, contains)
	}
}

func (h *harness) expectAlert(text string) {
	h.t.Helper()
	calls := h.srv.Calls("answerCallbackQuery")
	if len(calls) == 0 {
		h.t.Fatal("no alert")
	}
	if got := calls[len(calls)-1].Params["text"]; got != text {
		h.t.Fatalf("alert = %q, want %q", got, text)
	}
}

func TestStartMembershipGate(t *testing.T) {
	h := newHarness(t)

	h.srv.SetMemberStatus(tele.Left)
	h.send(operator, "/start")
	h.expectText(h.texts.Admin("parent_not_member"))

	h.srv.SetMemberStatus(tele.Kicked)
	h.send(operator, "/start")
	h.expectText(h.texts.Admin("parent_not_member"))

	h.srv.SetMemberStatus(tele.Member)
	h.send(operator, "/start")
	h.expectText(h.texts.Admin("parent_welcome"))
	calls := h.srv.Calls("getChatMember")
	if got := calls[len(calls)-1].Params["chat_id"]; got != fmt.Sprint(channel) {
		t.Fatalf("checked chat %s", got)
	}
}

func TestStartFailsOpen(t *testing.T) {
	h := newHarness(t)
	h.srv.Fail("getChatMember", tgtest.Failure{Code: 400, Description: "Bad Request: chat not found"})
	h.send(operator, "/start")
	h.expectText(h.texts.Admin("parent_welcome"))
}

func TestStartShowsExistingTenant(t *testing.T) {
	h := newHarness(t)
	h.addTenant(3, operator, "shop_bot")
	h.send(operator, "/start")
	h.expectText("@shop_bot")
	h.expectText("<code>tn3</code>")
}

func TestTokenRegistration(t *testing.T) {
	h := newHarness(t)

	h.send(operator, "hello")
	h.expectText(h.texts.Admin("parent_hint"))

	h.send(operator, token)
	h.expectText("Bot @shop_bot connected")
	h.expectText("<code>https://pb.example.com</code>")
	tn, err := h.tenants.ByOwner(context.Background(), operator)
	if err != nil || tn.BotToken != token {
		t.Fatalf("tenant = %+v, %v", tn, err)
	}

	h.tenants.reject = true
	h.send(operator, token)
	h.expectText(h.texts.Admin("parent_token_invalid"))
}

func TestTokenRequiresMembership(t *testing.T) {
	h := newHarness(t)
	h.srv.SetMemberStatus(tele.Left)
	h.send(operator, token)
	h.expectText(h.texts.Admin("parent_not_member"))
	if _, err := h.tenants.ByOwner(context.Background(), operator); err != model.ErrNotFound {
		t.Fatalf("non-member registered a tenant: %v", err)
	}
}

func TestGlobalMenuIsAdminOnly(t *testing.T) {
	h := newHarness(t)
	for _, data := range []string{"ga:menu", "ga:clients", "bc:global"} {
		h.press(operator, data)
		h.expectAlert(h.texts.Admin("no_admin"))
	}
	if _, ok := h.bot.orch.Session(operator); ok {
		t.Fatal("stranger opened a campaign")
	}

	h.press(admin, "ga:menu")
	h.expectText(h.texts.Admin("ga_menu"))
}

func TestGlobalBroadcast(t *testing.T) {
	h := newHarness(t)

	h.press(admin, "bc:global")
	h.expectText(h.texts.Admin("broadcast_prompt"))
	h.send(admin, "news")
	h.press(admin, "bc:done")
	h.press(admin, "bc:time:now")

	if len(h.recipients.segments) != 1 {
		t.Fatalf("resolved %d segments", len(h.recipients.segments))
	}
	if seg := h.recipients.segments[0]; !seg.Global() || seg.Filter != model.FilterAll {
		t.Fatalf("segment = %+v", seg)
	}
	var delivered int
	for _, c := range h.srv.Calls("sendMessage") {
		if c.Params["text"] == "news" {
			delivered++
		}
	}
	if delivered != 3 {
		t.Fatalf("delivered %d, want 3", delivered)
	}

	h.press(admin, "bc:more:no")
	h.expectText(h.texts.Admin("ga_menu"))
}

func TestTenantBroadcastPicker(t *testing.T) {
	h := newHarness(t)
	h.addTenant(1, 500, "one_bot")
	h.addTenant(2, 501, "two_bot")

	h.press(admin, "bc:tenants")
	h.expectText(h.texts.Admin("tenants_choose"))
	calls := h.srv.Calls("editMessageText")
	markup := calls[len(calls)-1].Params["reply_markup"]
	if !strings.Contains(markup, "bc:tenant:1") || !strings.Contains(markup, "bc:tenant:2") {
		t.Fatalf("picker markup: %s", markup)
	}

	h.press(admin, "bc:tenant:2")
	sess, ok := h.bot.orch.Session(admin)
	if !ok || sess.Segment.TenantID != 2 || sess.Segment.Filter != model.FilterAll {
		t.Fatalf("session = %+v, %v", sess, ok)
	}

	h.press(admin, "bc:tenant:99")
	h.expectAlert(h.texts.Admin("clients_empty"))
}

func TestClientsCardAndDelete(t *testing.T) {
	h := newHarness(t)

	h.press(admin, "ga:clients")
	h.expectText(h.texts.Admin("clients_empty"))

	h.addTenant(1, 500, "one_bot")
	h.addTenant(2, 501, "two_bot")
	h.press(admin, "ga:clients")
	h.expectText(h.texts.Admin("clients_header", i18n.Vars{"count": 2}))

	h.press(admin, "ga:client:show:2")
	h.expectText("Client #2")
	h.expectText("<code>501</code>")
	h.expectText("@two_bot")

	h.press(admin, "ga:client:del:2")
	h.expectText(h.texts.Admin("client_deleted"))
	if len(h.tenants.deleted) != 1 || h.tenants.deleted[0] != 2 {
		t.Fatalf("deleted = %v", h.tenants.deleted)
	}
	if _, err := h.tenants.Get(context.Background(), 2); err != model.ErrNotFound {
		t.Fatalf("tenant survived: %v", err)
	}
}

func TestTokenChecker(t *testing.T) {
	srv := tgtest.NewServer(t)
	srv.SetUsername("shop_bot")
	name, err := TokenChecker{URL: srv.URL}.BotUsername(context.Background(), tgtest.Token)
	if err != nil {
		t.Fatalf("BotUsername: %v", err)
	}
	if name != "shop_bot" {
		t.Fatalf("username = %q", name)
	}

	srv.Fail("getMe", tgtest.Failure{Code: 401, Description: "Unauthorized"})
	if _, err := (TokenChecker{URL: srv.URL}).BotUsername(context.Background(), tgtest.Token); err == nil {
		t.Fatal("rejected token passed")
	}
}

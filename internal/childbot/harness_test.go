package childbot

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tg "github.com/m3rciful/pocketsaas/core/telegram"
	"github.com/m3rciful/pocketsaas/core/telegram/callbacks"
	"github.com/m3rciful/pocketsaas/internal/broadcast"
	"github.com/m3rciful/pocketsaas/internal/callback"
	"github.com/m3rciful/pocketsaas/internal/funnel"
	"github.com/m3rciful/pocketsaas/internal/i18n"
	"github.com/m3rciful/pocketsaas/internal/ledger"
	"github.com/m3rciful/pocketsaas/internal/model"
	"github.com/m3rciful/pocketsaas/internal/store"
	"github.com/m3rciful/pocketsaas/internal/tenant"
	"github.com/m3rciful/pocketsaas/internal/tgtest"

	tele "gopkg.in/telebot.v4"
)

const (
	tenantID = int64(7)
	owner    = int64(500)
	stranger = int64(42)
)

type fakeUsers struct {
	mu       sync.Mutex
	rows     map[int64]model.UserAccess
	segments []model.Segment
	events   []model.Event
}

func newFakeUsers(ids ...int64) *fakeUsers {
	f := &fakeUsers{rows: map[int64]model.UserAccess{}}
	for _, id := range ids {
		f.rows[id] = model.UserAccess{TenantID: tenantID, UserID: id}
	}
	return f
}

func (f *fakeUsers) sorted() []model.UserAccess {
	out := make([]model.UserAccess, 0, len(f.rows))
	for _, ua := range f.rows {
		out = append(out, ua)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (f *fakeUsers) ListAccess(_ context.Context, _ int64, limit, offset int) ([]model.UserAccess, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.sorted()
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

func (f *fakeUsers) SearchAccess(_ context.Context, _ int64, query string) ([]model.UserAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UserAccess
	for _, ua := range f.sorted() {
		if (ua.TraderID != nil && *ua.TraderID == query) || query == strconv.FormatInt(ua.UserID, 10) {
			out = append(out, ua)
		}
	}
	return out, nil
}

func (f *fakeUsers) GetAccess(_ context.Context, _, userID int64) (model.UserAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua, ok := f.rows[userID]
	if !ok {
		return model.UserAccess{}, model.ErrNotFound
	}
	return ua, nil
}

func (f *fakeUsers) ToggleAccessFlag(_ context.Context, _, userID int64, flag store.AccessFlag) (model.UserAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua, ok := f.rows[userID]
	if !ok {
		return model.UserAccess{}, model.ErrNotFound
	}
	switch flag {
	case store.AccessRegistered:
		ua.IsRegistered = !ua.IsRegistered
	case store.AccessDeposited:
		ua.HasDeposit = !ua.HasDeposit
	}
	f.rows[userID] = ua
	return ua, nil
}

func (f *fakeUsers) DeleteAccess(_ context.Context, _, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, userID)
	return nil
}

func (f *fakeUsers) TenantStats(context.Context, int64) (model.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := model.Stats{TotalUsers: len(f.rows)}
	for _, ua := range f.rows {
		if ua.IsRegistered {
			st.Registered++
		}
		if ua.HasDeposit {
			st.Deposited++
		}
		st.DepositSum += ua.TotalDeposits
	}
	return st, nil
}

func (f *fakeUsers) RecentEvents(_ context.Context, _ int64, limit int) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[:min(limit, len(f.events))], nil
}

func (f *fakeUsers) SegmentUserIDs(_ context.Context, seg model.Segment) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, seg)
	var ids []int64
	for _, ua := range f.sorted() {
		ids = append(ids, ua.UserID)
	}
	return ids, nil
}

// GetOrCreate and EffectiveAccess let fakeUsers back the funnel too.
func (f *fakeUsers) GetOrCreate(_ context.Context, tid, userID int64, _ string) (model.UserAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua, ok := f.rows[userID]
	if !ok {
		ua = model.UserAccess{TenantID: tid, UserID: userID}
		f.rows[userID] = ua
	}
	return ua, nil
}

func (f *fakeUsers) EffectiveAccess(_ context.Context, _, userID int64, _ string) (ledger.Access, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua := f.rows[userID]
	return ledger.Access{Registered: ua.IsRegistered, Deposited: ua.HasDeposit}, nil
}

type fakeLangs struct {
	mu    sync.Mutex
	langs map[int64]string
}

func (f *fakeLangs) UserLang(_ context.Context, _, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.langs[userID]; ok {
		return l, nil
	}
	return "", model.ErrNotFound
}

func (f *fakeLangs) SetUserLang(_ context.Context, _, userID int64, lang string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.langs[userID] = lang
	return nil
}

type fakeTenants struct {
	mu    sync.Mutex
	t     model.Tenant
	links map[string]string
}

func (f *fakeTenants) Get(context.Context, int64) (model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t, nil
}

func (f *fakeTenants) ToggleSubscriptionCheck(context.Context, int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t.CheckSubscription = !f.t.CheckSubscription
	return f.t.CheckSubscription, nil
}

func (f *fakeTenants) ToggleDepositCheck(context.Context, int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t.CheckDeposit = !f.t.CheckDeposit
	return f.t.CheckDeposit, nil
}

func (f *fakeTenants) SetLink(_ context.Context, _ int64, field, raw string) error {
	if field == callback.LinkChannelID && raw != "-" {
		for _, r := range strings.TrimPrefix(raw, "-") {
			if r < '0' || r > '9' {
				return tenant.ErrBadChannelID
			}
		}
	}
	if field == callback.LinkMiniApp && raw != "-" && !strings.HasPrefix(raw, "https://") {
		return tenant.ErrBadMiniAppURL
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[field] = raw
	return nil
}

type harness struct {
	t       *testing.T
	srv     *tgtest.Server
	texts   *i18n.Catalog
	users   *fakeUsers
	langs   *fakeLangs
	tenants *fakeTenants
	welcome *funnel.MemoryWelcomeStore
	machine *funnel.Machine
	bot     *bot
}

func newHarness(t *testing.T, userIDs ...int64) *harness {
	t.Helper()
	texts, err := i18n.Load("en")
	if err != nil {
		t.Fatalf("i18n: %v", err)
	}
	h := &harness{
		t:       t,
		srv:     tgtest.NewServer(t),
		texts:   texts,
		users:   newFakeUsers(userIDs...),
		langs:   &fakeLangs{langs: map[int64]string{}},
		tenants: &fakeTenants{t: model.Tenant{ID: tenantID, OwnerTelegramID: owner, BotToken: tgtest.Token, IsActive: true}, links: map[string]string{}},
		welcome: funnel.NewMemoryWelcomeStore(),
	}
	h.machine = funnel.New(h.users, h.langs, h.welcome, texts, funnel.Settings{MiniAppURL: "https://app.example.com"})
	svc := New(Options{
		Machine:      h.machine,
		Users:        h.users,
		Tenants:      h.tenants,
		GlobalAdmins: []int64{900},
		PostbackBase: "https://pb.example.com/",
		Broadcast:    broadcast.Config{Location: time.UTC},
	})
	t.Cleanup(svc.Close)
	b, err := svc.newBot(h.tenants.t)
	if err != nil {
		t.Fatalf("newBot: %v", err)
	}
	b.bind(tg.Runtime{Bot: h.srv.Bot(t)})
	h.bot = b
	return h
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

// send delivers text the way the message router does: an open dialogue
// first, then commands.
func (h *harness) send(userID int64, text string) {
	h.t.Helper()
	c := tele.NewContext(h.bot.api, tgtest.Message(userID, text))
	var err error
	if h.bot.fsm.InProgress(userID) {
		err = h.bot.fsm.ManagerHandler(c)
	} else if _, cmd, ok := h.bot.reg.LookupCommand(text); ok {
		err = cmd.Handler(c)
	} else {
		h.t.Fatalf("nothing handles %q", text)
	}
	if err != nil {
		h.t.Fatalf("send %q: %v", text, err)
	}
}

func (h *harness) lastCall(methods ...string) tgtest.Call {
	h.t.Helper()
	calls := h.srv.Calls(methods...)
	if len(calls) == 0 {
		h.t.Fatalf("no %v calls", methods)
	}
	return calls[len(calls)-1]
}

func (h *harness) expectText(contains string) {
	h.t.Helper()
	if got := h.srv.LastText(); !strings.Contains(got, contains) {
		h.t.Fatalf("last text = %q, want it to contain %q", got, contains)
	}
}

func (h *harness) expectAlert(text string) {
	h.t.Helper()
	call := h.lastCall("answerCallbackQuery")
	if call.Params["text"] != text {
		h.t.Fatalf("alert = %q, want %q", call.Params["text"], text)
	}
}

// adminPrefix is the fixed part of an admin text before its first variable.
func (h *harness) adminPrefix(key string) string {
	s := h.texts.Admin(key)
	if i := strings.Index(s, "{"); i > 0 {
		s = s[:i]
	}
	return s
}

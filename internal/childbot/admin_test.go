package childbot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/pocketsaas/internal/callback"
	"github.com/m3rciful/pocketsaas/internal/model"
)

func TestAdminPanelRejectsStrangers(t *testing.T) {
	h := newHarness(t)
	h.press(stranger, "adm:menu")
	h.expectAlert(h.texts.Admin("no_admin"))
	if n := len(h.srv.Calls("editMessageText", "sendMessage")); n != 0 {
		t.Fatalf("stranger got %d screens", n)
	}
	h.press(stranger, "bc:seg:all")
	h.expectAlert(h.texts.Admin("no_admin"))
	if _, ok := h.bot.orch.Session(stranger); ok {
		t.Fatal("stranger opened a campaign")
	}
}

func TestAdminPanelOpensForOwnerAndGlobalAdmins(t *testing.T) {
	h := newHarness(t)
	for _, id := range []int64{owner, 900} {
		h.press(id, "adm:menu")
		h.expectText(h.texts.Admin("menu"))
	}
}

func TestAdminUsersPaging(t *testing.T) {
	h := newHarness(t, 101, 102, 103, 104, 105, 106, 107)

	h.press(owner, "adm:users")
	h.expectText(h.texts.Admin("users_header", map[string]any{"total": 7, "page": 1, "pages": 2}))
	markup := h.lastCall("editMessageText").Params["reply_markup"]
	if !strings.Contains(markup, "adm:users:page:1") || strings.Contains(markup, "106") {
		t.Fatalf("first page markup: %s", markup)
	}

	h.press(owner, "adm:users:page:1")
	h.expectText("page 2/2")
	markup = h.lastCall("editMessageText").Params["reply_markup"]
	if !strings.Contains(markup, `"adm:users"`) || !strings.Contains(markup, "adm:user:show:107") {
		t.Fatalf("second page markup: %s", markup)
	}

	h.press(owner, "adm:users:page:9")
	h.expectText("page 2/2")
}

func TestAdminUsersEmpty(t *testing.T) {
	h := newHarness(t)
	h.press(owner, "adm:users")
	h.expectText(h.texts.Admin("users_empty"))
}

func TestAdminUserCardToggleAndDelete(t *testing.T) {
	h := newHarness(t, 101)
	ctx := context.Background()

	h.press(owner, "adm:user:show:101")
	h.expectText("User <code>101</code>")

	h.press(owner, "adm:user:reg:101")
	ua, _ := h.users.GetAccess(ctx, tenantID, 101)
	if !ua.IsRegistered {
		t.Fatal("registration not toggled")
	}
	h.expectText("Registered: " + h.texts.Admin("on"))

	if first, _ := h.welcome.MarkShown(ctx, tenantID, 101); !first {
		t.Fatal("welcome should be unmarked")
	}
	h.press(owner, "adm:user:del:101")
	h.expectText(h.texts.Admin("user_deleted"))
	if _, err := h.users.GetAccess(ctx, tenantID, 101); err != model.ErrNotFound {
		t.Fatalf("user still present: %v", err)
	}
	if first, _ := h.welcome.MarkShown(ctx, tenantID, 101); !first {
		t.Fatal("welcome marker survived deletion")
	}

	h.press(owner, "adm:user:show:101")
	h.expectAlert(h.texts.Admin("search_empty"))
}

func TestAdminSearch(t *testing.T) {
	h := newHarness(t, 101, 102)
	trader := "T-9"
	ua := h.users.rows[102]
	ua.TraderID = &trader
	h.users.rows[102] = ua

	h.press(owner, "adm:users:search")
	if h.bot.fsm.GetState(owner) != stateSearch {
		t.Fatalf("state = %s", h.bot.fsm.GetState(owner))
	}
	h.send(owner, "T-9")
	h.expectText("User <code>102</code>")
	if h.bot.fsm.InProgress(owner) {
		t.Fatal("search dialogue still open")
	}

	h.press(owner, "adm:users:search")
	h.send(owner, "nobody")
	h.expectText(h.texts.Admin("search_empty"))
}

func TestAdminParamsToggle(t *testing.T) {
	h := newHarness(t)
	h.press(owner, "adm:params:dep")
	if !h.tenants.t.CheckDeposit {
		t.Fatal("deposit check not toggled")
	}
	markup := h.lastCall("editMessageText").Params["reply_markup"]
	if !strings.Contains(markup, h.texts.Admin("param_dep", map[string]any{"state": h.texts.Admin("on")})) {
		t.Fatalf("params markup: %s", markup)
	}
	h.press(owner, "adm:params:sub")
	if !h.tenants.t.CheckSubscription {
		t.Fatal("subscription check not toggled")
	}
}

func TestAdminLinkDialogue(t *testing.T) {
	h := newHarness(t)

	h.press(owner, "adm:links:set:"+callback.LinkChannelID)
	h.expectText(h.adminPrefix("link_prompt"))

	h.send(owner, "abc")
	h.expectText(h.texts.Admin("link_bad_channel"))
	if h.bot.fsm.GetState(owner) != stateLink {
		t.Fatal("bad channel id closed the dialogue")
	}

	h.send(owner, "-100123")
	if got := h.tenants.links[callback.LinkChannelID]; got != "-100123" {
		t.Fatalf("stored %q", got)
	}
	h.expectText(h.texts.Admin("link_saved"))
	if h.bot.fsm.InProgress(owner) {
		t.Fatal("link dialogue still open")
	}
}

func TestAdminLinkDialogueMiniApp(t *testing.T) {
	h := newHarness(t)

	h.press(owner, "adm:links")
	markup := h.lastCall("sendMessage", "editMessageText").Params["reply_markup"]
	for _, f := range []string{callback.LinkMiniApp, callback.LinkSecret} {
		if !strings.Contains(markup, "adm:links:set:"+f) {
			t.Fatalf("links keyboard lacks %s: %s", f, markup)
		}
	}

	h.press(owner, "adm:links:set:"+callback.LinkMiniApp)
	h.send(owner, "http://app.example")
	h.expectText(h.texts.Admin("link_bad_app"))
	if h.bot.fsm.GetState(owner) != stateLink {
		t.Fatal("bad mini app link closed the dialogue")
	}

	h.send(owner, "https://app.example")
	if got := h.tenants.links[callback.LinkMiniApp]; got != "https://app.example" {
		t.Fatalf("stored %q", got)
	}
	h.expectText(h.texts.Admin("link_saved"))
}

func TestAdminEventsAndStats(t *testing.T) {
	h := newHarness(t, 101)

	h.press(owner, "adm:events")
	h.expectText("https://pb.example.com/pb/tn7/reg?click_id={click_id}&amp;trader_id={trader_id}")
	h.expectText(h.texts.Admin("events_none"))

	uid, trader, amount := int64(101), "T-9", 50.5
	h.users.events = []model.Event{{
		ID: 3, TenantID: tenantID, UserID: &uid, TraderID: &trader, Amount: &amount,
		Kind: model.EventFirstDeposit, CreatedAt: time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC),
	}}
	h.press(owner, "adm:events")
	h.expectText("09.03 14:05 <b>ftd</b> · <code>101</code> · T-9 · 50.5")

	h.press(owner, "adm:stats")
	h.expectText("Total users: <b>1</b>")
}

func TestAdminBroadcastTargetsOwnTenant(t *testing.T) {
	h := newHarness(t, 101, 102)

	h.press(owner, "bc:menu")
	h.expectText(h.texts.Admin("broadcast_choose"))
	h.press(owner, "bc:seg:reg")
	h.send(owner, "hello")
	h.press(owner, "bc:done")
	h.press(owner, "bc:time:now")

	if len(h.users.segments) != 1 {
		t.Fatalf("resolved %d segments", len(h.users.segments))
	}
	if seg := h.users.segments[0]; seg.TenantID != tenantID || seg.Filter != model.FilterRegistered {
		t.Fatalf("segment = %+v", seg)
	}
	var delivered int
	for _, c := range h.srv.Calls("sendMessage") {
		if c.Params["text"] == "hello" {
			delivered++
		}
	}
	if delivered != 2 {
		t.Fatalf("delivered %d posts, want 2", delivered)
	}

	h.press(owner, "bc:more:no")
	h.expectText(h.texts.Admin("menu"))
}

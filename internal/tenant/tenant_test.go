package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/m3rciful/pocketsaas/internal/model"
	"github.com/m3rciful/pocketsaas/internal/store"
)

type memStore struct {
	byID    map[int64]model.Tenant
	nextID  int64
	links   map[store.TenantLink]*string
	channel *int64
}

func newMemStore() *memStore {
	return &memStore{byID: map[int64]model.Tenant{}, links: map[store.TenantLink]*string{}}
}

func (m *memStore) UpsertTenant(_ context.Context, ownerID int64, token string, username, supportURL *string) (model.Tenant, error) {
	for id, t := range m.byID {
		if t.OwnerTelegramID == ownerID {
			t.BotToken, t.BotUsername, t.IsActive = token, username, true
			if t.SupportURL == nil {
				t.SupportURL = supportURL
			}
			m.byID[id] = t
			return t, nil
		}
	}
	m.nextID++
	t := model.Tenant{ID: m.nextID, OwnerTelegramID: ownerID, BotToken: token, BotUsername: username, SupportURL: supportURL, IsActive: true}
	m.byID[t.ID] = t
	return t, nil
}

func (m *memStore) TenantByID(_ context.Context, id int64) (model.Tenant, error) {
	t, ok := m.byID[id]
	if !ok {
		return model.Tenant{}, model.ErrNotFound
	}
	return t, nil
}

func (m *memStore) TenantByOwner(_ context.Context, ownerID int64) (model.Tenant, error) {
	for _, t := range m.byID {
		if t.OwnerTelegramID == ownerID {
			return t, nil
		}
	}
	return model.Tenant{}, model.ErrNotFound
}

func (m *memStore) TenantBySecret(_ context.Context, secret string) (model.Tenant, error) {
	for _, t := range m.byID {
		if t.PBSecret != nil && *t.PBSecret == secret {
			return t, nil
		}
	}
	return model.Tenant{}, model.ErrNotFound
}

func (m *memStore) ListTenants(context.Context) ([]model.Tenant, error) { return nil, nil }

func (m *memStore) ListActiveTenants(context.Context) ([]model.Tenant, error) { return nil, nil }

func (m *memStore) DeleteTenant(_ context.Context, id int64) error {
	if _, ok := m.byID[id]; !ok {
		return model.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memStore) ToggleTenantFlag(context.Context, int64, store.TenantFlag) (bool, error) {
	return true, nil
}

func (m *memStore) SetTenantLink(_ context.Context, id int64, link store.TenantLink, value *string) error {
	if link == store.LinkSecret && value != nil {
		for other, t := range m.byID {
			if other != id && t.PBSecret != nil && *t.PBSecret == *value {
				return fmt.Errorf("%w: tenants_pb_secret_key", model.ErrConflict)
			}
		}
	}
	m.links[link] = value
	return nil
}

func (m *memStore) SetGateChannelID(_ context.Context, _ int64, channelID *int64) error {
	m.channel = channelID
	return nil
}

type validatorFunc func(ctx context.Context, token string) (string, error)

func (f validatorFunc) BotUsername(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

const goodToken = "123456789:AAHk_3f-Zx9QwErTyUiOpAsDfGh"

func okValidator(string) validatorFunc {
	return func(context.Context, string) (string, error) { return "signals_bot", nil }
}

func TestLooksLikeToken(t *testing.T) {
	if !LooksLikeToken(goodToken) || !LooksLikeToken(" "+goodToken+"\n") {
		t.Fatal("valid token rejected")
	}
	for _, s := range []string{"", "hello", "123:short", "abc:AAHk_3f-Zx9QwErTyUiOpAsDfGh", "123456789:AAHk 3f-Zx9QwErTyUiOpAsDfGh"} {
		if LooksLikeToken(s) {
			t.Fatalf("LooksLikeToken(%q) = true", s)
		}
	}
}

func TestRegisterOneTenantPerOwner(t *testing.T) {
	st := newMemStore()
	d := New(st, okValidator(""), "https://t.me/support")
	ctx := context.Background()

	first, err := d.Register(ctx, 42, goodToken)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.SupportURL == nil || *first.SupportURL != "https://t.me/support" {
		t.Fatalf("support url = %v", first.SupportURL)
	}
	second, err := d.Register(ctx, 42, "987654321:BBHk_3f-Zx9QwErTyUiOpAsDfGh")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second.ID != first.ID || len(st.byID) != 1 {
		t.Fatalf("owner got a second tenant: %d vs %d", second.ID, first.ID)
	}
	if !strings.HasPrefix(second.BotToken, "987654321:") {
		t.Fatal("token not replaced")
	}
}

func TestRegisterRejectsTokens(t *testing.T) {
	d := New(newMemStore(), okValidator(""), "")
	if _, err := d.Register(context.Background(), 1, "not a token"); !errors.Is(err, ErrBadToken) {
		t.Fatalf("err = %v, want ErrBadToken", err)
	}

	rejecting := validatorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("Unauthorized (401)")
	})
	d = New(newMemStore(), rejecting, "")
	if _, err := d.Register(context.Background(), 1, goodToken); !errors.Is(err, ErrTokenRejected) {
		t.Fatalf("err = %v, want ErrTokenRejected", err)
	}
}

func TestResolveSecretThenFallback(t *testing.T) {
	st := newMemStore()
	secret := "s3cr3t"
	st.byID[7] = model.Tenant{ID: 7, PBSecret: &secret}
	st.byID[8] = model.Tenant{ID: 8}
	d := New(st, okValidator(""), "")
	ctx := context.Background()

	if tn, err := d.Resolve(ctx, "s3cr3t"); err != nil || tn.ID != 7 {
		t.Fatalf("secret: %v %v", tn.ID, err)
	}
	if tn, err := d.Resolve(ctx, "tn8"); err != nil || tn.ID != 8 {
		t.Fatalf("fallback: %v %v", tn.ID, err)
	}
	for _, code := range []string{"", "tn", "tn99", "tnx", "nope"} {
		if _, err := d.Resolve(ctx, code); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("Resolve(%q) err = %v", code, err)
		}
	}
}

func TestSetLink(t *testing.T) {
	st := newMemStore()
	d := New(st, okValidator(""), "")
	ctx := context.Background()

	if err := d.SetLink(ctx, 1, "ref", " https://broker.example/r?aff=1 "); err != nil {
		t.Fatalf("set ref: %v", err)
	}
	if v := st.links[store.LinkRef]; v == nil || *v != "https://broker.example/r?aff=1" {
		t.Fatalf("ref = %v", v)
	}
	if err := d.SetLink(ctx, 1, "ref", "-"); err != nil || st.links[store.LinkRef] != nil {
		t.Fatalf("clear ref: %v %v", err, st.links[store.LinkRef])
	}
	if err := d.SetLink(ctx, 1, "chanid", "-1001234567890"); err != nil || st.channel == nil || *st.channel != -1001234567890 {
		t.Fatalf("chanid: %v %v", err, st.channel)
	}
	if err := d.SetLink(ctx, 1, "chanid", "@mychannel"); !errors.Is(err, ErrBadChannelID) {
		t.Fatalf("bad chanid err = %v", err)
	}
	if err := d.SetLink(ctx, 1, "token", "x"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("unknown field err = %v", err)
	}
}

func TestSetLinkMiniAppAndSecret(t *testing.T) {
	st := newMemStore()
	taken := "partner-7"
	st.byID[2] = model.Tenant{ID: 2, PBSecret: &taken}
	d := New(st, okValidator(""), "")
	ctx := context.Background()

	if err := d.SetLink(ctx, 1, "app", "https://app.example/mini"); err != nil {
		t.Fatalf("set app: %v", err)
	}
	if v := st.links[store.LinkMiniApp]; v == nil || *v != "https://app.example/mini" {
		t.Fatalf("miniapp_url = %v", v)
	}
	for _, bad := range []string{"http://app.example", "app.example", "https://"} {
		if err := d.SetLink(ctx, 1, "app", bad); !errors.Is(err, ErrBadMiniAppURL) {
			t.Fatalf("app %q err = %v", bad, err)
		}
	}
	if err := d.SetLink(ctx, 1, "app", "-"); err != nil || st.links[store.LinkMiniApp] != nil {
		t.Fatalf("clear app: %v %v", err, st.links[store.LinkMiniApp])
	}

	if err := d.SetLink(ctx, 1, "secret", "my_partner-1"); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	if v := st.links[store.LinkSecret]; v == nil || *v != "my_partner-1" {
		t.Fatalf("pb_secret = %v", v)
	}
	for _, bad := range []string{"abc", "tn42", "with space", "slash/es"} {
		if err := d.SetLink(ctx, 1, "secret", bad); !errors.Is(err, ErrBadSecret) {
			t.Fatalf("secret %q err = %v", bad, err)
		}
	}
	if err := d.SetLink(ctx, 1, "secret", taken); !errors.Is(err, ErrSecretTaken) {
		t.Fatalf("taken secret err = %v", err)
	}
}

func TestPostbackURLs(t *testing.T) {
	urls := PostbackURLs(model.Tenant{ID: 3}, "https://pb.example.com/")
	want := "https://pb.example.com/pb/tn3/ftd?click_id={click_id}&trader_id={trader_id}&sumdep={sumdep}"
	if urls[model.EventFirstDeposit] != want {
		t.Fatalf("ftd url = %q", urls[model.EventFirstDeposit])
	}
	if strings.Contains(urls[model.EventRegistration], "sumdep") {
		t.Fatal("registration url carries sumdep")
	}
}

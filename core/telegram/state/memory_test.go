package state

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestSessionLifecycle(t *testing.T) {
	m := NewMemoryManager()
	if m.InProgress(7) || m.GetState(7) != StateIdle {
		t.Fatal("fresh user must be idle")
	}

	m.SetState(7, "search")
	m.SetTemp(7, "field", "ref")
	if !m.InProgress(7) {
		t.Fatal("expected dialogue in progress")
	}
	if v, ok := Temp[string](m, 7, "field"); !ok || v != "ref" {
		t.Fatalf("temp = %q, %v", v, ok)
	}
	if _, ok := Temp[int64](m, 7, "field"); ok {
		t.Fatal("type mismatch must report !ok")
	}

	m.SetState(7, StateIdle)
	if m.InProgress(7) {
		t.Fatal("idle state must end the dialogue")
	}
	if _, ok := m.GetTemp(7, "field"); ok {
		t.Fatal("scratch data must be dropped with the session")
	}
}

func TestManagerHandlerDispatchesPerInstance(t *testing.T) {
	a, b := NewMemoryManager(), NewMemoryManager()
	var hits []string
	a.Handle("await", func(tele.Context) error { hits = append(hits, "a"); return nil })
	b.Handle("await", func(tele.Context) error { hits = append(hits, "b"); return nil })

	c := tele.NewContext(nil, tele.Update{Message: &tele.Message{Sender: &tele.User{ID: 9}, Chat: &tele.Chat{ID: 9}}})
	a.SetState(9, "await")
	b.SetState(9, "unbound")

	if err := a.ManagerHandler(c); err != nil {
		t.Fatalf("a: %v", err)
	}
	if err := b.ManagerHandler(c); err != nil {
		t.Fatalf("b: %v", err)
	}
	if len(hits) != 1 || hits[0] != "a" {
		t.Fatalf("hits = %v", hits)
	}
	if b.InProgress(9) {
		t.Fatal("unbound state must reset the user")
	}
}

package state

import tele "gopkg.in/telebot.v4"

// State identifies a finite-state-machine step used in conversations.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	StateIdle State = "idle"
)

// Session stores conversation state and temporary data for a user.
type Session struct {
	State    State
	TempData map[string]any
}

// Manager orchestrates user sessions and FSM state transitions.
type Manager interface {
	// Handle binds the handler that receives messages while a user is in st.
	Handle(st State, h tele.HandlerFunc)

	SetState(userID int64, st State)
	GetState(userID int64) State
	SetTemp(userID int64, key string, value any)
	GetTemp(userID int64, key string) (any, bool)
	Clear(userID int64)

	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}

// Temp reads a scratch value as T.
func Temp[T any](m Manager, userID int64, key string) (T, bool) {
	v, ok := m.GetTemp(userID, key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

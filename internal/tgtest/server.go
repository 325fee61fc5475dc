// Package tgtest fakes the Telegram Bot API over HTTP so handlers can run
// against a real telebot client in tests.
package tgtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"
)

// Token is the bot token every fake bot uses.
const Token = "123456:TEST-token-for-the-fake-api-0000"

// Call is one recorded API request.
type Call struct {
	Method string
	Params map[string]string
}

// Failure makes a method answer with a Bot API error.
type Failure struct {
	Code        int
	Description string
}

// Server records requests and answers them with canned results.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	calls    []Call
	member   string
	username string
	failures map[string]Failure
	failFor  map[string]map[string]Failure
}

// NewServer starts a fake API closed with t's cleanup.
func NewServer(t testing.TB) *Server {
	s := &Server{
		member:   string(tele.Member),
		username: "fake_bot",
		failures: map[string]Failure{},
		failFor:  map[string]map[string]Failure{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Bot returns an offline bot talking to s.
func (s *Server) Bot(t testing.TB) *tele.Bot {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{URL: s.URL, Token: Token, Offline: true})
	if err != nil {
		t.Fatalf("tgtest: new bot: %v", err)
	}
	return b
}

// SetMemberStatus sets the status getChatMember reports.
func (s *Server) SetMemberStatus(status tele.MemberStatus) {
	s.mu.Lock()
	s.member = string(status)
	s.mu.Unlock()
}

// SetUsername sets the username getMe reports.
func (s *Server) SetUsername(name string) {
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
}

// Fail makes every call of method fail.
func (s *Server) Fail(method string, f Failure) {
	s.mu.Lock()
	s.failures[method] = f
	s.mu.Unlock()
}

// FailChat makes method fail only for chat_id.
func (s *Server) FailChat(method string, chatID int64, f Failure) {
	s.mu.Lock()
	if s.failFor[method] == nil {
		s.failFor[method] = map[string]Failure{}
	}
	s.failFor[method][fmt.Sprint(chatID)] = f
	s.mu.Unlock()
}

// Calls returns the recorded calls, optionally only those of methods.
func (s *Server) Calls(methods ...string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(methods) == 0 {
		return append([]Call(nil), s.calls...)
	}
	var out []Call
	for _, c := range s.calls {
		for _, m := range methods {
			if c.Method == m {
				out = append(out, c)
			}
		}
	}
	return out
}

// Texts returns the text or caption of every sent or edited message.
func (s *Server) Texts() []string {
	var out []string
	for _, c := range s.Calls() {
		if t, ok := c.Params["text"]; ok {
			out = append(out, t)
			continue
		}
		if t, ok := c.Params["caption"]; ok {
			out = append(out, t)
		}
	}
	return out
}

// LastText returns the most recent text or caption, or "".
func (s *Server) LastText() string {
	texts := s.Texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

// Reset forgets recorded calls.
func (s *Server) Reset() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	params := readParams(r)

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: method, Params: params})
	f, failed := s.failures[method]
	if byChat, ok := s.failFor[method]; ok {
		if cf, ok := byChat[params["chat_id"]]; ok {
			f, failed = cf, true
		}
	}
	member, username := s.member, s.username
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failed {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  f.Code,
			"description": f.Description,
		})
		return
	}

	var result any
	switch method {
	case "getMe":
		result = map[string]any{"id": 1, "is_bot": true, "first_name": "Fake", "username": username}
	case "getChatMember":
		result = map[string]any{"status": member, "user": map[string]any{"id": 1}}
	case "answerCallbackQuery", "setMyCommands", "deleteWebhook", "deleteMessage":
		result = true
	default:
		result = sentMessage(method, params)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

// mediaFields names the message field each media method fills in and the
// request parameter that carries the file.
var mediaFields = map[string]string{
	"sendPhoto":     "photo",
	"sendVideo":     "video",
	"sendDocument":  "document",
	"sendAnimation": "animation",
	"sendVideoNote": "video_note",
}

// sentMessage builds the Message a send method returns. Media methods echo
// the file back the way Telegram does, so telebot can copy the file id
// into the sent value.
func sentMessage(method string, params map[string]string) map[string]any {
	chat, err := strconv.ParseInt(params["chat_id"], 10, 64)
	if err != nil {
		chat = 0
	}
	msg := map[string]any{
		"message_id": 1,
		"date":       0,
		"chat":       map[string]any{"id": chat, "type": "private"},
	}
	if c, ok := params["caption"]; ok {
		msg["caption"] = c
	}
	field, ok := mediaFields[method]
	if !ok {
		return msg
	}
	file := map[string]any{"file_id": FileID(params[field]), "file_unique_id": "u-" + field, "width": 1, "height": 1, "duration": 1, "length": 1}
	switch method {
	case "sendPhoto":
		msg["photo"] = []any{file}
	case "sendAnimation":
		// Telegram sends animations with a document copy attached.
		msg["animation"] = file
		msg["document"] = file
	default:
		msg[field] = file
	}
	return msg
}

// FileID is the file id the fake answers for a sent media parameter:
// the id itself when an existing file was resent, "uploaded" for uploads.
func FileID(param string) string {
	if param == "" || param == "<upload>" {
		return "uploaded"
	}
	return param
}

func readParams(r *http.Request) map[string]string {
	out := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(32 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				if len(v) > 0 {
					out[k] = v[0]
				}
			}
			for k := range r.MultipartForm.File {
				out[k] = "<upload>"
			}
		}
		return out
	}
	body, _ := io.ReadAll(r.Body)
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return out
	}
	for k, v := range raw {
		switch x := v.(type) {
		case string:
			out[k] = x
		default:
			b, _ := json.Marshal(x)
			out[k] = string(b)
		}
	}
	return out
}

// Message builds a private text message update from userID.
func Message(userID int64, text string) tele.Update {
	return tele.Update{ID: 1, Message: &tele.Message{
		ID:     10,
		Sender: &tele.User{ID: userID},
		Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		Text:   text,
	}}
}

// Callback builds an inline button press by userID with data.
func Callback(userID int64, data string) tele.Update {
	return tele.Update{ID: 2, Callback: &tele.Callback{
		ID:     "cb-1",
		Sender: &tele.User{ID: userID},
		Data:   data,
		Message: &tele.Message{
			ID:   11,
			Chat: &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		},
	}}
}

package broadcast

import (
	"sync"
	"time"

	"github.com/m3rciful/pocketsaas/internal/model"
)

// Stage is the position of an operator inside the campaign dialogue.
type Stage int

const (
	StageCollectingPosts Stage = iota + 1
	StageAwaitingTimeChoice
	StageAwaitingScheduleTime
	StageAwaitingMore
)

func (s Stage) String() string {
	switch s {
	case StageCollectingPosts:
		return "collecting_posts"
	case StageAwaitingTimeChoice:
		return "awaiting_time_choice"
	case StageAwaitingScheduleTime:
		return "awaiting_schedule_time"
	case StageAwaitingMore:
		return "awaiting_more"
	}
	return "unknown"
}

// MediaKind is the closed set of attachments a post may carry.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaAnimation MediaKind = "animation"
	MediaVideoNote MediaKind = "video_note"
)

// Valid reports whether k is a known kind.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaPhoto, MediaVideo, MediaDocument, MediaAnimation, MediaVideoNote:
		return true
	}
	return false
}

// Media references an already uploaded file.
type Media struct {
	Kind   MediaKind
	FileID string
}

// Post is one message of a campaign. Text is the caption when Media is set.
type Post struct {
	Text  string
	Media *Media
}

// Empty reports whether the post has nothing to send.
func (p Post) Empty() bool {
	return p.Text == "" && p.Media == nil
}

// Session is an operator's campaign in progress.
type Session struct {
	Operator int64
	ChatID   int64
	Segment  model.Segment
	Stage    Stage
	Posts    []Post
	touched  time.Time
}

func (s *Session) clone() Session {
	out := *s
	out.Posts = clonePosts(s.Posts)
	return out
}

func clonePosts(in []Post) []Post {
	out := make([]Post, len(in))
	for i, p := range in {
		out[i] = p
		if p.Media != nil {
			m := *p.Media
			out[i].Media = &m
		}
	}
	return out
}

// Sessions holds one dialogue per operator and drops sessions left idle
// longer than the configured timeout.
type Sessions struct {
	mu   sync.Mutex
	byOp map[int64]*Session
	idle time.Duration
	now  func() time.Time
}

// NewSessions returns an empty store. A zero idle keeps sessions until they
// are finished or cancelled.
func NewSessions(idle time.Duration, now func() time.Time) *Sessions {
	if now == nil {
		now = time.Now
	}
	return &Sessions{byOp: make(map[int64]*Session), idle: idle, now: now}
}

// update runs fn on the live session under the store lock.
func (s *Sessions) update(operator int64, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.lookup(operator)
	if !ok {
		return ErrNoSession
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.touched = s.now()
	return nil
}

func (s *Sessions) lookup(operator int64) (*Session, bool) {
	sess, ok := s.byOp[operator]
	if !ok {
		return nil, false
	}
	if s.idle > 0 && s.now().Sub(sess.touched) > s.idle {
		delete(s.byOp, operator)
		return nil, false
	}
	return sess, true
}

func (s *Sessions) put(sess *Session) {
	s.mu.Lock()
	sess.touched = s.now()
	s.byOp[sess.Operator] = sess
	s.mu.Unlock()
}

// Get returns a copy of the operator's session.
func (s *Sessions) Get(operator int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.lookup(operator)
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Delete drops the operator's session and reports whether one existed.
func (s *Sessions) Delete(operator int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(operator)
	delete(s.byOp, operator)
	return ok
}

// Sweep removes every idle session and returns how many were dropped.
func (s *Sessions) Sweep() int {
	if s.idle <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := s.now()
	for op, sess := range s.byOp {
		if now.Sub(sess.touched) > s.idle {
			delete(s.byOp, op)
			n++
		}
	}
	return n
}

// Package broadcast runs operator campaigns: a resumable per-operator
// dialogue that collects posts, then sends them to a segment at once or at a
// scheduled time of day.
//
// The dialogue moves CollectingPosts -> AwaitingTimeChoice, then either sends
// immediately (-> AwaitingMore) or asks for a time (AwaitingScheduleTime) and
// hands a detached copy of the campaign to the scheduler. Recipients are
// resolved when the campaign is sent, not when it is composed.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/m3rciful/pocketsaas/core/logger"
	"github.com/m3rciful/pocketsaas/core/telegram/helpers"
	"github.com/m3rciful/pocketsaas/internal/model"
)

const component = "broadcast"

var (
	ErrNoSession  = errors.New("broadcast: no campaign in progress")
	ErrWrongStage = errors.New("broadcast: action not allowed at this stage")
	ErrNoPosts    = errors.New("broadcast: no posts collected")
	ErrBadTime    = errors.New("broadcast: malformed time of day")
	ErrEmptyPost  = errors.New("broadcast: post has no text or media")
)

// Recipients resolves a segment into distinct chat ids.
type Recipients interface {
	Resolve(ctx context.Context, seg model.Segment) ([]int64, error)
}

// Deliverer sends one post to one chat.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, p Post) error
}

// Result summarizes one dispatch. Sent and Failed count (recipient, post)
// deliveries.
type Result struct {
	Recipients int
	Sent       int
	Failed     int
	Empty      bool
}

// Config tunes an Orchestrator.
type Config struct {
	Location     *time.Location
	SendInterval time.Duration
	IdleTimeout  time.Duration
	// OnJobDone reports the outcome of a scheduled job. err is non-nil when
	// recipients could not be resolved or the job was cancelled mid-way.
	OnJobDone func(ctx context.Context, job Job, res Result, err error)
	Now       func() time.Time
}

// Orchestrator owns the campaign dialogues and the scheduler of one bot.
type Orchestrator struct {
	recipients Recipients
	deliverer  Deliverer
	sessions   *Sessions
	scheduler  *Scheduler
	limiter    *rate.Limiter
	loc        *time.Location
	onJobDone  func(ctx context.Context, job Job, res Result, err error)
	now        func() time.Time
}

// New builds an Orchestrator.
func New(recipients Recipients, deliverer Deliverer, cfg Config) *Orchestrator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	limit := rate.Inf
	if cfg.SendInterval > 0 {
		limit = rate.Every(cfg.SendInterval)
	}
	return &Orchestrator{
		recipients: recipients,
		deliverer:  deliverer,
		sessions:   NewSessions(cfg.IdleTimeout, cfg.Now),
		scheduler:  NewScheduler(),
		limiter:    rate.NewLimiter(limit, 1),
		loc:        cfg.Location,
		onJobDone:  cfg.OnJobDone,
		now:        cfg.Now,
	}
}

// Location is the zone scheduled times are read in.
func (o *Orchestrator) Location() *time.Location { return o.loc }

// Start opens a new campaign for operator, replacing any previous one.
// Progress messages go to chatID.
func (o *Orchestrator) Start(operator, chatID int64, seg model.Segment) Session {
	if seg.Filter == "" {
		seg.Filter = model.FilterAll
	}
	sess := &Session{Operator: operator, ChatID: chatID, Segment: seg, Stage: StageCollectingPosts}
	o.sessions.put(sess)
	logger.Info(context.Background(), component, "session.start",
		slog.Int64("user_id", operator),
		slog.String("segment", seg.String()),
	)
	return sess.clone()
}

// Session returns a copy of the operator's campaign.
func (o *Orchestrator) Session(operator int64) (Session, bool) {
	return o.sessions.Get(operator)
}

// AddPost appends a post and returns how many the campaign now holds.
func (o *Orchestrator) AddPost(operator int64, p Post) (int, error) {
	if p.Empty() {
		return 0, ErrEmptyPost
	}
	if p.Media != nil && !p.Media.Kind.Valid() {
		return 0, fmt.Errorf("broadcast: unknown media kind %q", p.Media.Kind)
	}
	var n int
	err := o.sessions.update(operator, func(s *Session) error {
		if s.Stage != StageCollectingPosts {
			return ErrWrongStage
		}
		s.Posts = append(s.Posts, clonePosts([]Post{p})...)
		n = len(s.Posts)
		return nil
	})
	return n, err
}

// Finalize closes post collection and asks for the send time.
func (o *Orchestrator) Finalize(operator int64) error {
	return o.sessions.update(operator, func(s *Session) error {
		if s.Stage != StageCollectingPosts {
			return ErrWrongStage
		}
		if len(s.Posts) == 0 {
			return ErrNoPosts
		}
		s.Stage = StageAwaitingTimeChoice
		return nil
	})
}

// SendNow dispatches the collected posts and waits for the result. The
// session then waits for the operator to add more posts or finish.
func (o *Orchestrator) SendNow(ctx context.Context, operator int64) (Result, error) {
	var (
		seg   model.Segment
		posts []Post
	)
	err := o.sessions.update(operator, func(s *Session) error {
		if s.Stage != StageAwaitingTimeChoice {
			return ErrWrongStage
		}
		seg, posts = s.Segment, clonePosts(s.Posts)
		s.Posts = nil
		s.Stage = StageAwaitingMore
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return o.Dispatch(ctx, seg, posts)
}

// ChooseLater switches the session to waiting for a time of day.
func (o *Orchestrator) ChooseLater(operator int64) error {
	return o.sessions.update(operator, func(s *Session) error {
		if s.Stage != StageAwaitingTimeChoice {
			return ErrWrongStage
		}
		s.Stage = StageAwaitingScheduleTime
		return nil
	})
}

// Schedule parses an hour:minute input and schedules the campaign for its
// next occurrence. Malformed input returns ErrBadTime and leaves the session
// untouched. On success the session starts collecting a new batch for the
// same segment at once.
func (o *Orchestrator) Schedule(operator int64, input string) (Job, error) {
	var job Job
	err := o.sessions.update(operator, func(s *Session) error {
		if s.Stage != StageAwaitingScheduleTime {
			return ErrWrongStage
		}
		h, m, ok := helpers.ParseClock(input)
		if !ok {
			return ErrBadTime
		}
		at := helpers.NextOccurrence(h, m, o.now(), o.loc)
		scheduled, err := o.scheduler.Schedule(Job{
			At:      at,
			ChatID:  s.ChatID,
			Segment: s.Segment,
			Posts:   s.Posts,
		}, at.Sub(o.now()), o.runJob)
		if err != nil {
			return err
		}
		job = scheduled
		s.Posts = nil
		s.Stage = StageCollectingPosts
		return nil
	})
	if err != nil {
		return Job{}, err
	}
	logger.Info(context.Background(), component, "job.scheduled",
		slog.Int64("user_id", operator),
		slog.String("job_id", job.ID),
		slog.String("segment", job.Segment.String()),
		slog.Time("at", job.At),
		slog.Int("posts", len(job.Posts)),
	)
	return job, nil
}

// More answers the "another post?" question. yes reopens collection, no
// ends the campaign.
func (o *Orchestrator) More(operator int64, yes bool) error {
	if yes {
		return o.sessions.update(operator, func(s *Session) error {
			if s.Stage != StageAwaitingMore {
				return ErrWrongStage
			}
			s.Stage = StageCollectingPosts
			return nil
		})
	}
	if _, ok := o.sessions.Get(operator); !ok {
		return ErrNoSession
	}
	o.sessions.Delete(operator)
	return nil
}

// Cancel discards the operator's campaign at any stage.
func (o *Orchestrator) Cancel(operator int64) bool {
	return o.sessions.Delete(operator)
}

// Jobs lists scheduled campaigns.
func (o *Orchestrator) Jobs() []Job { return o.scheduler.Pending() }

// CancelJob cancels a scheduled campaign by id.
func (o *Orchestrator) CancelJob(id string) bool {
	ok := o.scheduler.Cancel(id)
	if ok {
		logger.Info(context.Background(), component, "job.cancelled", slog.String("job_id", id))
	}
	return ok
}

// SweepIdle drops idle dialogues.
func (o *Orchestrator) SweepIdle() int { return o.sessions.Sweep() }

// Close cancels all scheduled campaigns and waits for running ones.
func (o *Orchestrator) Close() { o.scheduler.Close() }

func (o *Orchestrator) runJob(ctx context.Context, job Job) {
	res, err := o.Dispatch(ctx, job.Segment, job.Posts)
	attrs := []slog.Attr{
		slog.String("job_id", job.ID),
		slog.String("segment", job.Segment.String()),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
	}
	if err != nil {
		logger.Warn(ctx, component, "job.done", append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))...)
	} else {
		logger.Info(ctx, component, "job.done", append(attrs, slog.String("status", "ok"))...)
	}
	if o.onJobDone != nil {
		o.onJobDone(context.WithoutCancel(ctx), job, res, err)
	}
}

// Dispatch resolves seg and sends every post to every recipient in order.
// Delivery failures are counted, never fatal. An empty audience returns
// Result.Empty without sending anything. Cancelling ctx stops the loop and
// returns the partial result with ctx's error.
func (o *Orchestrator) Dispatch(ctx context.Context, seg model.Segment, posts []Post) (Result, error) {
	if len(posts) == 0 {
		return Result{}, ErrNoPosts
	}
	ids, err := o.recipients.Resolve(ctx, seg)
	if err != nil {
		return Result{}, fmt.Errorf("broadcast: resolve %s: %w", seg, err)
	}
	res := Result{Recipients: len(ids)}
	if len(ids) == 0 {
		res.Empty = true
		logger.Info(ctx, component, "dispatch.empty", slog.String("segment", seg.String()))
		return res, nil
	}

	start := time.Now()
	sampleKey := "broadcast:" + seg.String()
	for _, chatID := range ids {
		for _, p := range posts {
			if err := o.limiter.Wait(ctx); err != nil {
				return res, err
			}
			if err := o.deliverer.Deliver(ctx, chatID, p); err != nil {
				res.Failed++
				if logger.ShouldSampleDebug(sampleKey) {
					logger.Debug(ctx, component, "deliver.fail",
						slog.Int64("chat_id", chatID),
						slog.String("err", err.Error()),
					)
				}
				continue
			}
			res.Sent++
		}
	}
	logger.Info(ctx, component, "dispatch.done",
		slog.String("segment", seg.String()),
		slog.Int("recipients", res.Recipients),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

// RecipientsFunc adapts a function to Recipients.
type RecipientsFunc func(ctx context.Context, seg model.Segment) ([]int64, error)

// Resolve calls f.
func (f RecipientsFunc) Resolve(ctx context.Context, seg model.Segment) ([]int64, error) {
	return f(ctx, seg)
}

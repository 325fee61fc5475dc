package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/pocketsaas/internal/model"
)

type staticRecipients struct {
	mu   sync.Mutex
	ids  []int64
	segs []model.Segment
}

func (r *staticRecipients) Resolve(_ context.Context, seg model.Segment) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segs = append(r.segs, seg)
	return append([]int64(nil), r.ids...), nil
}

type delivery struct {
	chatID int64
	post   Post
}

type recordingDeliverer struct {
	mu     sync.Mutex
	sent   []delivery
	failOn map[int64]bool
}

func (d *recordingDeliverer) Deliver(_ context.Context, chatID int64, p Post) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[chatID] {
		return errors.New("forbidden: bot was blocked by the user")
	}
	d.sent = append(d.sent, delivery{chatID, p})
	return nil
}

func moscow(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		loc = time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

func newOrchestrator(t *testing.T, rec Recipients, del Deliverer, now func() time.Time) *Orchestrator {
	t.Helper()
	o := New(rec, del, Config{Location: moscow(t), IdleTimeout: 30 * time.Minute, Now: now})
	t.Cleanup(o.Close)
	return o
}

func TestDialogueRequiresSession(t *testing.T) {
	o := newOrchestrator(t, &staticRecipients{}, &recordingDeliverer{}, nil)
	if _, err := o.AddPost(1, Post{Text: "hi"}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("AddPost err = %v, want ErrNoSession", err)
	}
	if err := o.Finalize(1); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Finalize err = %v, want ErrNoSession", err)
	}
}

func TestDialogueStageGuards(t *testing.T) {
	o := newOrchestrator(t, &staticRecipients{}, &recordingDeliverer{}, nil)
	o.Start(1, 1, model.Segment{TenantID: 3})

	if err := o.Finalize(1); !errors.Is(err, ErrNoPosts) {
		t.Fatalf("Finalize empty err = %v, want ErrNoPosts", err)
	}
	if _, err := o.SendNow(context.Background(), 1); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("SendNow err = %v, want ErrWrongStage", err)
	}
	if _, err := o.AddPost(1, Post{}); !errors.Is(err, ErrEmptyPost) {
		t.Fatalf("empty post err = %v", err)
	}
	if _, err := o.AddPost(1, Post{Media: &Media{Kind: "sticker", FileID: "x"}}); err == nil {
		t.Fatal("unknown media kind accepted")
	}
	if _, err := o.AddPost(1, Post{Text: "a"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := o.Finalize(1); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := o.AddPost(1, Post{Text: "late"}); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("AddPost after finalize err = %v", err)
	}
	if !o.Cancel(1) {
		t.Fatal("cancel reported no session")
	}
	if _, ok := o.Session(1); ok {
		t.Fatal("session survived cancel")
	}
}

func TestSendNowDeliversPostsInOrder(t *testing.T) {
	rec := &staticRecipients{ids: []int64{100}}
	del := &recordingDeliverer{}
	o := newOrchestrator(t, rec, del, nil)
	ctx := context.Background()

	o.Start(9, 9, model.Segment{TenantID: 1})
	if _, err := o.AddPost(9, Post{Text: "first"}); err != nil {
		t.Fatalf("add text: %v", err)
	}
	if n, err := o.AddPost(9, Post{Text: "caption", Media: &Media{Kind: MediaPhoto, FileID: "AgAC"}}); err != nil || n != 2 {
		t.Fatalf("add photo: n=%d err=%v", n, err)
	}
	if err := o.Finalize(9); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	res, err := o.SendNow(ctx, 9)
	if err != nil {
		t.Fatalf("send now: %v", err)
	}
	if res.Sent != 2 || res.Failed != 0 || res.Recipients != 1 {
		t.Fatalf("result = %+v", res)
	}
	if del.sent[0].post.Text != "first" || del.sent[1].post.Media == nil {
		t.Fatalf("posts out of order: %+v", del.sent)
	}
	if rec.segs[0].Filter != model.FilterAll {
		t.Fatalf("segment filter = %q, want all", rec.segs[0].Filter)
	}

	sess, _ := o.Session(9)
	if sess.Stage != StageAwaitingMore || len(sess.Posts) != 0 {
		t.Fatalf("session after send = %+v", sess)
	}
	if err := o.More(9, true); err != nil {
		t.Fatalf("more yes: %v", err)
	}
	if sess, _ := o.Session(9); sess.Stage != StageCollectingPosts {
		t.Fatalf("stage = %s, want collecting", sess.Stage)
	}
	if err := o.More(9, false); err != nil {
		t.Fatalf("more no: %v", err)
	}
	if _, ok := o.Session(9); ok {
		t.Fatal("session kept after finishing")
	}
}

func TestDispatchCountsFailuresAndContinues(t *testing.T) {
	rec := &staticRecipients{ids: []int64{1, 2, 3}}
	del := &recordingDeliverer{failOn: map[int64]bool{2: true}}
	o := newOrchestrator(t, rec, del, nil)

	res, err := o.Dispatch(context.Background(), model.Segment{}, []Post{{Text: "a"}, {Text: "b"}})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Sent != 4 || res.Failed != 2 {
		t.Fatalf("result = %+v, want sent 4 failed 2", res)
	}
}

func TestDispatchEmptyAudience(t *testing.T) {
	del := &recordingDeliverer{}
	o := newOrchestrator(t, &staticRecipients{}, del, nil)
	res, err := o.Dispatch(context.Background(), model.Segment{TenantID: 4, Filter: model.FilterDeposited}, []Post{{Text: "x"}})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.Empty || len(del.sent) != 0 {
		t.Fatalf("result = %+v, deliveries = %d", res, len(del.sent))
	}
}

func TestDispatchStopsOnCancel(t *testing.T) {
	o := New(&staticRecipients{ids: []int64{1, 2, 3}}, &recordingDeliverer{}, Config{SendInterval: time.Hour})
	t.Cleanup(o.Close)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := o.Dispatch(ctx, model.Segment{}, []Post{{Text: "x"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if res.Sent != 0 {
		t.Fatalf("sent = %d after cancel", res.Sent)
	}
}

func scheduleReady(t *testing.T, o *Orchestrator, op int64, seg model.Segment, posts ...Post) {
	t.Helper()
	o.Start(op, op, seg)
	for _, p := range posts {
		if _, err := o.AddPost(op, p); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := o.Finalize(op); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := o.ChooseLater(op); err != nil {
		t.Fatalf("later: %v", err)
	}
}

func TestScheduleRejectsBadTime(t *testing.T) {
	o := newOrchestrator(t, &staticRecipients{}, &recordingDeliverer{}, nil)
	scheduleReady(t, o, 5, model.Segment{}, Post{Text: "x"})

	for _, in := range []string{"", "25:00", "12:60", "noon", "12:5"} {
		if _, err := o.Schedule(5, in); !errors.Is(err, ErrBadTime) {
			t.Fatalf("Schedule(%q) err = %v, want ErrBadTime", in, err)
		}
	}
	sess, ok := o.Session(5)
	if !ok || sess.Stage != StageAwaitingScheduleTime || len(sess.Posts) != 1 {
		t.Fatalf("session changed by bad input: %+v", sess)
	}
	if len(o.Jobs()) != 0 {
		t.Fatal("job scheduled from bad input")
	}
}

func TestScheduledCampaignIsDetached(t *testing.T) {
	loc := moscow(t)
	now := time.Date(2025, 3, 10, 15, 45, 0, 0, loc)
	o := newOrchestrator(t, &staticRecipients{}, &recordingDeliverer{}, func() time.Time { return now })

	scheduleReady(t, o, 5, model.Segment{}, Post{Text: "global news"})
	job, err := o.Schedule(5, "15:30")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	want := time.Date(2025, 3, 11, 15, 30, 0, 0, loc)
	if !job.At.Equal(want) {
		t.Fatalf("at = %s, want %s", job.At, want)
	}
	if job.ID == "" {
		t.Fatal("job has no id")
	}

	sess, _ := o.Session(5)
	if sess.Stage != StageCollectingPosts || len(sess.Posts) != 0 {
		t.Fatalf("session not reset: %+v", sess)
	}

	// A new campaign in the same dialogue must not touch the job.
	o.Start(5, 5, model.Segment{TenantID: 2, Filter: model.FilterRegistered})
	if _, err := o.AddPost(5, Post{Text: "other"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	jobs := o.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if !jobs[0].Segment.Global() || len(jobs[0].Posts) != 1 || jobs[0].Posts[0].Text != "global news" {
		t.Fatalf("job mutated: %+v", jobs[0])
	}

	if !o.CancelJob(job.ID) {
		t.Fatal("cancel job reported missing")
	}
	if len(o.Jobs()) != 0 || o.CancelJob(job.ID) {
		t.Fatal("job still pending after cancel")
	}
}

func TestScheduledJobRunsAndReports(t *testing.T) {
	rec := &staticRecipients{ids: []int64{11, 12}}
	del := &recordingDeliverer{}
	done := make(chan Result, 1)
	o := New(rec, del, Config{OnJobDone: func(_ context.Context, _ Job, res Result, err error) {
		if err != nil {
			t.Errorf("job error: %v", err)
		}
		done <- res
	}})
	t.Cleanup(o.Close)

	if _, err := o.scheduler.Schedule(Job{Posts: []Post{{Text: "x"}}}, 0, o.runJob); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case res := <-done:
		if res.Sent != 2 {
			t.Fatalf("sent = %d, want 2", res.Sent)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestCloseCancelsPendingJobs(t *testing.T) {
	s := NewScheduler()
	ran := make(chan struct{}, 1)
	if _, err := s.Schedule(Job{}, time.Hour, func(context.Context, Job) { ran <- struct{}{} }); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.Close()
	if len(s.Pending()) != 0 {
		t.Fatal("pending after close")
	}
	if _, err := s.Schedule(Job{}, 0, func(context.Context, Job) {}); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("schedule after close err = %v", err)
	}
	select {
	case <-ran:
		t.Fatal("cancelled job ran")
	default:
	}
}

func TestIdleSessionsExpire(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	o := newOrchestrator(t, &staticRecipients{}, &recordingDeliverer{}, func() time.Time { return now })
	o.Start(1, 1, model.Segment{})
	o.Start(2, 2, model.Segment{})

	now = now.Add(20 * time.Minute)
	if _, err := o.AddPost(2, Post{Text: "keep alive"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	now = now.Add(15 * time.Minute)
	if _, ok := o.Session(1); ok {
		t.Fatal("idle session survived")
	}
	if _, ok := o.Session(2); !ok {
		t.Fatal("active session expired")
	}
	now = now.Add(time.Hour)
	if n := o.SweepIdle(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
}

package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/pocketsaas/internal/model"
)

// ErrSchedulerClosed is returned when scheduling after Close.
var ErrSchedulerClosed = errors.New("broadcast: scheduler closed")

// Job is a campaign waiting for its time. It owns copies of the segment and
// posts, so later dialogue changes do not reach it.
type Job struct {
	ID      string
	At      time.Time
	ChatID  int64
	Segment model.Segment
	Posts   []Post
}

type pendingJob struct {
	job     Job
	timer   *time.Timer
	cancel  context.CancelFunc
	running bool
}

// Scheduler runs jobs after a delay. Every job can be cancelled by id until
// it finishes, and Close cancels all of them.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*pendingJob
	wg     sync.WaitGroup
	closed bool
}

// NewScheduler returns an idle scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{jobs: make(map[string]*pendingJob)}
}

// Schedule arranges run(ctx, job) after delay and returns the job with its
// assigned id. ctx is cancelled by Cancel or Close.
func (s *Scheduler) Schedule(job Job, delay time.Duration, run func(ctx context.Context, job Job)) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Job{}, ErrSchedulerClosed
	}
	job.ID = uuid.NewString()
	job.Posts = clonePosts(job.Posts)

	ctx, cancel := context.WithCancel(context.Background())
	p := &pendingJob{job: job, cancel: cancel}
	s.jobs[job.ID] = p
	s.wg.Add(1)
	p.timer = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		if _, ok := s.jobs[job.ID]; !ok {
			s.mu.Unlock()
			return
		}
		p.running = true
		s.mu.Unlock()

		run(ctx, job)

		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		cancel()
	})
	return job, nil
}

// Cancel stops a pending job, or interrupts a running one. It reports false
// when no such job exists.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.stopLocked(id, p)
	return true
}

func (s *Scheduler) stopLocked(id string, p *pendingJob) {
	p.cancel()
	if p.running {
		return
	}
	delete(s.jobs, id)
	if p.timer.Stop() {
		s.wg.Done()
	}
}

// Pending lists jobs ordered by fire time.
func (s *Scheduler) Pending() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, p := range s.jobs {
		j := p.job
		j.Posts = clonePosts(j.Posts)
		out = append(out, j)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].At.Before(out[k].At) })
	return out
}

// Close cancels every job and waits for running ones to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, p := range s.jobs {
		s.stopLocked(id, p)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

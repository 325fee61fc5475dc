package logger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

// asyncWriter fans log lines out to its sinks on a background goroutine.
// A sink that fails is dropped and the rest keep receiving lines; Write
// fails only once no sink is left.
type asyncWriter struct {
	queue    chan []byte
	flushReq chan chan error
	done     chan struct{}
	once     sync.Once

	mu    sync.Mutex
	sinks []*sink
	errs  []error
}

type sink struct {
	w   *bufio.Writer
	idx int
}

var errNoSinks = errors.New("logger: every log sink failed")

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	sinks := make([]*sink, 0, len(writers))
	for i, w := range writers {
		if w == nil {
			continue
		}
		sinks = append(sinks, &sink{w: bufio.NewWriterSize(w, bufSize), idx: i})
	}
	aw := &asyncWriter{
		queue:    make(chan []byte, 256),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
		sinks:    sinks,
	}
	go aw.loop()
	return aw
}

func (w *asyncWriter) loop() {
	for {
		select {
		case data, ok := <-w.queue:
			if !ok {
				w.flushAll()
				close(w.done)
				return
			}
			if len(data) > 0 {
				w.writeAll(data)
			}
		case ack := <-w.flushReq:
			open := w.drain()
			ack <- w.flushAll()
			if !open {
				close(w.done)
				return
			}
		}
	}
}

// drain writes whatever is already queued. It reports false once the queue
// is closed.
func (w *asyncWriter) drain() bool {
	for {
		select {
		case data, ok := <-w.queue:
			if !ok {
				return false
			}
			if len(data) > 0 {
				w.writeAll(data)
			}
		default:
			return true
		}
	}
}

// Write enqueues a copy of p. It blocks when the queue is full rather than
// drop lines.
func (w *asyncWriter) Write(p []byte) error {
	if !w.alive() {
		return errNoSinks
	}
	if len(p) == 0 {
		return nil
	}
	data := make([]byte, len(p))
	copy(data, p)
	w.queue <- data
	return nil
}

// Flush waits until every queued line reached the sinks.
func (w *asyncWriter) Flush() error {
	if !w.alive() {
		return errNoSinks
	}
	ack := make(chan error, 1)
	w.flushReq <- ack
	return <-ack
}

// Close drains the queue and reports every sink failure seen.
func (w *asyncWriter) Close() error {
	w.once.Do(func() {
		close(w.queue)
	})
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.errs...)
}

func (w *asyncWriter) alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sinks) > 0
}

func (w *asyncWriter) writeAll(p []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.sinks[:0]
	for _, s := range w.sinks {
		if _, err := s.w.Write(p); err != nil {
			w.dropLocked(s, err)
			continue
		}
		if err := s.w.Flush(); err != nil {
			w.dropLocked(s, err)
			continue
		}
		kept = append(kept, s)
	}
	w.sinks = kept
}

func (w *asyncWriter) flushAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	kept := w.sinks[:0]
	for _, s := range w.sinks {
		if err := s.w.Flush(); err != nil {
			errs = append(errs, err)
			w.dropLocked(s, err)
			continue
		}
		kept = append(kept, s)
	}
	w.sinks = kept
	return errors.Join(errs...)
}

func (w *asyncWriter) dropLocked(s *sink, err error) {
	w.errs = append(w.errs, fmt.Errorf("logger: sink %d: %w", s.idx, err))
}

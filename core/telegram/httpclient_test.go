package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"
)

type flakyTransport struct {
	failures int
	err      error
	calls    int
	bodies   []string
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		f.bodies = append(f.bodies, string(b))
	}
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}"))}, nil
}

func newRequest(t *testing.T, ctx context.Context) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://bot.test/sendMessage", strings.NewReader("chat_id=1"))
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestRetryTransportReplaysBody(t *testing.T) {
	base := &flakyTransport{failures: 2, err: syscall.ECONNRESET}
	rt := &retryTransport{base: base, maxRetries: 3, backoff: time.Millisecond}

	resp, err := rt.RoundTrip(newRequest(t, context.Background()))
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	resp.Body.Close()
	if base.calls != 3 {
		t.Fatalf("calls = %d, want 3", base.calls)
	}
	for i, b := range base.bodies {
		if b != "chat_id=1" {
			t.Fatalf("attempt %d body = %q", i+1, b)
		}
	}
}

func TestRetryTransportGivesUp(t *testing.T) {
	base := &flakyTransport{failures: 10, err: syscall.ECONNREFUSED}
	rt := &retryTransport{base: base, maxRetries: 2, backoff: time.Millisecond}
	if _, err := rt.RoundTrip(newRequest(t, context.Background())); !errors.Is(err, syscall.ECONNREFUSED) {
		t.Fatalf("err = %v", err)
	}
	if base.calls != 3 {
		t.Fatalf("calls = %d, want 3", base.calls)
	}
}

func TestRetryTransportSkipsPermanentErrors(t *testing.T) {
	base := &flakyTransport{failures: 1, err: errors.New("unsupported protocol")}
	rt := &retryTransport{base: base, maxRetries: 3, backoff: time.Millisecond}
	if _, err := rt.RoundTrip(newRequest(t, context.Background())); err == nil {
		t.Fatal("expected the error")
	}
	if base.calls != 1 {
		t.Fatalf("calls = %d, want 1", base.calls)
	}
}

func TestRetryTransportStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	base := &flakyTransport{failures: 1, err: syscall.ECONNRESET}
	rt := &retryTransport{base: base, maxRetries: 3, backoff: time.Hour}
	if _, err := rt.RoundTrip(newRequest(t, ctx)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewHTTPClientLeavesRoomForLongPoll(t *testing.T) {
	c := NewHTTPClient(ClientOptions{PollTimeout: 50 * time.Second})
	if c.Timeout <= 50*time.Second {
		t.Fatalf("client timeout %s would cut the poll", c.Timeout)
	}
	rt := c.Transport.(*retryTransport)
	if h := rt.base.(*http.Transport).ResponseHeaderTimeout; h <= 50*time.Second {
		t.Fatalf("header timeout = %s", h)
	}
	if rt.maxRetries != defaultRetryAttempts {
		t.Fatalf("retries = %d", rt.maxRetries)
	}
}

package telegram

import (
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/pocketsaas/core/telegram/netutil"
)

const (
	defaultDialTimeout     = 5 * time.Second
	defaultTLSHandshake    = 5 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultHeaderMargin    = 5 * time.Second
	defaultRequestBudget   = 30 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryBackoff    = 500 * time.Millisecond
	maxRetryBackoff        = 5 * time.Second
)

// ClientOptions tunes NewHTTPClient. Zero values take the defaults.
type ClientOptions struct {
	// PollTimeout is how long getUpdates may hold a response open.
	PollTimeout time.Duration
	Retries     int
	Backoff     time.Duration
}

// BuildHTTPClient returns the client used by every bot in the process.
func BuildHTTPClient() *http.Client {
	return NewHTTPClient(ClientOptions{PollTimeout: defaultLongPollTimeout})
}

// NewHTTPClient builds a Bot API client. Header and request deadlines leave
// room for a long poll, and transient transport failures are retried.
func NewHTTPClient(opts ClientOptions) *http.Client {
	if opts.Retries <= 0 {
		opts.Retries = defaultRetryAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultRetryBackoff
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ResponseHeaderTimeout: opts.PollTimeout + defaultHeaderMargin,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout: opts.PollTimeout + defaultRequestBudget,
		Transport: &retryTransport{
			base:       transport,
			maxRetries: opts.Retries,
			backoff:    opts.Backoff,
		},
	}
}

// retryTransport replays a request whose body can be rebuilt when the
// previous attempt failed in transport.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	ctx := req.Context()

	resp, err := base.RoundTrip(req)
	for attempt := 1; err != nil && attempt <= t.maxRetries; attempt++ {
		if !netutil.ShouldRetry(err) || (req.Body != nil && req.GetBody == nil) {
			return nil, err
		}
		timer := time.NewTimer(t.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		next := req.Clone(ctx)
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, bodyErr
			}
			next.Body = body
		}
		resp, err = base.RoundTrip(next)
	}
	return resp, err
}

// delay doubles per attempt up to maxRetryBackoff.
func (t *retryTransport) delay(attempt int) time.Duration {
	d := t.backoff << (attempt - 1)
	if d <= 0 || d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

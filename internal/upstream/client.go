package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/angeloszaimis/poolgate/internal/account"
	"github.com/angeloszaimis/poolgate/internal/health"
)

const maxErrorBody = 64 << 10

var errAttemptTimeout = errors.New("attempt timed out")

type Request struct {
	Method string
	Path   string // relative to the base URL, e.g. "/chat/completions"
	Body   []byte
	Header http.Header
}

// Response is a response the pool hands back to the caller: either a 2xx or
// a client error. Body must be closed.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Outcome    Outcome
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient returns a client for baseURL. timeout bounds the time until the
// response headers arrive; streamed bodies may take longer.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends req with acc's credentials. Transient and terminal outcomes are
// returned as *Error. If ctx ends first, ctx's error is returned unwrapped by
// an *Error so callers can tell cancellation from an account failure.
func (c *Client) Do(ctx context.Context, acc account.Account, req Request) (*Response, error) {
	attemptCtx, cancel := context.WithCancelCause(ctx)

	stopTimer := func() bool { return true }
	if c.timeout > 0 {
		timer := time.AfterFunc(c.timeout, func() {
			cancel(errAttemptTimeout)
		})
		stopTimer = timer.Stop
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, c.endpoint(acc, req.Path), bytes.NewReader(req.Body))
	if err != nil {
		stopTimer()
		cancel(nil)
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	httpReq.Header = outboundHeader(req.Header)
	httpReq.Header.Set("Authorization", "Bearer "+acc.APIKey)
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	timedOut := !stopTimer()
	if err != nil {
		cancel(nil)
		return nil, c.transportError(ctx, attemptCtx, err)
	}
	if timedOut {
		resp.Body.Close()
		cancel(nil)
		return nil, c.timeoutError()
	}

	outcome := Classify(resp.StatusCode)
	if outcome == OutcomeTransient || outcome == OutcomeTerminal {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel(nil)
		return nil, statusError(resp.StatusCode, body)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: func() { cancel(nil) }},
		Outcome:    outcome,
	}, nil
}

func (c *Client) endpoint(acc account.Account, path string) string {
	base := c.baseURL
	if acc.BaseURL != "" {
		base = strings.TrimRight(acc.BaseURL, "/")
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func (c *Client) transportError(ctx, attemptCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(context.Cause(attemptCtx), errAttemptTimeout) {
		return c.timeoutError()
	}
	return &Error{
		Class:   health.Transient,
		Message: err.Error(),
		Cause:   err,
	}
}

func (c *Client) timeoutError() *Error {
	return &Error{
		Class:   health.Transient,
		Message: fmt.Sprintf("no response headers within %s", c.timeout),
		Timeout: true,
		Cause:   context.DeadlineExceeded,
	}
}

// cancelOnClose releases the attempt context once the caller is done with
// the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel func()
	once   sync.Once
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.cancel)
	return err
}

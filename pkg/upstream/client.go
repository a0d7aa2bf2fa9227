// Package upstream wraps outbound HTTP to content providers. All calls are
// JSON-only, carry the identifying user agent, and honor a small retry
// policy for transient 5xx responses.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/barakah-labs/minaret/pkg/errs"
)

// UserAgent identifies this service to upstream providers.
const UserAgent = "minaret-sync/1.0 (+https://barakah-labs.dev)"

// DefaultTimeout applies to interactive calls; sync batches use SyncTimeout.
const (
	DefaultTimeout = 15 * time.Second
	SyncTimeout    = 300 * time.Second
)

const maxBodySnippet = 512

// RetryPolicy controls transient-failure retries.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	RetryOn     map[int]bool
}

// DefaultRetryPolicy retries nothing; sync callers opt in.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// SyncRetryPolicy retries {502, 503, 504} with a fixed backoff.
func SyncRetryPolicy(attempts int, backoff time.Duration) RetryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{
		MaxAttempts: attempts,
		Backoff:     backoff,
		RetryOn:     map[int]bool{502: true, 503: true, 504: true},
	}
}

func (p RetryPolicy) shouldRetry(status int) bool {
	if p.RetryOn == nil {
		return false
	}
	return p.RetryOn[status]
}

// Client is the outbound HTTP client shared by all sync engines.
type Client struct {
	httpClient *http.Client
	provider   string
	retry      RetryPolicy
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetryPolicy sets the transient-failure retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithHTTPClient injects a custom transport (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewSyncClient creates a client tuned for long-running sync batches: the
// extended per-call timeout and transient-5xx retries.
func NewSyncClient(provider string, timeout time.Duration, attempts int, backoff time.Duration, opts ...Option) *Client {
	base := []Option{
		WithTimeout(timeout),
		WithRetryPolicy(SyncRetryPolicy(attempts, backoff)),
	}
	return New(provider, append(base, opts...)...)
}

// New creates a client for a named provider.
func New(provider string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		provider:   provider,
		retry:      DefaultRetryPolicy(),
		logger:     slog.Default().With("component", "upstream", "provider", provider),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// PostJSON sends body as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.Wrap(errs.KindProtocol, "encode request body", err)
	}
	return c.do(ctx, http.MethodPost, url, payload, out)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	var lastStatus int
	var lastSnippet string

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 && c.retry.Backoff > 0 {
			select {
			case <-ctx.Done():
				return errs.Wrap(errs.KindNetwork, "request cancelled during backoff", ctx.Err())
			case <-time.After(c.retry.Backoff):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return errs.Wrap(errs.KindNetwork, "build request", err)
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errs.Wrap(errs.KindNetwork, fmt.Sprintf("%s %s", method, url), err)
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return errs.Wrap(errs.KindNetwork, "read response body", readErr)
		}

		if resp.StatusCode >= 500 {
			lastStatus = resp.StatusCode
			lastSnippet = snippet(raw)
			if c.retry.shouldRetry(resp.StatusCode) && attempt < c.retry.MaxAttempts {
				c.logger.Warn("retrying after upstream 5xx",
					"status", resp.StatusCode, "attempt", attempt, "url", url)
				continue
			}
			return errs.Upstream(c.provider, lastStatus, lastSnippet)
		}

		if resp.StatusCode >= 400 {
			return errs.Upstream(c.provider, resp.StatusCode, snippet(raw))
		}

		if !isJSONContent(resp.Header.Get("Content-Type")) {
			return errs.Newf(errs.KindProtocol, "upstream %s returned non-JSON content type %q",
				c.provider, resp.Header.Get("Content-Type"))
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return errs.Wrap(errs.KindProtocol,
				fmt.Sprintf("upstream %s returned undecodable body", c.provider), err)
		}
		return nil
	}

	return errs.Upstream(c.provider, lastStatus, lastSnippet)
}

func snippet(raw []byte) string {
	s := string(raw)
	if len(s) > maxBodySnippet {
		s = s[:maxBodySnippet]
	}
	return s
}

func isJSONContent(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.HasPrefix(ct, "application/json") ||
		strings.HasSuffix(strings.SplitN(ct, ";", 2)[0], "+json")
}

package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "github.com/matzehuels/composerbridge/pkg/errors"
	"github.com/matzehuels/composerbridge/pkg/httputil"
	"github.com/matzehuels/composerbridge/pkg/observability"
)

// Options configures a [Client].
type Options struct {
	BaseURL   string            // prefix for every request path, trailing slash ignored
	Query     url.Values        // parameters attached to every request (e.g. an API token)
	Headers   map[string]string // headers attached to every request
	Timeout   time.Duration     // per-request timeout, 0 for [DefaultTimeout]
	RateLimit float64           // requests per second, 0 for unlimited
	Retries   int               // total attempts for retryable failures, 0 or 1 for none
	HTTP      *http.Client      // overrides the default client (tests)
}

// Client provides shared JSON-over-HTTP functionality for upstream APIs.
// It handles the base URL, default parameters, pacing, retries and hooks.
type Client struct {
	http    *http.Client
	base    string
	query   url.Values
	headers map[string]string
	limiter *httputil.Limiter
	backoff httputil.Backoff
}

// NewClient creates a Client from opts.
func NewClient(opts Options) *Client {
	hc := opts.HTTP
	if hc == nil {
		hc = NewHTTPClient(opts.Timeout)
	}
	return &Client{
		http:    hc,
		base:    strings.TrimRight(opts.BaseURL, "/"),
		query:   opts.Query,
		headers: opts.Headers,
		limiter: httputil.NewLimiter(opts.RateLimit, 1),
		backoff: httputil.Backoff{Attempts: opts.Retries, Delay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.base }

// Get performs a GET of path with params and JSON-decodes the body into v.
//
// Failures come back as *errors.Error: NOT_FOUND (wrapping [ErrNotFound]) for
// a 404, TRANSPORT_ERROR (wrapping [ErrNetwork]) for everything else,
// including an empty or malformed body.
func (c *Client) Get(ctx context.Context, path string, params url.Values, v any) error {
	raw, err := c.GetRaw(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.Wrap(errs.ErrCodeTransport, fmt.Errorf("%w: %v", ErrNetwork, err), "decode %s", path)
	}
	return nil
}

// GetRaw is like [Client.Get] but returns the body undecoded. The body is
// guaranteed to be non-empty, syntactically valid JSON.
func (c *Client) GetRaw(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	var body []byte
	err := c.backoff.Do(ctx, func(ctx context.Context) error {
		b, err := c.doRequest(ctx, path, params)
		body = b
		return err
	})
	if err != nil {
		return nil, classify(path, err)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errs.Wrap(errs.ErrCodeTransport, fmt.Errorf("%w: empty body", ErrNetwork), "GET %s", path)
	}
	if !json.Valid(body) {
		return nil, errs.Wrap(errs.ErrCodeTransport, fmt.Errorf("%w: invalid JSON", ErrNetwork), "GET %s", path)
	}
	return body, nil
}

// URL builds the absolute request URL for path with the default and
// per-request parameters. path is appended verbatim so pre-encoded segments
// keep their encoding.
func (c *Client) URL(path string, params url.Values) string {
	q := url.Values{}
	for k, vs := range c.query {
		q[k] = append(q[k], vs...)
	}
	for k, vs := range params {
		q[k] = append(q[k], vs...)
	}
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) doRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path, params), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	hooks := observability.HTTP()
	host, reqPath := req.URL.Host, req.URL.Path
	hooks.OnRequest(ctx, req.Method, host, reqPath)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, req.Method, host, reqPath, err)
		return nil, &httputil.RetryableError{Err: fmt.Errorf("%w: %w", ErrNetwork, err)}
	}
	defer resp.Body.Close()
	hooks.OnResponse(ctx, req.Method, host, reqPath, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &httputil.RetryableError{Err: fmt.Errorf("%w: read body: %w", ErrNetwork, err)}
	}
	return body, nil
}

func checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case httputil.RetryableStatus(code):
		return &httputil.RetryableError{Err: fmt.Errorf("%w: status %d", ErrNetwork, code)}
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}

func classify(path string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return errs.Wrap(errs.ErrCodeNotFound, ErrNotFound, "GET %s", path)
	case errors.Is(err, ErrNetwork):
		return errs.Wrap(errs.ErrCodeTransport, err, "GET %s", path)
	default:
		// context cancellation or limiter failure
		return errs.Wrap(errs.ErrCodeTransport, fmt.Errorf("%w: %w", ErrNetwork, err), "GET %s", path)
	}
}

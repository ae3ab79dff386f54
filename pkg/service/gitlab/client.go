// Package gitlab is the resilient access layer for the GitLab REST and
// GraphQL APIs: URL building, host allow-listing, credential injection,
// retry/backoff, rate-limit introspection and bounded pagination.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/sprintview/sprintview/pkg/domain/model"
	"github.com/sprintview/sprintview/pkg/domain/types"
)

const (
	// DefaultRetries is the retry count after the first attempt
	DefaultRetries = 2

	// DefaultBackoffBase is the first backoff delay; it doubles per attempt
	DefaultBackoffBase = 250 * time.Millisecond
)

// Client talks to one GitLab instance. It is safe for concurrent use.
type Client struct {
	baseURL      *url.URL
	allowedHosts []string
	httpClient   *http.Client
	retries      int
	backoffBase  time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAllowedHosts sets the outbound host allow-list. An empty list
// disables the guard.
func WithAllowedHosts(hosts []string) Option {
	return func(c *Client) {
		c.allowedHosts = hosts
	}
}

// WithRetries sets the default retry count (attempts = retries + 1)
func WithRetries(n int) Option {
	return func(c *Client) {
		c.retries = n
	}
}

// WithBackoffBase sets the initial backoff delay
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = d
	}
}

// New creates a Client for the given base URL
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, goerr.New("invalid GitLab base URL", goerr.V("url", baseURL))
	}

	c := &Client{
		baseURL:     u,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retries:     DefaultRetries,
		backoffBase: DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Response is the outcome of one successful upstream call
type Response struct {
	Status    int
	Body      []byte
	IsJSON    bool
	RateLimit model.RateLimitInfo
}

// Decode unmarshals a JSON response body into out. A nil body (204/304)
// leaves out untouched.
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return goerr.Wrap(err, "failed to decode GitLab response",
			goerr.V("status", r.Status))
	}
	return nil
}

// StatusError is a non-2xx upstream response after retries were exhausted
type StatusError struct {
	Status  int
	Message string
	Body    []byte
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return "gitlab: HTTP " + strconv.Itoa(e.Status) + ": " + e.Message
}

// ReqOption configures a single request
type ReqOption func(*reqConfig)

type reqConfig struct {
	retries int
	etag    string
}

// WithETag sends an If-None-Match header; a 304 yields a nil payload
func WithETag(etag string) ReqOption {
	return func(rc *reqConfig) {
		rc.etag = etag
	}
}

// WithReqRetries overrides the client's retry count for one request
func WithReqRetries(n int) ReqOption {
	return func(rc *reqConfig) {
		rc.retries = n
	}
}

// Get performs an authenticated GET against an API path. The query must be
// pre-filtered by the caller; nothing is passed through untrusted.
func (c *Client) Get(ctx context.Context, cred types.Credential, path string, query url.Values, opts ...ReqOption) (*Response, error) {
	return c.do(ctx, cred, http.MethodGet, path, query, nil, opts)
}

// PostJSON performs an authenticated JSON POST. It exists for the login
// validation probe; this system never mutates upstream state.
func (c *Client) PostJSON(ctx context.Context, cred types.Credential, path string, body any, opts ...ReqOption) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode request body")
	}
	return c.do(ctx, cred, http.MethodPost, path, nil, payload, opts)
}

// GetDecoded fetches a path and decodes the JSON payload into T
func GetDecoded[T any](ctx context.Context, c *Client, cred types.Credential, path string, query url.Values, opts ...ReqOption) (T, *Response, error) {
	var out T
	resp, err := c.Get(ctx, cred, path, query, opts...)
	if err != nil {
		return out, nil, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, resp, err
	}
	return out, resp, nil
}

// buildURL joins the base URL with path and attaches the query. The host
// guard runs here, before any network I/O.
//
// path arrives pre-escaped (callers url.PathEscape their segments), so the
// joined string is parsed as a URL rather than assigned to Path: assignment
// would re-escape the "%" and a group full path like "eng%2Fplatform" would
// go out as "eng%252Fplatform".
func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	raw := strings.TrimRight(c.baseURL.EscapedPath(), "/") + path

	u, err := url.Parse(c.baseURL.Scheme + "://" + c.baseURL.Host + raw)
	if err != nil {
		return "", goerr.Wrap(err, "invalid request path", goerr.V("path", path))
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	if err := c.checkHost(u); err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *Client) checkHost(u *url.URL) error {
	if len(c.allowedHosts) == 0 {
		return nil
	}
	for _, h := range c.allowedHosts {
		if u.Host == h || u.Hostname() == h {
			return nil
		}
	}
	return goerr.Wrap(model.ErrHostNotAllowed, "host not in allow-list",
		goerr.V("host", u.Host))
}

func (c *Client) do(ctx context.Context, cred types.Credential, method, path string, query url.Values, body []byte, opts []ReqOption) (*Response, error) {
	cfg := reqConfig{retries: c.retries}
	for _, opt := range opts {
		opt(&cfg)
	}

	target, err := c.buildURL(path, query)
	if err != nil {
		return nil, err
	}

	backoff := c.backoffBase
	var lastErr error

	for attempt := 0; attempt <= cfg.retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to build request")
		}
		req.Header.Set("Private-Token", cred.Raw())
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if cfg.etag != "" {
			req.Header.Set("If-None-Match", cfg.etag)
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = goerr.Wrap(model.ErrNetwork, "request failed",
				goerr.V("cause", err.Error()))
			continue
		}

		resp, retryIn, err := c.handleResponse(httpResp)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if retryIn < 0 {
			return nil, lastErr
		}
		// Retry-After takes precedence over the computed backoff
		if retryIn > 0 {
			backoff = retryIn
		}
	}

	return nil, lastErr
}

// handleResponse classifies one response. retryIn < 0 means the failure is
// final; retryIn > 0 carries a server-requested delay for the next attempt.
func (c *Client) handleResponse(httpResp *http.Response) (*Response, time.Duration, error) {
	defer httpResp.Body.Close()

	rate := extractRateLimit(httpResp.Header)
	status := httpResp.StatusCode

	if status == http.StatusTooManyRequests || (status >= 500 && status <= 599) {
		raw, _ := io.ReadAll(httpResp.Body)
		retryIn := retryAfter(httpResp.Header)
		return nil, retryIn, &StatusError{
			Status:  status,
			Message: upstreamMessage(httpResp.Header, raw, status),
			Body:    raw,
		}
	}

	if status == http.StatusNoContent || status == http.StatusNotModified {
		return &Response{Status: status, RateLimit: rate}, 0, nil
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, -1, goerr.Wrap(model.ErrNetwork, "failed to read response body")
	}
	isJSON := strings.Contains(httpResp.Header.Get("Content-Type"), "application/json")

	if status >= 200 && status < 300 {
		return &Response{Status: status, Body: raw, IsJSON: isJSON, RateLimit: rate}, 0, nil
	}

	return nil, -1, &StatusError{
		Status:  status,
		Message: upstreamMessage(httpResp.Header, raw, status),
		Body:    raw,
	}
}

// upstreamMessage prefers a GitLab-supplied message field over raw body text
func upstreamMessage(h http.Header, body []byte, status int) string {
	if strings.Contains(h.Get("Content-Type"), "application/json") {
		var probe struct {
			Message any    `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(body, &probe); err == nil {
			if s, ok := probe.Message.(string); ok && s != "" {
				return s
			}
			if probe.Message != nil {
				if b, err := json.Marshal(probe.Message); err == nil {
					return string(b)
				}
			}
			if probe.Error != "" {
				return probe.Error
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return "GitLab error " + strconv.Itoa(status)
}

// retryAfter reads a Retry-After header in seconds; 0 means absent
func retryAfter(h http.Header) time.Duration {
	ra := h.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if n, err := strconv.Atoi(ra); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	// http-date form not parsed; fall back to a short wait
	return time.Second
}

func extractRateLimit(h http.Header) model.RateLimitInfo {
	parse := func(key string) int64 {
		n, err := strconv.ParseInt(h.Get(key), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return model.RateLimitInfo{
		Limit:     parse("RateLimit-Limit"),
		Remaining: parse("RateLimit-Remaining"),
		Reset:     parse("RateLimit-Reset"),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "cancelled while backing off")
	}
}

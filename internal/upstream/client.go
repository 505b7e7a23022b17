// Package upstream is the shared authenticated session to the rate-limited
// service that queued tasks call.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/turnstile/internal/task"
)

// KindFetch is the task kind name registered by Register.
const KindFetch = "fetch"

// maxErrorBody caps how much of a failed response is copied into the error.
const maxErrorBody = 512

// ErrNoToken is returned when a call is attempted before a token is set.
var ErrNoToken = errors.New("upstream token not set")

// StatusError is a non-2xx upstream response. It classifies itself, so text
// in the request path or response body is never mistaken for throttling.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// RateLimited reports whether the status is one the upstream uses for throttling.
func (e *StatusError) RateLimited() bool {
	return e.Code == http.StatusTooManyRequests || e.Code == http.StatusForbidden
}

// Client issues authenticated requests against the upstream base URL. The
// token is shared by every task and may be rotated at runtime.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for baseURL. A zero timeout leaves the
// request bounded only by the caller's context.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Register adds the client's task kinds to reg.
func (c *Client) Register(reg *task.Registry) {
	reg.Register(KindFetch, "GET params.path on the upstream with optional params.query and return the decoded JSON body", c.Fetch)
}

// Fetch is a task.Func. It reads params["path"] and the optional
// params["query"] object, performs a GET and returns the decoded JSON body.
// Throttling responses wrap task.ErrRateLimited so the queue retries them.
func (c *Client) Fetch(ctx context.Context, params task.Params) (any, error) {
	path := params.String("path")
	if path == "" {
		return nil, errors.New("fetch: path is required")
	}

	u, err := c.buildURL(path, params["query"])
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var out any
	if err := c.get(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	return out, nil
}

func (c *Client) buildURL(path string, query any) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("upstream base url not configured")
	}
	u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	if query != nil {
		m, ok := query.(map[string]any)
		if !ok {
			return "", errors.New("query must be an object")
		}
		q := u.Query()
		for k, v := range m {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	token := c.Token()
	if token == "" {
		return ErrNoToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if serr.RateLimited() {
			return fmt.Errorf("%w: %w", task.ErrRateLimited, serr)
		}
		return serr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

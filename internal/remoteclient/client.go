// Package remoteclient talks to the remote storage server over HTTP on
// behalf of the Operation Dispatcher. Every call is a whole-object
// operation: there is no partial read or partial write in the wire
// contract, matching the server's list/files/mkdir/rename/health surface.
package remoteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Kind classifies a failure the way the Operation Dispatcher needs to see
// it, so errors are mapped to an errno without string matching against a
// response body.
type Kind int

const (
	// KindIO covers anything that is not a clean "not found": connection
	// failures, non-2xx server responses other than 404, malformed
	// response bodies.
	KindIO Kind = iota
	// KindNotFound is produced for HTTP 404 responses.
	KindNotFound
	// KindInvalidName classifies a path component that cannot be
	// expressed as text on the wire. Nothing in this package constructs
	// it: the Dispatcher rejects such names before calling the Client.
	KindInvalidName
)

// Error wraps a remote-client failure with its Kind, so callers can type-
// switch via errors.As instead of matching strings.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("remoteclient: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("remoteclient: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Entry is one row of a directory listing, matching the server's JSON
// shape: {"name","is_dir","size","mtime","ctime","mode"}.
type Entry struct {
	Name  string  `json:"name"`
	IsDir bool    `json:"is_dir"`
	Size  uint64  `json:"size"`
	Mtime float64 `json:"mtime"`
	Ctime float64 `json:"ctime"`
	Mode  uint32  `json:"mode"`
}

type listResponse struct {
	Entries []Entry `json:"entries"`
}

type renameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Config controls Client construction.
type Config struct {
	// BaseURL is the remote server's root, e.g. "http://localhost:8080".
	BaseURL string
	// HTTPClient is used for every request. A zero value means
	// http.DefaultClient.
	HTTPClient *http.Client
	// Timeout bounds each individual HTTP call. Zero means 30 seconds,
	// matching the server-side contract this client was ported from.
	Timeout time.Duration
	// RateLimitHz, when positive, bounds the number of requests issued
	// per second across all calls on this Client.
	RateLimitHz float64
	// MaxConcurrentRequests, when positive, bounds the number of requests
	// in flight at once.
	MaxConcurrentRequests int64
}

// Client is the Remote Client component: it turns filesystem-shaped calls
// into HTTP requests against the remote object store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	sem        *semaphore.Weighted
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: hc,
		timeout:    timeout,
	}

	if cfg.RateLimitHz > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitHz), 1)
	}
	if cfg.MaxConcurrentRequests > 0 {
		c.sem = semaphore.NewWeighted(cfg.MaxConcurrentRequests)
	}

	return c
}

// encodePath turns a filesystem path such as "/a/b c" into a wire path
// with each component percent-encoded individually, preserving "/" as a
// separator. A component that cannot be expressed as text at all (e.g.
// contains an invalid UTF-8 byte sequence enforced upstream by the
// dispatcher) is still encoded byte-for-byte here; rejecting non-UTF8
// names is the Dispatcher's job per the invalid-name error kind.
func encodePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func (c *Client) acquire(ctx context.Context) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) release() {
	if c.sem != nil {
		c.sem.Release(1)
	}
}

func (c *Client) do(ctx context.Context, op, path, method, pathPrefix string, body io.Reader) (*http.Response, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, &Error{Kind: KindIO, Op: op, Path: path, Err: err}
	}
	defer c.release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + pathPrefix + encodePath(path)
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: op, Path: path, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: op, Path: path, Err: err}
	}
	return resp, nil
}

func classifyStatus(op, path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return &Error{Kind: KindNotFound, Op: op, Path: path, Err: fmt.Errorf("status %s", resp.Status)}
	}
	return &Error{Kind: KindIO, Op: op, Path: path, Err: fmt.Errorf("status %s", resp.Status)}
}

// HealthCheck reports whether the remote server is reachable and ready.
// The Mount Driver calls this before mounting; a failure here is a
// startup-failure and the daemon must not proceed to fuse.Mount.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, "health", "", http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyStatus("health", "", resp)
}

// List returns the directory entries at path.
func (c *Client) List(ctx context.Context, path string) ([]Entry, error) {
	resp, err := c.do(ctx, "list", path, http.MethodGet, "/list/", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classifyStatus("list", path, resp); err != nil {
		return nil, err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, &Error{Kind: KindIO, Op: "list", Path: path, Err: err}
	}
	return lr.Entries, nil
}

// ReadFile returns the whole contents of the file at path.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.do(ctx, "read", path, http.MethodGet, "/files/", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classifyStatus("read", path, resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// WriteFile replaces the whole contents of the file at path with data,
// creating it if it does not already exist.
func (c *Client) WriteFile(ctx context.Context, path string, data []byte) error {
	resp, err := c.do(ctx, "write", path, http.MethodPut, "/files/", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyStatus("write", path, resp)
}

// Mkdir creates a directory at path.
func (c *Client) Mkdir(ctx context.Context, path string) error {
	resp, err := c.do(ctx, "mkdir", path, http.MethodPost, "/mkdir/", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyStatus("mkdir", path, resp)
}

// Delete removes the file or empty directory at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, "delete", path, http.MethodDelete, "/files/", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyStatus("delete", path, resp)
}

// Rename moves from to to.
func (c *Client) Rename(ctx context.Context, from, to string) error {
	body, err := json.Marshal(renameRequest{From: from, To: to})
	if err != nil {
		return &Error{Kind: KindIO, Op: "rename", Path: from, Err: err}
	}

	if err := c.acquire(ctx); err != nil {
		return &Error{Kind: KindIO, Op: "rename", Path: from, Err: err}
	}
	defer c.release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rename", bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindIO, Op: "rename", Path: from, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindIO, Op: "rename", Path: from, Err: err}
	}
	defer resp.Body.Close()
	return classifyStatus("rename", from, resp)
}

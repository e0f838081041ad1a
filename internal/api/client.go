package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	httpTimeoutEnvKey  = "HOMESERVER_HTTP_TIMEOUT"
)

// Client is a simple HTTP client for the homeserver API. It keeps the
// session cookie handed out by Signup and SignIn.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: httpTimeoutFromEnv(), Jar: jar},
	}
}

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// Signup registers the key that signed authToken and opens a session.
func (c *Client) Signup(ctx context.Context, authToken []byte, signupToken string) (SessionResponse, error) {
	var resp SessionResponse
	query := url.Values{}
	if signupToken != "" {
		query.Set(SignupTokenParam, signupToken)
	}
	err := c.do(ctx, http.MethodPost, "/signup", query, bytes.NewReader(authToken), &resp)
	return resp, err
}

// SignIn opens a session for an existing user.
func (c *Client) SignIn(ctx context.Context, authToken []byte) (SessionResponse, error) {
	var resp SessionResponse
	err := c.do(ctx, http.MethodPost, "/session", nil, bytes.NewReader(authToken), &resp)
	return resp, err
}

// SignOut revokes the current session.
func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/session", nil, nil, nil)
}

// PutOptions are the optional upload declarations.
type PutOptions struct {
	ContentType string
	Length      int64 // sent as Content-Length when > 0
	Hash        string
}

// Put uploads body to path in owner's namespace. It reports whether the
// file was newly created.
func (c *Client) Put(ctx context.Context, owner, path string, body io.Reader, opts PutOptions) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.fileURL(owner, path), body)
	if err != nil {
		return false, err
	}
	if opts.Length > 0 {
		req.ContentLength = opts.Length
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.Hash != "" {
		req.Header.Set(HeaderContentHash, opts.Hash)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, decodeError(resp)
	}
	return resp.StatusCode == http.StatusCreated, nil
}

// Get opens the file at path. The caller closes the returned body.
func (c *Client) Get(ctx context.Context, owner, path string) (io.ReadCloser, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(owner, path), nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, nil, decodeError(resp)
	}
	return resp.Body, resp.Header, nil
}

// Delete removes the file at path.
func (c *Client) Delete(ctx context.Context, owner, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.fileURL(owner, path), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return nil
}

// List returns the pubky:// URLs under dir, which must end with "/".
func (c *Client) List(ctx context.Context, owner, dir string, q ListQuery) ([]string, error) {
	query := url.Values{}
	if q.Reverse {
		query.Set("reverse", "true")
	}
	if q.Shallow {
		query.Set("shallow", "true")
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		query.Set("cursor", q.Cursor)
	}
	endpoint := c.fileURL(owner, dir)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return []string{}, nil
	}
	return strings.Split(text, "\n"), nil
}

func (c *Client) fileURL(owner, path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return c.baseURL + "/" + url.PathEscape(owner) + "/" + strings.Join(segments, "/")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		apiErr.Code = errResp.Code
		apiErr.ErrorCode = errResp.ErrorCode
		apiErr.Message = errResp.Error
		return apiErr
	}
	apiErr.Message = fmt.Sprintf("api error: %s", resp.Status)
	return apiErr
}

func httpTimeoutFromEnv() time.Duration {
	value := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}

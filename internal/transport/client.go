// Package transport sends resolved requests to the system under test.
package transport

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

	"qguard/internal/template"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 30 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 10 << 20

// Response is a completed HTTP exchange.
type Response struct {
	Status   int           `json:"status"`
	Headers  http.Header   `json:"headers,omitempty"`
	Raw      []byte        `json:"-"`
	Body     interface{}   `json:"body,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Text returns the raw body as a string.
func (r *Response) Text() string {
	return string(r.Raw)
}

// Sender issues one request. It is implemented by Client and faked in tests.
type Sender interface {
	Send(ctx context.Context, baseURL string, req template.Resolved) (*Response, error)
}

// Client is an HTTP Sender with a fixed per-request timeout.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client. A zero timeout means DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Send issues req against baseURL. Transport failures are returned as
// errors; any HTTP status is a successful exchange.
func (c *Client) Send(ctx context.Context, baseURL string, req template.Resolved) (*Response, error) {
	target, err := BuildURL(baseURL, req.Path, req.Params)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s %s failed: %w", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &Response{
		Status:   resp.StatusCode,
		Headers:  resp.Header,
		Raw:      raw,
		Duration: time.Since(start),
	}
	out.Body = DecodeBody(raw)
	return out, nil
}

// DecodeBody decodes raw as JSON and returns nil when it is not JSON.
func DecodeBody(raw []byte) interface{} {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil
	}
	return decoded
}

// BuildURL joins path onto baseURL and adds params to the query string.
// An absolute path ignores baseURL.
func BuildURL(baseURL, path string, params map[string]string) (string, error) {
	raw := JoinURL(baseURL, path)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// JoinURL joins a base URL and a path with exactly one slash.
func JoinURL(baseURL, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if baseURL == "" {
		return path
	}
	if path == "" {
		return baseURL
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func encodeBody(body interface{}) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		if b == "" {
			return nil, "", nil
		}
		return strings.NewReader(b), "text/plain; charset=utf-8", nil
	case []byte:
		return bytes.NewReader(b), "application/octet-stream", nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/colthorp/portal-cache-go/internal/core"
)

// ErrEmptyPayload is returned when a request succeeds but carries no usable data.
var ErrEmptyPayload = errors.New("empty payload")

// APIError is returned when the portal API returns an error response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsAuth reports whether the error means the session is no longer valid.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusForbidden ||
		e.Message == core.SessionExpiredMessage
}

// IsAuthError reports whether err wraps an authentication failure.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuth()
}

// DecodeError is returned when a response body cannot be decoded.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Client is the HTTP wrapper around the portal REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	verbose    bool
}

// NewClient creates a new API client. The session cookie from cfg is placed
// in the client's cookie jar so every request carries credentials.
func NewClient(cfg *core.Config, verbose bool) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.APIBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if cfg.Session != "" {
		name := cfg.SessionCookie
		if name == "" {
			name = core.DefaultSessionCookie
		}
		jar.SetCookies(base, []*http.Cookie{{Name: name, Value: cfg.Session, Path: "/"}})
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &Client{
		baseURL: base.String(),
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		verbose: verbose,
	}, nil
}

// log writes a message to stderr if verbose mode is enabled.
func (c *Client) log(msg string) {
	core.Eprint(fmt.Sprintf("[API] %s", msg), c.verbose)
}

// Request performs a single request and returns the body of a 2xx response.
//
// Every request defeats intermediate HTTP caches. Retrying is left to the
// caller.
func (c *Client) Request(ctx context.Context, method, endpoint string, params map[string]string, body interface{}) ([]byte, error) {
	urlStr := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(endpoint, "/"))

	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		urlStr = fmt.Sprintf("%s?%s", urlStr, q.Encode())
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	c.log(fmt.Sprintf("%s %s", method, urlStr))

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
		c.log(fmt.Sprintf("Response: HTTP %d, %s", resp.StatusCode, apiErr.Message))
		return nil, apiErr
	}

	c.log(fmt.Sprintf("Response: HTTP %d, %d bytes", resp.StatusCode, len(data)))
	return data, nil
}

// errorMessage extracts the message of an error body, falling back to the
// raw text.
func errorMessage(body []byte) string {
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// IsVerbose returns whether verbose logging is enabled.
func (c *Client) IsVerbose() bool {
	return c.verbose
}

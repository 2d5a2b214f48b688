// Package client is a typed Go client for the ImpactHub API. Every call
// either returns the decoded data of a success envelope, a *RejectedError
// for a success=false envelope, or a *TransportError for everything else.
// Nothing is retried; callers re-fetch by calling again.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 10 << 20
	apiPrefix      = "/api/v1"
)

// Envelope is the body of every API response, typed per endpoint.
type Envelope[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data"`
	Message string    `json:"message,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"requestId,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit spaces outgoing requests to at most perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New builds a client for baseURL, e.g. "http://localhost:8080". The default
// HTTP client keeps cookies so the refresh token round-trips.
func New(baseURL string, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout, Jar: jar},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// call sends one request and decodes the envelope into T.
func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (T, error) {
	var zero T

	raw, status, header, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return zero, err
	}

	if status == http.StatusNoContent {
		return zero, nil
	}

	var env Envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, &TransportError{Op: method + " " + path, StatusCode: status, Err: fmt.Errorf("decode envelope: %w", err)}
	}

	if !env.Success {
		return zero, newRejected(status, header, env.Message, env.Error)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return zero, nil
	}

	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return zero, &TransportError{Op: method + " " + path, StatusCode: status, Err: fmt.Errorf("decode data: %w", err)}
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) ([]byte, int, http.Header, error) {
	op := method + " " + path

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, nil, &TransportError{Op: op, Err: err}
		}
	}

	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, nil, &TransportError{Op: op, Err: fmt.Errorf("encode body: %w", err)}
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, 0, nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, resp.Header, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	return raw, resp.StatusCode, resp.Header, nil
}

// sendRaw returns the body as-is for non-envelope responses such as CSV exports.
func (c *Client) sendRaw(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	raw, status, header, err := c.send(ctx, method, path, query, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		var env Envelope[json.RawMessage]
		if json.Unmarshal(raw, &env) == nil && !env.Success {
			return nil, newRejected(status, header, env.Message, env.Error)
		}
		return nil, &TransportError{Op: method + " " + path, StatusCode: status, Err: fmt.Errorf("unexpected status")}
	}
	return raw, nil
}

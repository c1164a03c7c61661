// Package remote talks to the remote dose-action handler and the push
// registry over HTTP. Every call goes through a circuit breaker so a dead
// backend is not hammered by the sync loop. Any 4xx answer other than 408
// and 429 means the backend is up and never trips the breaker; all of them
// except 404 are permanent.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// DefaultBasePath is the API prefix used when Client.BasePath is empty.
const DefaultBasePath = "/api/v1"

// ActionsPath is where the remote handler accepts dose actions, relative to
// the API base path.
const ActionsPath = "/dose-actions"

// StatusError is a non-2xx answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned %d", e.Code)
	}
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Body)
}

// Permanent reports whether retrying the same request cannot succeed. A 404
// is not: the dose may not be materialized on the remote side yet.
func (e *StatusError) Permanent() bool {
	return e.answered() && e.Code != http.StatusNotFound
}

// answered reports a client error from a healthy backend.
func (e *StatusError) answered() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

func isAnswered(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.answered()
}

// Client is an HTTP client for the remote handler.
type Client struct {
	BaseURL string
	// BasePath prefixes API routes; empty means DefaultBasePath.
	BasePath string
	HTTP     *http.Client
	Breaker  *gobreaker.CircuitBreaker
}

// New returns a client with a per-request timeout and a breaker that opens
// after five consecutive failures.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Breaker: NewBreaker("remote-actions"),
	}
}

// NewBreaker builds the breaker shared by the remote clients.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isAnswered(err)
		},
	})
}

// Send posts one action with its idempotency key.
func (c *Client) Send(ctx context.Context, req domain.ActionRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.api(ActionsPath), body, map[string]string{
		"Idempotency-Key": req.Key(),
	})
}

// Ping checks the remote health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) api(path string) string {
	base := strings.TrimRight(c.BasePath, "/")
	if c.BasePath == "" {
		base = DefaultBasePath
	}
	return base + path
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) error {
	_, err := c.Breaker.Execute(func() (interface{}, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, nil
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	})
	return err
}

package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned while an upstream's circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// StatusError is returned for upstream responses that are not 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// Client is an HTTP client for a single upstream. Requests go through a
// circuit breaker that opens after more than 5 consecutive failures.
type Client struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient returns a Client for the named upstream.
func NewClient(name string, timeout time.Duration) *Client {
	return NewClientWithSettings(HTTPClient(name, timeout), gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
}

// NewClientWithSettings allows tests to use their own http client and
// breaker settings.
func NewClientWithSettings(httpClient *http.Client, settings gobreaker.Settings) *Client {
	return &Client{
		client:  httpClient,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// Name is the upstream name.
func (c *Client) Name() string {
	return c.breaker.Name()
}

// State returns the breaker state, e.g. "closed" or "open".
func (c *Client) State() string {
	return c.breaker.State().String()
}

// Do executes req. 5xx and 429 responses count as failures and are returned
// as a *StatusError with the body already closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w (%s): %v", ErrCircuitOpen, c.breaker.Name(), err)
	}
	return resp, err
}

// GetJSON fetches url and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("failed to fetch %s: %w", c.Name(), &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.Name(), err)
	}
	return nil
}

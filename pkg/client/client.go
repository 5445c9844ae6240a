// Package client talks to a burrow status endpoint over HTTP, either a
// `burrow serve` instance or the API Gateway stage in front of the status
// function, and polls it until the server is up.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// ErrNotRunning is returned by Wait when the server never came up
var ErrNotRunning = errors.New("server is not running yet")

// APIError is a non-200 answer of the status endpoint
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status endpoint returned %d: %s", e.Code, e.Message)
}

// Client queries a status endpoint
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the endpoint at baseURL
// (e.g. "http://localhost:8080" or "https://abc.execute-api.us-east-1.amazonaws.com/dev")
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches GET /status
func (c *Client) Status(ctx context.Context) (*types.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &APIError{Code: resp.StatusCode, Message: msg}
	}

	var st types.Status
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &st, nil
}

// StatusFunc returns the current status. Client.Status and the local
// status service both satisfy it.
type StatusFunc func(ctx context.Context) (*types.Status, error)

// WaitOptions bounds Wait
type WaitOptions struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultWaitOptions covers a typical cold start of a few minutes
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		Attempts: 30,
		Delay:    5 * time.Second,
		MaxDelay: 30 * time.Second,
	}
}

// Wait polls fn with backoff until the status reports running
func Wait(ctx context.Context, fn StatusFunc, opts WaitOptions) (*types.Status, error) {
	logger := log.WithComponent("client")

	var last *types.Status
	err := retry.Do(
		func() error {
			st, err := fn(ctx)
			if err != nil {
				return err
			}
			last = st
			if !st.Running {
				return ErrNotRunning
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(opts.Attempts),
		retry.Delay(opts.Delay),
		retry.MaxDelay(opts.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var apiErr *APIError
			// Missing permissions will not fix themselves
			return !(errors.As(err, &apiErr) && apiErr.Code == http.StatusServiceUnavailable)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Debug().Err(err).Uint("attempt", attempt+1).Msg("waiting for server")
		}),
	)
	if err != nil {
		return last, err
	}
	return last, nil
}

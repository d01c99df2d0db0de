// Package remote provides the HTTP client for the meter-reading backend.
//
// The backend is an opaque request/response service; this client maps its
// endpoints and status codes onto the sync engine's error taxonomy. Every
// call is cancellable and bounded by a per-request timeout derived from
// the caller's context, so a session deadline always wins over the
// per-request budget.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gsm-fullweb/WaterMeterSync/internal/retry"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	BaseURL string

	// Token is the bearer token for the authenticated reader. May be
	// empty against the mock backend.
	Token string

	// RequestTimeout bounds each individual request (default 30s).
	RequestTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the meter-reading backend.
type Client struct {
	baseURL        string
	token          string
	requestTimeout time.Duration
	http           *http.Client
}

// NewClient creates a backend client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL cannot be empty")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base URL %q: %w", config.BaseURL, err)
	}
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		token:          config.Token,
		requestTimeout: timeout,
		http:           httpClient,
	}, nil
}

// Health checks the backend health endpoint. Used by the connectivity
// monitor's probe source.
func (c *Client) Health(ctx context.Context) error {
	var out struct{}
	return c.do(ctx, http.MethodGet, "/healthz", nil, &out)
}

// FetchRouteGraph retrieves the full assignment graph for a reader.
func (c *Client) FetchRouteGraph(ctx context.Context, readerID string) (*RouteGraph, error) {
	if readerID == "" {
		return nil, fmt.Errorf("reader ID cannot be empty")
	}
	var graph RouteGraph
	path := fmt.Sprintf("/api/v1/readers/%s/route-graph", url.PathEscape(readerID))
	if err := c.do(ctx, http.MethodGet, path, nil, &graph); err != nil {
		return nil, fmt.Errorf("failed to fetch route graph: %w", err)
	}
	return &graph, nil
}

// InsertReading submits one captured reading and returns the remote ID
// the backend assigned to it.
func (c *Client) InsertReading(ctx context.Context, payload ReadingPayload) (string, error) {
	var resp insertResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/readings", payload, &resp); err != nil {
		return "", fmt.Errorf("failed to insert reading %s: %w", payload.ReadingID, err)
	}
	if resp.ID == "" {
		return "", retry.Classified(retry.KindTerminal,
			fmt.Errorf("backend accepted reading %s without assigning an ID", payload.ReadingID))
	}
	return resp.ID, nil
}

// UpdateReadingStatus updates the backend-side status of a reading.
func (c *Client) UpdateReadingStatus(ctx context.Context, remoteID, status string) error {
	if remoteID == "" {
		return fmt.Errorf("remote ID cannot be empty")
	}
	body := map[string]string{"status": status}
	path := fmt.Sprintf("/api/v1/readings/%s/status", url.PathEscape(remoteID))
	var out struct{}
	if err := c.do(ctx, http.MethodPatch, path, body, &out); err != nil {
		return fmt.Errorf("failed to update status of reading %s: %w", remoteID, err)
	}
	return nil
}

// do performs one request with the per-request timeout applied, decoding
// a JSON response into out when the body is non-empty.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return retry.Classified(retry.KindTerminal, fmt.Errorf("failed to encode request body: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return retry.Classified(retry.KindTerminal, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(ctx, fmt.Errorf("failed to read response body: %w", err))
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return retry.Classified(retry.KindTerminal, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// transportError maps request failures onto the taxonomy. A per-request
// deadline that fired while the caller's context is still live is a
// transient timeout; if the caller's context itself is done, that
// cancellation wins.
func (c *Client) transportError(parent context.Context, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return parentErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Classified(retry.KindTransient,
			fmt.Errorf("request timed out after %v: %w", c.requestTimeout, err))
	}
	return err
}

// classifyStatus turns a non-2xx response into a classified APIError.
// 408, 429, and 5xx are worth retrying; other 4xx are terminal.
func classifyStatus(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(data) > 0 {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			if payload.Error != "" {
				apiErr.Message = payload.Error
			} else {
				apiErr.Message = payload.Message
			}
		}
	}

	kind := retry.KindTerminal
	if resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= 500 {
		kind = retry.KindTransient
	}
	return retry.Classified(kind, apiErr)
}

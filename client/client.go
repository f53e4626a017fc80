// Package client provides a Go client for a remote calshift server
// over its HTTP API.
//
// Usage:
//
//	c := client.New("http://calshift.internal:8080")
//
//	// Submit a migration batch.
//	run, err := c.SubmitBatch(ctx, table)
//
//	// Poll its status.
//	status, err := c.MigrationStatus(ctx, run.ID)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a remote calshift server.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// New creates a client for the server at baseURL, e.g.
// "http://localhost:8080". The trailing slash is optional.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is returned for any non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string

	// Lines holds the one-based indexes of malformed table rows when a
	// batch submission is rejected.
	Lines []int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calshift/client: server returned %d: %s", e.StatusCode, e.Message)
}

// errorBody mirrors the server's error response shape.
type errorBody struct {
	Error string `json:"error"`
	Lines []int  `json:"lines,omitempty"`
}

// do issues a request and decodes the JSON response into out. A nil out
// discards the body. Non-2xx responses are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("calshift/client: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("calshift/client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("calshift/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("calshift/client: decode response: %w", err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		apiErr.Message = resp.Status
		return apiErr
	}
	var body errorBody
	if jsonErr := json.Unmarshal(data, &body); jsonErr != nil || body.Error == "" {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	apiErr.Message = body.Error
	apiErr.Lines = body.Lines
	return apiErr
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

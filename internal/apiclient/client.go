package apiclient

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

	"vidflow/internal/api"
)

const defaultTimeout = 10 * time.Second

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Kind)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// Client talks to the daemon's HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	// stream has no overall timeout; event streams stay open.
	stream *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
			c.stream = hc
		}
	}
}

// New builds a client for the daemon at addr. addr may be a host:port pair
// or a full URL.
func New(addr, token string, opts ...Option) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		baseURL: base,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: defaultTimeout},
		stream:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized daemon address.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateFlow submits a URL for processing.
func (c *Client) CreateFlow(ctx context.Context, req api.CreateFlowRequest) (*api.CreateFlowResponse, error) {
	var resp api.CreateFlowResponse
	if err := c.do(ctx, http.MethodPost, "/api/flows", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListFlows returns known flows, optionally filtered by status.
func (c *Client) ListFlows(ctx context.Context, statuses ...string) ([]api.Flow, error) {
	path := "/api/flows"
	if len(statuses) > 0 {
		path += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var resp api.FlowListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetFlow returns one flow.
func (c *Client) GetFlow(ctx context.Context, taskID string) (*api.Flow, error) {
	var resp api.FlowResponse
	if err := c.do(ctx, http.MethodGet, flowPath(taskID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// RemoveFlow cancels a flow and deletes its files.
func (c *Client) RemoveFlow(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, flowPath(taskID), nil, nil)
}

// RetryFlow resumes a failed flow at the stage that failed.
func (c *Client) RetryFlow(ctx context.Context, taskID string) (*api.Flow, error) {
	var resp api.FlowResponse
	if err := c.do(ctx, http.MethodPost, flowPath(taskID)+"/retry", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health reports whether the daemon is up and processing.
func (c *Client) Health(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func flowPath(taskID string) string {
	return "/api/flows/" + url.PathEscape(strings.TrimSpace(taskID))
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{Status: resp.StatusCode}
	var body api.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// Package client is a Go client for the fleetd HTTP API.
package client

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

	httpapi "github.com/fyrsmithlabs/fleetd/internal/http"
	"github.com/fyrsmithlabs/fleetd/internal/monitor"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// DefaultTimeout covers a full pipeline run on a local model.
const DefaultTimeout = 5 * time.Minute

// APIError is a non-2xx reply from fleetd.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned status %d (%s): %s", e.Status, e.Kind, e.Message)
}

// Client calls a fleetd server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL. A non-positive timeout uses
// DefaultTimeout.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*httpapi.HealthResponse, error) {
	var out httpapi.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat sends one message on a thread.
func (c *Client) Chat(ctx context.Context, req httpapi.ChatRequest) (*httpapi.ChatResponse, error) {
	var out httpapi.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Thread fetches a stored thread.
func (c *Client) Thread(ctx context.Context, threadID string) (*transcript.Thread, error) {
	var out transcript.Thread
	if err := c.do(ctx, http.MethodGet, "/api/v1/threads/"+url.PathEscape(threadID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Alerts lists recent proactive alerts.
func (c *Client) Alerts(ctx context.Context) ([]monitor.Alert, error) {
	var out []monitor.Alert
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TriggerCheck runs a proactive check for vehicleID, or for the whole
// fleet when vehicleID is empty.
func (c *Client) TriggerCheck(ctx context.Context, vehicleID string) (*httpapi.TriggerResponse, error) {
	var body interface{}
	if vehicleID != "" {
		body = httpapi.TriggerRequest{VehicleID: vehicleID}
	}
	var out httpapi.TriggerResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/trigger_check", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckVehicle implements monitor.Checker against the remote server.
func (c *Client) CheckVehicle(ctx context.Context, vehicleID string) (*monitor.Alert, error) {
	resp, err := c.TriggerCheck(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if len(resp.Alerts) == 0 {
		return nil, nil
	}
	return &resp.Alerts[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var er httpapi.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Kind = er.Error
			apiErr.Message = er.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Package client is a Go SDK for the session server's REST and
// WebSocket surfaces.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/psp/server"
	"github.com/hazyhaar/psp/session"
	"github.com/hazyhaar/psp/store"
	"github.com/hazyhaar/psp/workflow"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: server returned %d: %s", e.Status, e.Message)
}

// Client talks to one session server.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("client: decode response: %w", err)
		}
	}
	return nil
}

// Health reports whether the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// CreateSession opens a new browser session.
func (c *Client) CreateSession(ctx context.Context, opts server.CreateOptions) (server.SessionMeta, error) {
	var meta server.SessionMeta
	err := c.do(ctx, http.MethodPost, "/api/sessions", opts, &meta)
	return meta, err
}

// ListSessions returns every live session.
func (c *Client) ListSessions(ctx context.Context) ([]server.SessionMeta, error) {
	var out struct {
		Sessions []server.SessionMeta `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out)
	return out.Sessions, err
}

// GetSession returns one live session's metadata.
func (c *Client) GetSession(ctx context.Context, id string) (server.SessionMeta, error) {
	var meta server.SessionMeta
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+id, nil, &meta)
	return meta, err
}

// CloseSession shuts a live session down.
func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+id, nil, nil)
}

// Capture snapshots the session's state. With save set, the snapshot is
// persisted server-side under the returned snapshot ID.
func (c *Client) Capture(ctx context.Context, id string, save bool, name string) (*server.CaptureResult, error) {
	var res server.CaptureResult
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/capture",
		map[string]any{"save": save, "name": name}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RestoreSnapshot applies a persisted snapshot to the session.
func (c *Client) RestoreSnapshot(ctx context.Context, id, snapshotID string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/restore",
		map[string]string{"snapshotId": snapshotID}, nil)
}

// RestoreState applies an inline state to the session.
func (c *Client) RestoreState(ctx context.Context, id string, st *session.State) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/restore",
		map[string]any{"state": st}, nil)
}

// Navigate moves the session's page to url.
func (c *Client) Navigate(ctx context.Context, id, url string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/navigate",
		map[string]string{"url": url}, nil)
}

// Click clicks the element addressed by a CSS selector.
func (c *Client) Click(ctx context.Context, id, selector string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/click",
		map[string]string{"selector": selector}, nil)
}

// Fill types a value into the element addressed by a CSS selector.
func (c *Client) Fill(ctx context.Context, id, selector, value string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/fill",
		map[string]string{"selector": selector, "value": value}, nil)
}

// Screenshot returns the session's page rendered as PNG.
func (c *Client) Screenshot(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/sessions/"+id+"/screenshot", nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: screenshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	return io.ReadAll(resp.Body)
}

// StartRecording arms the session's interaction recorder.
func (c *Client) StartRecording(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/record/start", nil, nil)
}

// StopRecording drains the recorder and returns the trace.
func (c *Client) StopRecording(ctx context.Context, id string) ([]session.Event, error) {
	var out struct {
		Events []session.Event `json:"events"`
	}
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/record/stop", nil, &out)
	return out.Events, err
}

// ReplayFailure is one trace event the server could not replay.
type ReplayFailure struct {
	Index  int    `json:"index"`
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
	Error  string `json:"error"`
}

// Replay plays a trace against the session. Nil events replay the
// session's own recording; a non-nil speed scales pacing (0 disables it).
func (c *Client) Replay(ctx context.Context, id string, events []session.Event, speed *float64) ([]ReplayFailure, error) {
	body := map[string]any{}
	if events != nil {
		body["events"] = events
	}
	if speed != nil {
		body["speed"] = *speed
	}
	var out struct {
		Failures []ReplayFailure `json:"failures"`
	}
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/replay", body, &out)
	return out.Failures, err
}

// RunWorkflow executes a workflow against the session. Step results are
// returned even when a step failed; the failure is reported in err.
func (c *Client) RunWorkflow(ctx context.Context, id string, wf workflow.Workflow) ([]workflow.StepResult, error) {
	var out struct {
		Results []workflow.StepResult `json:"results"`
		Error   string                `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/workflow", wf, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return out.Results, fmt.Errorf("client: workflow: %s", out.Error)
	}
	return out.Results, nil
}

// ListSnapshots returns the metadata of every persisted snapshot.
func (c *Client) ListSnapshots(ctx context.Context) ([]store.Meta, error) {
	var out struct {
		Snapshots []store.Meta `json:"snapshots"`
	}
	err := c.do(ctx, http.MethodGet, "/api/snapshots", nil, &out)
	return out.Snapshots, err
}

// GetSnapshot returns a persisted snapshot and its metadata.
func (c *Client) GetSnapshot(ctx context.Context, id string) (*session.State, *store.Meta, error) {
	var out struct {
		Meta  store.Meta     `json:"meta"`
		State *session.State `json:"state"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/snapshots/"+id, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.State, &out.Meta, nil
}

// DeleteSnapshot removes a persisted snapshot.
func (c *Client) DeleteSnapshot(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/snapshots/"+id, nil, nil)
}

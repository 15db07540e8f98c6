// Package apiclient is archflowctl's thin HTTP client for archflow's
// control-plane API (internal/httpapi), grounded on
// internal/commands/run/command.go --daemon submission path (a CLI
// subcommand talking to a running daemon over HTTP instead of
// executing in-process).
package apiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal archflow HTTP API client.
type Client struct {
	BaseURL string
	HTTP *http.Client
}

// New constructs a Client against baseURL (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{Timeout: 30 * time.Second},
	}
}

// RunResponse is POST /api/flows/{id}/run's body.
type RunResponse struct {
	RunID string `json:"runId"`
	Status string `json:"status"`
	Output any `json:"output,omitempty"`
}

// StatusResponse is GET /api/runs/{runId}/status's body.
type StatusResponse struct {
	Status string `json:"status"`
	CompletedSteps []string `json:"completedSteps"`
	FailedSteps []string `json:"failedSteps"`
	Output any `json:"output,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// StatusError is returned by the client's request helpers when the
// server answers with a non-2xx status, so callers (archflowctl's
// subcommands) can classify it against internal/cli/exit's codes
// without string-matching the message.
type StatusError struct {
	Path string
	StatusCode int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apiclient: %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(buf.String())}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RunFlow starts workflowID with input/params, returning the runId
// archflow assigned (POST /api/flows/{id}/run).
func (c *Client) RunFlow(ctx context.Context, workflowID string, input, params any) (RunResponse, error) {
	var out RunResponse
	body := map[string]any{"input": input, "params": params}
	err := c.postJSON(ctx, fmt.Sprintf("/api/flows/%s/run", workflowID), body, &out)
	return out, err
}

// ResumeFlow resumes a suspended run (POST
// /api/flows/{id}/resume).
func (c *Client) ResumeFlow(ctx context.Context, workflowID, resumeToken string, userData any) (RunResponse, error) {
	var out RunResponse
	body := map[string]any{"resumeToken": resumeToken, "userData": userData}
	err := c.postJSON(ctx, fmt.Sprintf("/api/flows/%s/resume", workflowID), body, &out)
	return out, err
}

// PauseFlow pauses an in-flight run.
func (c *Client) PauseFlow(ctx context.Context, workflowID string) error {
	return c.postJSON(ctx, fmt.Sprintf("/api/flows/%s/pause", workflowID), nil, nil)
}

// StopFlow stops an in-flight run.
func (c *Client) StopFlow(ctx context.Context, workflowID string) error {
	return c.postJSON(ctx, fmt.Sprintf("/api/flows/%s/stop", workflowID), nil, nil)
}

// Status fetches a run's current status (GET
// /api/runs/{runId}/status).
func (c *Client) Status(ctx context.Context, runID string) (StatusResponse, error) {
	var out StatusResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/runs/"+runID+"/status", nil)
	if err != nil {
		return out, fmt.Errorf("apiclient: build request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return out, fmt.Errorf("apiclient: status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return out, &StatusError{Path: "status", StatusCode: resp.StatusCode, Body: strings.TrimSpace(buf.String())}
	}
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

// StreamEvents opens the SSE event stream for runID and calls onEvent
// for each "event: <type>\ndata: <payload>" frame until ctx is
// cancelled or the server ends the stream (GET
// /api/runs/{runId}/events).
func (c *Client) StreamEvents(ctx context.Context, runID string, onEvent func(eventType, data string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/runs/"+runID+"/events", nil)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: events: %w", err)
	}
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			onEvent(eventType, strings.TrimPrefix(line, "data: "))
			if eventType == "end" {
				return nil
			}
		case line == "":
			// blank line separates frames; nothing to do
		}
	}
	return scanner.Err()
}

package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFlowDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/flows/demo/run", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(RunResponse{RunID: "flow_abc", Status: "running"})
	}))
	defer srv.Close()
	c := New(srv.URL)
	resp, err := c.RunFlow(context.Background(), "demo", map[string]any{"x": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "flow_abc", resp.RunID)
	assert.Equal(t, "running", resp.Status)
}

func TestRunFlowReturnsStatusErrorOnNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"unknown workflow"}`))
	}))
	defer srv.Close()
	c := New(srv.URL)
	_, err := c.RunFlow(context.Background(), "missing", nil, nil)
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestStatusDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/runs/flow_abc/status", r.URL.Path)
		json.NewEncoder(w).Encode(StatusResponse{Status: "completed", CompletedSteps: []string{"a", "b"}})
	}))
	defer srv.Close()
	c := New(srv.URL)
	st, err := c.Status(context.Background(), "flow_abc")
	require.NoError(t, err)
	assert.Equal(t, "completed", st.Status)
	assert.Equal(t, []string{"a", "b"}, st.CompletedSteps)
}

func TestStreamEventsInvokesCallbackPerFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("event: step.completed\ndata: {\"step\":\"a\"}\n\n"))
		w.Write([]byte("event: end\ndata: {}\n\n"))
	}))
	defer srv.Close()
	c := New(srv.URL)
	var events []string
	err := c.StreamEvents(context.Background(), "flow_abc", func(eventType, data string) {
		events = append(events, eventType)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"step.completed", "end"}, events)
}

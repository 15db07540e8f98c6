package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJSONRoundTrip(t *testing.T) {
	e := New(DomainTool, TypeToolStart, "tool_abc123_000", map[string]any{
		"toolName": "search",
		"toolCallId": "call-1",
		"input": map[string]any{"query": "weather"},
	})
	e.CorrelationID = "corr-1"
	e.Sequence = 5
	e.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out Event
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if out.Domain != e.Domain || out.Type != e.Type || out.ExecutionID != e.ExecutionID {
		t.Errorf("envelope mismatch: got %+v, want %+v", out, e)
	}
	if out.CorrelationID != e.CorrelationID || out.Sequence != e.Sequence {
		t.Errorf("correlation/sequence mismatch: got %+v, want %+v", out, e)
	}
	if !out.Timestamp.Equal(e.Timestamp) {
		t.Errorf("timestamp mismatch: got %v, want %v", out.Timestamp, e.Timestamp)
	}
	if out.Data["toolName"] != "search" {
		t.Errorf("data not preserved: %+v", out.Data)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	d := ChatDelta("flow_a_000", "hi", 0)
	if d.Domain != DomainChat || d.Type != TypeDelta {
		t.Errorf("ChatDelta envelope wrong: %+v", d)
	}
	s := InteractionSuspend("flow_a_001", "waiting on human", "tok-1", 60000)
	if s.Data["resumeToken"] != "tok-1" {
		t.Errorf("InteractionSuspend data wrong: %+v", s.Data)
	}
}

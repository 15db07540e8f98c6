package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/archflow/archflow/pkg/execid"
)

const heartbeatInterval = 15 * time.Second

// handleEvents streams a run's ArchflowEvents as Server-Sent Events
// ("each event is `event: <type>\ndata: <json>\n\n`"),
// grounded on EventsHandler.StreamEvents (http.Flusher,
// ticker heartbeat, ctx.Done() disconnect detection), sourced from the
// run's pkg/streaming.Emitter instead of the SQLite trace
// store.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	if s.streams == nil {
		http.Error(w, "event streaming not configured", http.StatusServiceUnavailable)
		return
	}
	emitter, ok := s.streams.Lookup(runID)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown run %q", runID), http.StatusNotFound)
		return
	}

	subscriberID, err := execid.NewRoot(execid.KindChain)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	events := emitter.Subscribe(subscriberID.String())
	defer emitter.Unsubscribe(subscriberID.String())

	ctx := r.Context()

	fmt.Fprintf(w, "event: connected\ndata: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-events:
			if !open {
				fmt.Fprintf(w, "event: end\ndata: {\"type\":\"end\"}\n\n")
				flusher.Flush()
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				s.logger.Warn("httpapi: failed to marshal event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {\"type\":\"heartbeat\"}\n\n")
			flusher.Flush()
		}
	}
}

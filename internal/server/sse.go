package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fotad.sh/internal/events"
	"fotad.sh/internal/metrics"
)

// sseBufferSize is the per-connection event backlog. Events are coarse
// (per-router, per-batch), so a healthy client never comes close; a client
// that stalls this far behind is dropped instead of buffered forever.
const sseBufferSize = 64

// handleEvents streams update events to one subscriber. A jobId query
// parameter scopes the stream to that job; without it the client sees
// everything, which is what the dashboard wants.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	eventCh := make(chan events.UpdateEvent, sseBufferSize)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	// The bus delivers synchronously on the publisher's goroutine, so the
	// handler must never block: buffer or declare the client stalled.
	forward := func(ev events.UpdateEvent) {
		select {
		case eventCh <- ev:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	}

	jobID := r.URL.Query().Get("jobId")
	var unsubscribe func()
	if jobID != "" {
		unsubscribe = s.bus.Subscribe(jobID, forward)
	} else {
		unsubscribe = s.bus.SubscribeAll(forward)
	}
	defer unsubscribe()

	metrics.SSEClientsConnected.Inc()
	defer metrics.SSEClientsConnected.Dec()
	s.logger.Debug("sse client connected", "job_id", jobID, "remote_addr", r.RemoteAddr)

	fmt.Fprintf(w, ": connected %s\n\n", time.Now().UTC().Format(time.RFC3339))
	flusher.Flush()

	heartbeat := time.NewTicker(s.cfg.SSEHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("sse client disconnected", "job_id", jobID)
			return
		case <-overflow:
			s.logger.Warn("dropping stalled sse client", "job_id", jobID, "remote_addr", r.RemoteAddr)
			return
		case ev := <-eventCh:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("marshal event", "type", ev.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

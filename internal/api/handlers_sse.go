package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const sseHeartbeat = 30 * time.Second

// handleSSEStream streams poller events from the hub.
// Query params:
//   - retry: reconnection delay in ms (optional)
func (s *Server) handleSSEStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // for nginx

	if retry := r.URL.Query().Get("retry"); retry != "" {
		fmt.Fprintf(w, "retry: %s\n\n", retry)
	}

	ch, unsubscribe := s.hub.Subscribe(s.opts.Stream, 64)
	defer unsubscribe()

	StreamClients.WithLabelValues("sse").Inc()
	defer StreamClients.WithLabelValues("sse").Dec()

	fmt.Fprintf(w, ": connected to stream %s\n\n", s.opts.Stream)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID != "" {
				fmt.Fprintf(w, "id: %s\n", ev.ID)
			}
			if ev.Event != "" {
				fmt.Fprintf(w, "event: %s\n", ev.Event)
			}
			// Each payload line needs its own data: prefix.
			for _, line := range strings.Split(string(ev.Data), "\n") {
				fmt.Fprintf(w, "data: %s\n", line)
			}
			fmt.Fprint(w, "\n")
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

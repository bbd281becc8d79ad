package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sleuth/internal/logging"
)

// LogSink writes events to the events log category.
func LogSink() Broadcaster {
	return BroadcasterFunc(func(ev Event) {
		if ev.Type == FindingAdded || ev.Type == SessionCheckpointed {
			logging.EventsDebug("[%s #%d] %s node=%s", ev.SessionID, ev.Seq, ev.Type, ev.NodeID)
			return
		}
		logging.Events("[%s #%d] %s node=%s", ev.SessionID, ev.Seq, ev.Type, ev.NodeID)
	})
}

// SSEHandler streams bus events to HTTP clients as server-sent events.
// A session_id query parameter limits the stream to one session.
func SSEHandler(bus *Bus) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		filter := r.URL.Query().Get("session_id")

		ch, unsubscribe := bus.Subscribe()
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepAlive := time.NewTicker(15 * time.Second)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if filter != "" && ev.SessionID != filter {
					continue
				}
				data, err := json.Marshal(ev)
				if err != nil {
					logging.Get(logging.CategoryEvents).Warn("Failed to encode event %d: %v", ev.Seq, err)
					continue
				}
				if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

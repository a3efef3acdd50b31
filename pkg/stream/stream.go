// Package stream is the Stream Gateway module (spec §4.5): a
// Server-Sent-Events handler that subscribes a connected dashboard client
// to the Event Bus and forwards events until the client disconnects.
//
// Ported from tarsy's events.ConnectionManager.HandleConnection
// (pkg/events/manager.go) — one goroutine owns the connection end-to-end,
// from registration through to cleanup — but adapted from a bidirectional
// WebSocket read/write loop to a one-directional http.Flusher write loop.
// An SSE stream has no client→server messages, so there is no analogue to
// a client-message dispatch loop; the entire handler is the write side.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/bus"
)

// keepAlive is how often a comment frame is sent to hold the connection
// open through idle proxies (spec §4.5).
const keepAlive = 15 * time.Second

// resyncEvent is the synthetic event type emitted when a subscriber's
// envelope reports dropped events, telling the client to re-fetch baseline
// state instead of trusting its local incremental view (spec §4.5).
const resyncEvent = "resync"

// connectedEvent is the synthetic event type emitted once, immediately
// after a client subscribes (spec §4.5).
const connectedEvent = "connected"

// Gateway serves GET /api/stream by subscribing to a Bus and forwarding
// its events as framed SSE records.
type Gateway struct {
	bus *bus.Bus
	log *slog.Logger
}

// New wires a Gateway against bus b.
func New(b *bus.Bus) *Gateway {
	return &Gateway{
		bus: b,
		log: slog.Default().With("component", "stream"),
	}
}

// ServeHTTP implements http.Handler. It blocks for the lifetime of the
// connection: until the request context is cancelled (client disconnect)
// or a write to the client fails, at which point the server gives up
// without retrying (spec §4.5).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := g.bus.Subscribe()
	defer g.bus.Unsubscribe(sub)

	if err := writeFrame(w, string(connectedEvent), map[string]string{"status": "connected"}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			if env.Dropped > 0 {
				if err := writeFrame(w, resyncEvent, map[string]int{"dropped": env.Dropped}); err != nil {
					return
				}
			}
			if err := writeFrame(w, string(env.Event.Type), env.Event); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ":\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeFrame writes a single SSE record: "event:<type>\ndata:<json>\n\n"
// (spec §4.5/§6). The caller is responsible for flushing.
func writeFrame(w http.ResponseWriter, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	_, err = fmt.Fprintf(w, "event:%s\ndata:%s\n\n", eventType, data)
	return err
}

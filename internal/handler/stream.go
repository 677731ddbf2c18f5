package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclear/tradecore/internal/events"
)

const (
	streamBuffer  = 256
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// StreamHandler serves the lifecycle event feed over a websocket. Each
// connection gets its own buffered subscription; a client that cannot
// keep up misses events rather than stalling the engine.
type StreamHandler struct {
	bus      *events.Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(bus *events.Bus, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Stream handles GET /stream. Optional type query parameters filter the
// feed, e.g. /stream?type=trade.executed&type=order.filled.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}
	defer conn.Close()

	wanted := make(map[events.Type]bool)
	for _, t := range r.URL.Query()["type"] {
		wanted[events.Type(t)] = true
	}

	ch, cancel := h.bus.Subscribe(streamBuffer)
	defer cancel()

	// Reader goroutine: discard client messages, surface the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if len(wanted) > 0 && !wanted[e.Type] {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("stream subscriber gone",
					slog.String("remote", conn.RemoteAddr().String()),
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

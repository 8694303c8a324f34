package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/bardlex/promine/internal/messaging"
	"github.com/bardlex/promine/pkg/errors"
	"github.com/bardlex/promine/pkg/log"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

type client struct {
	send chan []byte
}

// Hub pushes every published event to the connected websocket clients.
// Slow clients miss events rather than stall the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  chan struct{}
	once    sync.Once
	logger  *log.Logger
}

// NewHub creates an empty hub
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		closed:  make(chan struct{}),
		logger:  logger.WithComponent("websocket_hub"),
	}
}

// Publish broadcasts e as a JSON text frame
func (h *Hub) Publish(_ context.Context, e *messaging.Event) error {
	data, err := messaging.Encode(e, messaging.EncodingJSON)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "websocket_publish", "failed to encode event")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("dropped event for slow clients", "event_type", string(e.Kind), "clients", dropped)
	}
	return nil
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.once.Do(func() { close(h.closed) })
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	c := &client{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "remote_addr", r.RemoteAddr, "clients", h.Clients())

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		h.logger.Debug("websocket client disconnected", "remote_addr", r.RemoteAddr)
	}()

	// Clients only listen; CloseRead handles control frames and reports the
	// client going away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closed:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

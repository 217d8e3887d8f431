// Package server coordinates client registration, presence broadcast, and
// connection cleanup for the GoChat WebSocket system via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/events"
)

// Hub tracks every connected client and broadcasts presence updates to all
// of them. Room traffic does not pass through the hub; the room router
// delivers it to members directly.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *slog.Logger
}

var _ events.Sink = (*Hub)(nil)

// NewHub creates and initializes a new Hub instance with all necessary channels
// and client map. The returned Hub is ready to manage WebSocket connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and presence broadcasting. It returns once Shutdown is
// called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("Received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			h.clients[client] = struct{}{}
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client registered", "conn_id", client.ID(), "remote_addr", client.addr, "clients", clientCount)

			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				if err := client.run(h.ctx); err != nil {
					client.logger.Warn("Client session ended with error", "error", err)
				}
				h.Unregister(client)
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				clientCount := len(h.clients)
				h.mutex.Unlock()
				h.logger.Info("Client unregistered", "conn_id", client.ID(), "remote_addr", client.addr, "clients", clientCount)
			} else {
				h.mutex.Unlock()
			}

		case payload := <-h.broadcast:
			h.handleBroadcast(payload)
		}
	}
}

// Register hands an authenticated client to the hub, which admits it and
// runs its pumps. It reports false when the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Presence broadcasts a presence-update to every connected client.
func (h *Hub) Presence(ctx context.Context, roster []chat.RosterEntry) {
	payload, err := json.Marshal(presenceEvent(roster))
	if err != nil {
		h.logger.Error("Failed to encode presence update", "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.ctx.Done():
	case <-ctx.Done():
	}
}

// Message is a no-op; room messages are delivered by the room router.
func (h *Hub) Message(context.Context, chat.Message) {}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// handleBroadcast sends the payload to all clients and drops the ones whose
// buffer is full.
func (h *Hub) handleBroadcast(payload []byte) {
	clients := h.getClientSnapshot()
	h.logger.Debug("Broadcasting presence update", "clients", len(clients))

	var clientsToRemove []*Client
	for _, client := range clients {
		if err := client.enqueueRaw(payload); err != nil {
			clientsToRemove = append(clientsToRemove, client)
		}
	}
	h.removeFailedClients(clientsToRemove)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients forgets clients that could not take a broadcast. They
// are already closing and release themselves once their pumps stop.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			h.logger.Info("Client removed from hub", "conn_id", client.ID(), "remote_addr", client.addr)
		}
	}
}

// shutdownClients signals every client to close. Each client's write pump
// sends a going-away close frame.
func (h *Hub) shutdownClients() {
	h.logger.Info("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	h.logger.Info("Signalled client connections to close", "clients", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

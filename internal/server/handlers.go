// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the history and roster endpoints.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/gatekeeper"
	"github.com/Tyrowin/gochat/internal/room"
)

// Handler serves the HTTP and WebSocket surface of the chat core.
type Handler struct {
	config     Config
	hub        *Hub
	gatekeeper *gatekeeper.Gatekeeper
	router     *room.Router
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHandler creates a Handler. The hub must be running before clients
// connect.
func NewHandler(cfg Config, hub *Hub, gk *gatekeeper.Gatekeeper, router *room.Router, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Sanitize()
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	return &Handler{
		config:     cfg,
		hub:        hub,
		gatekeeper: gk,
		router:     router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger: logger,
	}
}

// credentialFromRequest returns the bearer token of the Authorization header,
// falling back to the token query parameter.
func credentialFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// WebSocketHandler authenticates and upgrades a connection, then hands it to
// the hub. A credential carried by the request is verified before upgrading;
// otherwise the first frame must be an auth event sent within the handshake
// timeout.
func (h *Handler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	credential := credentialFromRequest(r)

	var identity chat.Identity
	if credential != "" {
		var err error
		identity, err = h.gatekeeper.Authenticate(r.Context(), credential)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	if credential == "" {
		identity, err = h.awaitAuthFrame(r, conn)
		if err != nil {
			h.logger.Info("Handshake failed", "remote_addr", r.RemoteAddr, "error", err)
			rejectConnection(conn, err)
			return
		}
	}

	client := NewClient(conn, identity, r.RemoteAddr, h.config, h.gatekeeper, h.router, h.logger)
	if !h.hub.Register(client) {
		rejectConnection(conn, errors.New("server shutting down"))
	}
}

func (h *Handler) awaitAuthFrame(r *http.Request, conn *websocket.Conn) (chat.Identity, error) {
	conn.SetReadLimit(h.config.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(h.gatekeeper.HandshakeTimeout())); err != nil {
		return chat.Identity{}, err
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: no credential before handshake deadline: %v", chat.ErrUnauthenticated, err)
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil || req.Type != TypeAuth {
		return chat.Identity{}, fmt.Errorf("%w: first frame must be an auth event", chat.ErrUnauthenticated)
	}

	identity, err := h.gatekeeper.Authenticate(r.Context(), req.Token)
	if err != nil {
		return chat.Identity{}, err
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return chat.Identity{}, err
	}
	return identity, nil
}

// rejectConnection closes an upgraded connection with a policy-violation
// close frame carrying the error code.
func rejectConnection(conn *websocket.Conn, err error) {
	reason := chat.ErrorCode(err)
	frame := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
	_ = conn.Close()
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// HealthStatus is the body of GET /healthz.
type HealthStatus struct {
	Status  string `json:"status"`
	Online  int    `json:"online"`
	Rooms   int    `json:"rooms"`
	Clients int    `json:"clients"`
}

// HealthzHandler reports live counters as JSON.
func (h *Handler) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:  "ok",
		Online:  h.gatekeeper.OnlineCount(),
		Rooms:   h.router.RoomCount(),
		Clients: h.hub.ClientCount(),
	})
}

// HistoryResponse is the body of the room history endpoint.
type HistoryResponse struct {
	Room     string         `json:"room"`
	Messages []chat.Message `json:"messages"`
}

// HistoryHandler returns a room's persisted messages, optionally only those
// created after the since query parameter (RFC 3339).
func (h *Handler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	identity, err := h.gatekeeper.Authenticate(r.Context(), credentialFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: since must be RFC 3339", chat.ErrInvalidMessage))
			return
		}
		since = &t
	}

	key := r.PathValue("room")
	messages, err := h.router.History(r.Context(), identity, key, since)
	if err != nil {
		if chat.ErrorCode(err) == chat.CodeInternal {
			h.logger.Error("Failed to load history", "room", key, "error", err)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{Room: key, Messages: messages})
}

// PresenceHandler returns the roster snapshot.
func (h *Handler) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gatekeeper.Authenticate(r.Context(), credentialFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]chat.RosterEntry{"roster": h.gatekeeper.Roster()})
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch chat.ErrorCode(err) {
	case chat.CodeUnauthenticated, chat.CodeInvalidCredential:
		return http.StatusUnauthorized
	case chat.CodeNotAuthorized:
		return http.StatusForbidden
	case chat.CodeNotFound:
		return http.StatusNotFound
	case chat.CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := ErrorResponse{Code: chat.ErrorCode(err), Error: err.Error()}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

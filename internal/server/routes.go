// Package server wires HTTP handlers into a ServeMux for the GoChat
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for health checks, the WebSocket endpoint, and the
// history and roster API.
func SetupRoutes(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)
	mux.HandleFunc("GET /healthz", h.HealthzHandler)
	mux.HandleFunc("GET /api/rooms/{room}/messages", h.HistoryHandler)
	mux.HandleFunc("GET /api/presence", h.PresenceHandler)
	return mux
}

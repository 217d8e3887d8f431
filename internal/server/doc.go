// Package server implements the HTTP and WebSocket surface of GoChat.
//
// The implementation is organized into specialized files for configuration,
// origin checks, hub management, clients, routing, and HTTP handlers. Room
// membership, presence, and persistence live in their own packages; this
// package only translates between them and the wire.
package server

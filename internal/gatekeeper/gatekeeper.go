// Package gatekeeper authenticates connecting clients and keeps the presence
// registry and room router consistent as connections come and go.
package gatekeeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/events"
	"github.com/Tyrowin/gochat/internal/presence"
	"github.com/Tyrowin/gochat/internal/room"
)

// DefaultHandshakeTimeout bounds how long a connection may stay
// unauthenticated.
const DefaultHandshakeTimeout = 10 * time.Second

// Config controls admission behaviour.
type Config struct {
	// AutoJoinLounge joins every admitted connection to the lounge.
	AutoJoinLounge bool
	// HandshakeTimeout is enforced by the transport while it waits for a
	// credential.
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the default gatekeeper configuration.
func DefaultConfig() Config {
	return Config{HandshakeTimeout: DefaultHandshakeTimeout}
}

// Gatekeeper is the single entry and exit point of a connection's lifecycle.
type Gatekeeper struct {
	config   Config
	verifier auth.Verifier
	registry *presence.Registry
	router   *room.Router
	sink     events.Sink
	logger   *slog.Logger
}

// New creates a gatekeeper. sink receives a roster snapshot whenever
// presence changes and may be nil.
func New(config Config, verifier auth.Verifier, registry *presence.Registry, router *room.Router, sink events.Sink, logger *slog.Logger) *Gatekeeper {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatekeeper{
		config:   config,
		verifier: verifier,
		registry: registry,
		router:   router,
		sink:     sink,
		logger:   logger,
	}
}

// HandshakeTimeout returns the configured authentication deadline.
func (g *Gatekeeper) HandshakeTimeout() time.Duration {
	return g.config.HandshakeTimeout
}

// Authenticate verifies a credential. No state is created on failure.
func (g *Gatekeeper) Authenticate(ctx context.Context, credential string) (chat.Identity, error) {
	identity, err := g.verifier.Verify(ctx, credential)
	if err != nil {
		g.logger.Info("Authentication rejected", "error", err)
		return chat.Identity{}, err
	}
	return identity, nil
}

// Admit marks the identity online through conn. The roster is announced only
// when the user transitioned from offline; a reconnect that supersedes an
// older connection is not a presence change.
func (g *Gatekeeper) Admit(ctx context.Context, identity chat.Identity, conn chat.Conn) error {
	cameOnline := g.registry.MarkOnline(identity, conn)

	if g.config.AutoJoinLounge {
		if err := g.router.Join(conn, chat.Lounge); err != nil {
			g.registry.MarkOffline(conn.ID())
			return err
		}
	}

	g.logger.Info("Connection admitted",
		"conn_id", conn.ID(),
		"user_id", identity.ID,
		"came_online", cameOnline)

	if cameOnline {
		g.sink.Presence(ctx, g.registry.Snapshot())
	}
	return nil
}

// Roster returns the current roster snapshot.
func (g *Gatekeeper) Roster() []chat.RosterEntry {
	return g.registry.Snapshot()
}

// OnlineCount returns the number of users currently online.
func (g *Gatekeeper) OnlineCount() int {
	return g.registry.OnlineCount()
}

// Release marks the user offline if conn still held their presence, then
// removes conn from every room. Presence must be cleared before LeaveAll:
// PrivateSend resolves receivers through the registry.
func (g *Gatekeeper) Release(ctx context.Context, conn chat.Conn) {
	identity, wentOffline := g.registry.MarkOffline(conn.ID())
	g.router.LeaveAll(conn.ID())

	if !wentOffline {
		g.logger.Debug("Released superseded connection", "conn_id", conn.ID())
		return
	}

	g.logger.Info("User went offline", "conn_id", conn.ID(), "user_id", identity.ID)
	g.sink.Presence(ctx, g.registry.Snapshot())
}

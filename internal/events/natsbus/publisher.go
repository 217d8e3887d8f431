// Package natsbus mirrors presence changes and delivered messages onto NATS
// subjects so that services outside the chat process can observe them.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/events"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "gochat"

// PresenceEvent is the payload published on <prefix>.presence.
type PresenceEvent struct {
	Roster    []chat.RosterEntry `json:"roster"`
	Timestamp time.Time          `json:"timestamp"`
}

// MessageEvent is the payload published on <prefix>.messages.
type MessageEvent struct {
	Message   chat.Message `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// Publisher is an events.Sink backed by a NATS connection.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

var _ events.Sink = (*Publisher)(nil)

// Connect dials url and returns a publisher using prefix for its subjects.
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("gochat"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return New(conn, prefix, logger), nil
}

// New wraps an existing connection.
func New(conn *nats.Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// PresenceSubject returns the subject presence snapshots are published on.
func (p *Publisher) PresenceSubject() string { return p.prefix + ".presence" }

// MessageSubject returns the subject delivered messages are published on.
func (p *Publisher) MessageSubject() string { return p.prefix + ".messages" }

// Presence publishes a roster snapshot.
func (p *Publisher) Presence(_ context.Context, roster []chat.RosterEntry) {
	p.publish(p.PresenceSubject(), PresenceEvent{Roster: roster, Timestamp: time.Now().UTC()})
}

// Message publishes a delivered message.
func (p *Publisher) Message(_ context.Context, msg chat.Message) {
	p.publish(p.MessageSubject(), MessageEvent{Message: msg, Timestamp: time.Now().UTC()})
}

func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to marshal NATS event", "subject", subject, "error", err)
		return
	}
	// Publish only buffers; it never waits on the server.
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish NATS event", "subject", subject, "error", err)
	}
}

// Close flushes pending events and closes the connection.
func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

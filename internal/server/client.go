// Package server manages individual WebSocket clients, handling read/write
// pumps, event dispatch, and lifecycle control for each connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/gatekeeper"
	"github.com/Tyrowin/gochat/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is an authenticated WebSocket connection. It implements chat.Conn:
// Deliver never blocks, and a client whose send buffer is full is closed.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	identity chat.Identity
	addr     string

	closeOnce  sync.Once
	closeCode  int
	closeText  string
	gatekeeper *gatekeeper.Gatekeeper
	router     *room.Router
	logger     *slog.Logger
}

var _ chat.Conn = (*Client)(nil)

// NewClient creates a Client for an authenticated connection. The client's
// send channel holds up to cfg.SendBufferSize frames.
func NewClient(conn *websocket.Conn, identity chat.Identity, addr string, cfg Config, gk *gatekeeper.Gatekeeper, router *room.Router, logger *slog.Logger) *Client {
	cfg = cfg.Sanitize()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.New().String()

	return &Client{
		id:         id,
		conn:       conn,
		send:       make(chan []byte, cfg.SendBufferSize),
		done:       make(chan struct{}),
		identity:   identity,
		addr:       addr,
		closeCode:  websocket.CloseNormalClosure,
		gatekeeper: gk,
		router:     router,
		logger:     logger.With("conn_id", id, "user_id", identity.ID, "remote_addr", addr),
	}
}

// ID returns the connection ID.
func (c *Client) ID() string { return c.id }

// Identity returns the authenticated identity bound to the connection.
func (c *Client) Identity() chat.Identity { return c.identity }

// Deliver queues a room message for the client.
func (c *Client) Deliver(msg chat.Message) error {
	return c.enqueue(messageEvent(msg))
}

// Done is closed once the client starts shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) enqueue(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	return c.enqueueRaw(data)
}

func (c *Client) enqueueRaw(data []byte) error {
	select {
	case <-c.done:
		return chat.ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn("Closing client due to full send buffer")
		c.closeWith(websocket.ClosePolicyViolation, "slow consumer")
		return chat.ErrSlowConsumer
	}
}

// closeWith signals both pumps to stop. The first call decides the close frame.
func (c *Client) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// run admits the client, runs both pumps until either stops, then releases
// the client's presence and memberships.
func (c *Client) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.gatekeeper.Admit(ctx, c.identity, c); err != nil {
		c.closeConnection()
		return fmt.Errorf("failed to admit client: %w", err)
	}
	defer c.gatekeeper.Release(context.WithoutCancel(ctx), c)

	if err := c.enqueue(welcomeEvent(c.identity, c.gatekeeper.Roster())); err != nil {
		c.logger.Warn("Failed to queue welcome", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.closeWith(websocket.CloseNormalClosure, "")
		return c.readPump(gctx)
	})
	g.Go(func() error {
		defer c.closeConnection()
		return c.writePump(gctx)
	})
	return g.Wait()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("Client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("Client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("Unexpected WebSocket error", "error", err)
	default:
		c.logger.Warn("WebSocket read error", "error", err)
	}
}

// readPump handles inbound frames one at a time, which preserves the order
// of this connection's sends.
func (c *Client) readPump(ctx context.Context) error {
	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return nil
		}
		c.processMessage(ctx, raw)
	}
}

// processMessage decodes and dispatches one inbound frame. Failures are
// reported back to the client as error events.
func (c *Client) processMessage(ctx context.Context, raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		c.reportError("decode", fmt.Errorf("%w: malformed frame", chat.ErrInvalidMessage))
		return
	}

	var err error
	switch req.Type {
	case TypeJoinRoom:
		err = c.joinRoom(ctx, req.Room)
	case TypeLeaveRoom:
		err = c.leaveRoom(req.Room)
	case TypeSendRoomMessage:
		_, err = c.router.Send(ctx, c.identity, req.Room, req.Content, "")
	case TypeSendPrivateMessage:
		_, err = c.router.PrivateSend(ctx, c.identity, c, req.Receiver, req.Content)
	case TypeAuth:
		err = fmt.Errorf("%w: already authenticated", chat.ErrInvalidMessage)
	default:
		err = fmt.Errorf("%w: unknown event type %q", chat.ErrInvalidMessage, req.Type)
	}

	if err != nil {
		c.reportError(req.Type, err)
	}
}

func (c *Client) joinRoom(ctx context.Context, key string) error {
	if err := chat.CanAccess(c.identity, key); err != nil {
		return err
	}
	if err := c.router.Join(c, key); err != nil {
		return err
	}

	history, err := c.router.History(ctx, c.identity, key, nil)
	if err != nil && !errors.Is(err, chat.ErrNotFound) {
		return err
	}
	return c.enqueue(historyEvent(key, history))
}

func (c *Client) leaveRoom(key string) error {
	if err := chat.ValidateRoomKey(key); err != nil {
		return err
	}
	c.router.Leave(c.id, key)
	return nil
}

func (c *Client) reportError(op string, err error) {
	c.logger.Debug("Request failed", "op", op, "error", err)
	if qerr := c.enqueue(errorEvent(op, err)); qerr != nil {
		c.logger.Debug("Failed to queue error event", "error", qerr)
	}
}

func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.writeCloseMessage(websocket.CloseGoingAway, "server shutting down")
			return nil
		case <-c.done:
			c.writeCloseMessage(c.closeCode, c.closeText)
			return nil
		case message := <-c.send:
			if !c.writeTextMessage(message) {
				return nil
			}
		case <-ticker.C:
			if !c.handlePing() {
				return nil
			}
		}
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error closing connection", "error", err)
		}
	}
}

// writeCloseMessage sends a close frame to the client
func (c *Client) writeCloseMessage(code int, text string) {
	frame := websocket.FormatCloseMessage(code, text)
	if err := c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("Error writing close message", "error", err)
		}
	}
}

// writeTextMessage writes one event frame
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing message", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("Error writing ping message", "error", err)
		return false
	}
	return true
}

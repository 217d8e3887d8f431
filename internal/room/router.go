// Package room tracks which connections have joined which rooms, persists
// messages sent into a room and fans them out to the room's members.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/events"
)

// Locator resolves the authoritative connection of an online user. The router
// calls Lookup with its own lock held, so implementations must not call back
// into the router.
type Locator interface {
	Lookup(userID string) (chat.Conn, bool)
}

// Router owns room membership. Membership is ephemeral: a room exists only
// while at least one connection has joined it.
type Router struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]chat.Conn // room -> connID -> conn
	joined map[string]map[string]struct{}  // connID -> set of rooms

	store   chat.MessageStore
	locator Locator
	sink    events.Sink
	logger  *slog.Logger
	now     func() time.Time
}

// NewRouter creates a router persisting through store. locator is used by
// PrivateSend to find participants and may be nil; sink may be nil.
func NewRouter(store chat.MessageStore, locator Locator, sink events.Sink, logger *slog.Logger) *Router {
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		rooms:   make(map[string]map[string]chat.Conn),
		joined:  make(map[string]map[string]struct{}),
		store:   store,
		locator: locator,
		sink:    sink,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Join adds conn to the room. Joining twice is a no-op.
func (r *Router) Join(conn chat.Conn, key string) error {
	if err := chat.ValidateRoomKey(key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinLocked(conn, key)
	return nil
}

func (r *Router) joinLocked(conn chat.Conn, key string) {
	members, ok := r.rooms[key]
	if !ok {
		members = make(map[string]chat.Conn)
		r.rooms[key] = members
	}
	if _, already := members[conn.ID()]; already {
		return
	}
	members[conn.ID()] = conn

	rooms, ok := r.joined[conn.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[conn.ID()] = rooms
	}
	rooms[key] = struct{}{}

	r.logger.Debug("Connection joined room", "conn_id", conn.ID(), "room", key, "members", len(members))
}

// Leave removes the connection from one room.
func (r *Router) Leave(connID, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, key)
}

// LeaveAll removes the connection from every room it joined.
func (r *Router) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.joined[connID] {
		r.leaveLocked(connID, key)
	}
	delete(r.joined, connID)
}

func (r *Router) leaveLocked(connID, key string) {
	if members, ok := r.rooms[key]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, key)
		}
	}
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, key)
		if len(rooms) == 0 {
			delete(r.joined, connID)
		}
	}
}

// Send persists a message into the room and delivers it to every connection
// currently joined, the sender's included. Nothing is delivered when
// persistence fails. Once the store has been called the send is no longer
// cancellable.
func (r *Router) Send(ctx context.Context, sender chat.Identity, key, content, receiverID string) (chat.Message, error) {
	if err := chat.CanAccess(sender, key); err != nil {
		return chat.Message{}, err
	}
	if err := chat.ValidateContent(content); err != nil {
		return chat.Message{}, err
	}

	msg := chat.Message{
		ID:         uuid.New().String(),
		Room:       key,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  r.now(),
	}

	if err := r.store.Append(context.WithoutCancel(ctx), msg); err != nil {
		r.logger.Error("Failed to persist message",
			"room", key,
			"sender_id", sender.ID,
			"error", err)
		return chat.Message{}, fmt.Errorf("%w: %w", chat.ErrPersistenceFailure, err)
	}

	delivered := r.broadcast(msg)
	r.logger.Debug("Message delivered", "room", key, "message_id", msg.ID, "recipients", delivered)

	r.sink.Message(ctx, msg)
	return msg, nil
}

// broadcast delivers under the read lock so the recipient set is consistent
// with concurrent joins and leaves. Deliver never blocks.
func (r *Router) broadcast(msg chat.Message) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for connID, conn := range r.rooms[msg.Room] {
		if err := conn.Deliver(msg); err != nil {
			r.logger.Warn("Failed to deliver message",
				"room", msg.Room,
				"conn_id", connID,
				"error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// PrivateSend delivers a 1:1 message sent from the connection from. The
// sending connection and the receiver's authoritative connection, when
// online, are joined to their private room before the message is sent.
//
// The receiver is resolved and joined under the router lock. A connection
// that is marked offline before LeaveAll runs can therefore never be joined
// after its memberships were pruned.
func (r *Router) PrivateSend(ctx context.Context, sender chat.Identity, from chat.Conn, receiverID, content string) (chat.Message, error) {
	if receiverID == "" || strings.Contains(receiverID, ":") {
		return chat.Message{}, fmt.Errorf("%w: %q", chat.ErrInvalidReceiver, receiverID)
	}
	if receiverID == sender.ID {
		return chat.Message{}, fmt.Errorf("%w: cannot message yourself", chat.ErrInvalidReceiver)
	}

	key := chat.PrivateRoomKey(sender.ID, receiverID)

	r.mu.Lock()
	if from != nil {
		r.joinLocked(from, key)
	}
	if r.locator != nil {
		if conn, ok := r.locator.Lookup(receiverID); ok {
			r.joinLocked(conn, key)
		}
	}
	r.mu.Unlock()

	return r.Send(ctx, sender, key, content, receiverID)
}

// History returns the persisted messages of a room for the requester.
func (r *Router) History(ctx context.Context, requester chat.Identity, key string, since *time.Time) ([]chat.Message, error) {
	if err := chat.CanAccess(requester, key); err != nil {
		return nil, err
	}

	messages, err := r.store.QueryRoom(ctx, key, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of %s: %w", key, err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: no history for %s", chat.ErrNotFound, key)
	}
	return messages, nil
}

// Members returns the IDs of the connections joined to a room, sorted.
func (r *Router) Members(key string) []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rooms[key]))
	for id := range r.rooms[key] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Rooms returns the rooms a connection has joined, sorted.
func (r *Router) Rooms(connID string) []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.joined[connID]))
	for key := range r.joined[connID] {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// RoomCount returns the number of rooms with at least one member.
func (r *Router) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

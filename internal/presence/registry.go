// Package presence is the single source of truth for which users are online
// and which connection currently represents each of them.
package presence

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/Tyrowin/gochat/internal/chat"
)

type entry struct {
	identity chat.Identity
	online   bool
	conn     chat.Conn
}

// Registry maps identities to their authoritative connection. Every method
// runs under one lock, so operations are linearizable.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*entry // userID -> entry
	byConn map[string]string // connID -> userID
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		users:  make(map[string]*entry),
		byConn: make(map[string]string),
		logger: logger,
	}
}

// MarkOnline binds conn to the identity and flags it online. A previously
// recorded connection for the same identity is replaced but not closed.
// It reports whether the user transitioned from offline to online.
func (r *Registry) MarkOnline(id chat.Identity, conn chat.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.users[id.ID]
	if !ok {
		e = &entry{}
		r.users[id.ID] = e
	}

	// A connection is bound to at most one user.
	if prevUser, bound := r.byConn[conn.ID()]; bound && prevUser != id.ID {
		r.releaseLocked(conn.ID())
	}

	if e.conn != nil && e.conn.ID() != conn.ID() {
		delete(r.byConn, e.conn.ID())
		r.logger.Info("Connection superseded",
			"user_id", id.ID,
			"old_conn", e.conn.ID(),
			"new_conn", conn.ID())
	}

	transitioned := !e.online
	e.identity = id
	e.online = true
	e.conn = conn
	r.byConn[conn.ID()] = id.ID
	return transitioned
}

// MarkOffline flags the user bound to connID offline. It is a no-op when the
// connection is unknown or has been superseded by a newer one.
func (r *Registry) MarkOffline(connID string) (chat.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return chat.Identity{}, false
	}
	e := r.users[userID]
	if e == nil || e.conn == nil || e.conn.ID() != connID {
		delete(r.byConn, connID)
		return chat.Identity{}, false
	}

	r.releaseLocked(connID)
	return e.identity, true
}

func (r *Registry) releaseLocked(connID string) {
	userID := r.byConn[connID]
	delete(r.byConn, connID)
	if e := r.users[userID]; e != nil && e.conn != nil && e.conn.ID() == connID {
		e.online = false
		e.conn = nil
	}
}

// Lookup returns the authoritative connection of an online user.
func (r *Registry) Lookup(userID string) (chat.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.users[userID]
	if !ok || !e.online || e.conn == nil {
		return nil, false
	}
	return e.conn, true
}

// IsOnline reports the online flag of a user.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.users[userID]
	return ok && e.online
}

// OnlineCount returns the number of users currently online.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.users {
		if e.online {
			n++
		}
	}
	return n
}

// Snapshot returns a point-in-time copy of the roster ordered by user ID.
func (r *Registry) Snapshot() []chat.RosterEntry {
	r.mu.RLock()
	roster := make([]chat.RosterEntry, 0, len(r.users))
	for _, e := range r.users {
		roster = append(roster, chat.RosterEntry{
			ID:     e.identity.ID,
			Name:   e.identity.Name,
			Online: e.online,
		})
	}
	r.mu.RUnlock()

	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })
	return roster
}

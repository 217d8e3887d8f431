// Package memstore is an in-process message store. History lives only as
// long as the process and is meant for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Tyrowin/gochat/internal/chat"
)

// Store keeps messages per room ordered by CreatedAt, ties in append order.
type Store struct {
	mu       sync.RWMutex
	messages map[string][]chat.Message // room -> messages
	closed   bool
}

var _ chat.MessageStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{messages: make(map[string][]chat.Message)}
}

// Append records msg at its position by CreatedAt. Messages stamped
// concurrently may arrive out of order.
func (s *Store) Append(ctx context.Context, msg chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return chat.ErrConnectionClosed
	}
	stored := s.messages[msg.Room]
	i := sort.Search(len(stored), func(i int) bool {
		return stored[i].CreatedAt.After(msg.CreatedAt)
	})
	stored = append(stored, chat.Message{})
	copy(stored[i+1:], stored[i:])
	stored[i] = msg
	s.messages[msg.Room] = stored
	return nil
}

// QueryRoom returns a copy of the room's messages created after since.
func (s *Store) QueryRoom(ctx context.Context, room string, since *time.Time) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[room]
	result := make([]chat.Message, 0, len(stored))
	for _, msg := range stored {
		if since != nil && !msg.CreatedAt.After(*since) {
			continue
		}
		result = append(result, msg)
	}
	return result, nil
}

// Close makes further appends fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

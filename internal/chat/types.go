package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Validation limits.
const (
	MaxRoomKeyLength = 100
	MaxMessageLength = 5000
)

// Lounge is the well-known shared room.
const Lounge = "lounge"

const privatePrefix = "dm:"

// Identity is a verified user reference. The core never mutates it.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is immutable once created by the room router.
type Message struct {
	ID         string    `json:"id"`
	Room       string    `json:"room"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// RosterEntry is one row of a presence snapshot.
type RosterEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// Conn is a live connection as seen by the registry and the router. Neither
// owns its lifecycle; Deliver must not block.
type Conn interface {
	ID() string
	Deliver(msg Message) error
}

// MessageStore is the persistence boundary for messages.
type MessageStore interface {
	// Append durably persists msg and returns only once it has succeeded or failed.
	Append(ctx context.Context, msg Message) error
	// QueryRoom returns the messages of a room created strictly after since
	// (all when nil), ordered by increasing CreatedAt.
	QueryRoom(ctx context.Context, room string, since *time.Time) ([]Message, error)
	Close() error
}

// ValidateIdentityID reports whether id can be embedded in a private room key.
func ValidateIdentityID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty identity", ErrInvalidCredential)
	}
	if strings.Contains(id, ":") {
		return fmt.Errorf("%w: identity contains ':'", ErrInvalidCredential)
	}
	return nil
}

// PrivateRoomKey derives the room shared by two users. The result does not
// depend on argument order.
func PrivateRoomKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return privatePrefix + a + ":" + b
}

// ParsePrivateRoomKey returns the participants of a private room key.
func ParsePrivateRoomKey(key string) (string, string, bool) {
	rest, ok := strings.CutPrefix(key, privatePrefix)
	if !ok {
		return "", "", false
	}
	a, b, ok := strings.Cut(rest, ":")
	if !ok || a == "" || b == "" || strings.Contains(b, ":") {
		return "", "", false
	}
	return a, b, true
}

// IsPrivateRoom reports whether key names a 1:1 room.
func IsPrivateRoom(key string) bool {
	return strings.HasPrefix(key, privatePrefix)
}

// ValidateRoomKey checks the shape of a room key.
func ValidateRoomKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRoom)
	}
	if len(key) > MaxRoomKeyLength {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidRoom, MaxRoomKeyLength)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidRoom)
	}
	if IsPrivateRoom(key) {
		if _, _, ok := ParsePrivateRoomKey(key); !ok {
			return fmt.Errorf("%w: malformed private key", ErrInvalidRoom)
		}
	}
	return nil
}

// ValidateContent checks message content.
func ValidateContent(content string) error {
	if content == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMessage)
	}
	if len(content) > MaxMessageLength {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidMessage, MaxMessageLength)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidMessage)
	}
	return nil
}

// CanAccess reports whether the identity may join or read a room. Shared
// rooms are open to every authenticated user; private rooms only to their
// two participants.
func CanAccess(id Identity, key string) error {
	if err := ValidateRoomKey(key); err != nil {
		return err
	}
	a, b, ok := ParsePrivateRoomKey(key)
	if !ok {
		return nil
	}
	if id.ID != a && id.ID != b {
		return fmt.Errorf("%w: %s is not a participant of %s", ErrNotAuthorized, id.ID, key)
	}
	return nil
}

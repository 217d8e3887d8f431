// Package server defines the JSON envelopes exchanged with clients and
// utility helpers that are reused across client and hub logic.
package server

import (
	"strings"

	"github.com/Tyrowin/gochat/internal/chat"
)

// Inbound event types.
const (
	TypeAuth               = "auth"
	TypeJoinRoom           = "join-room"
	TypeLeaveRoom          = "leave-room"
	TypeSendRoomMessage    = "send-room-message"
	TypeSendPrivateMessage = "send-private-message"
)

// Outbound event types.
const (
	TypeWelcome        = "welcome"
	TypeRoomMessage    = "room-message"
	TypeRoomHistory    = "room-history"
	TypePresenceUpdate = "presence-update"
	TypeError          = "error"
)

// Request is an inbound frame.
type Request struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	Room     string `json:"room,omitempty"`
	Receiver string `json:"receiver,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Event is an outbound frame. Only the fields relevant to Type are set.
type Event struct {
	Type     string             `json:"type"`
	Identity *chat.Identity     `json:"identity,omitempty"`
	Message  *chat.Message      `json:"message,omitempty"`
	Room     string             `json:"room,omitempty"`
	Messages []chat.Message     `json:"messages,omitzero"`
	Roster   []chat.RosterEntry `json:"roster,omitempty"`
	Op       string             `json:"op,omitempty"`
	Code     string             `json:"code,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func welcomeEvent(id chat.Identity, roster []chat.RosterEntry) Event {
	return Event{Type: TypeWelcome, Identity: &id, Roster: roster}
}

func messageEvent(msg chat.Message) Event {
	return Event{Type: TypeRoomMessage, Message: &msg}
}

// historyEvent always carries a messages array, empty for a new room.
func historyEvent(room string, messages []chat.Message) Event {
	if messages == nil {
		messages = []chat.Message{}
	}
	return Event{Type: TypeRoomHistory, Room: room, Messages: messages}
}

func presenceEvent(roster []chat.RosterEntry) Event {
	return Event{Type: TypePresenceUpdate, Roster: roster}
}

func errorEvent(op string, err error) Event {
	return Event{Type: TypeError, Op: op, Code: chat.ErrorCode(err), Error: err.Error()}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

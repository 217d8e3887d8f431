// Package events carries presence changes and delivered messages from the
// messaging core to whoever is interested in them: the in-process hub that
// pushes presence updates to clients, and optional external mirrors.
package events

import (
	"context"

	"github.com/Tyrowin/gochat/internal/chat"
)

// Sink receives core events. Implementations must not block for long; they
// are called from connection goroutines.
type Sink interface {
	Presence(ctx context.Context, roster []chat.RosterEntry)
	Message(ctx context.Context, msg chat.Message)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Presence(context.Context, []chat.RosterEntry) {}
func (discard) Message(context.Context, chat.Message)        {}

type multi []Sink

// Multi returns a Sink that forwards every event to each non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Presence(ctx context.Context, roster []chat.RosterEntry) {
	for _, s := range m {
		s.Presence(ctx, roster)
	}
}

func (m multi) Message(ctx context.Context, msg chat.Message) {
	for _, s := range m {
		s.Message(ctx, msg)
	}
}

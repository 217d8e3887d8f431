// Package chat defines the domain types shared by the GoChat messaging core:
// identities, rooms, messages, the roster, the message store contract and the
// error taxonomy surfaced to clients.
package chat

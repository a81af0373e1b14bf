/*
Package chat contains the client side of the storefront's live chat: the
session controller, the connection transport, and the local message timeline.

This file defines the ChatMessage struct and its tagged identifier. A message
id is either Pending (client-generated, awaiting the server echo) or Confirmed
(server-assigned); keeping the two variants distinct makes the pending/confirmed
state explicit and removes any possibility of a server id colliding with a
local placeholder.
*/
package chat

import (
	"fmt"
	"time"
)

// SenderType identifies who authored a message. The set is closed.
type SenderType string

const (
	SenderUser  SenderType = "USER"
	SenderGuest SenderType = "GUEST"
	SenderBot   SenderType = "BOT"
	SenderAdmin SenderType = "ADMIN"
)

// Valid reports whether the sender type is one of the known variants.
func (t SenderType) Valid() bool {
	switch t {
	case SenderUser, SenderGuest, SenderBot, SenderAdmin:
		return true
	}
	return false
}

// MessageID is the tagged message identifier. Exactly one of the two fields is
// set: Pending for a locally appended echo, Confirmed for a server-assigned id.
type MessageID struct {
	Pending   string `json:"pending,omitempty"`
	Confirmed string `json:"confirmed,omitempty"`
}

// PendingID builds a Pending-tagged identifier.
func PendingID(localID string) MessageID {
	return MessageID{Pending: localID}
}

// ConfirmedID builds a Confirmed-tagged identifier.
func ConfirmedID(serverID string) MessageID {
	return MessageID{Confirmed: serverID}
}

// IsPending reports whether the id is a local placeholder.
func (id MessageID) IsPending() bool {
	return id.Pending != ""
}

// Equal reports identity of two ids. Pending ids only ever equal pending ids
// and confirmed only confirmed, so the two namespaces cannot collide.
func (id MessageID) Equal(other MessageID) bool {
	if id.IsPending() {
		return other.IsPending() && id.Pending == other.Pending
	}
	return !other.IsPending() && id.Confirmed != "" && id.Confirmed == other.Confirmed
}

// String renders the id for logging.
func (id MessageID) String() string {
	if id.IsPending() {
		return fmt.Sprintf("pending:%s", id.Pending)
	}
	return fmt.Sprintf("confirmed:%s", id.Confirmed)
}

// ChatMessage is one entry of the conversation timeline.
type ChatMessage struct {
	// ID is the tagged message identifier.
	ID MessageID `json:"id"`

	// ConversationID identifies the thread the message belongs to.
	ConversationID string `json:"conversationId"`

	// Sender is the authoring party.
	Sender SenderType `json:"senderType"`

	// Body is the message text.
	Body string `json:"body"`

	// CreatedAt orders the timeline.
	CreatedAt time.Time `json:"createdAt"`

	// Metadata carries optional opaque key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

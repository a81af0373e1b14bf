/*
Package chat contains the client side of the storefront's live chat.

This file defines the wire protocol of the chat socket: the event envelope and
the payload structs for every outbound and inbound event type. The framing
itself (JSON text messages) is owned by the backend; the client only encodes
and decodes these shapes.
*/
package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates the envelope payload.
type EventType string

// Outbound event types.
const (
	// TypeHandshake presents the client identity after connecting.
	TypeHandshake EventType = "handshake"

	// TypeJoin subscribes the client to a conversation.
	TypeJoin EventType = "join"

	// TypeLeave unsubscribes the client from a conversation.
	TypeLeave EventType = "leave"

	// TypeTyping carries a typing indicator in both directions.
	TypeTyping EventType = "typing"
)

// Bidirectional and inbound event types.
const (
	// TypeMessage carries a chat message: outbound with a tempId, inbound as
	// the confirmed entry (optionally echoing the tempId back).
	TypeMessage EventType = "message"

	// TypeSessionAssigned delivers a server-issued session token to a new guest.
	TypeSessionAssigned EventType = "session_assigned"

	// TypeConversationUpdated delivers a server-assigned or changed conversation id.
	TypeConversationUpdated EventType = "conversation_updated"

	// TypeError delivers a server-side error string.
	TypeError EventType = "error"
)

// Envelope is the framing shared by every socket event.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandshakePayload identifies the client to the backend. Exactly one of
// SessionToken and UserID is expected to matter; both are sent so the backend
// can link the guest history to the authenticated user.
type HandshakePayload struct {
	SessionToken string `json:"sessionId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	TenantID     string `json:"tenantId"`
}

// JoinPayload subscribes to a conversation by id.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

// LeavePayload unsubscribes from a conversation by id.
type LeavePayload struct {
	ConversationID string `json:"conversationId"`
}

// SendPayload is the outbound message shape. TempID is the pending local id
// the backend echoes back on the confirmed entry.
type SendPayload struct {
	ConversationID string            `json:"conversationId,omitempty"`
	Body           string            `json:"body"`
	TempID         string            `json:"tempId"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TypingPayload carries the typing indicator. UserID is set on inbound events only.
type TypingPayload struct {
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// SessionAssignedPayload delivers the server-issued guest session token.
type SessionAssignedPayload struct {
	SessionToken string `json:"sessionId"`
}

// ConversationUpdatedPayload delivers the current conversation id for this client.
type ConversationUpdatedPayload struct {
	ConversationID string `json:"conversationId"`
}

// ErrorPayload delivers a server-side error string.
type ErrorPayload struct {
	Message string `json:"message"`
}

// WireMessage is the inbound confirmed message shape.
type WireMessage struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	SenderType     SenderType        `json:"senderType"`
	Body           string            `json:"body"`
	CreatedAt      time.Time         `json:"createdAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// TempID echoes the pending local id of the sender's own message, empty on
	// messages authored by other parties.
	TempID string `json:"tempId,omitempty"`
}

// ToChatMessage validates the wire message and converts it to the domain shape.
func (w WireMessage) ToChatMessage() (ChatMessage, error) {
	if w.ID == "" {
		return ChatMessage{}, fmt.Errorf("message event without id")
	}

	if !w.SenderType.Valid() {
		return ChatMessage{}, fmt.Errorf("message event with unknown sender type %q", w.SenderType)
	}

	return ChatMessage{
		ID:             ConfirmedID(w.ID),
		ConversationID: w.ConversationID,
		Sender:         w.SenderType,
		Body:           w.Body,
		CreatedAt:      w.CreatedAt,
		Metadata:       w.Metadata,
	}, nil
}

// unmarshalPayload decodes an envelope payload into dst, treating an absent
// payload as malformed since every typed event carries one.
func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("event carries no payload")
	}
	return json.Unmarshal(raw, dst)
}

// EncodeEvent marshals an envelope with the given payload.
func EncodeEvent(eventType EventType, payload any) ([]byte, error) {
	var raw json.RawMessage

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
		}
		raw = encoded
	}

	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}

package network

import (
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of internal network message.
type MessageType string

const (
	MessageTypeRequest   MessageType = "request"
	MessageTypeResponse  MessageType = "response"
	MessageTypeBroadcast MessageType = "broadcast"
	MessageTypeHealth    MessageType = "health"
	MessageTypeDiscovery MessageType = "discovery"
)

// BroadcastRecipient addresses a message to every observer.
const BroadcastRecipient = "all"

// Message is a transient entry on the internal audit/observability bus.
// Messages are best-effort: consumed by the periodic dispatcher and then
// discarded, never persisted.
type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      MessageType    `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage creates a message with a generated id and current timestamp.
func NewMessage(from, to string, msgType MessageType, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// IsBroadcast reports whether the message addresses every observer.
func (m *Message) IsBroadcast() bool {
	return m.To == BroadcastRecipient
}

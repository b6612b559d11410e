// Package protocol defines the realtime message types and structures used for
// communication between the marketplace clients and the chat server. All
// messages are serialized as JSON and follow a consistent envelope format with
// a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/campusmarket/chat-app/internal/model"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinChat  = "join_chat"
	TypeLeaveChat = "leave_chat"
	TypeMarkRead  = "mark_read"
	TypeTyping    = "typing"
	TypePing      = "ping"
)

// Server -> Client message types.
const (
	TypeConnected              = "connected"
	TypeJoinedChat             = "joined_chat"
	TypeNewMessage             = "new_message"
	TypeNewMessageNotification = "new_message_notification"
	TypeMessagesRead           = "messages_read"
	TypeUserTyping             = "user_typing"
	TypeNotification           = "notification"
	TypeOrderStatusUpdate      = "order_status_update"
	TypeError                  = "error"
	TypePong                   = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinChatMsg is sent by the client to enter a conversation's event scope.
// The server verifies that the authenticated user is a participant before
// joining.
type JoinChatMsg struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id"`
}

// LeaveChatMsg is sent by the client to leave a conversation's event scope.
type LeaveChatMsg struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id"`
}

// MarkReadMsg asks the server to mark all of the peer's messages in the
// conversation as read and to broadcast a messages_read event to the room.
type MarkReadMsg struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id"`
}

// TypingMsg indicates whether the client is currently typing in a
// conversation. It is relayed to the room excluding the sender.
type TypingMsg struct {
	Type     string `json:"type"`
	ChatID   int64  `json:"chat_id"`
	IsTyping bool   `json:"is_typing"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent by the server once the token on the handshake has been
// verified and the connection is bound to a user.
type ConnectedMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// JoinedChatMsg confirms that the connection is now part of a conversation's
// event scope.
type JoinedChatMsg struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id"`
}

// NewMessageMsg delivers a chat message to all connections joined to the
// conversation's room, including the sender's own connections.
type NewMessageMsg struct {
	Type string `json:"type"`
	model.Message
}

// NewMessageNotificationMsg is delivered to the recipient's personal scope
// when a message arrives in a conversation they are not currently viewing.
type NewMessageNotificationMsg struct {
	Type    string        `json:"type"`
	ChatID  int64         `json:"chat_id"`
	Message model.Message `json:"message"`
}

// MessagesReadMsg announces that ReadBy has read all messages in the
// conversation.
type MessagesReadMsg struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id"`
	ReadBy int64  `json:"read_by"`
}

// UserTypingMsg relays a participant's typing indicator to the room.
type UserTypingMsg struct {
	Type     string `json:"type"`
	ChatID   int64  `json:"chat_id"`
	UserID   int64  `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// NotificationMsg pushes a generic notification to the user's personal scope.
type NotificationMsg struct {
	Type string `json:"type"`
	model.Notification
}

// OrderStatusUpdateMsg pushes an order lifecycle transition to the buyer's
// and seller's personal scopes.
type OrderStatusUpdateMsg struct {
	Type string `json:"type"`
	model.OrderStatusUpdate
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the *Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

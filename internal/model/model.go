// Package model defines the marketplace chat data types exchanged between the
// REST API, the realtime channel, and the client SDK. Field names and JSON
// keys match the wire contract consumed by the web and mobile frontends.
package model

import (
	"encoding/json"
	"time"
)

// Message type constants. The set is closed; the server rejects anything else.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeOrder = "order"
)

// UserSummary is the participant view embedded in a conversation: enough to
// render the peer's name and avatar, plus the store linkage when the peer is
// a seller.
type UserSummary struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	StoreID   int64  `json:"store_id,omitempty"`
	StoreName string `json:"store_name,omitempty"`
}

// ProductRef is the optional product a conversation is anchored to.
type ProductRef struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Price    string `json:"price,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is a single chat message. The id is server-assigned and unique
// within a conversation; ids are monotonically ordered by creation time.
// A message is immutable once created except for IsRead, which transitions
// false -> true exactly once per reader.
type Message struct {
	ID          int64     `json:"id"`
	ChatID      int64     `json:"chat_id"`
	SenderID    int64     `json:"sender_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	MediaURL    string    `json:"media_url,omitempty"`
	OrderID     int64     `json:"order_id,omitempty"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation is a two-party messaging thread, optionally anchored to a
// product. LastMessage is nil for a thread with no messages yet.
type Conversation struct {
	ID            int64        `json:"id"`
	OtherUser     *UserSummary `json:"other_user"`
	Product       *ProductRef  `json:"product,omitempty"`
	LastMessage   *Message     `json:"last_message"`
	UnreadCount   int          `json:"unread_count"`
	LastMessageAt time.Time    `json:"last_message_at"`
}

// Notification is a generic user notification (badge updates, chat previews,
// order events). Data carries type-specific context such as the chat id.
type Notification struct {
	ID      int64           `json:"id"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OrderStatusUpdate is the payload of an order lifecycle transition pushed to
// both the buyer and the seller. Order is the full, authoritative order object
// serialized by the order service; consumers replace their local copy
// wholesale rather than merging.
type OrderStatusUpdate struct {
	OrderID int64           `json:"order_id"`
	Status  string          `json:"status"`
	Order   json.RawMessage `json:"order"`
}

// ValidMessageType reports whether t is one of the allowed message types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeOrder:
		return true
	}
	return false
}

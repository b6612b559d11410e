package chatclient

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusmarket/chat-app/internal/model"
)

// emitter is the outbound half of the transport as the client state
// machine sees it. *Transport implements it; tests substitute a
// recorder.
type emitter interface {
	JoinChat(chatID int64) error
	LeaveChat(chatID int64) error
	MarkRead(chatID int64) error
	Typing(chatID int64, isTyping bool) error
}

// Client is the session-wide chat state for one signed-in user: the
// conversation directory, the single open conversation, peers' typing
// indicators and the watched order. One mutex guards all of it; event
// callbacks and UI calls interleave freely.
type Client struct {
	api    *API
	wire   emitter
	userID int64
	log    zerolog.Logger

	mu sync.Mutex

	// Directory.
	conversations []model.Conversation
	totalUnread   int
	dirErr        error

	// Open session. openID is 0 when no conversation is open. gen
	// increments on every open/close so a late fetch response can
	// detect it has been superseded.
	openID   int64
	messages []model.Message
	page     Page
	sessErr  error
	gen      uint64

	// Peers currently typing, per conversation, with the time the
	// signal arrived.
	typing map[int64]map[int64]time.Time

	// Watched order for the open order-detail view.
	watchedOrder int64
	orderStatus  string
	orderDoc     []byte
}

// New builds a Client and wires it to the transport's inbound events.
// Call tr.Connect afterwards to go live.
func New(api *API, tr *Transport, userID int64, log zerolog.Logger) *Client {
	c := newClient(api, tr, userID, log)
	tr.SetHandlers(Handlers{
		OnMessage:             c.handleNewMessage,
		OnMessageNotification: c.handleMessageNotification,
		OnMessagesRead:        c.handleMessagesRead,
		OnTyping:              c.handleTyping,
		OnNotification:        c.handleNotification,
		OnOrderStatus:         c.handleOrderStatus,
		OnConnectionState:     c.handleConnectionState,
		OnError: func(err error) {
			c.log.Warn().Err(err).Msg("transport error")
		},
	})
	return c
}

func newClient(api *API, wire emitter, userID int64, log zerolog.Logger) *Client {
	return &Client{
		api:    api,
		wire:   wire,
		userID: userID,
		log:    log.With().Str("component", "chatclient").Logger(),
		typing: make(map[int64]map[int64]time.Time),
	}
}

// UserID returns the signed-in user this client acts for.
func (c *Client) UserID() int64 {
	return c.userID
}

// handleConnectionState rejoins the open conversation after a
// reconnect; the server-side room membership died with the old socket.
func (c *Client) handleConnectionState(connected bool) {
	if !connected {
		return
	}
	c.mu.Lock()
	openID := c.openID
	c.mu.Unlock()
	if openID == 0 {
		return
	}
	if err := c.wire.JoinChat(openID); err != nil {
		c.log.Warn().Err(err).Int64("chat_id", openID).Msg("rejoin failed")
		return
	}
	_ = c.wire.MarkRead(openID)
}

// handleNotification currently only logs; stored notifications are
// rendered by the notification center, which polls REST.
func (c *Client) handleNotification(n model.Notification) {
	c.log.Debug().Int64("notification_id", n.ID).Str("type", n.Type).Msg("notification received")
}

// StartConversation finds or creates the conversation with a seller and
// makes sure it appears in the local directory.
func (c *Client) StartConversation(ctx context.Context, sellerID, productID int64) (*model.Conversation, error) {
	conv, err := c.api.StartChat(ctx, sellerID, productID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.findConversation(conv.ID) == nil {
		c.conversations = append([]model.Conversation{*conv}, c.conversations...)
		c.totalUnread += conv.UnreadCount
	}
	c.mu.Unlock()
	return conv, nil
}

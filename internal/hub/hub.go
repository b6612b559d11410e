// Package hub implements the chat application behavior on top of the
// transport: room membership, message persistence and fanout, read
// receipts, typing indicators and order status delivery. Fanout goes
// through NATS so delivery works across server instances; each
// connection holds its own subscriptions for the rooms it has joined
// and for its user's personal scope.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/campusmarket/chat-app/internal/content"
	"github.com/campusmarket/chat-app/internal/messaging"
	"github.com/campusmarket/chat-app/internal/metrics"
	"github.com/campusmarket/chat-app/internal/model"
	"github.com/campusmarket/chat-app/internal/presence"
	"github.com/campusmarket/chat-app/internal/protocol"
	"github.com/campusmarket/chat-app/internal/ratelimit"
	"github.com/campusmarket/chat-app/internal/store"
	"github.com/campusmarket/chat-app/internal/ws"
)

// ErrRateLimited is returned when a user exceeds a send or start-chat
// rate limit. The API maps it to 429.
var ErrRateLimited = errors.New("hub: rate limit exceeded")

const opTimeout = 5 * time.Second

type Hub struct {
	store    *store.Store
	presence *presence.Store
	nats     *messaging.Client
	limiter  *ratelimit.Limiter
	srv      *ws.Server
	log      zerolog.Logger
}

func New(st *store.Store, pr *presence.Store, nc *messaging.Client, rl *ratelimit.Limiter, log zerolog.Logger) *Hub {
	return &Hub{
		store:    st,
		presence: pr,
		nats:     nc,
		limiter:  rl,
		log:      log.With().Str("component", "hub").Logger(),
	}
}

// Attach wires the hub into a WebSocket server: lifecycle hooks plus a
// handler for every client message type. Must be called before
// srv.Start.
func (h *Hub) Attach(srv *ws.Server, router *ws.Router) {
	h.srv = srv

	srv.OnConnect(h.onConnect)
	srv.OnDisconnect(h.onDisconnect)
	srv.OnPing(h.onPing)

	router.Handle(protocol.TypeJoinChat, h.handleJoinChat)
	router.Handle(protocol.TypeLeaveChat, h.handleLeaveChat)
	router.Handle(protocol.TypeMarkRead, h.handleMarkRead)
	router.Handle(protocol.TypeTyping, h.handleTyping)
}

func (h *Hub) onConnect(c *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := h.presence.Register(ctx, c.ID, c.UserID); err != nil {
		h.log.Error().Err(err).Str("conn_id", c.ID).Msg("presence register failed")
	}

	// Personal scope: notifications, order updates and new-message
	// notifications land here regardless of which rooms are open.
	connID := c.ID
	err := h.nats.SubscribeUser(c.UserID, connID, func(data []byte) {
		if err := h.srv.SendToConn(connID, data); err != nil {
			h.log.Debug().Err(err).Str("conn_id", connID).Msg("personal delivery dropped")
		}
	})
	if err != nil {
		h.log.Error().Err(err).Str("conn_id", c.ID).Msg("user subscription failed")
	}
}

func (h *Hub) onDisconnect(c *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	h.nats.UnsubscribeConn(c.ID)
	if err := h.presence.Unregister(ctx, c.ID, c.UserID); err != nil {
		h.log.Error().Err(err).Str("conn_id", c.ID).Msg("presence unregister failed")
	}
}

func (h *Hub) onPing(c *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := h.presence.Touch(ctx, c.ID); err != nil {
		h.log.Debug().Err(err).Str("conn_id", c.ID).Msg("presence touch failed")
	}
}

func (h *Hub) handleJoinChat(c *ws.Connection, payload interface{}) {
	m, ok := payload.(protocol.JoinChatMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Membership check doubles as an existence check.
	if _, err := h.store.Peer(ctx, m.ChatID, c.UserID); err != nil {
		metrics.RoomJoinsTotal.WithLabelValues("denied").Inc()
		h.sendError(c, "forbidden", "not a participant of this conversation")
		return
	}

	if err := h.presence.JoinRoom(ctx, c.ID, m.ChatID); err != nil {
		h.log.Error().Err(err).Int64("chat_id", m.ChatID).Msg("room join failed")
	}

	connID, userID := c.ID, c.UserID
	err := h.nats.SubscribeChat(m.ChatID, connID, func(data []byte) {
		if isOwnTyping(data, userID) {
			return
		}
		if err := h.srv.SendToConn(connID, data); err != nil {
			h.log.Debug().Err(err).Str("conn_id", connID).Msg("room delivery dropped")
		}
	})
	if err != nil {
		metrics.RoomJoinsTotal.WithLabelValues("error").Inc()
		h.sendError(c, "internal", "could not join conversation")
		return
	}

	metrics.RoomJoinsTotal.WithLabelValues("ok").Inc()
	h.reply(c, protocol.TypeJoinedChat, protocol.JoinedChatMsg{ChatID: m.ChatID})
}

func (h *Hub) handleLeaveChat(c *ws.Connection, payload interface{}) {
	m, ok := payload.(protocol.LeaveChatMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := h.nats.UnsubscribeChat(m.ChatID, c.ID); err != nil {
		h.log.Debug().Err(err).Int64("chat_id", m.ChatID).Msg("room unsubscribe failed")
	}
	if err := h.presence.LeaveRoom(ctx, c.ID, m.ChatID); err != nil {
		h.log.Debug().Err(err).Int64("chat_id", m.ChatID).Msg("room leave failed")
	}
}

func (h *Hub) handleMarkRead(c *ws.Connection, payload interface{}) {
	m, ok := payload.(protocol.MarkReadMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := h.store.Peer(ctx, m.ChatID, c.UserID); err != nil {
		h.sendError(c, "forbidden", "not a participant of this conversation")
		return
	}

	if _, err := h.store.MarkRead(ctx, m.ChatID, c.UserID); err != nil {
		h.log.Error().Err(err).Int64("chat_id", m.ChatID).Msg("mark read failed")
		h.sendError(c, "internal", "could not mark messages read")
		return
	}

	// The reader's other devices need this too, so the room gets it
	// including the reader.
	frame, err := protocol.NewServerMessage(protocol.TypeMessagesRead, protocol.MessagesReadMsg{
		ChatID: m.ChatID,
		ReadBy: c.UserID,
	})
	if err == nil {
		if err := h.nats.PublishChat(m.ChatID, frame); err != nil {
			h.log.Error().Err(err).Int64("chat_id", m.ChatID).Msg("read receipt publish failed")
		}
	}
}

func (h *Hub) handleTyping(c *ws.Connection, payload interface{}) {
	m, ok := payload.(protocol.TypingMsg)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Typing is high-frequency; gate on room membership in Redis
	// instead of hitting Postgres per keystroke.
	rooms, err := h.presence.Rooms(ctx, c.ID)
	if err != nil || !containsRoom(rooms, m.ChatID) {
		return
	}

	frame, err := protocol.NewServerMessage(protocol.TypeUserTyping, protocol.UserTypingMsg{
		ChatID:   m.ChatID,
		UserID:   c.UserID,
		IsTyping: m.IsTyping,
	})
	if err != nil {
		return
	}
	if err := h.nats.PublishChat(m.ChatID, frame); err != nil {
		h.log.Debug().Err(err).Int64("chat_id", m.ChatID).Msg("typing publish failed")
	}
}

// SendMessage persists a message and fans it out: a new_message to the
// conversation room and a new_message_notification plus a stored
// notification to the recipient's personal scope. Called by the REST
// API; the realtime channel is delivery-only for chat content.
func (h *Hub) SendMessage(ctx context.Context, chatID, senderID int64, text, messageType, mediaURL string, orderID int64) (*model.Message, error) {
	start := time.Now()

	allowed, err := h.limiter.Allow(ctx, userKey(senderID), ratelimit.RuleSend)
	if err == nil && !allowed {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrRateLimited
	}

	if messageType == model.MessageTypeText {
		if err := content.Validate(text); err != nil {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
	}

	recipientID, err := h.store.Peer(ctx, chatID, senderID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if res := content.Screen(text); res.Flagged {
		metrics.MessagesTotal.WithLabelValues("flagged").Inc()
		h.log.Warn().
			Int64("chat_id", chatID).
			Int64("sender_id", senderID).
			Str("rule", res.Rule).
			Msg("message flagged for review")
	}

	msg, err := h.store.InsertMessage(ctx, chatID, senderID, text, messageType, mediaURL, orderID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	if frame, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{Message: *msg}); err == nil {
		if err := h.nats.PublishChat(chatID, frame); err != nil {
			h.log.Error().Err(err).Int64("chat_id", chatID).Msg("message publish failed")
		} else {
			metrics.MessagesTotal.WithLabelValues("delivered").Inc()
		}
	}

	h.notifyRecipient(ctx, recipientID, chatID, msg)
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return msg, nil
}

// notifyRecipient pushes the personal-scope events for a new message:
// the realtime notification frame and a stored notification with a
// human preview for the conversation list badge.
func (h *Hub) notifyRecipient(ctx context.Context, recipientID, chatID int64, msg *model.Message) {
	if frame, err := protocol.NewServerMessage(protocol.TypeNewMessageNotification, protocol.NewMessageNotificationMsg{
		ChatID:  chatID,
		Message: *msg,
	}); err == nil {
		if err := h.nats.PublishUser(recipientID, frame); err != nil {
			h.log.Debug().Err(err).Int64("user_id", recipientID).Msg("notification publish failed")
		}
	}

	data, _ := json.Marshal(map[string]int64{"chat_id": chatID})
	notif, err := h.store.InsertNotification(ctx, recipientID, "New message", preview(msg), "chat_message", data)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", recipientID).Msg("notification insert failed")
		return
	}
	metrics.NotificationsTotal.Inc()

	if frame, err := protocol.NewServerMessage(protocol.TypeNotification, protocol.NotificationMsg{Notification: *notif}); err == nil {
		_ = h.nats.PublishUser(recipientID, frame)
	}
}

// AllowConnection enforces the per-address WebSocket connection rate
// limit ahead of the upgrade handshake. Fails open on limiter errors.
func (h *Hub) AllowConnection(ctx context.Context, remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	allowed, err := h.limiter.Allow(ctx, host, ratelimit.RuleConnect)
	if err != nil {
		return true
	}
	return allowed
}

// StartChat finds or creates the conversation between a buyer and a
// seller, enforcing the start-chat rate limit.
func (h *Hub) StartChat(ctx context.Context, userID, sellerID, productID int64) (*model.Conversation, error) {
	allowed, err := h.limiter.Allow(ctx, userKey(userID), ratelimit.RuleStartChat)
	if err == nil && !allowed {
		return nil, ErrRateLimited
	}
	return h.store.StartChat(ctx, userID, sellerID, productID)
}

// orderEvent is the envelope the order service publishes on the order
// status subject. Buyer and seller ids route the update; the rest is
// forwarded verbatim.
type orderEvent struct {
	OrderID  int64           `json:"order_id"`
	Status   string          `json:"status"`
	BuyerID  int64           `json:"buyer_id"`
	SellerID int64           `json:"seller_id"`
	Order    json.RawMessage `json:"order"`
}

// StartOrderListener subscribes to order status transitions and relays
// each one to the buyer's and seller's personal scopes.
func (h *Hub) StartOrderListener() error {
	return h.nats.SubscribeOrderStatus(func(data []byte) {
		var ev orderEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			h.log.Warn().Err(err).Msg("malformed order event")
			return
		}
		frame, err := protocol.NewServerMessage(protocol.TypeOrderStatusUpdate, protocol.OrderStatusUpdateMsg{
			OrderStatusUpdate: model.OrderStatusUpdate{
				OrderID: ev.OrderID,
				Status:  ev.Status,
				Order:   ev.Order,
			},
		})
		if err != nil {
			return
		}
		for _, userID := range []int64{ev.BuyerID, ev.SellerID} {
			if userID == 0 {
				continue
			}
			if err := h.nats.PublishUser(userID, frame); err != nil {
				h.log.Debug().Err(err).Int64("user_id", userID).Msg("order update publish failed")
			}
		}
		h.log.Info().Int64("order_id", ev.OrderID).Str("status", ev.Status).Msg("order update relayed")
	})
}

func (h *Hub) reply(c *ws.Connection, msgType string, payload interface{}) {
	frame, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return
	}
	if err := c.Write(frame); err != nil {
		h.log.Debug().Err(err).Str("conn_id", c.ID).Msg("reply write failed")
	}
}

func (h *Hub) sendError(c *ws.Connection, code, message string) {
	h.reply(c, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// preview renders the notification body for a message the way the
// conversation list shows it.
func preview(msg *model.Message) string {
	switch msg.MessageType {
	case model.MessageTypeImage:
		return "\U0001F4F7 Sent a photo"
	case model.MessageTypeVideo:
		return "\U0001F3AC Sent a video"
	case model.MessageTypeOrder:
		return "\U0001F4E6 Order update"
	}
	if utf8.RuneCountInString(msg.Content) > 80 {
		runes := []rune(msg.Content)
		return string(runes[:77]) + "..."
	}
	return msg.Content
}

// isOwnTyping reports whether the frame is a typing indicator emitted
// by the given user. Typing relays exclude the sender's connections.
func isOwnTyping(data []byte, userID int64) bool {
	var probe struct {
		Type   string `json:"type"`
		UserID int64  `json:"user_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Type == protocol.TypeUserTyping && probe.UserID == userID
}

func containsRoom(rooms []int64, chatID int64) bool {
	for _, id := range rooms {
		if id == chatID {
			return true
		}
	}
	return false
}

func userKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

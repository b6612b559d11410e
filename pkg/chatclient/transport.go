package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/campusmarket/chat-app/internal/model"
	"github.com/campusmarket/chat-app/internal/protocol"
)

const (
	pingInterval     = 25 * time.Second
	reconnectBase    = time.Second
	reconnectCap     = 30 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Handlers receives transport events. All callbacks run on the
// transport's read goroutine; keep them short. Nil callbacks are
// skipped.
type Handlers struct {
	OnMessage             func(model.Message)
	OnMessageNotification func(chatID int64, msg model.Message)
	OnMessagesRead        func(chatID, readBy int64)
	OnTyping              func(chatID, userID int64, isTyping bool)
	OnNotification        func(model.Notification)
	OnOrderStatus         func(model.OrderStatusUpdate)
	OnConnectionState     func(connected bool)
	OnError               func(error)
}

// Transport maintains the single realtime connection for a session.
// Connect and Disconnect are idempotent; while connected, a lost
// socket is redialed with capped exponential backoff until Disconnect
// is called.
type Transport struct {
	wsURL    string
	token    TokenSource
	handlers Handlers
	log      zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	active bool
	gen    uint64

	// writeMu serializes frame writes: a frame goes out as a header
	// write then a payload write, and the ping loop, session signals
	// and UI typing all share the socket.
	writeMu sync.Mutex
}

func NewTransport(wsURL string, token TokenSource, log zerolog.Logger) *Transport {
	return &Transport{
		wsURL: wsURL,
		token: token,
		log:   log.With().Str("component", "transport").Logger(),
	}
}

// SetHandlers installs the event callbacks. Call before Connect.
func (t *Transport) SetHandlers(h Handlers) {
	t.mu.Lock()
	t.handlers = h
	t.mu.Unlock()
}

// Connect establishes the realtime connection. A missing token or an
// existing connection makes it a silent no-op, so lifecycle hooks can
// call it freely.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.active || t.token() == "" {
		t.mu.Unlock()
		return
	}
	t.active = true
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	go t.run(gen)
}

// Disconnect tears the connection down and stops reconnecting. Safe to
// call when already disconnected.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.gen++
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Connected reports whether a live socket is currently established.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// run dials, reads until failure and redials, until this generation is
// superseded by Disconnect (or a newer Connect).
func (t *Transport) run(gen uint64) {
	backoff := reconnectBase
	for {
		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		conn, err := t.dial()
		if err != nil {
			t.log.Warn().Err(err).Dur("retry_in", backoff).Msg("dial failed")
			t.emitError(err)
			time.Sleep(backoff)
			if backoff *= 2; backoff > reconnectCap {
				backoff = reconnectCap
			}
			continue
		}
		backoff = reconnectBase

		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conn = conn
		t.mu.Unlock()

		if t.handlers.OnConnectionState != nil {
			t.handlers.OnConnectionState(true)
		}

		stopPing := make(chan struct{})
		go t.pingLoop(conn, stopPing)
		err = t.readLoop(conn)
		close(stopPing)

		t.mu.Lock()
		superseded := t.gen != gen
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		conn.Close()

		if t.handlers.OnConnectionState != nil {
			t.handlers.OnConnectionState(false)
		}
		if superseded {
			return
		}
		if err != nil {
			t.log.Info().Err(err).Msg("connection lost, reconnecting")
		}
	}
}

func (t *Transport) dial() (net.Conn, error) {
	u, err := url.Parse(t.wsURL)
	if err != nil {
		return nil, fmt.Errorf("chatclient: bad ws url: %w", err)
	}
	q := u.Query()
	q.Set("token", t.token())
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("chatclient: dial: %w", err)
	}
	return conn, nil
}

func (t *Transport) pingLoop(conn net.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	frame, err := json.Marshal(protocol.PingMsg{Type: protocol.TypePing})
	if err != nil {
		return
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := wsutil.WriteClientText(conn, frame)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (t *Transport) readLoop(conn net.Conn) error {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			return err
		}
		t.dispatch(data)
	}
}

func (t *Transport) dispatch(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.emitError(fmt.Errorf("chatclient: malformed frame: %w", err))
		return
	}

	switch env.Type {
	case protocol.TypeNewMessage:
		var m protocol.NewMessageMsg
		if json.Unmarshal(env.Raw, &m) == nil && t.handlers.OnMessage != nil {
			t.handlers.OnMessage(m.Message)
		}
	case protocol.TypeNewMessageNotification:
		var m protocol.NewMessageNotificationMsg
		if json.Unmarshal(env.Raw, &m) == nil && t.handlers.OnMessageNotification != nil {
			t.handlers.OnMessageNotification(m.ChatID, m.Message)
		}
	case protocol.TypeMessagesRead:
		var m protocol.MessagesReadMsg
		if json.Unmarshal(env.Raw, &m) == nil && t.handlers.OnMessagesRead != nil {
			t.handlers.OnMessagesRead(m.ChatID, m.ReadBy)
		}
	case protocol.TypeUserTyping:
		var m protocol.UserTypingMsg
		if json.Unmarshal(env.Raw, &m) == nil && t.handlers.OnTyping != nil {
			t.handlers.OnTyping(m.ChatID, m.UserID, m.IsTyping)
		}
	case protocol.TypeNotification:
		var m protocol.NotificationMsg
		if json.Unmarshal(env.Raw, &m) == nil && t.handlers.OnNotification != nil {
			t.handlers.OnNotification(m.Notification)
		}
	case protocol.TypeOrderStatusUpdate:
		var m protocol.OrderStatusUpdateMsg
		if json.Unmarshal(env.Raw, &m) == nil && t.handlers.OnOrderStatus != nil {
			t.handlers.OnOrderStatus(m.OrderStatusUpdate)
		}
	case protocol.TypeError:
		var m protocol.ErrorMsg
		if json.Unmarshal(env.Raw, &m) == nil {
			t.emitError(fmt.Errorf("chatclient: server error %s: %s", m.Code, m.Message))
		}
	case protocol.TypeConnected, protocol.TypeJoinedChat, protocol.TypePong:
		// Acknowledgements; nothing to update.
	default:
		t.log.Debug().Str("type", env.Type).Msg("unhandled event")
	}
}

func (t *Transport) emitError(err error) {
	if t.handlers.OnError != nil {
		t.handlers.OnError(err)
	}
}

// send marshals and writes one client frame.
func (t *Transport) send(payload interface{}) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("chatclient: not connected")
	}
	frame, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chatclient: encode frame: %w", err)
	}
	t.writeMu.Lock()
	err = wsutil.WriteClientText(conn, frame)
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("chatclient: write frame: %w", err)
	}
	return nil
}

// JoinChat subscribes this connection to a conversation's events.
func (t *Transport) JoinChat(chatID int64) error {
	return t.send(protocol.JoinChatMsg{Type: protocol.TypeJoinChat, ChatID: chatID})
}

// LeaveChat unsubscribes from a conversation's events.
func (t *Transport) LeaveChat(chatID int64) error {
	return t.send(protocol.LeaveChatMsg{Type: protocol.TypeLeaveChat, ChatID: chatID})
}

// MarkRead asks the server to mark the peer's messages read and fan out
// the receipt.
func (t *Transport) MarkRead(chatID int64) error {
	return t.send(protocol.MarkReadMsg{Type: protocol.TypeMarkRead, ChatID: chatID})
}

// Typing signals the user's typing state in a conversation.
func (t *Transport) Typing(chatID int64, isTyping bool) error {
	return t.send(protocol.TypingMsg{Type: protocol.TypeTyping, ChatID: chatID, IsTyping: isTyping})
}

// Package client simulates one marketplace user against the chat
// server: an authenticated WebSocket for inbound events plus the REST
// endpoints for sending. It speaks the wire protocol directly with the
// same library the server uses, so it measures the real serialization
// path rather than going through the SDK.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Server -> client event types this client reacts to.
const (
	TypeConnected              = "connected"
	TypeJoinedChat             = "joined_chat"
	TypeNewMessage             = "new_message"
	TypeNewMessageNotification = "new_message_notification"
	TypeMessagesRead           = "messages_read"
	TypeUserTyping             = "user_typing"
	TypeError                  = "error"
	TypePong                   = "pong"
)

// Message mirrors the server's chat message shape, with only the fields
// the scenarios inspect.
type Message struct {
	ID       int64  `json:"id"`
	ChatID   int64  `json:"chat_id"`
	SenderID int64  `json:"sender_id"`
	Content  string `json:"content"`
}

// User is one simulated participant.
type User struct {
	ID    int64
	token string

	baseURL string
	httpc   *http.Client

	conn      net.Conn
	writeMu   sync.Mutex
	handlers  map[string]func(json.RawMessage)
	connected chan struct{}
	connOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once

	ConnectLatency time.Duration
}

// Dial connects and waits for the server's connected acknowledgement.
func Dial(ctx context.Context, baseURL, wsURL string, userID int64, token string) (*User, error) {
	u := &User{
		ID:        userID,
		token:     token,
		baseURL:   baseURL,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		handlers:  make(map[string]func(json.RawMessage)),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}

	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, fmt.Sprintf("%s?token=%s", wsURL, token))
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	u.conn = conn
	go u.readLoop()

	select {
	case <-u.connected:
		u.ConnectLatency = time.Since(start)
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
	return u, nil
}

// On registers a handler for a server event type. Register before
// triggering traffic; handlers run on the read goroutine.
func (u *User) On(eventType string, handler func(json.RawMessage)) {
	u.handlers[eventType] = handler
}

// Emit writes one client frame.
func (u *User) Emit(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	return wsutil.WriteClientText(u.conn, data)
}

// Join enters a conversation's event scope.
func (u *User) Join(chatID int64) error {
	return u.Emit(map[string]interface{}{"type": "join_chat", "chat_id": chatID})
}

// StartChat creates or resumes the conversation with a seller over
// REST and returns its id.
func (u *User) StartChat(ctx context.Context, sellerID int64) (int64, error) {
	var out struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	}
	err := u.post(ctx, "/api/v1/chat/start", map[string]int64{"seller_id": sellerID}, &out)
	if err != nil {
		return 0, err
	}
	return out.Chat.ID, nil
}

// Send posts a text message to a conversation and returns the
// server-assigned id.
func (u *User) Send(ctx context.Context, chatID int64, text string) (int64, error) {
	var out struct {
		Message struct {
			ID int64 `json:"id"`
		} `json:"message"`
	}
	path := fmt.Sprintf("/api/v1/chat/%d/send", chatID)
	err := u.post(ctx, path, map[string]string{"content": text, "type": "text"}, &out)
	if err != nil {
		return 0, err
	}
	return out.Message.ID, nil
}

func (u *User) post(ctx context.Context, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.token)

	resp, err := u.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Close tears the connection down. Safe to call repeatedly.
func (u *User) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.done)
		err = u.conn.Close()
	})
	return err
}

func (u *User) readLoop() {
	for {
		data, err := wsutil.ReadServerText(u.conn)
		if err != nil {
			select {
			case <-u.done:
			default:
			}
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &envelope) != nil {
			continue
		}

		if envelope.Type == TypeConnected {
			u.connOnce.Do(func() { close(u.connected) })
		}
		if handler, ok := u.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}

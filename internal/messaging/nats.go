// Package messaging provides a NATS client wrapper for pub/sub fanout across
// chat server instances. Chat rooms and user notification scopes are NATS
// subjects, so a message persisted on one instance reaches connections held
// by any other instance.
package messaging

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/campusmarket/chat-app/internal/metrics"
)

// NATS subject patterns used by the chat server.
const (
	SubjectChat        = "chat"          // + .<chat_id>: room-scoped chat events
	SubjectUser        = "user"          // + .<user_id>: personal-scope events
	SubjectOrderStatus = "orders.status" // order lifecycle transitions from the order service
)

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription

	// rooms counts local subscriptions per chat id so the active-rooms
	// gauge reflects rooms with at least one subscriber on this instance.
	rooms map[int64]int
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "chatapp",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats: disconnected")
			} else {
				log.Info().Msg("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats: reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats: connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("nats: connected")

	return &Client{
		conn:  nc,
		subs:  make(map[string]*nats.Subscription),
		rooms: make(map[int64]int),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishChat publishes data to the chat.<chatID> subject.
func (c *Client) PublishChat(chatID int64, data []byte) error {
	return c.Publish(fmt.Sprintf("%s.%d", SubjectChat, chatID), data)
}

// PublishUser publishes data to the user.<userID> subject.
func (c *Client) PublishUser(userID int64, data []byte) error {
	return c.Publish(fmt.Sprintf("%s.%d", SubjectUser, userID), data)
}

// SubscribeChat subscribes a connection to the chat.<chatID> subject. The
// subscription is keyed by (connID, chatID) so that multiple local
// connections can join the same room without overwriting each other, and a
// single connection can join several rooms.
func (c *Client) SubscribeChat(chatID int64, connID string, handler func(data []byte)) error {
	subject := fmt.Sprintf("%s.%d", SubjectChat, chatID)
	key := chatSubKey(connID, chatID)

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	// Replace an existing subscription for the same key (re-join after
	// reconnect) rather than leaking it.
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	} else {
		c.roomAddLocked(chatID)
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeChat removes a connection's subscription to a chat room.
func (c *Client) UnsubscribeChat(chatID int64, connID string) error {
	key := chatSubKey(connID, chatID)

	c.mu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
		c.roomDropLocked(chatID)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// SubscribeUser subscribes a connection to its user's personal subject.
func (c *Client) SubscribeUser(userID int64, connID string, handler func(data []byte)) error {
	subject := fmt.Sprintf("%s.%d", SubjectUser, userID)
	key := "usersub:" + connID

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeConn removes every subscription held for a connection. Called on
// disconnect.
func (c *Client) UnsubscribeConn(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := "chatsub:" + connID + ":"
	for key, sub := range c.subs {
		switch {
		case key == "usersub:"+connID:
			_ = sub.Unsubscribe()
			delete(c.subs, key)
		case len(key) >= len(prefix) && key[:len(prefix)] == prefix:
			_ = sub.Unsubscribe()
			delete(c.subs, key)
			if chatID, err := strconv.ParseInt(key[len(prefix):], 10, 64); err == nil {
				c.roomDropLocked(chatID)
			}
		}
	}
}

// PublishOrderStatus publishes an order lifecycle transition for fanout.
func (c *Client) PublishOrderStatus(data []byte) error {
	return c.Publish(SubjectOrderStatus, data)
}

// SubscribeOrderStatus subscribes to order lifecycle transitions published by
// the order service.
func (c *Client) SubscribeOrderStatus(handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(SubjectOrderStatus, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectOrderStatus, err)
	}
	c.mu.Lock()
	c.subs[SubjectOrderStatus] = sub
	c.mu.Unlock()
	return nil
}

// unsubscribe removes and unsubscribes the subscription stored under key.
func (c *Client) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// roomAddLocked and roomDropLocked keep the active-rooms gauge in step with
// the local subscription refcounts. Callers hold c.mu.
func (c *Client) roomAddLocked(chatID int64) {
	c.rooms[chatID]++
	if c.rooms[chatID] == 1 {
		metrics.ActiveRooms.Inc()
	}
}

func (c *Client) roomDropLocked(chatID int64) {
	if n, ok := c.rooms[chatID]; ok {
		if n <= 1 {
			delete(c.rooms, chatID)
			metrics.ActiveRooms.Dec()
		} else {
			c.rooms[chatID] = n - 1
		}
	}
}

// Close drains all subscriptions and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	for key, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, key)
	}
	for chatID := range c.rooms {
		delete(c.rooms, chatID)
		metrics.ActiveRooms.Dec()
	}
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("nats: drain failed")
	}
}

func chatSubKey(connID string, chatID int64) string {
	return fmt.Sprintf("chatsub:%s:%d", connID, chatID)
}

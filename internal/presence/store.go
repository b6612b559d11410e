// Package presence tracks live WebSocket connections in Redis: which user a
// connection belongs to, which server instance holds it, and which chat rooms
// the connection has joined. Records are TTL'd so that a crashed instance's
// state ages out on its own.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ConnPrefix is the Redis key prefix for connection hashes.
	ConnPrefix = "conn:"

	// RoomsPrefix is the Redis key prefix for a connection's joined-room set.
	RoomsPrefix = "conn:rooms:"

	// UserConnsPrefix is the Redis key prefix for the set of connection ids
	// belonging to a user (a user may have several devices online).
	UserConnsPrefix = "user:conns:"

	// ConnTTL is the time-to-live for connection keys in Redis.
	ConnTTL = 1 * time.Hour
)

// Conn is a connection record stored in Redis.
type Conn struct {
	ID         string `redis:"id"`
	UserID     int64  `redis:"user_id"`
	Server     string `redis:"server"` // which chat server instance
	CreatedAt  int64  `redis:"created_at"`
	LastActive int64  `redis:"last_active"`
}

// Store manages connection presence state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this chat server instance
}

// NewStore creates a presence store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Register stores a new connection record and indexes it under its user.
func (s *Store) Register(ctx context.Context, connID string, userID int64) error {
	key := ConnPrefix + connID
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":          connID,
		"user_id":     userID,
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	})
	pipe.Expire(ctx, key, ConnTTL)
	pipe.SAdd(ctx, userConnsKey(userID), connID)
	pipe.Expire(ctx, userConnsKey(userID), ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a connection record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Conn, error) {
	var conn Conn
	if err := s.client.HGetAll(ctx, ConnPrefix+connID).Scan(&conn); err != nil {
		return nil, err
	}
	if conn.ID == "" {
		return nil, nil // not found
	}
	return &conn, nil
}

// JoinRoom records that the connection has joined a chat room and refreshes
// the record's TTL.
func (s *Store) JoinRoom(ctx context.Context, connID string, chatID int64) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, RoomsPrefix+connID, chatID)
	pipe.Expire(ctx, RoomsPrefix+connID, ConnTTL)
	pipe.HSet(ctx, ConnPrefix+connID, "last_active", time.Now().Unix())
	pipe.Expire(ctx, ConnPrefix+connID, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// LeaveRoom removes a chat room from the connection's joined set.
func (s *Store) LeaveRoom(ctx context.Context, connID string, chatID int64) error {
	return s.client.SRem(ctx, RoomsPrefix+connID, chatID).Err()
}

// Rooms returns the chat ids the connection has joined.
func (s *Store) Rooms(ctx context.Context, connID string) ([]int64, error) {
	ids, err := s.client.SMembers(ctx, RoomsPrefix+connID).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(ids))
	for _, raw := range ids {
		var id int64
		if _, err := fmt.Sscan(raw, &id); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

// UserConnections returns the connection ids currently registered for a user.
func (s *Store) UserConnections(ctx context.Context, userID int64) ([]string, error) {
	return s.client.SMembers(ctx, userConnsKey(userID)).Result()
}

// Touch refreshes the connection's TTL and last-active timestamp. Called by
// the heartbeat so that live connections never age out.
func (s *Store) Touch(ctx context.Context, connID string) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, ConnPrefix+connID, "last_active", time.Now().Unix())
	pipe.Expire(ctx, ConnPrefix+connID, ConnTTL)
	pipe.Expire(ctx, RoomsPrefix+connID, ConnTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Unregister removes a connection record, its room set, and its user index
// entry.
func (s *Store) Unregister(ctx context.Context, connID string, userID int64) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, ConnPrefix+connID)
	pipe.Del(ctx, RoomsPrefix+connID)
	pipe.SRem(ctx, userConnsKey(userID), connID)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

func userConnsKey(userID int64) string {
	return fmt.Sprintf("%s%d", UserConnsPrefix, userID)
}

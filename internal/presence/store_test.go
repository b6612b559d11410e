package presence

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance. Tests
// that call this helper require a running Redis on localhost:6379 and are
// skipped otherwise.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	client.Close()

	store, err := NewStore("localhost:6379", "test-server")
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		for _, pattern := range []string{ConnPrefix + "test-*", RoomsPrefix + "test-*", UserConnsPrefix + "*"} {
			iter := store.Client().Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				store.Client().Del(ctx, iter.Val())
			}
		}
		store.Close()
	})
	return store
}

func TestRegisterAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Register(ctx, "test-conn-1", 42); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	conn, err := store.Get(ctx, "test-conn-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if conn == nil {
		t.Fatal("expected connection record, got nil")
	}
	if conn.UserID != 42 {
		t.Errorf("expected user_id 42, got %d", conn.UserID)
	}
	if conn.Server != "test-server" {
		t.Errorf("expected server test-server, got %q", conn.Server)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)

	conn, err := store.Get(context.Background(), "test-does-not-exist")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if conn != nil {
		t.Errorf("expected nil for missing connection, got %+v", conn)
	}
}

func TestJoinAndLeaveRoom(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Register(ctx, "test-conn-2", 7); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := store.JoinRoom(ctx, "test-conn-2", 101); err != nil {
		t.Fatalf("JoinRoom() error: %v", err)
	}
	if err := store.JoinRoom(ctx, "test-conn-2", 102); err != nil {
		t.Fatalf("JoinRoom() error: %v", err)
	}

	rooms, err := store.Rooms(ctx, "test-conn-2")
	if err != nil {
		t.Fatalf("Rooms() error: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d (%v)", len(rooms), rooms)
	}

	if err := store.LeaveRoom(ctx, "test-conn-2", 101); err != nil {
		t.Fatalf("LeaveRoom() error: %v", err)
	}
	rooms, err = store.Rooms(ctx, "test-conn-2")
	if err != nil {
		t.Fatalf("Rooms() error: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != 102 {
		t.Errorf("expected [102], got %v", rooms)
	}
}

func TestUserConnections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Register(ctx, "test-conn-3a", 9); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := store.Register(ctx, "test-conn-3b", 9); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	conns, err := store.UserConnections(ctx, 9)
	if err != nil {
		t.Fatalf("UserConnections() error: %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections for user 9, got %d", len(conns))
	}

	if err := store.Unregister(ctx, "test-conn-3a", 9); err != nil {
		t.Fatalf("Unregister() error: %v", err)
	}
	conns, err = store.UserConnections(ctx, 9)
	if err != nil {
		t.Fatalf("UserConnections() error: %v", err)
	}
	if len(conns) != 1 || conns[0] != "test-conn-3b" {
		t.Errorf("expected [test-conn-3b], got %v", conns)
	}
}

func TestUnregisterClearsRooms(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Register(ctx, "test-conn-4", 11); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := store.JoinRoom(ctx, "test-conn-4", 55); err != nil {
		t.Fatalf("JoinRoom() error: %v", err)
	}
	if err := store.Unregister(ctx, "test-conn-4", 11); err != nil {
		t.Fatalf("Unregister() error: %v", err)
	}

	rooms, err := store.Rooms(ctx, "test-conn-4")
	if err != nil {
		t.Fatalf("Rooms() error: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("expected no rooms after unregister, got %v", rooms)
	}
	conn, err := store.Get(ctx, "test-conn-4")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if conn != nil {
		t.Errorf("expected record deleted, got %+v", conn)
	}
}

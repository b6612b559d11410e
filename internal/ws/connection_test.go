package ws

import (
	"net"
	"testing"

	"github.com/rs/zerolog"
)

func TestConnManagerIndexes(t *testing.T) {
	m := newConnManager()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	a := newConnection(c1, 1, 7)
	b := newConnection(c2, 2, 7)
	m.add(a)
	m.add(b)

	if m.count() != 2 {
		t.Fatalf("count = %d, want 2", m.count())
	}
	if got, ok := m.get(a.ID); !ok || got != a {
		t.Fatalf("get(%s) = %v, %v", a.ID, got, ok)
	}
	if got, ok := m.getByFd(2); !ok || got != b {
		t.Fatalf("getByFd(2) = %v, %v", got, ok)
	}

	m.remove(a)
	if _, ok := m.get(a.ID); ok {
		t.Fatal("connection still present after remove")
	}
	if m.count() != 1 {
		t.Fatalf("count = %d after remove, want 1", m.count())
	}

	m.remove(b)
	if m.count() != 0 {
		t.Fatalf("count = %d after removing all, want 0", m.count())
	}
}

func TestConnectionAcquireRelease(t *testing.T) {
	p1, p2 := net.Pipe()
	defer p1.Close()
	defer p2.Close()

	c := newConnection(p1, 1, 1)
	if !c.tryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if c.tryAcquire() {
		t.Fatal("second acquire should fail while held")
	}
	c.release()
	if !c.tryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestRouterDispatch(t *testing.T) {
	r := NewRouter(zerolog.Nop())

	p1, p2 := net.Pipe()
	defer p1.Close()
	defer p2.Close()
	c := newConnection(p1, 1, 42)

	var gotConn *Connection
	var gotPayload interface{}
	r.Handle("join_chat", func(conn *Connection, payload interface{}) {
		gotConn = conn
		gotPayload = payload
	})

	r.dispatch(c, "join_chat", "payload")
	if gotConn != c {
		t.Fatalf("handler received %v, want %v", gotConn, c)
	}
	if gotPayload != "payload" {
		t.Fatalf("handler received payload %v", gotPayload)
	}
}

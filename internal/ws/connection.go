package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// Connection is a single authenticated WebSocket connection. A user may
// hold several at once (phone and laptop), each with its own id.
type Connection struct {
	ID      string
	UserID  int64
	Conn    net.Conn
	Fd      int
	Created time.Time

	lastPing   time.Time
	pingMu     sync.Mutex
	writeMu    sync.Mutex
	processing bool
	procMu     sync.Mutex
}

func newConnection(conn net.Conn, fd int, userID int64) *Connection {
	now := time.Now()
	return &Connection{
		ID:       uuid.New().String(),
		UserID:   userID,
		Conn:     conn,
		Fd:       fd,
		Created:  now,
		lastPing: now,
	}
}

// Write sends a server frame. Safe for concurrent use; the epoll loop,
// heartbeat and NATS handlers all write to the same socket.
func (c *Connection) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerText(c.Conn, data)
}

func (c *Connection) TouchPing() {
	c.pingMu.Lock()
	c.lastPing = time.Now()
	c.pingMu.Unlock()
}

func (c *Connection) LastPing() time.Time {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return c.lastPing
}

// tryAcquire marks the connection busy so only one worker reads from it
// at a time. Returns false if another worker already holds it.
func (c *Connection) tryAcquire() bool {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	if c.processing {
		return false
	}
	c.processing = true
	return true
}

func (c *Connection) release() {
	c.procMu.Lock()
	c.processing = false
	c.procMu.Unlock()
}

// connManager tracks live connections by id and file descriptor.
type connManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

func newConnManager() *connManager {
	return &connManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

func (m *connManager) add(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[c.ID] = c
	m.byFd[c.Fd] = c
}

func (m *connManager) remove(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, c.ID)
	delete(m.byFd, c.Fd)
}

func (m *connManager) get(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	return c, ok
}

func (m *connManager) getByFd(fd int) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byFd[fd]
	return c, ok
}

func (m *connManager) all() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		conns = append(conns, c)
	}
	return conns
}

func (m *connManager) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/campusmarket/chat-app/internal/metrics"
	"github.com/campusmarket/chat-app/internal/protocol"
)

var (
	ErrNotSyscallConn  = errors.New("ws: connection does not expose a file descriptor")
	ErrPollerClosed    = errors.New("ws: poller closed")
	ErrServerFull      = errors.New("ws: connection limit reached")
	ErrStaleConnection = errors.New("ws: heartbeat timed out")
)

// TokenVerifier authenticates the token presented during the upgrade
// handshake and resolves it to a user id.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

type Config struct {
	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Server owns the WebSocket side of the chat service: it upgrades
// authenticated HTTP requests, parks the sockets on an epoll loop and
// feeds inbound frames to a small worker pool. Application behavior
// (rooms, persistence, fanout) is attached through the dispatcher and
// the connect/disconnect hooks.
type Server struct {
	cfg      Config
	verifier TokenVerifier
	router   *Router
	log      zerolog.Logger

	poller *poller
	conns  *connManager

	onConnect    func(*Connection)
	onDisconnect func(*Connection)
	onPing       func(*Connection)

	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewServer(cfg Config, verifier TokenVerifier, router *Router, log zerolog.Logger) (*Server, error) {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 16
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10000
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		verifier: verifier,
		router:   router,
		log:      log.With().Str("component", "ws").Logger(),
		poller:   p,
		conns:    newConnManager(),
		quit:     make(chan struct{}),
	}, nil
}

// OnConnect registers a hook invoked after a connection is accepted and
// the connected frame has been sent.
func (s *Server) OnConnect(fn func(*Connection)) { s.onConnect = fn }

// OnDisconnect registers a hook invoked after a connection is torn down.
func (s *Server) OnDisconnect(fn func(*Connection)) { s.onDisconnect = fn }

// OnPing registers a hook invoked on every client ping, useful for
// refreshing presence TTLs.
func (s *Server) OnPing(fn func(*Connection)) { s.onPing = fn }

// Start launches the event loop, the worker pool and the heartbeat
// sweeper. It returns immediately.
func (s *Server) Start() {
	ready := make(chan int, s.cfg.WorkerPoolSize*4)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.eventLoop(ready)
	}()

	for i := 0; i < s.cfg.WorkerPoolSize; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(ready)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop()
	}()
}

func (s *Server) eventLoop(ready chan<- int) {
	defer close(ready)
	for {
		fds, err := s.poller.Wait()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			s.log.Error().Err(err).Msg("poll wait failed")
			return
		}
		for _, fd := range fds {
			select {
			case ready <- fd:
			case <-s.quit:
				return
			}
		}
	}
}

func (s *Server) worker(ready <-chan int) {
	for fd := range ready {
		conn, ok := s.conns.getByFd(fd)
		if !ok {
			continue
		}
		if !conn.tryAcquire() {
			continue
		}
		s.readFrame(conn)
		conn.release()
	}
}

func (s *Server) readFrame(c *Connection) {
	if s.cfg.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	data, err := wsutil.ReadClientText(c.Conn)
	if err != nil {
		s.closeConnection(c, err)
		return
	}

	msgType, payload, err := protocol.ParseClientMessage(data)
	if err != nil {
		s.sendError(c, "bad_request", err.Error())
		return
	}

	if msgType == protocol.TypePing {
		c.TouchPing()
		if s.onPing != nil {
			s.onPing(c)
		}
		if pong, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{}); err == nil {
			_ = c.Write(pong)
		}
		return
	}

	s.router.dispatch(c, msgType, payload)
}

// HandleUpgrade authenticates the request and promotes it to a
// WebSocket connection. The token travels in the token query parameter
// (browser WebSocket clients cannot set headers) with an Authorization
// bearer fallback for native clients.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.count() >= s.cfg.MaxConnections {
		http.Error(w, ErrServerFull.Error(), http.StatusServiceUnavailable)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	userID, err := s.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	fd, err := s.poller.Add(conn)
	if err != nil {
		s.log.Error().Err(err).Msg("poller add failed")
		conn.Close()
		return
	}

	c := newConnection(conn, fd, userID)
	s.conns.add(c)
	metrics.ConnectionsTotal.Inc()

	s.log.Info().
		Str("conn_id", c.ID).
		Int64("user_id", userID).
		Int("active", s.conns.count()).
		Msg("connection established")

	if frame, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{UserID: userID}); err == nil {
		_ = c.Write(frame)
	}

	if s.onConnect != nil {
		s.onConnect(c)
	}
}

func (s *Server) closeConnection(c *Connection, cause error) {
	if _, ok := s.conns.get(c.ID); !ok {
		return
	}
	s.conns.remove(c)
	_ = s.poller.Remove(c.Fd)
	_ = c.Conn.Close()
	metrics.ConnectionsTotal.Dec()

	s.log.Info().
		Str("conn_id", c.ID).
		Int64("user_id", c.UserID).
		AnErr("cause", cause).
		Int("active", s.conns.count()).
		Msg("connection closed")

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}
}

func (s *Server) sendError(c *Connection, code, message string) {
	frame, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
	if err != nil {
		return
	}
	_ = c.Write(frame)
}

// SendToConn delivers a frame to a single connection by id.
func (s *Server) SendToConn(connID string, data []byte) error {
	c, ok := s.conns.get(connID)
	if !ok {
		return errors.New("ws: unknown connection " + connID)
	}
	return c.Write(data)
}

// Connection returns the live connection with the given id, if any.
func (s *Server) Connection(connID string) (*Connection, bool) {
	return s.conns.get(connID)
}

// ActiveConnections reports the current local connection count.
func (s *Server) ActiveConnections() int {
	return s.conns.count()
}

// Shutdown stops the loops and closes every connection. Safe to call
// more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() {
		close(s.quit)
		_ = s.poller.Close()
		for _, c := range s.conns.all() {
			s.closeConnection(c, context.Canceled)
		}
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

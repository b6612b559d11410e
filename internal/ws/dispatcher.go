package ws

import (
	"github.com/rs/zerolog"

	"github.com/campusmarket/chat-app/internal/protocol"
)

// HandlerFunc processes one inbound client message. The payload is the
// typed struct produced by protocol.ParseClientMessage for the type the
// handler was registered under.
type HandlerFunc func(c *Connection, payload interface{})

// Router maps client message types to handlers. Registration happens at
// startup before Server.Start; dispatch is then read-only, so no lock.
type Router struct {
	handlers map[string]HandlerFunc
	log      zerolog.Logger
}

func NewRouter(log zerolog.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		log:      log.With().Str("component", "router").Logger(),
	}
}

func (r *Router) Handle(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

func (r *Router) dispatch(c *Connection, msgType string, payload interface{}) {
	fn, ok := r.handlers[msgType]
	if !ok {
		r.log.Debug().Str("type", msgType).Str("conn_id", c.ID).Msg("no handler registered")
		if frame, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code:    "unsupported",
			Message: "unsupported message type: " + msgType,
		}); err == nil {
			_ = c.Write(frame)
		}
		return
	}
	fn(c, payload)
}

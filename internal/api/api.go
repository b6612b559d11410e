// Package api exposes the REST surface of the chat service: conversation
// listing, paged history, message send and chat start, plus the WebSocket
// upgrade, health and metrics endpoints. All chat routes require a bearer
// token.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/campusmarket/chat-app/internal/auth"
	"github.com/campusmarket/chat-app/internal/content"
	"github.com/campusmarket/chat-app/internal/hub"
	"github.com/campusmarket/chat-app/internal/metrics"
	"github.com/campusmarket/chat-app/internal/model"
	"github.com/campusmarket/chat-app/internal/store"
	"github.com/campusmarket/chat-app/internal/ws"
)

const userIDKey = "user_id"

type Server struct {
	echo  *echo.Echo
	store *store.Store
	hub   *hub.Hub
	auth  *auth.Service
	log   zerolog.Logger
}

func NewServer(st *store.Store, h *hub.Hub, authSvc *auth.Service, wsSrv *ws.Server, log zerolog.Logger) *Server {
	s := &Server{
		echo:  echo.New(),
		store: st,
		hub:   h,
		auth:  authSvc,
		log:   log.With().Str("component", "api").Logger(),
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.requestLogger())

	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	s.echo.GET("/ws", func(c echo.Context) error {
		if !s.hub.AllowConnection(c.Request().Context(), c.Request().RemoteAddr) {
			return echo.NewHTTPError(http.StatusTooManyRequests, "connection rate exceeded")
		}
		wsSrv.HandleUpgrade(c.Response(), c.Request())
		return nil
	})

	chat := s.echo.Group("/api/v1/chat", s.requireAuth)
	chat.GET("/conversations", s.handleConversations)
	chat.GET("/:id/messages", s.handleMessages)
	chat.POST("/:id/send", s.handleSend)
	chat.POST("/start", s.handleStart)

	return s
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			s.log.Info().
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Msg("request")
			return err
		}
	}
}

// requireAuth validates the Authorization bearer token and stashes the
// user id in the request context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		userID, err := s.auth.Verify(header[len(prefix):])
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		c.Set(userIDKey, userID)
		return next(c)
	}
}

func currentUser(c echo.Context) int64 {
	id, _ := c.Get(userIDKey).(int64)
	return id
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConversations(c echo.Context) error {
	convs, err := s.store.ListConversations(c.Request().Context(), currentUser(c))
	if err != nil {
		return s.fail(c, err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": convs})
}

// Pagination describes the position of a message page within a
// conversation's history.
type Pagination struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

func (s *Server) handleMessages(c echo.Context) error {
	chatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid chat id")
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	ctx := c.Request().Context()
	userID := currentUser(c)

	conv, err := s.store.GetConversation(ctx, chatID, userID)
	if err != nil {
		return s.fail(c, err)
	}
	msgs, err := s.store.Messages(ctx, chatID, page, store.DefaultPageSize)
	if err != nil {
		return s.fail(c, err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	total, err := s.store.CountMessages(ctx, chatID)
	if err != nil {
		return s.fail(c, err)
	}

	pages := (total + store.DefaultPageSize - 1) / store.DefaultPageSize
	if pages < 1 {
		pages = 1
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"chat":     conv,
		"messages": msgs,
		"pagination": Pagination{
			Page:    page,
			PerPage: store.DefaultPageSize,
			Total:   total,
			Pages:   pages,
			HasNext: page < pages,
			HasPrev: page > 1,
		},
	})
}

type sendRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"type"`
	MediaURL    string `json:"media_url"`
	OrderID     int64  `json:"order_id"`
}

func (s *Server) handleSend(c echo.Context) error {
	chatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid chat id")
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.MessageType == "" {
		req.MessageType = model.MessageTypeText
	}
	if !model.ValidMessageType(req.MessageType) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown message type")
	}

	msg, err := s.hub.SendMessage(c.Request().Context(), chatID, currentUser(c),
		req.Content, req.MessageType, req.MediaURL, req.OrderID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"message": msg})
}

type startRequest struct {
	SellerID  int64 `json:"seller_id"`
	ProductID int64 `json:"product_id"`
}

func (s *Server) handleStart(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SellerID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "seller_id required")
	}

	conv, err := s.hub.StartChat(c.Request().Context(), currentUser(c), req.SellerID, req.ProductID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"chat": conv})
}

// fail maps domain errors to HTTP status codes.
func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrChatNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrNotParticipant):
		return echo.NewHTTPError(http.StatusForbidden, "not a participant")
	case errors.Is(err, store.ErrSelfChat):
		return echo.NewHTTPError(http.StatusBadRequest, "cannot chat with yourself")
	case errors.Is(err, store.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, "message content or media required")
	case errors.Is(err, hub.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}
	var verr *content.ValidationError
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, verr.Reason)
	}
	s.log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// Package ws serves the bidirectional player stream: commands in, push
// packets out.
package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tilequest/server/api/push"
	"github.com/tilequest/server/config"
	"github.com/tilequest/server/game/player"
	mw "github.com/tilequest/server/middleware"
)

const maxMessageSize = 8 << 10

// Handler is the Gin handler for GET /ws.
type Handler struct {
	loop     *push.Loop
	router   *Router
	sec      config.SecurityConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(loop *push.Loop, router *Router, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	h := &Handler{loop: loop, router: router, sec: sec, logger: logger}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>. It must run behind mw.Auth.
func (h *Handler) ServeWS(c *gin.Context) {
	userID := mw.GetUserID(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	s := player.NewWSSession(userID, mw.GetUserName(c), conn, h.logger)
	s.TraceID = mw.GetTraceID(c)

	// The request context is not cancelled when a hijacked connection
	// drops, so the reader owns the loop's lifetime.
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := h.loop.Run(ctx, s); err != nil {
			h.logger.Warn("push loop ended", zap.Int64("user_id", userID), zap.Error(err))
			s.Close()
		}
	}()

	h.readPump(ctx, s)
	cancel()
	<-loopDone
}

// readPump reads commands until the socket fails or the session closes.
func (h *Handler) readPump(ctx context.Context, s *player.Session) {
	limiter := rate.NewLimiter(rate.Limit(h.commandRate()), h.commandBurst())

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) && !s.IsClosed() {
				h.logger.Warn("ws unexpected close", zap.Int64("user_id", s.UserID), zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		if !limiter.Allow() {
			h.logger.Debug("ws command dropped by rate limit", zap.Int64("user_id", s.UserID))
			continue
		}
		h.router.Dispatch(ctx, s, raw)
	}
}

func (h *Handler) commandRate() float64 {
	if h.sec.RateLimitRPS > 0 {
		return h.sec.RateLimitRPS
	}
	return 20
}

func (h *Handler) commandBurst() int {
	if h.sec.RateLimitBurst > 0 {
		return h.sec.RateLimitBurst
	}
	return 40
}

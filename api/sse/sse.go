// Package sse serves the push stream over Server-Sent Events for clients
// that only read. Commands go through the REST API.
package sse

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tilequest/server/api/push"
	"github.com/tilequest/server/game/player"
	mw "github.com/tilequest/server/middleware"
)

const keepaliveInterval = 30 * time.Second

// Handler handles the SSE endpoint.
type Handler struct {
	loop   *push.Loop
	logger *zap.Logger
}

func NewHandler(loop *push.Loop, logger *zap.Logger) *Handler {
	return &Handler{loop: loop, logger: logger}
}

// ServeSSE handles GET /sse?token=<jwt>. It must run behind mw.Auth.
// Every push packet is sent as an event named "packet" whose data is the
// JSON envelope.
func (h *Handler) ServeSSE(c *gin.Context) {
	userID := mw.GetUserID(c)
	s := player.NewSession(userID, mw.GetUserName(c), player.TransportSSE, h.logger)
	s.TraceID = mw.GetTraceID(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	loopDone := make(chan error, 1)
	go func() { loopDone <- h.loop.Run(ctx, s) }()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.SendChan:
			c.SSEvent("packet", string(data))
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			_, _ = c.Writer.WriteString(": keepalive\n\n")
			c.Writer.Flush()

		case err := <-loopDone:
			if err != nil {
				h.logger.Warn("sse push loop ended", zap.Int64("user_id", userID), zap.Error(err))
			}
			return

		case <-s.Done:
			cancel()
			<-loopDone
			return

		case <-c.Request.Context().Done():
			cancel()
			<-loopDone
			return
		}
	}
}

package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tilequest/server/audit"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/player"
)

// TypeError is the reply sent when a command fails.
const TypeError = "error"

// HandlerFunc processes a decoded WS message payload.
type HandlerFunc func(ctx context.Context, s *player.Session, payload json.RawMessage) error

// Router dispatches incoming WS packets to registered handlers.
type Router struct {
	handlers map[string]HandlerFunc
	audit    *audit.Service
	logger   *zap.Logger
}

// NewRouter creates a new Router. A nil audit service disables command
// logging.
func NewRouter(au *audit.Service, logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		audit:    au,
		logger:   logger,
	}
}

// On registers a HandlerFunc for the given message type.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

type errorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Dispatch decodes raw bytes, validates seq, and invokes the appropriate
// handler. Failures are answered with an error packet; the connection is
// never closed by a failed command.
func (r *Router) Dispatch(ctx context.Context, s *player.Session, raw []byte) {
	var pkt player.Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet", zap.Int64("user_id", s.UserID), zap.Error(err))
		r.reply(s, "", fmt.Errorf("%w: malformed packet", errs.ErrInvalid))
		return
	}

	// Monotonic seq check (anti-replay). Seq == 0 means no seq tracking.
	if pkt.Seq != 0 && pkt.Seq <= s.LastSeq {
		r.logger.Warn("replayed or out-of-order packet",
			zap.Int64("user_id", s.UserID),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", s.LastSeq))
		return
	}
	if pkt.Seq != 0 {
		s.LastSeq = pkt.Seq
	}

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("unhandled message type", zap.String("type", pkt.Type), zap.Int64("user_id", s.UserID))
		r.reply(s, pkt.Type, fmt.Errorf("%w: unknown command %q", errs.ErrInvalid, pkt.Type))
		return
	}

	traceID := uuid.NewString()
	ctx = context.WithValue(ctx, ctxKeyTraceID{}, traceID)
	start := time.Now()
	err := fn(ctx, s, pkt.Payload)

	if r.audit != nil && pkt.Type != "ping" {
		x, y := s.Position()
		entry := audit.Entry{
			TraceID:  traceID,
			UserID:   s.UserID,
			Action:   pkt.Type,
			Detail:   pkt.Payload,
			X:        x,
			Y:        y,
			Duration: time.Since(start),
		}
		if err != nil {
			entry.Error = err.Error()
		}
		r.audit.Log(entry)
	}

	if err != nil {
		if !errs.IsDomain(err) {
			r.logger.Error("handler error",
				zap.String("type", pkt.Type),
				zap.Int64("user_id", s.UserID),
				zap.String("trace_id", traceID),
				zap.Error(err))
		}
		r.reply(s, pkt.Type, err)
	}
}

func (r *Router) reply(s *player.Session, cmd string, err error) {
	msg := errs.Message(err)
	if !errs.IsDomain(err) {
		msg = "internal error"
	}
	payload, _ := json.Marshal(errorReply{Type: cmd, Message: msg, Status: errs.HTTPStatus(err)})
	s.Send(&player.Packet{Type: TypeError, Payload: payload})
}

type ctxKeyTraceID struct{}

// TraceIDFromCtx extracts the trace ID from a handler context.
func TraceIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTraceID{}).(string); ok {
		return v
	}
	return ""
}

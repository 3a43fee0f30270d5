package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/player"
	"github.com/tilequest/server/game/world"
)

// Reply packet types.
const (
	TypePong   = "pong"
	TypeDialog = "dialog"
)

// Commands are the player commands accepted on the socket. Their results
// reach the client through the push loop; only talk and ping reply
// directly.
type Commands struct {
	world  *world.World
	bus    *events.Bus
	logger *zap.Logger
}

func NewCommands(w *world.World, bus *events.Bus, logger *zap.Logger) *Commands {
	return &Commands{world: w, bus: bus, logger: logger}
}

// RegisterHandlers registers all commands on r.
func (h *Commands) RegisterHandlers(r *Router) {
	r.On("ping", h.Ping)
	r.On("sync", h.Sync)
	r.On("move", h.Move)
	r.On("collect", h.Collect)
	r.On("cancel_action", h.CancelAction)
	r.On("accept_quest", h.AcceptQuest)
	r.On("complete_quest", h.TurnInQuest)
	r.On("cancel_quest", h.AbandonQuest)
	r.On("talk", h.Talk)
	r.On("chat", h.Chat)
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", errs.ErrInvalid)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: bad payload: %v", errs.ErrInvalid, err)
	}
	return nil
}

type pingReq struct {
	TS int64 `json:"ts"`
}

func (h *Commands) Ping(_ context.Context, s *player.Session, payload json.RawMessage) error {
	var req pingReq
	_ = json.Unmarshal(payload, &req)
	s.SendHeartbeatPong(req.TS)
	return nil
}

// Sync asks the push loop for a fresh snapshot.
func (h *Commands) Sync(ctx context.Context, s *player.Session, _ json.RawMessage) error {
	h.bus.UserChanged(ctx, s.UserID)
	return nil
}

type moveReq struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

func (h *Commands) Move(ctx context.Context, s *player.Session, payload json.RawMessage) error {
	var req moveReq
	if err := decode(payload, &req); err != nil {
		return err
	}
	if req.X == nil || req.Y == nil {
		return fmt.Errorf("%w: x and y are required", errs.ErrInvalid)
	}
	return h.world.Move(ctx, s.UserID, *req.X, *req.Y)
}

type collectReq struct {
	ResourceID string `json:"resource_id"`
}

func (h *Commands) Collect(ctx context.Context, s *player.Session, payload json.RawMessage) error {
	var req collectReq
	if err := decode(payload, &req); err != nil {
		return err
	}
	_, err := h.world.Collect(ctx, s.UserID, req.ResourceID)
	return err
}

func (h *Commands) CancelAction(ctx context.Context, s *player.Session, _ json.RawMessage) error {
	return h.world.CancelAction(ctx, s.UserID)
}

type questReq struct {
	InstanceID string `json:"instance_id"`
}

func (h *Commands) questID(payload json.RawMessage) (string, error) {
	var req questReq
	if err := decode(payload, &req); err != nil {
		return "", err
	}
	if req.InstanceID == "" {
		return "", fmt.Errorf("%w: instance_id is required", errs.ErrInvalid)
	}
	return req.InstanceID, nil
}

func (h *Commands) AcceptQuest(ctx context.Context, s *player.Session, payload json.RawMessage) error {
	id, err := h.questID(payload)
	if err != nil {
		return err
	}
	return h.world.AcceptQuest(ctx, s.UserID, id)
}

func (h *Commands) TurnInQuest(ctx context.Context, s *player.Session, payload json.RawMessage) error {
	id, err := h.questID(payload)
	if err != nil {
		return err
	}
	return h.world.TurnInQuest(ctx, s.UserID, id)
}

func (h *Commands) AbandonQuest(ctx context.Context, s *player.Session, payload json.RawMessage) error {
	id, err := h.questID(payload)
	if err != nil {
		return err
	}
	return h.world.AbandonQuest(ctx, s.UserID, id)
}

// Talk advances an NPC conversation and sends the line back directly.
func (h *Commands) Talk(ctx context.Context, s *player.Session, payload json.RawMessage) error {
	id, err := h.questID(payload)
	if err != nil {
		return err
	}
	step, err := h.world.Talk(ctx, s.UserID, id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(step)
	if err != nil {
		return err
	}
	s.Send(&player.Packet{Type: TypeDialog, Payload: data})
	return nil
}

type chatReq struct {
	Content string `json:"content"`
}

func (h *Commands) Chat(ctx context.Context, s *player.Session, payload json.RawMessage) error {
	var req chatReq
	if err := decode(payload, &req); err != nil {
		return err
	}
	_, err := h.world.Say(ctx, s.UserID, s.Name, req.Content)
	return err
}

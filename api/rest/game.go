package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tilequest/server/audit"
	"github.com/tilequest/server/game/chat"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/item"
	"github.com/tilequest/server/game/message"
	"github.com/tilequest/server/game/quest"
	"github.com/tilequest/server/game/view"
	"github.com/tilequest/server/game/world"
	mw "github.com/tilequest/server/middleware"
)

// GameHandler exposes the player commands and the derived view over plain
// HTTP for clients that do not hold a push stream.
type GameHandler struct {
	world  *world.World
	views  *view.Builder
	quests *quest.Engine
	inv    *item.Service
	msgs   *message.Service
	chat   *chat.Service
	audit  *audit.Service
	logger *zap.Logger
}

func NewGameHandler(w *world.World, views *view.Builder, quests *quest.Engine, inv *item.Service,
	msgs *message.Service, ch *chat.Service, au *audit.Service, logger *zap.Logger) *GameHandler {
	return &GameHandler{world: w, views: views, quests: quests, inv: inv, msgs: msgs, chat: ch, audit: au, logger: logger}
}

type moveReq struct {
	X *int `json:"x" binding:"required"`
	Y *int `json:"y" binding:"required"`
}

type collectReq struct {
	ResourceID string `json:"resource_id" binding:"required"`
}

type chatReq struct {
	Content string `json:"content" binding:"required"`
}

// writeError maps a service error onto the response. Domain errors carry
// their player-facing text; anything else is logged and hidden.
func (h *GameHandler) writeError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("trace_id", mw.GetTraceID(c)), zap.Int64("user_id", mw.GetUserID(c)), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": errs.Message(err)})
}

// command runs fn for the calling player, records it in the audit log and
// answers with the refreshed snapshot.
func (h *GameHandler) command(c *gin.Context, action string, detail interface{}, fn func(ctx context.Context, userID int64) error) {
	userID := mw.GetUserID(c)
	start := time.Now()
	err := fn(c.Request.Context(), userID)

	entry := audit.Entry{
		TraceID:  mw.GetTraceID(c),
		UserID:   userID,
		Action:   action,
		Detail:   detail,
		Duration: time.Since(start),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	snap, snapErr := h.views.Snapshot(c.Request.Context(), userID)
	if snapErr == nil {
		entry.X, entry.Y = snap.Zone.X, snap.Zone.Y
	}
	h.audit.Log(entry)

	if err != nil {
		h.writeError(c, err)
		return
	}
	if snapErr != nil {
		h.writeError(c, snapErr)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// State handles GET /api/state.
func (h *GameHandler) State(c *gin.Context) {
	snap, err := h.views.Snapshot(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Enter handles POST /api/enter and places the player on the map.
func (h *GameHandler) Enter(c *gin.Context) {
	h.command(c, "enter", nil, func(ctx context.Context, userID int64) error {
		_, err := h.world.Enter(ctx, userID)
		return err
	})
}

// Leave handles POST /api/leave.
func (h *GameHandler) Leave(c *gin.Context) {
	userID := mw.GetUserID(c)
	if err := h.world.Leave(c.Request.Context(), userID); err != nil {
		h.writeError(c, err)
		return
	}
	h.audit.Log(audit.Entry{TraceID: mw.GetTraceID(c), UserID: userID, Action: "leave"})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Move handles POST /api/move.
func (h *GameHandler) Move(c *gin.Context) {
	var req moveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "x and y are required"})
		return
	}
	h.command(c, "move", req, func(ctx context.Context, userID int64) error {
		return h.world.Move(ctx, userID, *req.X, *req.Y)
	})
}

// Collect handles POST /api/collect.
func (h *GameHandler) Collect(c *gin.Context) {
	var req collectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_id is required"})
		return
	}
	h.command(c, "collect", req, func(ctx context.Context, userID int64) error {
		_, err := h.world.Collect(ctx, userID, req.ResourceID)
		return err
	})
}

// CancelAction handles POST /api/action/cancel.
func (h *GameHandler) CancelAction(c *gin.Context) {
	h.command(c, "cancel_action", nil, h.world.CancelAction)
}

func (h *GameHandler) questCommand(action string, fn func(ctx context.Context, userID int64, id string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		h.command(c, action, gin.H{"instance_id": id}, func(ctx context.Context, userID int64) error {
			return fn(ctx, userID, id)
		})
	}
}

// AcceptQuest handles POST /api/quests/:id/accept.
func (h *GameHandler) AcceptQuest(c *gin.Context) {
	h.questCommand("accept_quest", h.world.AcceptQuest)(c)
}

// TurnInQuest handles POST /api/quests/:id/complete.
func (h *GameHandler) TurnInQuest(c *gin.Context) {
	h.questCommand("complete_quest", h.world.TurnInQuest)(c)
}

// AbandonQuest handles POST /api/quests/:id/cancel.
func (h *GameHandler) AbandonQuest(c *gin.Context) {
	h.questCommand("cancel_quest", h.world.AbandonQuest)(c)
}

// Talk handles POST /api/quests/:id/talk and returns the dialog step.
func (h *GameHandler) Talk(c *gin.Context) {
	userID := mw.GetUserID(c)
	id := c.Param("id")
	start := time.Now()
	step, err := h.world.Talk(c.Request.Context(), userID, id)
	entry := audit.Entry{
		TraceID: mw.GetTraceID(c), UserID: userID, Action: "talk",
		Detail: gin.H{"instance_id": id}, Duration: time.Since(start),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

// QuestLog handles GET /api/quests.
func (h *GameHandler) QuestLog(c *gin.Context) {
	log, err := h.quests.GetQuestLog(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quests": log})
}

// Inventory handles GET /api/inventory.
func (h *GameHandler) Inventory(c *gin.Context) {
	items, err := h.inv.List(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inventory": items})
}

// Messages handles GET /api/messages.
func (h *GameHandler) Messages(c *gin.Context) {
	msgs, err := h.msgs.List(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Say handles POST /api/chat.
func (h *GameHandler) Say(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	line, err := h.world.Say(c.Request.Context(), mw.GetUserID(c), mw.GetUserName(c), req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

// ChatHistory handles GET /api/chat?n=20 for the caller's tile.
func (h *GameHandler) ChatHistory(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("n", "20"))
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid n"})
		return
	}
	snap, err := h.views.Snapshot(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	lines, err := h.chat.History(c.Request.Context(), snap.Zone.X, snap.Zone.Y, n)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

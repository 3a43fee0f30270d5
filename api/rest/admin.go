package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tilequest/server/audit"
	"github.com/tilequest/server/cache"
	"github.com/tilequest/server/config"
	"github.com/tilequest/server/game/player"
	"github.com/tilequest/server/game/rotation"
	"github.com/tilequest/server/game/sweep"
	mw "github.com/tilequest/server/middleware"
	"github.com/tilequest/server/scheduler"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by mw.AdminAuth and mw.IPWhitelist.
type AdminHandler struct {
	sm       *player.SessionManager
	presence *player.Presence
	sched    *scheduler.Scheduler
	rotator  *rotation.Rotator
	sweeper  *sweep.Sweeper
	audit    *audit.Service
	cache    cache.Cache
	sec      config.SecurityConfig
	logger   *zap.Logger
}

type AdminDeps struct {
	Sessions  *player.SessionManager
	Presence  *player.Presence
	Scheduler *scheduler.Scheduler
	Rotator   *rotation.Rotator
	Sweeper   *sweep.Sweeper
	Audit     *audit.Service
	Cache     cache.Cache
	Security  config.SecurityConfig
	Logger    *zap.Logger
}

func NewAdminHandler(d AdminDeps) *AdminHandler {
	return &AdminHandler{
		sm:       d.Sessions,
		presence: d.Presence,
		sched:    d.Scheduler,
		rotator:  d.Rotator,
		sweeper:  d.Sweeper,
		audit:    d.Audit,
		cache:    d.Cache,
		sec:      d.Security,
		logger:   d.Logger,
	}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	online, err := h.presence.Online(c.Request.Context())
	if err != nil {
		h.logger.Warn("presence read failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":        h.sm.Count(),
		"online_players":  len(online),
		"scheduler_tasks": h.sched.Tasks(),
	})
}

// ListPlayers returns the players with an open push stream on this node.
// GET /api/admin/players
func (h *AdminHandler) ListPlayers(c *gin.Context) {
	type playerInfo struct {
		UserID    int64  `json:"user_id"`
		Name      string `json:"name"`
		Transport string `json:"transport"`
		X         int    `json:"x"`
		Y         int    `json:"y"`
	}
	sessions := h.sm.All()
	result := make([]playerInfo, 0, len(sessions))
	for _, s := range sessions {
		x, y := s.Position()
		result = append(result, playerInfo{UserID: s.UserID, Name: s.Name, Transport: s.Transport, X: x, Y: y})
	}
	c.JSON(http.StatusOK, gin.H{"players": result, "count": len(result)})
}

// KickPlayer closes a player's push stream. Their action row survives.
// POST /api/admin/kick/:id
func (h *AdminHandler) KickPlayer(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	s := h.sm.Get(userID)
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	s.Close()
	h.logger.Info("admin kicked player", zap.Int64("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Rotate forces a quest rotation now, ignoring the per-window lock.
// POST /api/admin/rotate
func (h *AdminHandler) Rotate(c *gin.Context) {
	res, err := h.rotator.RotateActiveQuests(c.Request.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("admin rotation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("admin rotation", zap.Int("created", res.Created), zap.Int("purged", res.Purged))
	c.JSON(http.StatusOK, res)
}

// Sweep runs one sweep pass now.
// POST /api/admin/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	res, err := h.sweeper.Tick(c.Request.Context(), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListSchedulerTasks returns all registered tasks with their last run.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// RunSchedulerTask runs a registered task immediately.
// POST /api/admin/scheduler/:name/run
func (h *AdminHandler) RunSchedulerTask(c *gin.Context) {
	err := h.sched.Trigger(c.Param("name"))
	switch {
	case errors.Is(err, scheduler.ErrUnknownTask):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// Audit returns recent audit entries, optionally for one player.
// GET /api/admin/audit?user_id=&limit=
func (h *AdminHandler) Audit(c *gin.Context) {
	var userID int64
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		userID = id
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := h.audit.Recent(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows})
}

type issueTokenReq struct {
	UserID int64  `json:"user_id" binding:"required,gt=0"`
	Name   string `json:"name" binding:"required"`
}

// IssueToken signs a player token. Accounts live in an external service;
// this is how it, or an operator, hands a player access.
// POST /api/admin/tokens
func (h *AdminHandler) IssueToken(c *gin.Context) {
	var req issueTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and name are required"})
		return
	}
	token, err := mw.GenerateToken(req.UserID, req.Name, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	if err := mw.StoreSession(c.Request.Context(), h.cache, token, req.UserID, h.sec.JWTTTLH); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": req.UserID, "expires_in": int(h.sec.JWTTTLH.Seconds())})
}

// RevokeToken ends a session issued by IssueToken. Only effective when
// sessions are required.
// DELETE /api/admin/tokens/:token
func (h *AdminHandler) RevokeToken(c *gin.Context) {
	if err := mw.RevokeSession(c.Request.Context(), h.cache, c.Param("token")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apirest "github.com/tilequest/server/api/rest"
	"github.com/tilequest/server/api/sse"
	apiws "github.com/tilequest/server/api/ws"
	mw "github.com/tilequest/server/middleware"
)

// Router builds the HTTP surface: REST commands and views, the WebSocket
// and SSE push streams and the admin API.
func (a *App) Router() *gin.Engine {
	sec := a.Config.Security
	logger := a.Logger

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger.Named("http")), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "catalog": a.Catalog.Digest()})
	})

	auth := mw.Auth(sec, a.Cache)

	gameH := apirest.NewGameHandler(a.World, a.Views, a.Quests, a.Inventory, a.Messages, a.Chat, a.Audit, logger.Named("rest"))
	adminH := apirest.NewAdminHandler(apirest.AdminDeps{
		Sessions:  a.Sessions,
		Presence:  a.Presence,
		Scheduler: a.Scheduler,
		Rotator:   a.Rotator,
		Sweeper:   a.Sweeper,
		Audit:     a.Audit,
		Cache:     a.Cache,
		Security:  sec,
		Logger:    logger.Named("admin"),
	})

	api := r.Group("/api")
	{
		playG := api.Group("")
		playG.Use(auth, mw.RateLimitUser(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))
		playG.GET("/state", gameH.State)
		playG.POST("/enter", gameH.Enter)
		playG.POST("/leave", gameH.Leave)
		playG.POST("/move", gameH.Move)
		playG.POST("/collect", gameH.Collect)
		playG.POST("/action/cancel", gameH.CancelAction)
		playG.GET("/quests", gameH.QuestLog)
		playG.POST("/quests/:id/accept", gameH.AcceptQuest)
		playG.POST("/quests/:id/complete", gameH.TurnInQuest)
		playG.POST("/quests/:id/cancel", gameH.AbandonQuest)
		playG.POST("/quests/:id/talk", gameH.Talk)
		playG.GET("/inventory", gameH.Inventory)
		playG.GET("/messages", gameH.Messages)
		playG.GET("/chat", gameH.ChatHistory)
		playG.POST("/chat", gameH.Say)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(sec.AdminIPs), mw.AdminAuth(a.Config.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/players", adminH.ListPlayers)
		adminG.POST("/kick/:id", adminH.KickPlayer)
		adminG.POST("/rotate", adminH.Rotate)
		adminG.POST("/sweep", adminH.Sweep)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.POST("/scheduler/:name/run", adminH.RunSchedulerTask)
		adminG.GET("/audit", adminH.Audit)
		adminG.POST("/tokens", adminH.IssueToken)
		adminG.DELETE("/tokens/:token", adminH.RevokeToken)
	}

	wsRouter := apiws.NewRouter(a.Audit, logger.Named("ws"))
	apiws.NewCommands(a.World, a.Bus, logger.Named("ws")).RegisterHandlers(wsRouter)
	wsH := apiws.NewHandler(a.Push, wsRouter, sec, logger.Named("ws"))
	r.GET("/ws", auth, wsH.ServeWS)

	sseH := sse.NewHandler(a.Push, logger.Named("sse"))
	r.GET("/sse", auth, sseH.ServeSSE)

	return r
}

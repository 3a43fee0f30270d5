// Package apptest builds a fully wired App over the fixture catalog, an
// in-memory database and the local cache.
package apptest

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tilequest/server/app"
	"github.com/tilequest/server/config"
	"github.com/tilequest/server/testutil"
)

const (
	JWTSecret = "test-secret"
	AdminKey  = "test-admin-key"
)

// Config is the configuration New starts from: spawn on the village tile,
// fast push ticks, no rate limiting worth mentioning.
func Config() *config.Config {
	cfg := config.Default()
	cfg.Server.AdminKey = AdminKey
	cfg.Security.JWTSecret = JWTSecret
	cfg.Security.JWTTTLH = time.Hour
	cfg.Security.RateLimitRPS = 1000
	cfg.Security.RateLimitBurst = 2000
	cfg.Game.SpawnX, cfg.Game.SpawnY = 3, 4
	cfg.Game.ActionTick = 50 * time.Millisecond
	cfg.Game.ChatHistory = 20
	return cfg
}

// New returns an App that is closed when the test ends. mutate may adjust
// the configuration first.
func New(t *testing.T, mutate ...func(*config.Config)) *app.App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := Config()
	for _, fn := range mutate {
		fn(cfg)
	}
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	a := app.New(cfg, db, c, ps, testutil.TestCatalog(t), testutil.Logger())
	t.Cleanup(a.Close)
	return a
}

// Package app builds the server's object graph from configuration. main
// and the integration tests share it so both run the same wiring.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tilequest/server/api/push"
	"github.com/tilequest/server/audit"
	"github.com/tilequest/server/cache"
	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/config"
	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/action"
	"github.com/tilequest/server/game/chat"
	"github.com/tilequest/server/game/hook"
	"github.com/tilequest/server/game/item"
	"github.com/tilequest/server/game/message"
	"github.com/tilequest/server/game/player"
	"github.com/tilequest/server/game/quest"
	"github.com/tilequest/server/game/resource"
	"github.com/tilequest/server/game/rotation"
	"github.com/tilequest/server/game/sweep"
	"github.com/tilequest/server/game/view"
	"github.com/tilequest/server/game/world"
	"github.com/tilequest/server/game/zone"
	"github.com/tilequest/server/scheduler"
)

// Scheduler task names.
const (
	TaskSweep    = "sweep"
	TaskRotation = "rotation"
)

type App struct {
	Config  *config.Config
	DB      *gorm.DB
	Cache   cache.Cache
	PubSub  cache.PubSub
	Catalog *catalog.Catalog
	Logger  *zap.Logger

	Bus       *events.Bus
	Hooks     *hook.Center
	Inventory *item.Service
	Messages  *message.Service
	Resources *resource.Tracker
	Actions   *action.Tracker
	Zones     *zone.Tracker
	Quests    *quest.Engine
	Chat      *chat.Service
	Presence  *player.Presence
	Sessions  *player.SessionManager
	World     *world.World
	Views     *view.Builder
	Push      *push.Loop
	Rotator   *rotation.Rotator
	Sweeper   *sweep.Sweeper
	Audit     *audit.Service
	Scheduler *scheduler.Scheduler

	closers []io.Closer
}

// New wires every service. Nothing runs until Start.
func New(cfg *config.Config, db *gorm.DB, c cache.Cache, ps cache.PubSub, cat *catalog.Catalog, logger *zap.Logger) *App {
	g := cfg.Game
	a := &App{Config: cfg, DB: db, Cache: c, PubSub: ps, Catalog: cat, Logger: logger}

	a.Bus = events.NewBus(ps, logger.Named("events"))
	a.Hooks = hook.New()
	a.Inventory = item.NewService(db, a.Hooks, a.Bus, logger.Named("inventory"))
	a.Messages = message.NewService(db, a.Bus, g.MessageCap, g.MessageTTL, logger.Named("messages"))
	a.Resources = resource.NewTracker(db, cat, a.Bus, g.RegenUnit, logger.Named("resources"))
	a.Actions = action.NewTracker(action.Deps{
		DB:        db,
		Catalog:   cat,
		Resources: a.Resources,
		Inventory: a.Inventory,
		Messages:  a.Messages,
		Hooks:     a.Hooks,
		Bus:       a.Bus,
		Logger:    logger.Named("actions"),
	}, g.ActionTTL)
	a.Zones = zone.NewTracker(db, cat, a.Bus, a.Hooks, logger.Named("zones"))
	a.Quests = quest.NewEngine(quest.Deps{
		DB:        db,
		Catalog:   cat,
		Inventory: a.Inventory,
		Messages:  a.Messages,
		Bus:       a.Bus,
		Hooks:     a.Hooks,
		Logger:    logger.Named("quests"),
	})
	a.Quests.RegisterHooks(a.Hooks)
	a.Chat = chat.NewService(c, a.Bus, g.ChatHistory, logger.Named("chat"))
	a.Presence = player.NewPresence(c, a.Bus, logger.Named("presence"))
	a.Sessions = player.NewSessionManager(logger.Named("sessions"))

	a.World = world.New(world.Deps{
		Catalog:  cat,
		Cache:    c,
		Zones:    a.Zones,
		Actions:  a.Actions,
		Quests:   a.Quests,
		Messages: a.Messages,
		Chat:     a.Chat,
		Logger:   logger.Named("world"),
	}, catalog.Point{X: g.SpawnX, Y: g.SpawnY})
	a.Views = view.NewBuilder(view.Deps{
		Catalog:   cat,
		Zones:     a.Zones,
		Resources: a.Resources,
		Actions:   a.Actions,
		Quests:    a.Quests,
		Messages:  a.Messages,
		Inventory: a.Inventory,
		Chat:      a.Chat,
		Presence:  a.Presence,
		Logger:    logger.Named("view"),
	}, g.ViewRadius)
	a.Push = push.New(push.Deps{
		Bus:      a.Bus,
		World:    a.World,
		Views:    a.Views,
		Actions:  a.Actions,
		Presence: a.Presence,
		Sessions: a.Sessions,
		Logger:   logger.Named("push"),
	}, push.Config{ActionTick: g.ActionTick, Resync: g.ResyncInterval})

	a.Rotator = rotation.New(db, cat, c, a.Bus, g, logger.Named("rotation"))
	a.Sweeper = sweep.New(a.Resources, a.Actions, a.Messages, logger.Named("sweep"))
	a.Audit = audit.New(db, logger.Named("audit"))
	a.Scheduler = scheduler.New(logger.Named("scheduler"))
	return a
}

// AttachTaps starts the optional event exporters named in cfg.Export.
func (a *App) AttachTaps() error {
	exp := a.Config.Export
	if len(exp.KafkaBrokers) > 0 {
		tap := events.NewKafkaTap(exp.KafkaBrokers, exp.KafkaTopic, a.Logger.Named("kafka"))
		a.Bus.AddTap(tap)
		a.closers = append(a.closers, tap)
		a.Logger.Info("kafka export enabled", zap.Strings("brokers", exp.KafkaBrokers), zap.String("topic", exp.KafkaTopic))
	}
	if exp.ArchiveDir != "" {
		tap, err := events.NewArchiveTap(exp.ArchiveDir, a.Logger.Named("archive"))
		if err != nil {
			return fmt.Errorf("archive tap: %w", err)
		}
		a.Bus.AddTap(tap)
		a.closers = append(a.closers, tap)
		a.Logger.Info("event archive enabled", zap.String("dir", exp.ArchiveDir))
	}
	return nil
}

// Start rotates quests for the current window and registers the sweep and
// hourly rotation tasks.
func (a *App) Start(ctx context.Context) error {
	g := a.Config.Game
	res, ran, err := a.Rotator.RunScheduled(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("initial rotation: %w", err)
	}
	if ran {
		a.Logger.Info("initial rotation",
			zap.Int("created", res.Created), zap.Int("purged", res.Purged), zap.Int("tutorials", res.Tutorials))
	}

	a.Scheduler.AddTicker(TaskSweep, g.SweepInterval, func(ctx context.Context, now time.Time) error {
		_, err := a.Sweeper.Tick(ctx, now)
		return err
	})
	a.Scheduler.AddAligned(TaskRotation, g.RotationInterval, func(ctx context.Context, now time.Time) error {
		res, ran, err := a.Rotator.RunScheduled(ctx, now)
		if ran {
			a.Logger.Info("quest rotation",
				zap.Int("created", res.Created), zap.Int("skipped", res.Skipped), zap.Int("purged", res.Purged))
		}
		return err
	})
	return nil
}

// Close stops background work and flushes exporters. Open sessions are
// closed first so their push loops take players off the map.
func (a *App) Close() {
	a.Sessions.CloseAllSessions(3 * time.Second)
	a.Scheduler.Stop()
	a.Audit.Stop(context.Background())
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Warn("close failed", zap.Error(err))
		}
	}
}

package world

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/action"
	"github.com/tilequest/server/game/chat"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/hook"
	"github.com/tilequest/server/game/item"
	"github.com/tilequest/server/game/message"
	"github.com/tilequest/server/game/quest"
	"github.com/tilequest/server/game/resource"
	"github.com/tilequest/server/game/zone"
	"github.com/tilequest/server/model"
	"github.com/tilequest/server/testutil"
)

func newWorld(t *testing.T) (*World, Deps, *item.Service) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	cat := testutil.TestCatalog(t)
	logger := testutil.Logger()
	bus := events.NewBus(ps, logger)
	hooks := hook.New()
	inv := item.NewService(db, hooks, bus, logger)
	msgs := message.NewService(db, bus, 20, 0, logger)
	res := resource.NewTracker(db, cat, bus, 5*time.Second, logger)
	acts := action.NewTracker(action.Deps{
		DB: db, Catalog: cat, Resources: res, Inventory: inv, Messages: msgs, Hooks: hooks, Bus: bus, Logger: logger,
	}, time.Hour)
	quests := quest.NewEngine(quest.Deps{
		DB: db, Catalog: cat, Inventory: inv, Messages: msgs, Bus: bus, Hooks: hooks, Logger: logger,
	})
	quests.RegisterHooks(hooks)
	ch := chat.NewService(c, bus, 10, logger)

	now := time.Now().UTC()
	q := model.QuestInstance{
		ID: "q1", TemplateID: "lumber", GiverNPC: "elder", GiverX: 3, GiverY: 4,
		CompletionNPC: "elder", CompletionX: 3, CompletionY: 4,
		StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour),
	}
	require.NoError(t, q.SetPlacements(map[int]model.Placement{1: {X: 2, Y: 1}}))
	require.NoError(t, db.Create(&q).Error)

	d := Deps{
		Catalog:  cat,
		Cache:    c,
		Zones:    zone.NewTracker(db, cat, bus, hooks, logger),
		Actions:  acts,
		Quests:   quests,
		Messages: msgs,
		Chat:     ch,
		Logger:   logger,
	}
	return New(d, catalog.Point{X: 0, Y: 0}), d, inv
}

func lastMessage(t *testing.T, d Deps, userID int64) model.SystemMessage {
	t.Helper()
	msgs, err := d.Messages.List(context.Background(), userID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	return msgs[0]
}

func walk(t *testing.T, w *World, userID int64, path ...catalog.Point) {
	t.Helper()
	for _, p := range path {
		require.NoError(t, w.Move(context.Background(), userID, p.X, p.Y))
	}
}

func TestEnter_SpawnAndLastPosition(t *testing.T) {
	w, _, _ := newWorld(t)
	ctx := context.Background()

	p, err := w.Enter(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, catalog.Point{X: 0, Y: 0}, p)

	walk(t, w, 1, catalog.Point{X: 1, Y: 1})
	p, err = w.Enter(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, catalog.Point{X: 1, Y: 1}, p, "already on the map")

	require.NoError(t, w.Leave(ctx, 1))
	p, err = w.Enter(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, catalog.Point{X: 1, Y: 1}, p)
}

func TestEnter_ActionPinsTile(t *testing.T) {
	w, d, _ := newWorld(t)
	ctx := context.Background()
	_, err := w.Enter(ctx, 1)
	require.NoError(t, err)
	walk(t, w, 1, catalog.Point{X: 1, Y: 1})
	_, err = w.Collect(ctx, 1, "oak")
	require.NoError(t, err)

	require.NoError(t, w.Leave(ctx, 1))
	_, present, _ := d.Zones.GetUserZone(ctx, 1)
	assert.False(t, present)
	act, err := d.Actions.GetInProgressAction(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, act, "disconnect keeps the action")

	require.NoError(t, d.Cache.Set(ctx, lastPosKey(1), "4,4", time.Minute))
	p, err := w.Enter(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, catalog.Point{X: 1, Y: 1}, p)
}

func TestMove_Rules(t *testing.T) {
	w, d, _ := newWorld(t)
	ctx := context.Background()

	err := w.Move(ctx, 1, 1, 0)
	assert.ErrorIs(t, err, errs.ErrInvalid, "not on the map yet")

	_, err = w.Enter(ctx, 1)
	require.NoError(t, err)
	err = w.Move(ctx, 1, 2, 0)
	assert.ErrorIs(t, err, errs.ErrInvalid)
	assert.Equal(t, message.TypeError, lastMessage(t, d, 1).Type)

	walk(t, w, 1, catalog.Point{X: 0, Y: 1}, catalog.Point{X: 0, Y: 2}, catalog.Point{X: 0, Y: 3}, catalog.Point{X: 0, Y: 4})
	assert.ErrorIs(t, w.Move(ctx, 1, 0, 5), errs.ErrInvalid, "lake is not accessible")
	assert.ErrorIs(t, w.Move(ctx, 1, -1, 4), errs.ErrNotFound, "off the map")

	zu, _, _ := d.Zones.GetUserZone(ctx, 1)
	assert.Equal(t, [2]int{0, 4}, [2]int{zu.X, zu.Y})
}

func TestMove_CancelsAction(t *testing.T) {
	w, d, _ := newWorld(t)
	ctx := context.Background()
	_, err := w.Enter(ctx, 1)
	require.NoError(t, err)
	walk(t, w, 1, catalog.Point{X: 1, Y: 1})

	_, err = w.Collect(ctx, 1, "oak")
	require.NoError(t, err)
	walk(t, w, 1, catalog.Point{X: 1, Y: 2})

	act, err := d.Actions.GetInProgressAction(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, act)
	assert.Contains(t, lastMessage(t, d, 1).Message, "Oak Tree")
}

func TestCollect_Failures(t *testing.T) {
	w, d, _ := newWorld(t)
	ctx := context.Background()
	_, err := w.Enter(ctx, 1)
	require.NoError(t, err)

	_, err = w.Collect(ctx, 1, "oak")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, "no Oak Tree here", lastMessage(t, d, 1).Message)

	assert.ErrorIs(t, w.CancelAction(ctx, 1), errs.ErrInvalid)
}

func TestQuestCommands_CheckLocation(t *testing.T) {
	w, d, inv := newWorld(t)
	ctx := context.Background()
	_, err := w.Enter(ctx, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, w.AcceptQuest(ctx, 1, "q1"), errs.ErrNotFound)

	require.NoError(t, d.Zones.AddUserToZone(ctx, 1, 3, 4))
	require.NoError(t, w.AcceptQuest(ctx, 1, "q1"))
	assert.ErrorIs(t, w.AcceptQuest(ctx, 1, "q1"), errs.ErrNotFound, "no longer offered")

	require.NoError(t, d.Quests.UpdateObjectiveProgress(ctx, 1, "q1", 0, 2))
	require.NoError(t, d.Zones.AddUserToZone(ctx, 1, 1, 1))
	_, err = w.Talk(ctx, 1, "q1")
	assert.ErrorIs(t, err, errs.ErrInvalid)

	require.NoError(t, d.Zones.AddUserToZone(ctx, 1, 2, 1))
	for i := 0; i < 3; i++ {
		_, err = w.Talk(ctx, 1, "q1")
		require.NoError(t, err)
	}
	assert.ErrorIs(t, w.TurnInQuest(ctx, 1, "q1"), errs.ErrInvalid, "turned in at the village")

	require.NoError(t, d.Zones.AddUserToZone(ctx, 1, 3, 4))
	require.NoError(t, w.TurnInQuest(ctx, 1, "q1"))
	coins, _ := inv.Count(ctx, 1, "coin")
	assert.Equal(t, 5, coins)
	assert.ErrorIs(t, w.TurnInQuest(ctx, 1, "q1"), errs.ErrNotFound)
	assert.ErrorIs(t, w.AbandonQuest(ctx, 1, "q1"), errs.ErrInvalid)
}

func TestSay(t *testing.T) {
	w, d, _ := newWorld(t)
	ctx := context.Background()
	_, err := w.Enter(ctx, 1)
	require.NoError(t, err)

	line, err := w.Say(ctx, 1, "ann", "hi")
	require.NoError(t, err)
	assert.Equal(t, 0, line.X)

	hist, err := d.Chat.History(ctx, 0, 0, 5)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "hi", hist[0].Content)
}

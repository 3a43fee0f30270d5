package quest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/hook"
	"github.com/tilequest/server/game/item"
	"github.com/tilequest/server/game/message"
	"github.com/tilequest/server/model"
	"github.com/tilequest/server/testutil"
)

var testNow = time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

type fixture struct {
	db     *gorm.DB
	engine *Engine
	inv    *item.Service
	msgs   *message.Service
	hooks  *hook.Center
	bus    *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	_, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	bus := events.NewBus(ps, logger)
	hooks := hook.New()
	inv := item.NewService(db, hooks, bus, logger)
	msgs := message.NewService(db, bus, 50, 0, logger)
	e := NewEngine(Deps{
		DB:        db,
		Catalog:   testutil.TestCatalog(t),
		Inventory: inv,
		Messages:  msgs,
		Bus:       bus,
		Hooks:     hooks,
		Logger:    logger,
	})
	e.now = func() time.Time { return testNow }
	e.RegisterHooks(hooks)
	return &fixture{db: db, engine: e, inv: inv, msgs: msgs, hooks: hooks, bus: bus}
}

type instanceOpt func(*model.QuestInstance)

func window(start, end time.Time) instanceOpt {
	return func(q *model.QuestInstance) { q.StartsAt, q.EndsAt = start, end }
}

// addInstance stores an instance of tpl given at (gx,gy) and completed at
// (cx,cy), active around testNow unless overridden.
func (f *fixture) addInstance(t *testing.T, id, tpl string, gx, gy, cx, cy int, places map[int]model.Placement, opts ...instanceOpt) {
	t.Helper()
	q := model.QuestInstance{
		ID:            id,
		TemplateID:    tpl,
		GiverNPC:      "elder",
		GiverX:        gx,
		GiverY:        gy,
		CompletionNPC: "elder",
		CompletionX:   cx,
		CompletionY:   cy,
		StartsAt:      testNow.Truncate(time.Hour),
		EndsAt:        testNow.Truncate(time.Hour).Add(2 * time.Hour),
	}
	require.NoError(t, q.SetPlacements(places))
	for _, o := range opts {
		o(&q)
	}
	require.NoError(t, f.db.Create(&q).Error)
}

func (f *fixture) objectives(t *testing.T, userID int64, id string) []model.ObjectiveProgress {
	t.Helper()
	var rows []model.ObjectiveProgress
	require.NoError(t, f.db.Where("user_id = ? AND instance_id = ?", userID, id).Order("objective").Find(&rows).Error)
	return rows
}

func (f *fixture) status(t *testing.T, userID int64, id string) model.QuestStatus {
	t.Helper()
	var qp model.QuestProgress
	require.NoError(t, f.db.Where("user_id = ? AND instance_id = ?", userID, id).First(&qp).Error)
	return qp.Status
}

func TestStartQuest_CreatesOneRowPerObjective(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addInstance(t, "q1", "lumber", 3, 4, 3, 4, map[int]model.Placement{1: {X: 2, Y: 1}})

	require.NoError(t, f.engine.StartQuest(ctx, 1, "q1"))

	rows := f.objectives(t, 1, "q1")
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Zero(t, r.Current)
		assert.False(t, r.Completed)
	}
	assert.Equal(t, 2, rows[0].Required, "gather -> amount")
	assert.Equal(t, 3, rows[1].Required, "talk with 2 lines -> 3")
	assert.Equal(t, model.QuestStatusInProgress, f.status(t, 1, "q1"))
}

func TestStartQuest_RequiredPerKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addInstance(t, "s1", "survey", 2, 1, 3, 4, map[int]model.Placement{0: {X: 5, Y: 5}})
	f.addInstance(t, "w1", "welcome", 3, 4, 3, 4, nil)

	require.NoError(t, f.engine.StartQuest(ctx, 1, "s1"))
	require.NoError(t, f.engine.StartQuest(ctx, 1, "w1"))

	assert.Equal(t, 1, f.objectives(t, 1, "s1")[0].Required, "explore -> 1")
	assert.Equal(t, 3, f.objectives(t, 1, "w1")[0].Required, "collect -> amount")
}

func TestStartQuest_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addInstance(t, "old", "survey", 2, 1, 3, 4, map[int]model.Placement{0: {X: 5, Y: 5}},
		window(testNow.Add(-3*time.Hour), testNow.Add(-time.Hour)))
	f.addInstance(t, "s1", "survey", 2, 1, 3, 4, map[int]model.Placement{0: {X: 5, Y: 5}})

	assert.ErrorIs(t, f.engine.StartQuest(ctx, 1, "missing"), errs.ErrNotFound)
	assert.ErrorIs(t, f.engine.StartQuest(ctx, 1, "old"), errs.ErrNotFound)

	require.NoError(t, f.engine.StartQuest(ctx, 1, "s1"))
	assert.ErrorIs(t, f.engine.StartQuest(ctx, 1, "s1"), errs.ErrConflict)
	assert.Len(t, f.objectives(t, 1, "s1"), 1)
}

func TestUpdateObjectiveProgress_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addInstance(t, "q1", "lumber", 3, 4, 3, 4, map[int]model.Placement{1: {X: 2, Y: 1}})
	require.NoError(t, f.engine.StartQuest(ctx, 1, "q1"))

	f.engine.now = func() time.Time { return testNow.Add(time.Minute) }
	require.NoError(t, f.engine.UpdateObjectiveProgress(ctx, 1, "q1", 0, 1))
	first := f.objectives(t, 1, "q1")[0]

	f.engine.now = func() time.Time { return testNow.Add(2 * time.Minute) }
	require.NoError(t, f.engine.UpdateObjectiveProgress(ctx, 1, "q1", 0, 1))
	second := f.objectives(t, 1, "q1")[0]

	assert.Equal(t, first.Current, second.Current)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt), "no write on repeat")
}

func TestUpdateObjectiveProgress_CompletableFlipsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addInstance(t, "s1", "survey", 2, 1, 3, 4, map[int]model.Placement{0: {X: 5, Y: 5}})
	require.NoError(t, f.engine.StartQuest(ctx, 1, "s1"))

	require.NoError(t, f.engine.UpdateObjectiveProgress(ctx, 1, "s1", 0, 1))
	require.NoError(t, f.engine.UpdateObjectiveProgress(ctx, 1, "s1", 0, 1))

	assert.Equal(t, model.QuestStatusCompletable, f.status(t, 1, "s1"))
	msgs, err := f.msgs.List(ctx, 1)
	require.NoError(t, err)
	returns := 0
	for _, m := range msgs {
		if m.Type == message.TypeSuccess {
			returns++
		}
	}
	assert.Equal(t, 1, returns)
}

func TestUpdateObjectiveProgress_UnknownObjective(t *testing.T) {
	f := newFixture(t)
	err := f.engine.UpdateObjectiveProgress(context.Background(), 1, "nope", 0, 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

// Scenario B: a collect objective tracks the inventory count and flips the
// quest once the last pending objective completes.
func TestCollectObjectiveFollowsInventory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addInstance(t, "w1", "welcome", 3, 4, 3, 4, nil)
	require.NoError(t, f.engine.StartQuest(ctx, 1, "w1"))

	_, err := f.inv.Add(ctx, 1, "log", 2)
	require.NoError(t, err)
	row := f.objectives(t, 1, "w1")[0]
	assert.Equal(t, 2, row.Current)
	assert.False(t, row.Completed)
	assert.Equal(t, model.QuestStatusInProgress, f.status(t, 1, "w1"))

	_, err = f.inv.Add(ctx, 1, "log", 1)
	require.NoError(t, err)
	row = f.objectives(t, 1, "w1")[0]
	assert.Equal(t, 3, row.Current)
	assert.True(t, row.Completed)
	assert.NotNil(t, row.CompletedAt)
	assert.Equal(t, model.QuestStatusCompletable, f.status(t, 1, "w1"))

	// Losing items afterwards does not reopen the objective.
	require.NoError(t, f.inv.Remove(ctx, 1, "log", 3))
	assert.True(t, f.objectives(t, 1, "w1")[0].Completed)
	assert.Equal(t, model.QuestStatusCompletable, f.status(t, 1, "w1"))
}

func TestCollectObjectiveSeededAtStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.inv.Add(ctx, 1, "log", 5)
	f.addInstance(t, "w1", "welcome", 3, 4, 3, 4, nil)

	require.NoError(t, f.engine.StartQuest(ctx, 1, "w1"))

	row := f.objectives(t, 1, "w1")[0]
	assert.Equal(t, 3, row.Current)
	assert.Equal(t, model.QuestStatusCompletable, f.status(t, 1, "w1"))
}

func TestCompleteQuest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addInstance(t, "q1", "lumber", 3, 4, 3, 4, map[int]model.Placement{1: {X: 2, Y: 1}})
	require.NoError(t, f.engine.StartQuest(ctx, 1, "q1"))

	assert.ErrorIs(t, f.engine.CompleteQuest(ctx, 1, "q1"), errs.ErrConflict)
	assert.ErrorIs(t, f.engine.CompleteQuest(ctx, 2, "q1"), errs.ErrNotFound)

	require.NoError(t, f.engine.UpdateObjectiveProgress(ctx, 1, "q1", 0, 2))
	require.NoError(t, f.engine.UpdateObjectiveProgress(ctx, 1, "q1", 1, 3))
	require.Equal(t, model.QuestStatusCompletable, f.status(t, 1, "q1"))

	require.NoError(t, f.engine.CompleteQuest(ctx, 1, "q1"))
	assert.Equal(t, model.QuestStatusCompleted, f.status(t, 1, "q1"))
	coins, _ := f.inv.Count(ctx, 1, "coin")
	assert.Equal(t, 5, coins)

	assert.ErrorIs(t, f.engine.CompleteQuest(ctx, 1, "q1"), errs.ErrConflict)
	coins, _ = f.inv.Count(ctx, 1, "coin")
	assert.Equal(t, 5, coins, "rewards granted once")
}

func TestCompleteQuest_FullBagReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.inv.Add(ctx, 1, "coin", 999)
	f.addInstance(t, "q1", "lumber", 3, 4, 3, 4, map[int]model.Placement{1: {X: 2, Y: 1}})
	require.NoError(t, f.engine.StartQuest(ctx, 1, "q1"))
	require.NoError(t, f.engine.UpdateObjectiveProgress(ctx, 1, "q1", 0, 2))
	require.NoError(t, f.engine.UpdateObjectiveProgress(ctx, 1, "q1", 1, 3))

	require.NoError(t, f.engine.CompleteQuest(ctx, 1, "q1"))
	assert.Equal(t, model.QuestStatusCompleted, f.status(t, 1, "q1"))

	msgs, _ := f.msgs.List(ctx, 1)
	require.NotEmpty(t, msgs)
	assert.Equal(t, message.TypeError, msgs[0].Type)
}

func TestStatusNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addInstance(t, "s1", "survey", 2, 1, 3, 4, map[int]model.Placement{0: {X: 5, Y: 5}})
	require.NoError(t, f.engine.StartQuest(ctx, 1, "s1"))
	require.NoError(t, f.engine.UpdateObjectiveProgress(ctx, 1, "s1", 0, 1))
	require.NoError(t, f.engine.CompleteQuest(ctx, 1, "s1"))

	require.NoError(t, f.engine.UpdateObjectiveProgress(ctx, 1, "s1", 0, 0))
	assert.Equal(t, model.QuestStatusCompleted, f.status(t, 1, "s1"))
	assert.True(t, f.objectives(t, 1, "s1")[0].Completed)

	assert.ErrorIs(t, f.engine.CancelQuest(ctx, 1, "s1"), errs.ErrInvalid)
}

func TestCancelQuestDeletesRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addInstance(t, "q1", "lumber", 3, 4, 3, 4, map[int]model.Placement{1: {X: 2, Y: 1}})
	require.NoError(t, f.engine.StartQuest(ctx, 1, "q1"))
	require.NoError(t, f.engine.UpdateObjectiveProgress(ctx, 1, "q1", 0, 1))

	require.NoError(t, f.engine.CancelQuest(ctx, 1, "q1"))
	assert.Empty(t, f.objectives(t, 1, "q1"))
	var n int64
	f.db.Model(&model.QuestProgress{}).Where("user_id = ?", 1).Count(&n)
	assert.Zero(t, n)

	assert.ErrorIs(t, f.engine.CancelQuest(ctx, 1, "q1"), errs.ErrNotFound)
	// Available again after cancelling.
	require.NoError(t, f.engine.StartQuest(ctx, 1, "q1"))
}

func TestHooks_GatherThenTalk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addInstance(t, "q1", "lumber", 3, 4, 3, 4, map[int]model.Placement{1: {X: 2, Y: 1}})
	require.NoError(t, f.engine.StartQuest(ctx, 1, "q1"))

	// Talking before the gather objective is done does nothing.
	_, err := f.engine.AdvanceDialog(ctx, 1, "q1", 2, 1)
	assert.ErrorIs(t, err, errs.ErrInvalid)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.hooks.Trigger(ctx, hook.OnActionComplete,
			hook.ActionComplete{UserID: 1, X: 1, Y: 1, ResourceID: "oak"}))
	}
	rows := f.objectives(t, 1, "q1")
	assert.True(t, rows[0].Completed)

	// A third gather does not spill into the talk objective.
	require.NoError(t, f.hooks.Trigger(ctx, hook.OnActionComplete,
		hook.ActionComplete{UserID: 1, X: 1, Y: 1, ResourceID: "oak"}))
	assert.Zero(t, f.objectives(t, 1, "q1")[1].Current)

	inter, err := f.engine.GetZoneNPCInteractionsForUser(ctx, 1, 2, 1)
	require.NoError(t, err)
	require.Len(t, inter, 1)
	assert.Equal(t, "ranger", inter[0].NPC)
	assert.Zero(t, inter[0].Step)

	_, err = f.engine.AdvanceDialog(ctx, 1, "q1", 1, 1)
	assert.ErrorIs(t, err, errs.ErrInvalid, "ranger is on the other forest tile")

	step, err := f.engine.AdvanceDialog(ctx, 1, "q1", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, "The woods are thin this year.", step.Line)
	assert.False(t, step.Done)
	step, _ = f.engine.AdvanceDialog(ctx, 1, "q1", 2, 1)
	assert.Equal(t, "Bring the logs home.", step.Line)
	step, err = f.engine.AdvanceDialog(ctx, 1, "q1", 2, 1)
	require.NoError(t, err)
	assert.Empty(t, step.Line)
	assert.True(t, step.Done)

	assert.Equal(t, model.QuestStatusCompletable, f.status(t, 1, "q1"))
}

func TestHooks_ExploreOnlyOnPlacedTile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addInstance(t, "s1", "survey", 2, 1, 3, 4, map[int]model.Placement{0: {X: 5, Y: 5}})
	require.NoError(t, f.engine.StartQuest(ctx, 1, "s1"))

	require.NoError(t, f.hooks.Trigger(ctx, hook.OnZoneEnter, hook.ZoneEnter{UserID: 1, X: 4, Y: 5}))
	assert.Equal(t, model.QuestStatusInProgress, f.status(t, 1, "s1"))

	require.NoError(t, f.hooks.Trigger(ctx, hook.OnZoneEnter, hook.ZoneEnter{UserID: 2, X: 5, Y: 5}))
	assert.Equal(t, model.QuestStatusInProgress, f.status(t, 1, "s1"), "other users do not count")

	require.NoError(t, f.hooks.Trigger(ctx, hook.OnZoneEnter, hook.ZoneEnter{UserID: 1, X: 5, Y: 5}))
	assert.Equal(t, model.QuestStatusCompletable, f.status(t, 1, "s1"))
}

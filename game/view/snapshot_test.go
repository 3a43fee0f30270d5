package view_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/config"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/testutil/apptest"
)

func TestVisible_ClippedToMap(t *testing.T) {
	a := apptest.New(t)

	assert.Len(t, a.Views.Visible(3, 4), 30)
	corner := a.Views.Visible(0, 0)
	assert.Len(t, corner, 16)
	assert.Equal(t, catalog.Point{X: 0, Y: 0}, corner[0])
	assert.Equal(t, catalog.Point{X: 3, Y: 3}, corner[len(corner)-1])
}

func TestVisible_Radius(t *testing.T) {
	a := apptest.New(t, func(c *config.Config) { c.Game.ViewRadius = 1 })

	assert.Equal(t, []catalog.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}, a.Views.Visible(0, 0))
	assert.Len(t, a.Views.Visible(2, 2), 9)
}

func TestSnapshot_OffMap(t *testing.T) {
	a := apptest.New(t)

	_, err := a.Views.Snapshot(context.Background(), 1)
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestSnapshot_Contents(t *testing.T) {
	a := apptest.New(t)
	ctx := context.Background()
	_, err := a.Rotator.RotateActiveQuests(ctx, time.Now())
	require.NoError(t, err)

	_, err = a.World.Enter(ctx, 1)
	require.NoError(t, err)
	_, err = a.World.Enter(ctx, 2)
	require.NoError(t, err)
	_, err = a.World.Say(ctx, 2, "Bo", "morning")
	require.NoError(t, err)

	snap, err := a.Views.Snapshot(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, "village", snap.Zone.Type)
	require.Len(t, snap.Zone.Resources, 1)
	require.Len(t, snap.Occupants, 2)
	assert.Equal(t, int64(1), snap.Occupants[0].UserID)
	assert.Equal(t, int64(2), snap.Occupants[1].UserID)

	var ids []string
	for _, q := range snap.Quests.Available {
		ids = append(ids, q.InstanceID)
	}
	assert.Contains(t, ids, "tutorial-welcome")

	var village bool
	for _, tv := range snap.Tiles {
		if tv.X == 3 && tv.Y == 4 {
			village = true
			assert.True(t, tv.Markers.Available)
		}
		if tv.X == 0 && tv.Y == 5 {
			assert.False(t, tv.Accessible)
		}
	}
	assert.True(t, village)

	assert.Nil(t, snap.Action)
	assert.Empty(t, snap.QuestLog)
	require.Len(t, snap.Chat, 1)
	assert.Equal(t, "morning", snap.Chat[0].Content)
}

func TestSnapshot_InProgressQuestAndAction(t *testing.T) {
	a := apptest.New(t)
	ctx := context.Background()
	_, err := a.Rotator.RotateActiveQuests(ctx, time.Now())
	require.NoError(t, err)
	_, err = a.World.Enter(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, a.World.AcceptQuest(ctx, 1, "tutorial-welcome"))

	for _, p := range []catalog.Point{{X: 2, Y: 3}, {X: 2, Y: 2}, {X: 2, Y: 1}} {
		require.NoError(t, a.World.Move(ctx, 1, p.X, p.Y))
	}
	_, err = a.World.Collect(ctx, 1, "oak")
	require.NoError(t, err)

	snap, err := a.Views.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, snap.QuestLog, 1)
	assert.Equal(t, "tutorial-welcome", snap.QuestLog[0].InstanceID)
	require.NotNil(t, snap.Action)
	assert.Equal(t, "oak", snap.Action.Action.ResourceID)
	assert.False(t, snap.Action.Done)
}

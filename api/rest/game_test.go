package rest_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilequest/server/game/quest"
	"github.com/tilequest/server/game/view"
	"github.com/tilequest/server/model"
)

func TestGame_RequiresToken(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.as(t, "not-a-token", http.MethodGet, "/api/state", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/state?token="+token(t, 1, "Ada"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "query tokens work; the player is just not on the map yet")
}

func TestGame_EnterMoveLeave(t *testing.T) {
	s := newServer(t)
	tok := token(t, 1, "Ada")

	w := s.as(t, tok, http.MethodGet, "/api/state", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "player is not on the map", errorText(t, w))

	w = s.as(t, tok, http.MethodPost, "/api/enter", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap view.Snapshot
	decodeBody(t, w, &snap)
	assert.Equal(t, 3, snap.Zone.X)
	assert.Equal(t, 4, snap.Zone.Y)

	w = s.as(t, tok, http.MethodPost, "/api/move", map[string]int{"x": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.as(t, tok, http.MethodPost, "/api/move", map[string]int{"x": 2, "y": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeBody(t, w, &snap)
	assert.Equal(t, 2, snap.Zone.X)
	assert.Equal(t, 3, snap.Zone.Y)

	w = s.as(t, tok, http.MethodPost, "/api/move", map[string]int{"x": 5, "y": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "you can only move one tile at a time", errorText(t, w))

	w = s.as(t, tok, http.MethodPost, "/api/leave", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, onMap, err := s.a.Zones.GetUserZone(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, onMap)
}

func TestGame_CollectAndCancel(t *testing.T) {
	s := newServer(t)
	tok := token(t, 1, "Ada")
	require.Equal(t, http.StatusOK, s.as(t, tok, http.MethodPost, "/api/enter", nil).Code)

	w := s.as(t, tok, http.MethodPost, "/api/collect", map[string]string{"resource_id": "oak"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.as(t, tok, http.MethodPost, "/api/collect", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, p := range [][2]int{{2, 3}, {2, 2}, {2, 1}} {
		require.Equal(t, http.StatusOK, s.as(t, tok, http.MethodPost, "/api/move", map[string]int{"x": p[0], "y": p[1]}).Code)
	}

	w = s.as(t, tok, http.MethodPost, "/api/collect", map[string]string{"resource_id": "oak"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap view.Snapshot
	decodeBody(t, w, &snap)
	require.NotNil(t, snap.Action)
	assert.Equal(t, "oak", snap.Action.Action.ResourceID)

	w = s.as(t, tok, http.MethodPost, "/api/collect", map[string]string{"resource_id": "oak"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "you are already busy", errorText(t, w))

	w = s.as(t, tok, http.MethodPost, "/api/action/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &snap)
	assert.Nil(t, snap.Action)
}

func TestGame_TutorialQuest(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	tok := token(t, 1, "Ada")
	_, err := s.a.Rotator.RotateActiveQuests(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, s.as(t, tok, http.MethodPost, "/api/enter", nil).Code)

	w := s.as(t, tok, http.MethodPost, "/api/quests/nope/accept", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.as(t, tok, http.MethodPost, "/api/quests/tutorial-welcome/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap view.Snapshot
	decodeBody(t, w, &snap)
	require.Len(t, snap.QuestLog, 1)
	assert.Equal(t, model.QuestStatusInProgress, snap.QuestLog[0].Status)

	w = s.as(t, tok, http.MethodPost, "/api/quests/tutorial-welcome/complete", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "not finished yet")

	ok, err := s.a.Inventory.Add(ctx, 1, "log", 3)
	require.NoError(t, err)
	require.True(t, ok)

	w = s.as(t, tok, http.MethodGet, "/api/quests", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var log struct {
		Quests []quest.ActiveQuest `json:"quests"`
	}
	decodeBody(t, w, &log)
	require.Len(t, log.Quests, 1)
	assert.Equal(t, model.QuestStatusCompletable, log.Quests[0].Status)

	w = s.as(t, tok, http.MethodPost, "/api/quests/tutorial-welcome/complete", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeBody(t, w, &snap)
	assert.Empty(t, snap.QuestLog)

	w = s.as(t, tok, http.MethodGet, "/api/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Welcome aboard.")

	w = s.as(t, tok, http.MethodPost, "/api/quests/tutorial-welcome/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "completed quests cannot be cancelled")
}

func TestGame_InventoryAndChat(t *testing.T) {
	s := newServer(t)
	tok := token(t, 1, "Ada")
	require.Equal(t, http.StatusOK, s.as(t, tok, http.MethodPost, "/api/enter", nil).Code)

	_, err := s.a.Inventory.Add(context.Background(), 1, "stone", 2)
	require.NoError(t, err)
	w := s.as(t, tok, http.MethodGet, "/api/inventory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var inv struct {
		Inventory []model.Inventory `json:"inventory"`
	}
	decodeBody(t, w, &inv)
	require.Len(t, inv.Inventory, 1)
	assert.Equal(t, 2, inv.Inventory[0].Qty)

	w = s.as(t, tok, http.MethodPost, "/api/chat", map[string]string{"content": "hi all"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.as(t, tok, http.MethodGet, "/api/chat?n=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hi all")
	assert.Contains(t, w.Body.String(), `"name":"Ada"`)

	w = s.as(t, tok, http.MethodGet, "/api/chat?n=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGame_CommandsAreAudited(t *testing.T) {
	s := newServer(t)
	tok := token(t, 4, "Dee")
	require.Equal(t, http.StatusOK, s.as(t, tok, http.MethodPost, "/api/enter", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.as(t, tok, http.MethodPost, "/api/move", map[string]int{"x": 0, "y": 0}).Code)

	s.a.Audit.Stop(context.Background())
	rows, err := s.a.Audit.Recent(context.Background(), 4, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "move", rows[0].Action)
	assert.NotEmpty(t, rows[0].Error)
	assert.Equal(t, "enter", rows[1].Action)
	assert.NotEmpty(t, rows[1].TraceID)
}

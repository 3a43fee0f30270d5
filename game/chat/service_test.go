package chat

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/testutil"
)

func newService(t *testing.T, history int) (*Service, *events.Bus) {
	t.Helper()
	c, ps := testutil.SetupTestCache(t)
	bus := events.NewBus(ps, testutil.Logger())
	s := NewService(c, bus, history, testutil.Logger())
	s.cooldown = 0
	return s, bus
}

func TestSend_PublishesToTile(t *testing.T) {
	s, bus := newService(t, 10)
	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, events.ChatTopic(3, 4))
	require.NoError(t, err)
	defer sub.Close()

	line, err := s.Send(ctx, 1, "ann", 3, 4, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", line.Content)

	select {
	case e := <-sub.C:
		assert.Equal(t, events.KindChat, e.Kind)
		var got Line
		require.NoError(t, json.Unmarshal(e.Payload, &got))
		assert.Equal(t, "ann", got.Name)
		assert.Equal(t, "hello", got.Content)
	case <-time.After(time.Second):
		t.Fatal("no chat event")
	}
}

func TestSend_Validation(t *testing.T) {
	s, _ := newService(t, 10)
	ctx := context.Background()

	line, err := s.Send(ctx, 1, "ann", 0, 0, "   ")
	require.NoError(t, err)
	assert.Zero(t, line)

	_, err = s.Send(ctx, 1, "ann", 0, 0, strings.Repeat("x", maxMsgLen+1))
	assert.ErrorIs(t, err, errs.ErrInvalid)

	_, err = s.Send(ctx, 1, "ann", 0, 0, strings.Repeat("é", maxMsgLen))
	assert.NoError(t, err, "length counts runes")
}

func TestSend_Cooldown(t *testing.T) {
	s, _ := newService(t, 10)
	s.cooldown = time.Minute
	ctx := context.Background()

	_, err := s.Send(ctx, 1, "ann", 0, 0, "one")
	require.NoError(t, err)
	_, err = s.Send(ctx, 1, "ann", 0, 0, "two")
	assert.ErrorIs(t, err, errs.ErrConflict)
	_, err = s.Send(ctx, 2, "bob", 0, 0, "three")
	assert.NoError(t, err)
}

func TestHistory_PerTileAndCapped(t *testing.T) {
	s, _ := newService(t, 3)
	ctx := context.Background()
	for _, m := range []string{"a", "b", "c", "d"} {
		_, err := s.Send(ctx, 1, "ann", 1, 1, m)
		require.NoError(t, err)
	}
	_, err := s.Send(ctx, 1, "ann", 2, 1, "elsewhere")
	require.NoError(t, err)

	lines, err := s.History(ctx, 1, 1, 0)
	require.NoError(t, err)
	got := make([]string, len(lines))
	for i, l := range lines {
		got[i] = l.Content
	}
	assert.Equal(t, []string{"b", "c", "d"}, got)

	lines, err = s.History(ctx, 1, 1, 2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "c", lines[0].Content)

	lines, err = s.History(ctx, 5, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

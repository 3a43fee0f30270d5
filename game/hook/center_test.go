package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_NoHandlers(t *testing.T) {
	c := New()
	require.NoError(t, c.Trigger(context.Background(), "noop", 42))
}

func TestTrigger_PayloadAndEvent(t *testing.T) {
	c := New()
	var got ZoneEnter
	c.Register(OnZoneEnter, 0, "quest", func(_ context.Context, event string, data interface{}) error {
		assert.Equal(t, OnZoneEnter, event)
		got = data.(ZoneEnter)
		return nil
	})
	require.NoError(t, c.Trigger(context.Background(), OnZoneEnter, ZoneEnter{UserID: 7, X: 1, Y: 2}))
	assert.Equal(t, ZoneEnter{UserID: 7, X: 1, Y: 2}, got)
}

func TestTrigger_PriorityOrder(t *testing.T) {
	c := New()
	var order []string
	add := func(prio int, name string) {
		c.Register("ev", prio, name, func(context.Context, string, interface{}) error {
			order = append(order, name)
			return nil
		})
	}
	add(10, "late")
	add(1, "early")
	add(1, "early2")
	require.NoError(t, c.Trigger(context.Background(), "ev", nil))
	assert.Equal(t, []string{"early", "early2", "late"}, order)
}

func TestTrigger_ErrorsJoinedAndChainContinues(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	ran := false
	c.Register("ev", 0, "a", func(context.Context, string, interface{}) error { return boom })
	c.Register("ev", 1, "b", func(context.Context, string, interface{}) error { ran = true; return nil })

	err := c.Trigger(context.Background(), "ev", nil)
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran)
}

func TestTrigger_Interrupt(t *testing.T) {
	c := New()
	ran := false
	c.Register("ev", 0, "stop", func(context.Context, string, interface{}) error { return ErrInterrupt })
	c.Register("ev", 1, "never", func(context.Context, string, interface{}) error { ran = true; return nil })

	require.NoError(t, c.Trigger(context.Background(), "ev", nil))
	assert.False(t, ran)
}

func TestUnregister(t *testing.T) {
	c := New()
	c.Register("ev", 0, "a", func(context.Context, string, interface{}) error { return nil })
	c.Register("ev", 0, "b", func(context.Context, string, interface{}) error { return nil })
	c.Unregister("ev", "a")
	assert.Equal(t, 1, c.Count("ev"))
}

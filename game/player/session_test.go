package player

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tilequest/server/events"
	"github.com/tilequest/server/testutil"
)

func recv(t *testing.T, s *Session) Packet {
	t.Helper()
	select {
	case data := <-s.SendChan:
		var p Packet
		require.NoError(t, json.Unmarshal(data, &p))
		return p
	case <-time.After(time.Second):
		t.Fatal("nothing queued")
		return Packet{}
	}
}

func TestSession_SequenceNumbers(t *testing.T) {
	s := NewSession(1, "ann", TransportSSE, zap.NewNop())
	s.Send(&Packet{Type: "a"})
	s.Send(&Packet{Type: "b"})
	first, second := recv(t, s), recv(t, s)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, "b", second.Type)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestSession_ClosedDropsAndFullDoesNotBlock(t *testing.T) {
	s := NewSession(1, "ann", TransportSSE, zap.NewNop())
	for i := 0; i < sendChanBuf+10; i++ {
		s.SendRaw([]byte("x"))
	}
	assert.Len(t, s.SendChan, sendChanBuf)

	s.Close()
	s.Close()
	assert.True(t, s.IsClosed())
	for len(s.SendChan) > 0 {
		<-s.SendChan
	}
	s.Send(&Packet{Type: "late"})
	assert.Empty(t, s.SendChan)
}

func TestSessionManager_DisplacesDuplicate(t *testing.T) {
	sm := NewSessionManager(zap.NewNop())
	old := NewSession(1, "ann", TransportWS, zap.NewNop())
	fresh := NewSession(1, "ann", TransportSSE, zap.NewNop())

	sm.Register(old)
	sm.Register(fresh)
	assert.True(t, old.IsClosed())
	assert.False(t, fresh.IsClosed())
	assert.Same(t, fresh, sm.Get(1))

	// The displaced loop exiting must not remove the new session.
	assert.False(t, sm.Unregister(old))
	assert.True(t, sm.IsOnline(1))
	assert.True(t, sm.Unregister(fresh))
	assert.Zero(t, sm.Count())
}

func TestSessionManager_CloseAll(t *testing.T) {
	sm := NewSessionManager(zap.NewNop())
	a := NewSession(1, "a", TransportSSE, zap.NewNop())
	b := NewSession(2, "b", TransportSSE, zap.NewNop())
	sm.Register(a)
	sm.Register(b)
	go func() {
		<-a.Done
		sm.Unregister(a)
		<-b.Done
		sm.Unregister(b)
	}()
	sm.CloseAllSessions(time.Second)
	assert.Zero(t, sm.Count())
}

func TestPresence(t *testing.T) {
	c, ps := testutil.SetupTestCache(t)
	bus := events.NewBus(ps, zap.NewNop())
	p := NewPresence(c, bus, zap.NewNop())
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, events.OnlineTopic)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, p.SetOnline(ctx, 7))
	require.NoError(t, p.SetOnline(ctx, 8))
	online, err := p.Online(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{7, 8}, online)

	require.NoError(t, p.SetOffline(ctx, 7))
	ok, err := p.IsOnline(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	var kinds []bool
	for i := 0; i < 3; i++ {
		select {
		case e := <-sub.C:
			var body struct {
				Online bool `json:"online"`
			}
			require.NoError(t, json.Unmarshal(e.Payload, &body))
			kinds = append(kinds, body.Online)
		case <-time.After(time.Second):
			t.Fatal("missing online event")
		}
	}
	assert.Equal(t, []bool{true, true, false}, kinds)
}

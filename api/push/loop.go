// Package push runs one loop per connected player. The loop waits on the
// bus and on a one-second action ticker, re-derives the player's view from
// the store on every wake and queues it on the player's session.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/action"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/player"
	"github.com/tilequest/server/game/view"
	"github.com/tilequest/server/game/world"
	"github.com/tilequest/server/model"
)

// Packet types sent by the loop.
const (
	TypeSnapshot          = "snapshot"
	TypeChat              = "chat"
	TypeActionProgress    = "action_progress"
	TypeActionInterrupted = "action_interrupted"
	TypeActionComplete    = "action_complete"
)

type Deps struct {
	Bus      *events.Bus
	World    *world.World
	Views    *view.Builder
	Actions  *action.Tracker
	Presence *player.Presence
	Sessions *player.SessionManager
	Logger   *zap.Logger
}

type Config struct {
	ActionTick time.Duration
	Resync     time.Duration
}

type Loop struct {
	d   Deps
	cfg Config
}

func New(d Deps, cfg Config) *Loop {
	if cfg.ActionTick <= 0 {
		cfg.ActionTick = time.Second
	}
	if cfg.Resync <= 0 {
		cfg.Resync = 30 * time.Second
	}
	return &Loop{d: d, cfg: cfg}
}

// state is what one running loop remembers between wakes.
type state struct {
	s      *player.Session
	sub    *events.Subscription
	at     catalog.Point
	ticker *time.Ticker
	tick   <-chan time.Time
	action *model.InProgressAction
	logger *zap.Logger
}

// Run serves s until ctx is cancelled or the session is closed. Leaving
// takes the player off the map and marks them offline unless a newer
// session for the same user has displaced this one. A running action is
// never cancelled by a disconnect.
func (l *Loop) Run(ctx context.Context, s *player.Session) error {
	logger := l.d.Logger.With(zap.Int64("user_id", s.UserID), zap.String("transport", s.Transport))
	l.d.Sessions.Register(s)

	st := &state{s: s, logger: logger}
	defer l.leave(st)

	if err := l.d.Presence.SetOnline(ctx, s.UserID); err != nil {
		logger.Warn("presence update failed", zap.Error(err))
	}
	pos, err := l.d.World.Enter(ctx, s.UserID)
	if err != nil {
		return err
	}
	if err := l.follow(ctx, st, pos); err != nil {
		return err
	}
	if err := l.render(ctx, st); err != nil {
		return err
	}
	logger.Info("push loop started", zap.Int("x", pos.X), zap.Int("y", pos.Y))

	resync := time.NewTicker(l.cfg.Resync)
	defer resync.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done:
			return nil
		case e, ok := <-st.sub.C:
			if !ok {
				return errors.New("push: subscription closed")
			}
			if e.Kind == events.KindChat {
				s.Send(&player.Packet{Type: TypeChat, Payload: e.Payload})
				continue
			}
			chat := drain(st.sub)
			if err := l.render(ctx, st); err != nil {
				return err
			}
			if chat != nil {
				s.Send(&player.Packet{Type: TypeChat, Payload: chat.Payload})
			}
		case <-st.tick:
			if err := l.tickAction(ctx, st); err != nil {
				return err
			}
		case <-resync.C:
			if err := l.render(ctx, st); err != nil {
				return err
			}
		}
	}
}

// drain discards queued wake-ups; one render covers them all. It stops at
// the first chat line and returns it, since that carries content.
func drain(sub *events.Subscription) *events.Event {
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			if e.Kind == events.KindChat {
				return &e
			}
		default:
			return nil
		}
	}
}

func topicsFor(userID int64, p catalog.Point) []string {
	return []string{
		events.UserTopic(userID),
		events.ZoneTopic(p.X, p.Y),
		events.ChatTopic(p.X, p.Y),
		events.OnlineTopic,
	}
}

// follow points the subscription at tile p. The new subscription is live
// before the old one closes, so no change in between is missed.
func (l *Loop) follow(ctx context.Context, st *state, p catalog.Point) error {
	if st.sub != nil && st.at == p {
		return nil
	}
	sub, err := l.d.Bus.Subscribe(ctx, topicsFor(st.s.UserID, p)...)
	if err != nil {
		return err
	}
	if st.sub != nil {
		st.sub.Close()
	}
	st.sub, st.at = sub, p
	st.s.SetPosition(p.X, p.Y)
	return nil
}

// render rebuilds and queues the snapshot. When the player has moved it
// re-subscribes first and renders again, so the pushed view matches the
// topics now being watched.
func (l *Loop) render(ctx context.Context, st *state) error {
	for attempt := 0; attempt < 2; attempt++ {
		snap, err := l.d.Views.Snapshot(ctx, st.s.UserID)
		if errors.Is(err, errs.ErrInvalid) {
			// Taken off the map behind our back; put the player back.
			pos, err := l.d.World.Enter(ctx, st.s.UserID)
			if err != nil {
				return err
			}
			if err := l.follow(ctx, st, pos); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			st.logger.Warn("snapshot failed", zap.Error(err))
			return nil
		}
		here := catalog.Point{X: snap.Zone.X, Y: snap.Zone.Y}
		if here != st.at {
			if err := l.follow(ctx, st, here); err != nil {
				return err
			}
			continue
		}
		l.trackAction(st, snap.Action)
		payload, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		st.s.Send(&player.Packet{Type: TypeSnapshot, Payload: payload})
		return nil
	}
	return nil
}

// trackAction arms the action ticker while an action runs and reports an
// action that vanished without completing.
func (l *Loop) trackAction(st *state, p *action.Progress) {
	var cur *model.InProgressAction
	if p != nil {
		a := p.Action
		cur = &a
	}
	if st.action != nil && !sameAction(st.action, cur) {
		payload, _ := json.Marshal(map[string]string{"resource_id": st.action.ResourceID})
		st.s.Send(&player.Packet{Type: TypeActionInterrupted, Payload: payload})
	}
	st.action = cur
	switch {
	case cur != nil && st.ticker == nil:
		st.ticker = time.NewTicker(l.cfg.ActionTick)
		st.tick = st.ticker.C
	case cur == nil && st.ticker != nil:
		st.ticker.Stop()
		st.ticker, st.tick = nil, nil
	}
}

func sameAction(a, b *model.InProgressAction) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UserID == b.UserID && a.X == b.X && a.Y == b.Y &&
		a.ResourceID == b.ResourceID && a.StartedAt.Equal(b.StartedAt)
}

// tickAction re-reads the action row. A row that no longer matches is an
// interruption; a due action is finished and its rewards granted.
func (l *Loop) tickAction(ctx context.Context, st *state) error {
	if st.action == nil {
		l.trackAction(st, nil)
		return nil
	}
	row, err := l.d.Actions.GetInProgressAction(ctx, st.s.UserID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		st.logger.Warn("action read failed", zap.Error(err))
		return nil
	}
	if !sameAction(st.action, row) {
		return l.render(ctx, st)
	}

	p := l.d.Actions.Progress(*row, time.Now().UTC())
	if !p.Done {
		payload, _ := json.Marshal(p)
		st.s.Send(&player.Packet{Type: TypeActionProgress, Payload: payload})
		return nil
	}

	finished, err := l.d.Actions.Finish(ctx, *row)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		st.logger.Warn("action finish failed", zap.String("resource", row.ResourceID), zap.Error(err))
		return nil
	}
	if finished {
		payload, _ := json.Marshal(map[string]string{"resource_id": row.ResourceID})
		st.s.Send(&player.Packet{Type: TypeActionComplete, Payload: payload})
		// Cleared first so the render that follows is not an interruption.
		st.action = nil
	}
	return l.render(ctx, st)
}

// leave runs with a fresh context because the request context is already
// cancelled when the client goes away.
func (l *Loop) leave(st *state) {
	if st.ticker != nil {
		st.ticker.Stop()
	}
	if st.sub != nil {
		st.sub.Close()
	}
	if !l.d.Sessions.Unregister(st.s) {
		st.logger.Info("push loop displaced")
		return
	}
	st.s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.d.World.Leave(ctx, st.s.UserID); err != nil {
		st.logger.Warn("leave failed", zap.Error(err))
	}
	if err := l.d.Presence.SetOffline(ctx, st.s.UserID); err != nil {
		st.logger.Warn("presence update failed", zap.Error(err))
	}
	st.logger.Info("push loop stopped")
}

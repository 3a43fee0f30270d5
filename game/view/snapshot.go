// Package view derives the complete state a player sees from the store.
// Push loops rebuild a Snapshot on every wake instead of trusting event
// payloads.
package view

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/game/action"
	"github.com/tilequest/server/game/chat"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/item"
	"github.com/tilequest/server/game/message"
	"github.com/tilequest/server/game/player"
	"github.com/tilequest/server/game/quest"
	"github.com/tilequest/server/game/resource"
	"github.com/tilequest/server/game/zone"
	"github.com/tilequest/server/model"
)

const chatLines = 20

type ZoneInfo struct {
	X         int                     `json:"x"`
	Y         int                     `json:"y"`
	Type      string                  `json:"type"`
	Name      string                  `json:"name"`
	Resources []resource.Availability `json:"resources"`
}

type Occupant struct {
	UserID    int64     `json:"user_id"`
	Online    bool      `json:"online"`
	EnteredAt time.Time `json:"entered_at"`
}

// TileView is one visible map cell with its quest markers.
type TileView struct {
	X          int             `json:"x"`
	Y          int             `json:"y"`
	Type       string          `json:"type"`
	Accessible bool            `json:"accessible"`
	Markers    quest.Indicator `json:"markers"`
}

// Snapshot is everything the client renders for one player.
type Snapshot struct {
	UserID       int64                  `json:"user_id"`
	Zone         ZoneInfo               `json:"zone"`
	Occupants    []Occupant             `json:"occupants"`
	Quests       quest.ZoneQuests       `json:"quests"`
	QuestLog     []quest.ActiveQuest    `json:"quest_log"`
	Tiles        []TileView             `json:"tiles"`
	Interactions []quest.NPCInteraction `json:"interactions"`
	Action       *action.Progress       `json:"action,omitempty"`
	Messages     []model.SystemMessage  `json:"messages"`
	Inventory    []model.Inventory      `json:"inventory"`
	Chat         []chat.Line            `json:"chat"`
	GeneratedAt  time.Time              `json:"generated_at"`
}

type Deps struct {
	Catalog   *catalog.Catalog
	Zones     *zone.Tracker
	Resources *resource.Tracker
	Actions   *action.Tracker
	Quests    *quest.Engine
	Messages  *message.Service
	Inventory *item.Service
	Chat      *chat.Service
	Presence  *player.Presence
	Logger    *zap.Logger
}

type Builder struct {
	d      Deps
	radius int
	now    func() time.Time
}

func NewBuilder(d Deps, radius int) *Builder {
	if radius < 0 {
		radius = 0
	}
	return &Builder{d: d, radius: radius, now: func() time.Time { return time.Now().UTC() }}
}

// Visible returns the in-bounds tiles within radius of (x,y) in row order.
func (b *Builder) Visible(x, y int) []catalog.Point {
	var out []catalog.Point
	for ty := y - b.radius; ty <= y+b.radius; ty++ {
		if ty < 0 || ty >= b.d.Catalog.Map.Height {
			continue
		}
		for tx := x - b.radius; tx <= x+b.radius; tx++ {
			if tx < 0 || tx >= b.d.Catalog.Map.Width {
				continue
			}
			out = append(out, catalog.Point{X: tx, Y: ty})
		}
	}
	return out
}

// Snapshot builds the view of userID at their current tile.
func (b *Builder) Snapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	zu, ok, err := b.d.Zones.GetUserZone(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: player is not on the map", errs.ErrInvalid)
	}
	now := b.now()
	x, y := zu.X, zu.Y
	snap := &Snapshot{UserID: userID, GeneratedAt: now}

	snap.Zone = ZoneInfo{X: x, Y: y}
	if tt, ok := b.d.Catalog.TileTypeAt(x, y); ok {
		snap.Zone.Type, snap.Zone.Name = tt.ID, tt.Name
	}
	if snap.Zone.Resources, err = b.d.Resources.AvailabilityAt(ctx, x, y); err != nil {
		return nil, fmt.Errorf("resources: %w", err)
	}

	if snap.Occupants, err = b.occupants(ctx, x, y); err != nil {
		return nil, fmt.Errorf("occupants: %w", err)
	}
	if snap.Quests, err = b.d.Quests.GetZoneQuestsForUser(ctx, userID, x, y); err != nil {
		return nil, fmt.Errorf("zone quests: %w", err)
	}
	if snap.QuestLog, err = b.d.Quests.GetQuestLog(ctx, userID); err != nil {
		return nil, fmt.Errorf("quest log: %w", err)
	}
	if snap.Tiles, err = b.tiles(ctx, userID, x, y); err != nil {
		return nil, fmt.Errorf("indicators: %w", err)
	}
	if snap.Interactions, err = b.d.Quests.GetZoneNPCInteractionsForUser(ctx, userID, x, y); err != nil {
		return nil, fmt.Errorf("interactions: %w", err)
	}

	act, err := b.d.Actions.GetInProgressAction(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("action: %w", err)
	}
	if act != nil {
		p := b.d.Actions.Progress(*act, now)
		snap.Action = &p
	}

	if snap.Messages, err = b.d.Messages.List(ctx, userID); err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	if snap.Inventory, err = b.d.Inventory.List(ctx, userID); err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	if b.d.Chat != nil {
		lines, err := b.d.Chat.History(ctx, x, y, chatLines)
		if err != nil {
			b.d.Logger.Warn("chat history unavailable", zap.Int("x", x), zap.Int("y", y), zap.Error(err))
		}
		snap.Chat = lines
	}
	return snap, nil
}

func (b *Builder) occupants(ctx context.Context, x, y int) ([]Occupant, error) {
	rows, err := b.d.Zones.GetZoneUsers(ctx, x, y)
	if err != nil {
		return nil, err
	}
	out := make([]Occupant, 0, len(rows))
	for _, r := range rows {
		o := Occupant{UserID: r.UserID, EnteredAt: r.EnteredAt}
		if b.d.Presence != nil {
			o.Online, _ = b.d.Presence.IsOnline(ctx, r.UserID)
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (b *Builder) tiles(ctx context.Context, userID int64, x, y int) ([]TileView, error) {
	visible := b.Visible(x, y)
	marks, err := b.d.Quests.GetMapIndicatorsForUser(ctx, userID, visible)
	if err != nil {
		return nil, err
	}
	out := make([]TileView, 0, len(visible))
	for _, p := range visible {
		tv := TileView{X: p.X, Y: p.Y, Markers: marks[p]}
		if tt, ok := b.d.Catalog.TileTypeAt(p.X, p.Y); ok {
			tv.Type, tv.Accessible = tt.ID, tt.Accessible
		}
		out = append(out, tv)
	}
	return out, nil
}

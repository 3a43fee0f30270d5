// Package hook connects the trackers to the quest engine. Trackers trigger
// named events after a state change; the engine registers handlers that turn
// them into objective progress.
package hook

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrInterrupt signals that a handler wants to stop further processing.
var ErrInterrupt = errors.New("hook interrupted")

// Fn is a hook handler.
type Fn func(ctx context.Context, event string, data interface{}) error

type entry struct {
	priority int
	fn       Fn
	name     string
}

// Center manages hook registrations. The zero value is not usable; call New.
type Center struct {
	mu    sync.RWMutex
	hooks map[string][]*entry
}

func New() *Center {
	return &Center{hooks: make(map[string][]*entry)}
}

// Register adds fn for event. Lower priority runs first; handlers with equal
// priority run in registration order.
func (c *Center) Register(event string, priority int, name string, fn Fn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := append(c.hooks[event], &entry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	c.hooks[event] = entries
}

// Unregister removes all hooks with the given name for the given event.
func (c *Center) Unregister(event, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.hooks[event]
	kept := entries[:0]
	for _, e := range entries {
		if e.name != name {
			kept = append(kept, e)
		}
	}
	c.hooks[event] = kept
}

// Trigger runs every handler for event in priority order. A handler error
// does not stop the chain unless it is ErrInterrupt; all errors are joined
// and returned.
func (c *Center) Trigger(ctx context.Context, event string, data interface{}) error {
	c.mu.RLock()
	entries := make([]*entry, len(c.hooks[event]))
	copy(entries, c.hooks[event])
	c.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		err := e.fn(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			break
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns how many handlers are registered for event.
func (c *Center) Count(event string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hooks[event])
}

// ---- Hook event names ----

const (
	OnZoneEnter       = "on_zone_enter"
	OnActionComplete  = "on_action_complete"
	OnInventoryChange = "on_inventory_change"
	OnQuestComplete   = "on_quest_complete"
)

// ZoneEnter is the payload of OnZoneEnter.
type ZoneEnter struct {
	UserID int64
	X, Y   int
}

// ActionComplete is the payload of OnActionComplete.
type ActionComplete struct {
	UserID     int64
	X, Y       int
	ResourceID string
}

// InventoryChange carries the new absolute count of one item.
type InventoryChange struct {
	UserID int64
	ItemID string
	Count  int
}

// QuestComplete is the payload of OnQuestComplete.
type QuestComplete struct {
	UserID     int64
	InstanceID string
	TemplateID string
}

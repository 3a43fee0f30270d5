// Package catalog holds the static, per-deploy world definition: items,
// resources, tile types, NPCs, the world map and quest templates.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// ResourceKind distinguishes timed gathering from crafting.
type ResourceKind string

const (
	ResourceGather ResourceKind = "gather"
	ResourceCraft  ResourceKind = "craft"
)

type ItemQty struct {
	Item string `yaml:"item" json:"item"`
	Qty  int    `yaml:"qty" json:"qty"`
}

type Item struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Resource is a tile-local activity. Amount is the stock per tile unless
// Limitless is set. CollectionTime is in seconds.
type Resource struct {
	ID             string       `yaml:"id" json:"id"`
	Name           string       `yaml:"name" json:"name"`
	Kind           ResourceKind `yaml:"type" json:"type"`
	Verb           string       `yaml:"verb" json:"verb"`
	Amount         int          `yaml:"amount" json:"amount"`
	Limitless      bool         `yaml:"limitless" json:"limitless"`
	CollectionTime int          `yaml:"collection_time" json:"collection_time"`
	Rewards        []ItemQty    `yaml:"rewards" json:"rewards"`
	Requires       []ItemQty    `yaml:"requires" json:"requires"`
}

// RegenInterval is the time one consumed unit takes to come back.
func (r *Resource) RegenInterval(unit time.Duration) time.Duration {
	return time.Duration(r.CollectionTime) * unit
}

// Duration is the wall-clock length of one collection action.
func (r *Resource) Duration() time.Duration {
	return time.Duration(r.CollectionTime+1) * time.Second
}

type TileType struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name" json:"name"`
	Resources  []string `yaml:"resources" json:"resources"`
	Rarity     float64  `yaml:"rarity" json:"rarity"`
	Accessible bool     `yaml:"accessible" json:"accessible"`
}

type NPC struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

type Point struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

type Tile struct {
	X    int    `yaml:"x" json:"x"`
	Y    int    `yaml:"y" json:"y"`
	Type string `yaml:"type" json:"type"`
}

// WorldMap is the grid. Tiles not listed take the Fill type.
type WorldMap struct {
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
	Fill   string `yaml:"fill" json:"fill"`
	Tiles  []Tile `yaml:"tiles" json:"tiles"`
}

type Giver struct {
	NPC  string `yaml:"npc" json:"npc"`
	Zone string `yaml:"zone" json:"zone"`
}

type Completion struct {
	NPC           string `yaml:"npc" json:"npc"`
	Zone          string `yaml:"zone" json:"zone"`
	Message       string `yaml:"message" json:"message"`
	ReturnMessage string `yaml:"return_message" json:"return_message"`
}

type QuestTemplate struct {
	ID           string
	Name         string
	Category     string
	Giver        Giver
	Objectives   []Objective
	Completion   Completion
	Rewards      []ItemQty
	TutorialOnly bool
}

// TutorialInstance is a hand-placed quest instance that is re-stamped with
// the current window on every rotation.
type TutorialInstance struct {
	ID         string             `yaml:"id" json:"id"`
	Template   string             `yaml:"template" json:"template"`
	Giver      Point              `yaml:"giver" json:"giver"`
	Completion Point              `yaml:"completion" json:"completion"`
	Locations  []ObjectivePlacing `yaml:"locations" json:"locations"`
}

type ObjectivePlacing struct {
	Objective int `yaml:"objective" json:"objective"`
	X         int `yaml:"x" json:"x"`
	Y         int `yaml:"y" json:"y"`
}

// Catalog is immutable once Build has succeeded and safe for concurrent reads.
type Catalog struct {
	Items     []Item
	Resources []Resource
	TileTypes []TileType
	NPCs      []NPC
	Map       WorldMap
	Quests    []QuestTemplate
	Tutorials []TutorialInstance

	items     map[string]*Item
	resources map[string]*Resource
	tileTypes map[string]*TileType
	npcs      map[string]*NPC
	quests    map[string]*QuestTemplate
	tiles     map[Point]string
	byType    map[string][]Point
	digest    string
}

// Build indexes the catalog and checks cross references.
func (c *Catalog) Build() error {
	c.items = make(map[string]*Item, len(c.Items))
	for i := range c.Items {
		c.items[c.Items[i].ID] = &c.Items[i]
	}
	c.resources = make(map[string]*Resource, len(c.Resources))
	for i := range c.Resources {
		r := &c.Resources[i]
		for _, iq := range append(append([]ItemQty{}, r.Rewards...), r.Requires...) {
			if _, ok := c.items[iq.Item]; !ok {
				return fmt.Errorf("catalog: resource %q references unknown item %q", r.ID, iq.Item)
			}
		}
		c.resources[r.ID] = r
	}
	c.tileTypes = make(map[string]*TileType, len(c.TileTypes))
	for i := range c.TileTypes {
		tt := &c.TileTypes[i]
		for _, rid := range tt.Resources {
			if _, ok := c.resources[rid]; !ok {
				return fmt.Errorf("catalog: tile %q references unknown resource %q", tt.ID, rid)
			}
		}
		c.tileTypes[tt.ID] = tt
	}
	c.npcs = make(map[string]*NPC, len(c.NPCs))
	for i := range c.NPCs {
		c.npcs[c.NPCs[i].ID] = &c.NPCs[i]
	}
	c.quests = make(map[string]*QuestTemplate, len(c.Quests))
	for i := range c.Quests {
		c.quests[c.Quests[i].ID] = &c.Quests[i]
	}
	for _, tut := range c.Tutorials {
		if _, ok := c.quests[tut.Template]; !ok {
			return fmt.Errorf("catalog: tutorial %q references unknown template %q", tut.ID, tut.Template)
		}
	}

	c.tiles = make(map[Point]string)
	if c.Map.Fill != "" {
		for y := 0; y < c.Map.Height; y++ {
			for x := 0; x < c.Map.Width; x++ {
				c.tiles[Point{x, y}] = c.Map.Fill
			}
		}
	}
	for _, t := range c.Map.Tiles {
		if _, ok := c.tileTypes[t.Type]; !ok {
			return fmt.Errorf("catalog: tile (%d,%d) has unknown type %q", t.X, t.Y, t.Type)
		}
		c.tiles[Point{t.X, t.Y}] = t.Type
	}
	c.byType = make(map[string][]Point)
	for p, typ := range c.tiles {
		c.byType[typ] = append(c.byType[typ], p)
	}
	for typ := range c.byType {
		pts := c.byType[typ]
		sort.Slice(pts, func(i, j int) bool {
			if pts[i].Y != pts[j].Y {
				return pts[i].Y < pts[j].Y
			}
			return pts[i].X < pts[j].X
		})
	}
	c.digest = c.computeDigest()
	return nil
}

func (c *Catalog) computeDigest() string {
	h := sha256.New()
	ids := make([]string, 0, len(c.quests)+len(c.resources))
	for id := range c.quests {
		ids = append(ids, "q:"+id)
	}
	for id := range c.resources {
		ids = append(ids, "r:"+id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h.Write([]byte(id))
	}
	fmt.Fprintf(h, "map:%dx%d:%d", c.Map.Width, c.Map.Height, len(c.tiles))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Digest identifies the catalog contents for logs.
func (c *Catalog) Digest() string { return c.digest }

func (c *Catalog) Item(id string) (*Item, bool) {
	v, ok := c.items[id]
	return v, ok
}

func (c *Catalog) Resource(id string) (*Resource, bool) {
	v, ok := c.resources[id]
	return v, ok
}

func (c *Catalog) TileType(id string) (*TileType, bool) {
	v, ok := c.tileTypes[id]
	return v, ok
}

func (c *Catalog) NPC(id string) (*NPC, bool) {
	v, ok := c.npcs[id]
	return v, ok
}

func (c *Catalog) Quest(id string) (*QuestTemplate, bool) {
	v, ok := c.quests[id]
	return v, ok
}

// TileTypeAt returns the tile definition at (x,y).
func (c *Catalog) TileTypeAt(x, y int) (*TileType, bool) {
	typ, ok := c.tiles[Point{x, y}]
	if !ok {
		return nil, false
	}
	return c.TileType(typ)
}

// ResourcesAt lists the resources offered on (x,y).
func (c *Catalog) ResourcesAt(x, y int) []*Resource {
	tt, ok := c.TileTypeAt(x, y)
	if !ok {
		return nil
	}
	out := make([]*Resource, 0, len(tt.Resources))
	for _, rid := range tt.Resources {
		if r, ok := c.resources[rid]; ok {
			out = append(out, r)
		}
	}
	return out
}

// OffersResource reports whether resourceID can be collected on (x,y).
func (c *Catalog) OffersResource(x, y int, resourceID string) bool {
	for _, r := range c.ResourcesAt(x, y) {
		if r.ID == resourceID {
			return true
		}
	}
	return false
}

// TilesOfType returns every accessible tile of the given type in row order.
func (c *Catalog) TilesOfType(typ string) []Point {
	tt, ok := c.tileTypes[typ]
	if !ok || !tt.Accessible {
		return nil
	}
	return c.byType[typ]
}

// RotatingTemplates returns the templates eligible for random rotation,
// sorted by id so that a seeded sampler is reproducible.
func (c *Catalog) RotatingTemplates() []*QuestTemplate {
	out := make([]*QuestTemplate, 0, len(c.Quests))
	for i := range c.Quests {
		if !c.Quests[i].TutorialOnly {
			out = append(out, &c.Quests[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

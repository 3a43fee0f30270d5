package catalog

import "fmt"

// ObjectiveKind names an objective variant.
type ObjectiveKind string

const (
	KindGather  ObjectiveKind = "gather"
	KindCollect ObjectiveKind = "collect"
	KindCraft   ObjectiveKind = "craft"
	KindTalk    ObjectiveKind = "talk"
	KindExplore ObjectiveKind = "explore"
)

// Objective is one typed sub-goal of a quest template. The set of
// implementations is closed: Gather, Collect, Craft, Talk and Explore.
type Objective interface {
	Kind() ObjectiveKind
	// Required is the amount frozen into ObjectiveProgress at quest start.
	Required() int
	isObjective()
}

// Gather asks for Amount completed gather actions on Resource, optionally
// restricted to tiles of type Zone.
type Gather struct {
	Resource string
	Amount   int
	Zone     string
}

// Collect asks for Amount of Item held in the inventory.
type Collect struct {
	Item   string
	Amount int
}

// Craft asks for Amount completed craft actions on Resource.
type Craft struct {
	Resource string
	Amount   int
}

// Talk walks through Dialog with NPC on a tile of type Zone. Each line is
// one step, plus a final acknowledgement.
type Talk struct {
	NPC    string
	Zone   string
	Dialog []string
}

// Explore asks the player to step on a tile of type Zone.
type Explore struct {
	Zone string
}

func (Gather) Kind() ObjectiveKind  { return KindGather }
func (Collect) Kind() ObjectiveKind { return KindCollect }
func (Craft) Kind() ObjectiveKind   { return KindCraft }
func (Talk) Kind() ObjectiveKind    { return KindTalk }
func (Explore) Kind() ObjectiveKind { return KindExplore }

func (o Gather) Required() int  { return o.Amount }
func (o Collect) Required() int { return o.Amount }
func (o Craft) Required() int   { return o.Amount }
func (o Talk) Required() int    { return len(o.Dialog) + 1 }
func (Explore) Required() int   { return 1 }

func (Gather) isObjective()  {}
func (Collect) isObjective() {}
func (Craft) isObjective()   {}
func (Talk) isObjective()    {}
func (Explore) isObjective() {}

// PlacedZone returns the tile type an objective must be bound to when a
// quest instance is generated. Only talk and explore objectives are placed.
func PlacedZone(o Objective) (string, bool) {
	switch v := o.(type) {
	case Talk:
		return v.Zone, true
	case Explore:
		return v.Zone, true
	default:
		return "", false
	}
}

// Describe renders a short label such as "Gather 3 Oak Tree".
func (c *Catalog) Describe(o Objective) string {
	switch v := o.(type) {
	case Gather:
		return fmt.Sprintf("Gather %d %s", v.Amount, c.resourceName(v.Resource))
	case Collect:
		name := v.Item
		if it, ok := c.Item(v.Item); ok {
			name = it.Name
		}
		return fmt.Sprintf("Collect %d %s", v.Amount, name)
	case Craft:
		return fmt.Sprintf("Craft %d %s", v.Amount, c.resourceName(v.Resource))
	case Talk:
		name := v.NPC
		if n, ok := c.NPC(v.NPC); ok {
			name = n.Name
		}
		return "Talk to " + name
	case Explore:
		name := v.Zone
		if tt, ok := c.TileType(v.Zone); ok {
			name = tt.Name
		}
		return "Explore " + name
	default:
		return "Unknown objective"
	}
}

func (c *Catalog) resourceName(id string) string {
	if r, ok := c.Resource(id); ok {
		return r.Name
	}
	return id
}

// rawObjective is the on-disk shape of an objective before it is narrowed
// to a concrete variant.
type rawObjective struct {
	Type     string   `yaml:"type"`
	Resource string   `yaml:"resource"`
	Item     string   `yaml:"item"`
	NPC      string   `yaml:"npc"`
	Zone     string   `yaml:"zone"`
	Amount   int      `yaml:"amount"`
	Dialog   []string `yaml:"dialog"`
}

func (r rawObjective) narrow() (Objective, error) {
	switch ObjectiveKind(r.Type) {
	case KindGather:
		return Gather{Resource: r.Resource, Amount: r.Amount, Zone: r.Zone}, nil
	case KindCollect:
		return Collect{Item: r.Item, Amount: r.Amount}, nil
	case KindCraft:
		return Craft{Resource: r.Resource, Amount: r.Amount}, nil
	case KindTalk:
		return Talk{NPC: r.NPC, Zone: r.Zone, Dialog: r.Dialog}, nil
	case KindExplore:
		return Explore{Zone: r.Zone}, nil
	default:
		return nil, fmt.Errorf("unknown objective type %q", r.Type)
	}
}

package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load(filepath.Join("testdata", "catalog.yaml"), true)
	require.NoError(t, err)
	return c
}

func TestLoad_Lookups(t *testing.T) {
	c := loadTestCatalog(t)

	oak, ok := c.Resource("oak")
	require.True(t, ok)
	assert.Equal(t, 3, oak.Amount)
	assert.Equal(t, ResourceGather, oak.Kind)
	assert.Equal(t, 10*time.Second, oak.RegenInterval(5*time.Second))
	assert.Equal(t, 3*time.Second, oak.Duration())

	tt, ok := c.TileTypeAt(3, 4)
	require.True(t, ok)
	assert.Equal(t, "village", tt.ID)

	tt, ok = c.TileTypeAt(0, 0)
	require.True(t, ok)
	assert.Equal(t, "meadow", tt.ID)

	_, ok = c.TileTypeAt(10, 10)
	assert.False(t, ok)

	assert.True(t, c.OffersResource(1, 1, "oak"))
	assert.False(t, c.OffersResource(0, 0, "oak"))
	assert.NotEmpty(t, c.Digest())
}

func TestLoad_TilesOfType(t *testing.T) {
	c := loadTestCatalog(t)
	assert.Equal(t, []Point{{1, 1}, {2, 1}}, c.TilesOfType("forest"))
	assert.Empty(t, c.TilesOfType("lake"), "inaccessible tiles are never sampled")
	assert.Empty(t, c.TilesOfType("swamp"))
}

func TestLoad_Objectives(t *testing.T) {
	c := loadTestCatalog(t)
	q, ok := c.Quest("lumber")
	require.True(t, ok)
	require.Len(t, q.Objectives, 2)

	g, ok := q.Objectives[0].(Gather)
	require.True(t, ok)
	assert.Equal(t, "oak", g.Resource)
	assert.Equal(t, 2, g.Required())

	talk, ok := q.Objectives[1].(Talk)
	require.True(t, ok)
	assert.Equal(t, 3, talk.Required(), "two dialog lines plus the acknowledgement")

	zone, placed := PlacedZone(talk)
	assert.True(t, placed)
	assert.Equal(t, "forest", zone)
	_, placed = PlacedZone(g)
	assert.False(t, placed)

	assert.Equal(t, "Gather 2 Oak Tree", c.Describe(g))
	assert.Equal(t, "Talk to Ranger", c.Describe(talk))
}

func TestRequired_PerKind(t *testing.T) {
	assert.Equal(t, 4, Gather{Amount: 4}.Required())
	assert.Equal(t, 3, Collect{Amount: 3}.Required())
	assert.Equal(t, 2, Craft{Amount: 2}.Required())
	assert.Equal(t, 1, Talk{}.Required())
	assert.Equal(t, 1, Explore{}.Required())
}

func TestRotatingTemplates_ExcludesTutorials(t *testing.T) {
	c := loadTestCatalog(t)
	ids := []string{}
	for _, q := range c.RotatingTemplates() {
		ids = append(ids, q.ID)
	}
	assert.Equal(t, []string{"lumber", "survey"}, ids)
}

func TestParse_SchemaRejectsBadObjective(t *testing.T) {
	doc := []byte(`
items: []
resources: []
tiles: [{id: meadow, name: Meadow, accessible: true}]
map: {width: 1, height: 1, fill: meadow}
quests:
  - id: broken
    name: Broken
    giver: {npc: elder, zone: meadow}
    completion: {npc: elder, zone: meadow}
    objectives:
      - {type: gather, amount: 2}
`)
	_, err := Parse(doc, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestValidateDocument_NumberKinds(t *testing.T) {
	doc := func(width string) []byte {
		return []byte(`
items: []
resources: []
tiles: [{id: forest, name: Forest, rarity: 0.4, accessible: true}]
map: {width: ` + width + `, height: 2, fill: forest}
quests: []
`)
	}
	require.NoError(t, validateDocument(doc("2")))

	err := validateDocument(doc("1.5"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")

	assert.Error(t, validateDocument(doc("0")))
}

func TestParse_UnknownObjectiveTypeWithoutSchema(t *testing.T) {
	doc := []byte(`
tiles: [{id: meadow, name: Meadow, accessible: true}]
map: {width: 1, height: 1, fill: meadow}
quests:
  - id: broken
    name: Broken
    giver: {npc: elder, zone: meadow}
    completion: {npc: elder, zone: meadow}
    objectives:
      - {type: dance}
`)
	_, err := Parse(doc, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dance")
}

func TestBuild_UnknownResourceOnTile(t *testing.T) {
	c := &Catalog{TileTypes: []TileType{{ID: "forest", Resources: []string{"ghost"}}}}
	assert.Error(t, c.Build())
}

func TestLoad_ShippedCatalog(t *testing.T) {
	c, err := Load(filepath.Join("..", "data", "catalog.yaml"), true)
	require.NoError(t, err)

	for _, tpl := range c.RotatingTemplates() {
		zone := tpl.Giver.Zone
		assert.NotEmpty(t, c.TilesOfType(zone), "template %s has no giver tile", tpl.ID)
		for _, o := range tpl.Objectives {
			if z, ok := PlacedZone(o); ok {
				assert.NotEmpty(t, c.TilesOfType(z), "template %s objective zone %s", tpl.ID, z)
			}
		}
	}
	require.Len(t, c.Tutorials, 1)
}

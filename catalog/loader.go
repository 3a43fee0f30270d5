package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.schema.json
var schemaJSON string

const schemaURL = "catalog.schema.json"

type rawTemplate struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Category     string         `yaml:"category"`
	Giver        Giver          `yaml:"giver"`
	Objectives   []rawObjective `yaml:"objectives"`
	Completion   Completion     `yaml:"completion"`
	Rewards      []ItemQty      `yaml:"rewards"`
	TutorialOnly bool           `yaml:"tutorial_only"`
}

type rawCatalog struct {
	Items     []Item             `yaml:"items"`
	Resources []Resource         `yaml:"resources"`
	Tiles     []TileType         `yaml:"tiles"`
	NPCs      []NPC              `yaml:"npcs"`
	Map       WorldMap           `yaml:"map"`
	Quests    []rawTemplate      `yaml:"quests"`
	Tutorials []TutorialInstance `yaml:"tutorials"`
}

// Load reads a YAML catalog from path. When validate is set the document
// is checked against the embedded JSON schema before it is decoded.
func Load(path string, validate bool) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data, validate)
}

// Parse decodes and indexes a YAML catalog document.
func Parse(data []byte, validate bool) (*Catalog, error) {
	if validate {
		if err := validateDocument(data); err != nil {
			return nil, err
		}
	}

	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	c := &Catalog{
		Items:     raw.Items,
		Resources: raw.Resources,
		TileTypes: raw.Tiles,
		NPCs:      raw.NPCs,
		Map:       raw.Map,
		Tutorials: raw.Tutorials,
	}
	for _, rt := range raw.Quests {
		qt := QuestTemplate{
			ID:           rt.ID,
			Name:         rt.Name,
			Category:     rt.Category,
			Giver:        rt.Giver,
			Completion:   rt.Completion,
			Rewards:      rt.Rewards,
			TutorialOnly: rt.TutorialOnly,
		}
		for i, ro := range rt.Objectives {
			obj, err := ro.narrow()
			if err != nil {
				return nil, fmt.Errorf("catalog: quest %q objective %d: %w", rt.ID, i, err)
			}
			qt.Objectives = append(qt.Objectives, obj)
		}
		c.Quests = append(c.Quests, qt)
	}
	if err := c.Build(); err != nil {
		return nil, err
	}
	return c, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaURL)
}

// validateDocument round-trips the YAML through JSON so the validator sees
// the same value shapes it would for a JSON document.
func validateDocument(data []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("catalog: compile schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("catalog: decode: %w", err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("catalog: re-encode: %w", err)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(asJSON))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("catalog: re-decode: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("catalog: schema: %w", err)
	}
	return nil
}

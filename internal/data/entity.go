package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EntityKind is the definition of one NPC/monster kind.
type EntityKind struct {
	ID             int32             `yaml:"id"`
	Name           string            `yaml:"name"`
	MaxHP          int32             `yaml:"max_hp"`
	Attackable     bool              `yaml:"attackable"`
	Aggressive     bool              `yaml:"aggressive"`
	AggroRange     int32             `yaml:"aggro_range"`
	DisengageRange int32             `yaml:"disengage_range"`
	AttackLevel    int               `yaml:"attack_level"`
	StrengthLevel  int               `yaml:"strength_level"`
	DefenceLevel   int               `yaml:"defence_level"`
	AttackBonus    int               `yaml:"attack_bonus"`
	StrengthBonus  int               `yaml:"strength_bonus"`
	DefenceBonus   int               `yaml:"defence_bonus"`
	AttackSpeed    float64           `yaml:"attack_speed"`    // seconds per auto-attack
	WanderTicks    int64             `yaml:"wander_ticks"`    // cadence of wander steps, 0 = never wanders
	Cosmetics      map[string]string `yaml:"cosmetics"`
}

// EntityTable is the loaded entity reference data.
type EntityTable struct {
	byID map[int32]*EntityKind
}

// LoadEntityTable reads the entity-kind YAML document.
func LoadEntityTable(path string) (*EntityTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities %s: %w", path, err)
	}
	var doc struct {
		Entities []*EntityKind `yaml:"entities"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse entities %s: %w", path, err)
	}
	return NewEntityTable(doc.Entities)
}

// NewEntityTable builds a table from parsed kinds, validating as it goes.
func NewEntityTable(kinds []*EntityKind) (*EntityTable, error) {
	t := &EntityTable{byID: make(map[int32]*EntityKind, len(kinds))}
	for _, k := range kinds {
		if k.ID <= 0 {
			return nil, fmt.Errorf("entity %q: bad id %d", k.Name, k.ID)
		}
		if _, dup := t.byID[k.ID]; dup {
			return nil, fmt.Errorf("entity id %d defined twice", k.ID)
		}
		if k.MaxHP <= 0 {
			return nil, fmt.Errorf("entity %d: max_hp must be positive", k.ID)
		}
		if k.Aggressive && k.AggroRange <= 0 {
			k.AggroRange = 8
		}
		if k.Aggressive && k.DisengageRange <= k.AggroRange {
			k.DisengageRange = k.AggroRange * 2
		}
		if k.AttackSpeed <= 0 {
			k.AttackSpeed = 3.0
		}
		t.byID[k.ID] = k
	}
	return t, nil
}

// Get returns the kind for id, or nil.
func (t *EntityTable) Get(id int32) *EntityKind { return t.byID[id] }

// Len is the number of kinds loaded.
func (t *EntityTable) Len() int { return len(t.byID) }

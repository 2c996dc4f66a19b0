// Package data loads static reference data: item kinds, entity kinds and
// map documents. Everything here is read-only after startup.
package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Equipment slot names. These double as the wire-level slot identifiers.
const (
	SlotHead   = "head"
	SlotBody   = "body"
	SlotLegs   = "legs"
	SlotWeapon = "weapon"
	SlotShield = "shield"
	SlotAmmo   = "ammo"
)

var equipSlots = map[string]bool{
	SlotHead:   true,
	SlotBody:   true,
	SlotLegs:   true,
	SlotWeapon: true,
	SlotShield: true,
	SlotAmmo:   true,
}

// ValidEquipSlot reports whether name is a known equipment slot.
func ValidEquipSlot(name string) bool { return equipSlots[name] }

// ItemKind is one row of the item reference table.
type ItemKind struct {
	ID            int32          `yaml:"id"`
	Name          string         `yaml:"name"`
	Value         int32          `yaml:"value"`
	Rarity        string         `yaml:"rarity"` // common, uncommon, rare
	Stackable     bool           `yaml:"stackable"`
	StackCap      int32          `yaml:"stack_cap"`
	EquipSlot     string         `yaml:"equip_slot"` // empty = not equipable
	TwoHanded     bool           `yaml:"two_handed"`
	AttackSpeed   float64        `yaml:"attack_speed"` // seconds, weapons only
	AttackBonus   int            `yaml:"attack_bonus"`
	StrengthBonus int            `yaml:"strength_bonus"`
	DefenceBonus  int            `yaml:"defence_bonus"`
	MaxDurability int32          `yaml:"max_durability"`
	Requirements  map[string]int `yaml:"requirements"` // skill name → min level
}

// Equipable reports whether the kind can be worn at all.
func (k *ItemKind) Equipable() bool { return k.EquipSlot != "" }

// ItemTable is the loaded item reference data.
type ItemTable struct {
	byID map[int32]*ItemKind
}

// LoadItemTable reads the item-kind YAML document.
func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items %s: %w", path, err)
	}
	var doc struct {
		Items []*ItemKind `yaml:"items"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse items %s: %w", path, err)
	}
	return NewItemTable(doc.Items)
}

// NewItemTable builds a table from parsed kinds, validating as it goes.
func NewItemTable(kinds []*ItemKind) (*ItemTable, error) {
	t := &ItemTable{byID: make(map[int32]*ItemKind, len(kinds))}
	for _, k := range kinds {
		if k.ID <= 0 {
			return nil, fmt.Errorf("item %q: bad id %d", k.Name, k.ID)
		}
		if _, dup := t.byID[k.ID]; dup {
			return nil, fmt.Errorf("item id %d defined twice", k.ID)
		}
		if k.EquipSlot != "" && !ValidEquipSlot(k.EquipSlot) {
			return nil, fmt.Errorf("item %d: unknown equip slot %q", k.ID, k.EquipSlot)
		}
		if k.Stackable && k.StackCap <= 0 {
			k.StackCap = 1 << 20
		}
		if k.Rarity == "" {
			k.Rarity = "common"
		}
		t.byID[k.ID] = k
	}
	return t, nil
}

// Get returns the kind for id, or nil.
func (t *ItemTable) Get(id int32) *ItemKind { return t.byID[id] }

// Len is the number of kinds loaded.
func (t *ItemTable) Len() int { return len(t.byID) }

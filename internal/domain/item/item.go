// Package item defines loot items and the wasteland loot table.
// This package is PURE and must NOT import any infrastructure packages.
package item

import (
	"sort"
	"time"
)

// ItemType identifies a loot definition.
type ItemType string

const (
	ItemScrapMetal   ItemType = "SCRAP_METAL"
	ItemDuctTape     ItemType = "DUCT_TAPE"
	ItemPipePistol   ItemType = "PIPE_PISTOL"
	ItemLeatherArmor ItemType = "LEATHER_ARMOR"
	ItemHuntingRifle ItemType = "HUNTING_RIFLE"
	ItemCombatArmor  ItemType = "COMBAT_ARMOR"
	ItemLaserRifle   ItemType = "LASER_RIFLE"
	ItemPowerArmor   ItemType = "POWER_ARMOR"
	ItemFatMan       ItemType = "FAT_MAN"
	ItemNukaQuantum  ItemType = "NUKA_QUANTUM"
)

// Rarity orders items; higher values are kept first when storage is full.
type Rarity int

const (
	Common Rarity = iota
	Uncommon
	Rare
	Epic
	Legendary
)

var rarityNames = []string{"common", "uncommon", "rare", "epic", "legendary"}

func (r Rarity) String() string {
	if r < Common || r > Legendary {
		return "unknown"
	}
	return rarityNames[r]
}

// Item is a concrete piece of loot owned by a vault or carried by an explorer.
type Item struct {
	ID         string    `json:"id"`
	Type       ItemType  `json:"type"`
	Name       string    `json:"name"`
	Rarity     Rarity    `json:"rarity"`
	Size       int       `json:"size"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ItemDefinition provides metadata about an item type.
type ItemDefinition struct {
	Name   string
	Rarity Rarity
	Size   int
	Value  int // caps when sold
}

// Registry contains all known items and their properties.
var Registry = map[ItemType]ItemDefinition{
	ItemScrapMetal:   {Name: "Scrap Metal", Rarity: Common, Size: 1, Value: 2},
	ItemDuctTape:     {Name: "Duct Tape", Rarity: Common, Size: 1, Value: 3},
	ItemPipePistol:   {Name: "Pipe Pistol", Rarity: Common, Size: 1, Value: 8},
	ItemLeatherArmor: {Name: "Leather Armor", Rarity: Uncommon, Size: 1, Value: 15},
	ItemHuntingRifle: {Name: "Hunting Rifle", Rarity: Uncommon, Size: 1, Value: 25},
	ItemCombatArmor:  {Name: "Combat Armor", Rarity: Rare, Size: 1, Value: 60},
	ItemLaserRifle:   {Name: "Laser Rifle", Rarity: Rare, Size: 1, Value: 80},
	ItemPowerArmor:   {Name: "Power Armor", Rarity: Epic, Size: 2, Value: 300},
	ItemFatMan:       {Name: "Fat Man", Rarity: Legendary, Size: 2, Value: 1000},
	ItemNukaQuantum:  {Name: "Nuka-Cola Quantum", Rarity: Legendary, Size: 1, Value: 500},
}

// OfRarity returns the registry entries of one rarity in a stable order.
func OfRarity(r Rarity) []ItemType {
	var out []ItemType
	for t, def := range Registry {
		if def.Rarity == r {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds an Item from its registry definition.
func New(id string, t ItemType, at time.Time) Item {
	def := Registry[t]
	return Item{ID: id, Type: t, Name: def.Name, Rarity: def.Rarity, Size: def.Size, AcquiredAt: at}
}

// SortByRarity orders items rarest first. Ties keep acquisition order.
func SortByRarity(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Rarity > items[j].Rarity })
}

// TotalSize sums the storage footprint of items.
func TotalSize(items []Item) int {
	n := 0
	for _, it := range items {
		n += it.Size
	}
	return n
}

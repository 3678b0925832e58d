// Package dweller defines the vault's inhabitants and their relationships.
// This package is PURE and must NOT import any infrastructure packages.
package dweller

import (
	"fmt"
	"time"
)

// Stat is one of the seven SPECIAL attributes.
type Stat int

const (
	Strength Stat = iota
	Perception
	Endurance
	Charisma
	Intelligence
	Agility
	Luck
)

// NumStats is the size of a Stats array.
const NumStats = 7

var statNames = [NumStats]string{"strength", "perception", "endurance", "charisma", "intelligence", "agility", "luck"}

func (s Stat) String() string {
	if s < 0 || int(s) >= NumStats {
		return fmt.Sprintf("stat(%d)", int(s))
	}
	return statNames[s]
}

// Valid reports whether s names a real attribute.
func (s Stat) Valid() bool { return s >= 0 && int(s) < NumStats }

// ParseStat converts a stored name back into a Stat.
func ParseStat(name string) (Stat, error) {
	for i, n := range statNames {
		if n == name {
			return Stat(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stat %q", name)
}

// Stats holds SPECIAL values indexed by Stat.
type Stats [NumStats]int

// Get returns the value of a single attribute.
func (s Stats) Get(stat Stat) int { return s[stat] }

// Best returns the dweller's highest attribute, lowest index on ties.
func (s Stats) Best() Stat {
	best := Strength
	for i := 1; i < NumStats; i++ {
		if s[i] > s[best] {
			best = Stat(i)
		}
	}
	return best
}

// Status is the dweller's current occupation.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusWorking   Status = "working"
	StatusTraining  Status = "training"
	StatusExploring Status = "exploring"
	StatusQuesting  Status = "questing"
	StatusDead      Status = "dead"
)

// Gender is used for courtship pairing.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// Dweller is a single vault inhabitant.
type Dweller struct {
	ID              string     `json:"id"`
	VaultID         string     `json:"vault_id"`
	RoomID          *string    `json:"room_id,omitempty"`
	Name            string     `json:"name"`
	Gender          Gender     `json:"gender"`
	Stats           Stats      `json:"stats"`
	Level           int        `json:"level"`
	Experience      int        `json:"experience"`
	Health          float64    `json:"health"`
	MaxHealth       float64    `json:"max_health"`
	Happiness       float64    `json:"happiness"`
	Status          Status     `json:"status"`
	StatusStartedAt time.Time  `json:"status_started_at"`
	Radiation       float64    `json:"radiation"`
	Stimpaks        int        `json:"stimpaks"`
	RadAways        int        `json:"radaways"`
	Guard           bool       `json:"guard"`
	ParentIDs       []string   `json:"parent_ids,omitempty"`
	BornAt          time.Time  `json:"born_at"`
	ChildUntil      *time.Time `json:"child_until,omitempty"`
}

// Alive reports whether the dweller can still act.
func (d *Dweller) Alive() bool { return d.Status != StatusDead }

// IsChild reports whether the dweller is still too young to work.
func (d *Dweller) IsChild(now time.Time) bool {
	return d.ChildUntil != nil && now.Before(*d.ChildUntil)
}

// InRoom reports whether the dweller is assigned to roomID.
func (d *Dweller) InRoom(roomID string) bool {
	return d.RoomID != nil && *d.RoomID == roomID
}

// Clone returns a deep copy.
func (d *Dweller) Clone() *Dweller {
	c := *d
	if d.RoomID != nil {
		r := *d.RoomID
		c.RoomID = &r
	}
	if d.ChildUntil != nil {
		t := *d.ChildUntil
		c.ChildUntil = &t
	}
	if d.ParentIDs != nil {
		c.ParentIDs = append([]string(nil), d.ParentIDs...)
	}
	return &c
}

// Relationship tracks affinity between two dwellers of the same vault.
// A is always the lexically smaller id.
type Relationship struct {
	VaultID   string  `json:"vault_id"`
	A         string  `json:"a"`
	B         string  `json:"b"`
	Affinity  float64 `json:"affinity"`
	Partnered bool    `json:"partnered"`
}

// Pair orders two dweller ids the way relationships are keyed.
func Pair(x, y string) (string, string) {
	if x < y {
		return x, y
	}
	return y, x
}

// Involves reports whether id is one side of the relationship.
func (r Relationship) Involves(id string) bool { return r.A == id || r.B == id }

// Other returns the partner of id.
func (r Relationship) Other(id string) string {
	if r.A == id {
		return r.B
	}
	return r.A
}

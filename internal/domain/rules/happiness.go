package rules

import (
	"math"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
)

// Modifier is one named contribution to a dweller's happiness drift.
type Modifier struct {
	Source string  `json:"source"`
	Value  float64 `json:"value"`
}

// ElapsedFactor scales modifiers by how much time passed, capped so that a
// vault left alone for days does not swing to an extreme in one tick.
func ElapsedFactor(elapsed time.Duration, b *Balance) float64 {
	window := b.Happiness.FullEffectWindow.D()
	if window <= 0 || elapsed <= 0 {
		return 0
	}
	f := elapsed.Seconds() / window.Seconds()
	return math.Min(f, b.Happiness.MaxElapsedFactor)
}

// HappinessModifiers lists the modifiers that apply to d. pre is the
// pre-tick snapshot; pools are the post-production pools of this tick.
func HappinessModifiers(d *dweller.Dweller, pre *vault.Snapshot, pools resource.Pools, now time.Time, b *Balance) []Modifier {
	hb := b.Happiness
	var mods []Modifier
	add := func(source string, v float64) {
		if v == 0 {
			return
		}
		mods = append(mods, Modifier{Source: source, Value: clamp(v, -hb.MaxModifier, hb.MaxModifier)})
	}

	if d.RoomID != nil {
		if r := pre.Room(*d.RoomID); r != nil && roomMatches(d, r, hb.HighStatThreshold) {
			add("room_match", hb.RoomMatch)
		}
	}
	if d.MaxHealth > 0 && d.Health/d.MaxHealth < hb.LowHealthRatio {
		add("low_health", hb.LowHealth)
	}
	for _, k := range resource.Vital {
		p, ok := pools[k]
		if ok && p.Capacity > 0 && p.Ratio() <= hb.ScarcityRatio {
			add("scarcity", hb.Scarcity)
			break
		}
	}
	if pre.Partner(d.ID) != "" {
		add("partnered", hb.Partnered)
	}
	if d.RoomID != nil && pre.IncidentIn(*d.RoomID) != nil {
		add("incident", hb.IncidentExposure)
	}
	if d.Status == dweller.StatusIdle && d.RoomID == nil && now.Sub(d.StatusStartedAt) > hb.IdleAfter.D() {
		add("idle", hb.Idle)
	}
	return mods
}

// roomMatches is true when the room's key stat is the dweller's best stat or
// at least the high-stat threshold.
func roomMatches(d *dweller.Dweller, r *room.Room, threshold int) bool {
	stat, ok := r.KeyStat()
	if !ok {
		return false
	}
	return d.Stats.Best() == stat || d.Stats.Get(stat) >= threshold
}

// HappinessChange is the result for one dweller.
type HappinessChange struct {
	DwellerID string
	Old, New  float64
	Modifiers []Modifier
}

// Happiness computes the new happiness of every live dweller. All inputs are
// read from the pre-tick snapshot, so the result does not depend on the order
// dwellers are visited in.
func Happiness(pre *vault.Snapshot, pools resource.Pools, elapsed time.Duration, now time.Time, b *Balance) []HappinessChange {
	factor := ElapsedFactor(elapsed, b)
	var out []HappinessChange
	for _, d := range pre.Dwellers {
		if !d.Alive() {
			continue
		}
		mods := HappinessModifiers(d, pre, pools, now, b)
		var sum float64
		for _, m := range mods {
			sum += m.Value
		}
		out = append(out, HappinessChange{
			DwellerID: d.ID,
			Old:       d.Happiness,
			New:       clamp(d.Happiness+sum*factor, 0, 100),
			Modifiers: mods,
		})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

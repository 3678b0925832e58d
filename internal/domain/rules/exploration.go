package rules

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
)

// ExploreOutcome summarises what one ExploreStep call did to a run.
type ExploreOutcome struct {
	Rolls        int
	Found        []item.Item
	Caps         int
	XP           int
	StimpaksUsed int
	RadAwaysUsed int
	Died         bool
	Returned     bool
}

// ExploreStep replays the wasteland rolls of a pending run from its last roll
// up to now (or its return time, whichever is first). It mutates run and the
// explorer. A run whose time is up is marked returned; storing its loot is
// the caller's job.
func ExploreStep(run *activity.ExplorationRun, d *dweller.Dweller, now time.Time, rng *rand.Rand, newID func() string, b *Balance) ExploreOutcome {
	var out ExploreOutcome
	if run.Outcome != activity.OutcomePending {
		return out
	}
	eb := b.Exploration
	interval := eb.RollInterval.D()
	due := run.DueAt()
	limit := now
	if due.Before(limit) {
		limit = due
	}

	for t := run.LastRollAt.Add(interval); !t.After(limit); t = t.Add(interval) {
		out.Rolls++
		run.LastRollAt = t
		rollOnce(run, d, t, rng, newID, eb, &out)
		if d.Health <= 0 {
			d.Health = 0
			d.Status = dweller.StatusDead
			d.StatusStartedAt = t
			run.Outcome = activity.OutcomeDied
			ended := t
			run.EndedAt = &ended
			out.Died = true
			return out
		}
	}

	if !now.Before(due) {
		run.Outcome = activity.OutcomeReturned
		ended := due
		run.EndedAt = &ended
		out.Returned = true
	}
	return out
}

func rollOnce(run *activity.ExplorationRun, d *dweller.Dweller, at time.Time, rng *rand.Rand, newID func() string, eb ExplorationBalance, out *ExploreOutcome) {
	luck := float64(d.Stats.Get(dweller.Luck))
	endurance := float64(d.Stats.Get(dweller.Endurance))

	if rng.Float64() < eb.LootChance+luck*eb.LuckLootBonus {
		if it, ok := rollItem(rng, luck, eb, newID, at); ok {
			run.Loot = append(run.Loot, it)
			out.Found = append(out.Found, it)
		}
	}

	caps := rng.IntN(eb.CapsPerRollMax+1) + int(luck/2)
	run.CapsFound += caps
	out.Caps += caps
	out.XP += eb.XPPerRoll

	mitigation := math.Max(0.1, 1-endurance*eb.EnduranceMitigation)
	d.Health -= eb.DamagePerRoll * mitigation * (0.5 + rng.Float64())
	d.Radiation = math.Min(d.MaxHealth, d.Radiation+eb.RadiationPerRoll*mitigation)

	// radiation caps the health a stimpak can restore
	ceiling := d.MaxHealth - d.Radiation
	if d.Health > ceiling {
		d.Health = ceiling
	}
	if d.Health > 0 && d.Health < eb.StimpakThreshold*d.MaxHealth && d.Stimpaks > 0 {
		d.Stimpaks--
		out.StimpaksUsed++
		d.Health = math.Min(ceiling, d.Health+eb.StimpakHeal)
	}
	if d.Radiation > eb.RadAwayThreshold*d.MaxHealth && d.RadAways > 0 {
		d.RadAways--
		out.RadAwaysUsed++
		d.Radiation = math.Max(0, d.Radiation-eb.RadAwayAmount)
	}
}

// rollItem picks a rarity by weight, shifted toward rare tiers by luck, then
// a concrete item of that rarity.
func rollItem(rng *rand.Rand, luck float64, eb ExplorationBalance, newID func() string, at time.Time) (item.Item, bool) {
	weights := make([]float64, len(eb.RarityWeights))
	var total float64
	for i, w := range eb.RarityWeights {
		weights[i] = w * (1 + luck*eb.LuckRarityBonus*float64(i))
		total += weights[i]
	}
	if total <= 0 {
		return item.Item{}, false
	}
	pick := rng.Float64() * total
	rarity := item.Common
	for i, w := range weights {
		if pick < w {
			rarity = item.Rarity(i)
			break
		}
		pick -= w
	}
	candidates := item.OfRarity(rarity)
	if len(candidates) == 0 {
		return item.Item{}, false
	}
	return item.New(newID(), candidates[rng.IntN(len(candidates))], at), true
}

// StoreLoot moves items into storage with room for capacity-used units.
// Items are considered rarest first; anything that does not fit is overflow.
// accepted and overflow together are exactly the input items.
func StoreLoot(items []item.Item, used, capacity int) (accepted, overflow []item.Item) {
	sorted := append([]item.Item(nil), items...)
	item.SortByRarity(sorted)
	free := capacity - used
	for _, it := range sorted {
		if it.Size <= free {
			accepted = append(accepted, it)
			free -= it.Size
			continue
		}
		overflow = append(overflow, it)
	}
	return accepted, overflow
}

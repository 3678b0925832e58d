package rules

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
)

// SpawnProbability is the chance that a new incident starts during elapsed.
// It is zero once the vault already has the maximum number of active
// incidents or is too small to attract trouble.
func SpawnProbability(population int, avgHappiness float64, active int, elapsed time.Duration, b *Balance) float64 {
	ib := b.Incidents
	if active >= ib.MaxActive || population < ib.MinPopulation || elapsed <= 0 {
		return 0
	}
	unhappiness := clamp((100-avgHappiness)/100, 0, 1)
	p := ib.BaseChancePerMinute * elapsed.Minutes() *
		(float64(population) / ib.PopulationScale) *
		(1 + unhappiness*ib.UnhappyBoost) *
		(1 - float64(active)/float64(ib.MaxActive))
	return clamp(p, 0, ib.MaxSpawnProbability)
}

// RollSeverity favours low severity in small vaults.
func RollSeverity(population int, rng *rand.Rand, b *Balance) int {
	maxSev := b.Incidents.MaxSeverity
	if maxSev < 1 {
		maxSev = 1
	}
	reach := 1 + population/10
	if reach > maxSev {
		reach = maxSev
	}
	return 1 + rng.IntN(reach)
}

// RollIncidentKind picks the hazard type. Raiders only target vaults big
// enough to be noticed from outside.
func RollIncidentKind(population int, rng *rand.Rand, b *Balance) activity.IncidentKind {
	kinds := activity.IncidentKinds
	if population < b.Incidents.RaiderMinPopulation {
		kinds = kinds[:2]
	}
	return kinds[rng.IntN(len(kinds))]
}

// DefensePower is the combined fighting strength of the defenders.
func DefensePower(defenders []*dweller.Dweller, b *Balance) float64 {
	var p float64
	for _, d := range defenders {
		base := float64(d.Stats.Get(dweller.Strength) + d.Stats.Get(dweller.Endurance) + d.Stats.Get(dweller.Agility))
		power := base * (1 + float64(d.Level)*b.Incidents.LevelPowerBonus)
		if d.Guard {
			power *= b.Incidents.GuardBonus
		}
		p += power
	}
	return p
}

// IncidentOutcome summarises one ResolveIncident call.
type IncidentOutcome struct {
	Rolls        int
	Resolved     bool
	Escalated    bool
	Deaths       []string
	CapsReward   int
	XPEach       int
	ResourceLoss map[resource.Kind]float64
}

// ResolveIncident fights an active incident for the rolls that fit into
// elapsed. Defenders take damage on every lost roll; an undefended room
// drains vital resources instead. An incident left burning past the grace
// period escalates by one severity step.
func ResolveIncident(inc *activity.Incident, defenders []*dweller.Dweller, now time.Time, elapsed time.Duration, rng *rand.Rand, b *Balance) IncidentOutcome {
	ib := b.Incidents
	out := IncidentOutcome{ResourceLoss: make(map[resource.Kind]float64)}
	if inc.Status != activity.IncidentActive {
		return out
	}
	rolls := int(elapsed / ib.ResolveInterval.D())
	if rolls < 1 {
		rolls = 1
	}
	if rolls > ib.MaxResolveRolls {
		rolls = ib.MaxResolveRolls
	}

	for i := 0; i < rolls; i++ {
		out.Rolls++
		alive := living(defenders)
		threat := float64(inc.Severity) * ib.SeverityPower
		if len(alive) > 0 {
			power := DefensePower(alive, b)
			if rng.Float64() < power/(power+threat) {
				inc.Status = activity.IncidentResolved
				resolved := now
				inc.ResolvedAt = &resolved
				out.Resolved = true
				out.CapsReward = inc.Severity * ib.CapsPerSeverity
				out.XPEach = inc.Severity * ib.XPPerSeverity
				return out
			}
			dmg := float64(inc.Severity) * ib.DamagePerSeverity / float64(len(alive))
			for _, d := range alive {
				mitigation := math.Max(0.2, 1-float64(d.Stats.Get(dweller.Endurance))*0.05)
				d.Health -= dmg * mitigation
				if d.Health <= 0 {
					d.Health = 0
					d.Status = dweller.StatusDead
					d.StatusStartedAt = now
					d.RoomID = nil
					out.Deaths = append(out.Deaths, d.ID)
				}
			}
		} else {
			for _, k := range resource.Vital {
				out.ResourceLoss[k] += float64(inc.Severity) * ib.ResourceLoss
			}
		}
	}

	if now.Sub(inc.EscalatedAt) >= ib.GracePeriod.D() && inc.Severity < ib.MaxSeverity {
		inc.Severity++
		inc.EscalatedAt = now
		out.Escalated = true
	}
	return out
}

func living(ds []*dweller.Dweller) []*dweller.Dweller {
	var out []*dweller.Dweller
	for _, d := range ds {
		if d.Alive() {
			out = append(out, d)
		}
	}
	return out
}

package rules

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
)

// CourtshipOutcome lists what courtship changed in a vault this tick.
type CourtshipOutcome struct {
	Partnered [][2]string
	Conceived []*activity.Pregnancy
}

// Courtship advances affinity between adult opposite-gender pairs sharing a
// living room, pairs them up at the threshold, and lets co-located partners
// conceive while the vault has room for another dweller. It mutates s.
func Courtship(s *vault.Snapshot, elapsed time.Duration, now time.Time, rng *rand.Rand, newID func() string, b *Balance) CourtshipOutcome {
	var out CourtshipOutcome
	fb := b.Family
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		return out
	}
	population := s.Population() + openPregnancies(s)

	// rooms are visited in id order so rng draws are reproducible
	rooms := append([]*room.Room(nil), s.Rooms...)
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })

	for _, r := range rooms {
		if r.Category != room.CategoryLiving || s.IncidentIn(r.ID) != nil {
			continue
		}
		adults := adultsIn(s, r.ID, now)
		for i := 0; i < len(adults); i++ {
			for j := i + 1; j < len(adults); j++ {
				x, y := adults[i], adults[j]
				if x.Gender == y.Gender {
					continue
				}
				rel := s.Relationship(x.ID, y.ID)
				if rel == nil {
					if s.Partner(x.ID) != "" || s.Partner(y.ID) != "" {
						continue
					}
					a, bID := dweller.Pair(x.ID, y.ID)
					rel = &dweller.Relationship{VaultID: s.Vault.ID, A: a, B: bID}
					s.Relationships = append(s.Relationships, rel)
				}
				if !rel.Partnered {
					// one partner each
					if s.Partner(x.ID) != "" || s.Partner(y.ID) != "" {
						continue
					}
					charisma := float64(x.Stats.Get(dweller.Charisma) + y.Stats.Get(dweller.Charisma))
					rel.Affinity += fb.AffinityPerMinute * minutes * (1 + charisma*fb.CharismaFactor)
					if rel.Affinity >= fb.AffinityThreshold {
						rel.Affinity = fb.AffinityThreshold
						rel.Partnered = true
						out.Partnered = append(out.Partnered, [2]string{rel.A, rel.B})
					}
					continue
				}
				mother, father := x, y
				if mother.Gender != dweller.Female {
					mother, father = y, x
				}
				if s.Pregnant(mother.ID) || population >= s.Vault.PopulationCapacity {
					continue
				}
				chance := 1 - pow1m(fb.ConceiveChance, minutes)
				if rng.Float64() < chance {
					p := &activity.Pregnancy{
						ID:        newID(),
						VaultID:   s.Vault.ID,
						MotherID:  mother.ID,
						FatherID:  father.ID,
						Status:    activity.PhaseInProgress,
						StartedAt: now,
						Duration:  fb.PregnancyDuration.D(),
					}
					s.Pregnancies = append(s.Pregnancies, p)
					out.Conceived = append(out.Conceived, p)
					population++
				}
			}
		}
	}
	return out
}

func adultsIn(s *vault.Snapshot, roomID string, now time.Time) []*dweller.Dweller {
	var out []*dweller.Dweller
	for _, d := range s.Occupants(roomID) {
		if !d.IsChild(now) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func openPregnancies(s *vault.Snapshot) int {
	n := 0
	for _, p := range s.Pregnancies {
		if p.Status.Open() {
			n++
		}
	}
	return n
}

// pow1m returns (1-p)^n, the chance of no success in n independent tries.
func pow1m(p, n float64) float64 {
	return math.Pow(1-clamp(p, 0, 1), n)
}

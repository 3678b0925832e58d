package rules

import (
	"fmt"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/quest"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
)

// RewardOutcome lists the side effects of applying quest rewards that the
// caller still has to persist or report.
type RewardOutcome struct {
	Items    []item.Item
	Recruits []*dweller.Dweller
	LevelUps map[string]int
	Kinds    []quest.RewardKind
}

// ApplyRewards grants every reward of q to the vault and the party. Pools are
// left unclamped; the tick clamps them once at the end.
func ApplyRewards(s *vault.Snapshot, party *activity.QuestParty, q quest.Quest, now time.Time, newID func() string, b *Balance) (RewardOutcome, error) {
	out := RewardOutcome{LevelUps: make(map[string]int)}
	for _, r := range q.Rewards {
		switch rw := r.(type) {
		case quest.CapsReward:
			s.Vault.Pools.Add(resource.Caps, float64(rw.Amount))
		case quest.ResourceReward:
			s.Vault.Pools.Add(rw.Resource, rw.Amount)
		case quest.ExperienceReward:
			for _, id := range party.Members {
				if d := s.Dweller(id); d != nil {
					if n := GainExperience(d, rw.Amount, b); n > 0 {
						out.LevelUps[id] += n
					}
				}
			}
		case quest.ItemReward:
			out.Items = append(out.Items, item.New(newID(), rw.Item, now))
		case quest.DwellerReward:
			d := &dweller.Dweller{
				ID:              newID(),
				VaultID:         s.Vault.ID,
				Name:            rw.Name,
				Gender:          rw.Gender,
				Stats:           rw.Stats,
				Level:           1,
				Health:          b.Quests.RecruitMaxHealth,
				MaxHealth:       b.Quests.RecruitMaxHealth,
				Happiness:       b.Quests.RecruitHappiness,
				Status:          dweller.StatusIdle,
				StatusStartedAt: now,
				BornAt:          now,
			}
			s.Dwellers = append(s.Dwellers, d)
			out.Recruits = append(out.Recruits, d)
		case quest.StimpakReward:
			s.Vault.Pools.Add(resource.Stimpak, float64(rw.Count))
		case quest.RadAwayReward:
			s.Vault.Pools.Add(resource.RadAway, float64(rw.Count))
		case quest.LunchboxReward:
			s.Vault.Lunchboxes += rw.Count
		default:
			return out, fmt.Errorf("quest %s: unhandled reward kind %s", q.ID, r.Kind())
		}
		out.Kinds = append(out.Kinds, r.Kind())
	}
	return out, nil
}

// ApplyQuestPenalty damages surviving members of a failed party.
func ApplyQuestPenalty(s *vault.Snapshot, party *activity.QuestParty, q quest.Quest, now time.Time) []string {
	var deaths []string
	for _, id := range party.Members {
		d := s.Dweller(id)
		if d == nil || !d.Alive() {
			continue
		}
		d.Health -= q.Penalty
		if d.Health <= 0 {
			d.Health = 0
			d.Status = dweller.StatusDead
			d.StatusStartedAt = now
			deaths = append(deaths, id)
		}
	}
	return deaths
}

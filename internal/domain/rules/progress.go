package rules

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/quest"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
)

// TrainingDuration is how long one training step takes for a stat currently
// at value in a room of the given tier.
func TrainingDuration(value, tier int, b *Balance) time.Duration {
	speed := b.Training.TierSpeed[tier]
	if speed <= 0 {
		speed = 1
	}
	d := float64(b.Training.BaseDuration.D()) * (1 + float64(value)*b.Training.PerPoint) / speed
	return time.Duration(d)
}

// TrainingGain is one completed training step.
type TrainingGain struct {
	SessionID string
	Stat      dweller.Stat
	Amount    int
	At        time.Time
}

// TrainingOutcome summarises one AdvanceTraining call.
type TrainingOutcome struct {
	Started   bool
	Cancelled bool
	Gains     []TrainingGain
	Chained   []*activity.TrainingSession // follow-up sessions created by chaining
}

// AdvanceTraining moves a session along pending -> in_progress -> completed.
// When a step completes and the dweller is still in the room below the stat
// ceiling, the next step is chained so a long absence trains several points.
// Completed or cancelled sessions are left untouched.
func AdvanceTraining(s *activity.TrainingSession, d *dweller.Dweller, r *room.Room, now time.Time, newID func() string, b *Balance) TrainingOutcome {
	var out TrainingOutcome
	if !s.Status.Open() {
		return out
	}
	if d == nil || !d.Alive() || r == nil || !d.InRoom(s.RoomID) {
		s.Status = activity.PhaseCancelled
		done := now
		s.CompletedAt = &done
		out.Cancelled = true
		return out
	}
	if s.Status == activity.PhasePending {
		started := s.CreatedAt
		s.StartedAt = &started
		s.Status = activity.PhaseInProgress
		out.Started = true
	}

	cur := s
	for step := 0; step < b.Training.MaxChainSteps; step++ {
		if !activity.Due(cur.StartedAt, cur.Duration, now) {
			break
		}
		done := cur.StartedAt.Add(cur.Duration)
		cur.Status = activity.PhaseCompleted
		cur.CompletedAt = &done

		before := d.Stats[cur.Stat]
		d.Stats[cur.Stat] = min(before+b.Training.Amount, b.Training.StatCeiling)
		out.Gains = append(out.Gains, TrainingGain{SessionID: cur.ID, Stat: cur.Stat, Amount: d.Stats[cur.Stat] - before, At: done})

		if d.Stats[cur.Stat] >= b.Training.StatCeiling {
			d.Status = dweller.StatusWorking
			break
		}
		start := done
		cur = &activity.TrainingSession{
			ID:        newID(),
			VaultID:   s.VaultID,
			DwellerID: s.DwellerID,
			RoomID:    s.RoomID,
			Stat:      s.Stat,
			Status:    activity.PhaseInProgress,
			CreatedAt: done,
			StartedAt: &start,
			Duration:  TrainingDuration(d.Stats[s.Stat], r.Tier, b),
		}
		out.Chained = append(out.Chained, cur)
	}
	return out
}

// PregnancyDue reports whether an open pregnancy delivers by now.
func PregnancyDue(p *activity.Pregnancy, now time.Time) bool {
	return p.Status.Open() && !p.StartedAt.Add(p.Duration).After(now)
}

// NewChild creates the dweller born from a pregnancy. Each stat is the
// parents' average with a small random spread.
func NewChild(id string, mother, father *dweller.Dweller, at time.Time, rng *rand.Rand, b *Balance) *dweller.Dweller {
	var stats dweller.Stats
	for i := range stats {
		avg := (mother.Stats[i] + father.Stats[i]) / 2
		stats[i] = max(1, min(b.Training.StatCeiling, avg+rng.IntN(3)-1))
	}
	gender := dweller.Male
	if rng.IntN(2) == 0 {
		gender = dweller.Female
	}
	grown := at.Add(b.Family.ChildhoodDuration.D())
	return &dweller.Dweller{
		ID:              id,
		VaultID:         mother.VaultID,
		Name:            "Child of " + mother.Name,
		Gender:          gender,
		Stats:           stats,
		Level:           1,
		Health:          100,
		MaxHealth:       100,
		Happiness:       b.Family.ChildHappiness,
		Status:          dweller.StatusIdle,
		StatusStartedAt: at,
		ParentIDs:       []string{mother.ID, father.ID},
		BornAt:          at,
		ChildUntil:      &grown,
	}
}

// GrowUp clears the child flag once childhood is over.
func GrowUp(d *dweller.Dweller, now time.Time) bool {
	if d.ChildUntil == nil || now.Before(*d.ChildUntil) {
		return false
	}
	d.ChildUntil = nil
	return true
}

// GainExperience adds xp and applies any level-ups. It returns the number of
// levels gained.
func GainExperience(d *dweller.Dweller, xp int, b *Balance) int {
	if xp <= 0 || !d.Alive() {
		return 0
	}
	lb := b.Leveling
	d.Experience += xp
	gained := 0
	for d.Level < lb.MaxLevel && d.Experience >= d.Level*lb.XPPerLevel {
		d.Experience -= d.Level * lb.XPPerLevel
		d.Level++
		d.MaxHealth += lb.HealthPerLevel
		d.Health = math.Min(d.MaxHealth, d.Health+lb.HealthPerLevel)
		gained++
	}
	return gained
}

// QuestStep is the state change of one AdvanceQuest call.
type QuestStep int

const (
	QuestNoChange QuestStep = iota
	QuestStarted
	QuestFinished
)

// AdvanceQuest starts a pending party or finishes a party whose time is up.
// Finishing rolls party strength against the quest difficulty.
func AdvanceQuest(p *activity.QuestParty, q quest.Quest, members []*dweller.Dweller, now time.Time, rng *rand.Rand, b *Balance) QuestStep {
	switch p.Status {
	case activity.PhasePending:
		started := now
		p.StartedAt = &started
		p.Status = activity.PhaseInProgress
		for _, d := range members {
			if d.Alive() {
				d.Status = dweller.StatusQuesting
				d.StatusStartedAt = now
				d.RoomID = nil
			}
		}
		return QuestStarted
	case activity.PhaseInProgress:
		if !activity.Due(p.StartedAt, p.Duration, now) {
			return QuestNoChange
		}
		done := p.StartedAt.Add(p.Duration)
		success := rng.Float64() < QuestSuccessChance(q, members, b)
		p.Success = &success
		p.Status = activity.PhaseCompleted
		p.CompletedAt = &done
		return QuestFinished
	}
	return QuestNoChange
}

// QuestSuccessChance compares party power against quest difficulty.
func QuestSuccessChance(q quest.Quest, members []*dweller.Dweller, b *Balance) float64 {
	qb := b.Quests
	var power float64
	for _, d := range members {
		if !d.Alive() {
			continue
		}
		statSum := 0
		for _, v := range d.Stats {
			statSum += v
		}
		power += float64(d.Level)*qb.PowerPerLevel + float64(statSum)*qb.PowerPerStat
	}
	threat := float64(q.Difficulty) * qb.DifficultyPower
	if power+threat <= 0 {
		return qb.MinSuccessChance
	}
	return clamp(power/(power+threat), qb.MinSuccessChance, qb.MaxSuccessChance)
}

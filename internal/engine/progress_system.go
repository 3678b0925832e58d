package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/quest"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
)

// ProgressSystem advances every timed dweller activity that lives inside the
// vault: growing up, courtship, pregnancies, training and quest parties.
type ProgressSystem struct {
	logger *logger.Logger
}

// NewProgressSystem creates the progress system.
func NewProgressSystem(log *logger.Logger) *ProgressSystem {
	return &ProgressSystem{logger: log}
}

// Apply runs the progressors in a fixed order.
func (ps *ProgressSystem) Apply(tc *tickContext) {
	ps.growUp(tc)
	ps.courtship(tc)
	ps.deliver(tc)
	ps.train(tc)
	ps.quests(tc)
}

func (ps *ProgressSystem) growUp(tc *tickContext) {
	for _, d := range tc.work.Dwellers {
		if d.Alive() && rules.GrowUp(d, tc.now) {
			tc.emit(events.EventTypeChildGrewUp, d.ID, events.ChildGrewUpPayload{DwellerID: d.ID})
		}
	}
}

func (ps *ProgressSystem) courtship(tc *tickContext) {
	out := rules.Courtship(tc.work, tc.elapsed, tc.now, tc.rng, tc.newID, tc.balance)
	for _, pair := range out.Partnered {
		tc.emit(events.EventTypePartnersFormed, pair[0], events.PartnersFormedPayload{A: pair[0], B: pair[1]})
	}
	for _, p := range out.Conceived {
		tc.emit(events.EventTypePregnancyStarted, p.MotherID, events.PregnancyStartedPayload{
			PregnancyID: p.ID,
			MotherID:    p.MotherID,
			FatherID:    p.FatherID,
		})
	}
}

// deliver completes due pregnancies. Parents keep their status: conception
// never takes them out of their room, so they are already idle or working.
func (ps *ProgressSystem) deliver(tc *tickContext) {
	for _, p := range tc.work.Pregnancies {
		if !p.Status.Open() {
			continue
		}
		mother := tc.work.Dweller(p.MotherID)
		father := tc.work.Dweller(p.FatherID)
		if mother == nil || father == nil {
			tc.fail("pregnancy", "pregnancy", p.ID, fmt.Errorf("parent of pregnancy not in vault"))
			continue
		}
		if !mother.Alive() {
			now := tc.now
			p.Status = activity.PhaseCancelled
			p.CompletedAt = &now
			continue
		}
		if !rules.PregnancyDue(p, tc.now) {
			continue
		}
		at := p.StartedAt.Add(p.Duration)
		child := rules.NewChild(tc.newID(), mother, father, at, tc.rng, tc.balance)
		tc.work.Dwellers = append(tc.work.Dwellers, child)
		p.Status = activity.PhaseCompleted
		p.ChildID = child.ID
		p.CompletedAt = &at
		tc.emitAt(events.EventTypePregnancyDelivered, at, mother.ID, events.PregnancyDeliveredPayload{
			PregnancyID: p.ID,
			MotherID:    mother.ID,
			ChildID:     child.ID,
		})
	}
}

func (ps *ProgressSystem) train(tc *tickContext) {
	// chained sessions are appended while we walk, so walk a copy
	sessions := append([]*activity.TrainingSession(nil), tc.work.Trainings...)
	for _, s := range sessions {
		if !s.Status.Open() {
			continue
		}
		out := rules.AdvanceTraining(s, tc.work.Dweller(s.DwellerID), tc.work.Room(s.RoomID), tc.now, tc.newID, tc.balance)
		tc.work.Trainings = append(tc.work.Trainings, out.Chained...)
		for _, g := range out.Gains {
			tc.emitAt(events.EventTypeTrainingCompleted, g.At, s.DwellerID, events.TrainingCompletedPayload{
				SessionID: g.SessionID,
				DwellerID: s.DwellerID,
				Stat:      g.Stat.String(),
				Amount:    g.Amount,
			})
		}
	}
}

func (ps *ProgressSystem) quests(tc *tickContext) {
	for _, p := range tc.work.Quests {
		if !p.Status.Open() {
			continue
		}
		def, err := quest.Lookup(p.QuestID)
		if err != nil {
			tc.fail("quests", "quest_party", p.ID, err)
			continue
		}
		members := make([]*dweller.Dweller, 0, len(p.Members))
		for _, id := range p.Members {
			if d := tc.work.Dweller(id); d != nil {
				members = append(members, d)
			}
		}
		if rules.AdvanceQuest(p, def, members, tc.now, tc.rng, tc.balance) == rules.QuestFinished {
			ps.finishQuest(tc, p, def, members)
		}
	}
}

func (ps *ProgressSystem) finishQuest(tc *tickContext, p *activity.QuestParty, def quest.Quest, members []*dweller.Dweller) {
	at := *p.CompletedAt
	payload := events.QuestResolvedPayload{PartyID: p.ID, QuestID: def.ID, Success: *p.Success, Members: p.Members}

	if *p.Success {
		out, err := rules.ApplyRewards(tc.work, p, def, at, tc.newID, tc.balance)
		if err != nil {
			tc.fail("quests", "quest_party", p.ID, err)
		}
		if _, overflow := tc.store(out.Items); len(overflow) > 0 {
			ps.logger.Info("quest reward did not fit in storage",
				zap.String("vault_id", tc.vaultID),
				zap.String("quest_id", def.ID),
				zap.Int("items", len(overflow)))
		}
		for _, d := range members {
			if out.LevelUps[d.ID] > 0 {
				tc.leveled(d)
			}
		}
		for _, k := range out.Kinds {
			payload.Rewards = append(payload.Rewards, string(k))
		}
		if !tc.work.Vault.HasCompleted(def.ID) {
			tc.work.Vault.CompletedQuests = append(tc.work.Vault.CompletedQuests, def.ID)
		}
	} else {
		for _, id := range rules.ApplyQuestPenalty(tc.work, p, def, at) {
			tc.died(tc.work.Dweller(id), "quest")
		}
	}

	for _, d := range members {
		if d.Alive() && d.Status == dweller.StatusQuesting {
			d.Status = dweller.StatusIdle
			d.StatusStartedAt = at
		}
	}
	tc.emitAt(events.EventTypeQuestResolved, at, p.ID, payload)
}

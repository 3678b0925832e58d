package vault

import (
	"reflect"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
)

// Changeset is the single write batch produced by a tick or a user action.
// The store applies it atomically, guarded by ExpectedVersion. Every commit
// bumps the stored version, so a batch computed from an older read fails
// whether it raced a tick or a user action.
type Changeset struct {
	VaultID         string
	ExpectedVersion int64
	Vault           *Vault

	Dwellers      []*dweller.Dweller
	Relationships []*dweller.Relationship
	Incidents     []*activity.Incident
	Explorations  []*activity.ExplorationRun
	Trainings     []*activity.TrainingSession
	Pregnancies   []*activity.Pregnancy
	Quests        []*activity.QuestParty
	StoredItems   []item.Item
}

// Empty reports whether nothing but the vault row would be written.
func (c *Changeset) Empty() bool {
	return len(c.Dwellers) == 0 && len(c.Relationships) == 0 && len(c.Incidents) == 0 &&
		len(c.Explorations) == 0 && len(c.Trainings) == 0 && len(c.Pregnancies) == 0 &&
		len(c.Quests) == 0 && len(c.StoredItems) == 0
}

// Diff builds the change set that turns before into after. Only entities that
// were added or modified are included. Stored items are passed in because
// snapshots only carry the storage total.
func Diff(before, after *Snapshot, stored []item.Item) *Changeset {
	cs := &Changeset{
		VaultID:         after.Vault.ID,
		ExpectedVersion: before.Vault.Version,
		Vault:           after.Vault,
		StoredItems:     stored,
	}

	prevDwellers := make(map[string]*dweller.Dweller, len(before.Dwellers))
	for _, d := range before.Dwellers {
		prevDwellers[d.ID] = d
	}
	for _, d := range after.Dwellers {
		if !reflect.DeepEqual(prevDwellers[d.ID], d) {
			cs.Dwellers = append(cs.Dwellers, d)
		}
	}

	prevRel := make(map[[2]string]*dweller.Relationship, len(before.Relationships))
	for _, r := range before.Relationships {
		prevRel[[2]string{r.A, r.B}] = r
	}
	for _, r := range after.Relationships {
		if !reflect.DeepEqual(prevRel[[2]string{r.A, r.B}], r) {
			cs.Relationships = append(cs.Relationships, r)
		}
	}

	cs.Incidents = changed(before.Incidents, after.Incidents, func(i *activity.Incident) string { return i.ID })
	cs.Explorations = changed(before.Explorations, after.Explorations, func(e *activity.ExplorationRun) string { return e.ID })
	cs.Trainings = changed(before.Trainings, after.Trainings, func(t *activity.TrainingSession) string { return t.ID })
	cs.Pregnancies = changed(before.Pregnancies, after.Pregnancies, func(p *activity.Pregnancy) string { return p.ID })
	cs.Quests = changed(before.Quests, after.Quests, func(q *activity.QuestParty) string { return q.ID })
	return cs
}

func changed[T any](before, after []*T, id func(*T) string) []*T {
	prev := make(map[string]*T, len(before))
	for _, x := range before {
		prev[id(x)] = x
	}
	var out []*T
	for _, x := range after {
		if p, ok := prev[id(x)]; !ok || !reflect.DeepEqual(p, x) {
			out = append(out, x)
		}
	}
	return out
}

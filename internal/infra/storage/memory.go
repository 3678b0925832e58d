package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
)

// MemoryRepository is an in-process VaultRepository for tests and the soak
// harness. It keeps closed activities so history reads match the SQL store.
type MemoryRepository struct {
	mu      sync.Mutex
	vaults  map[string]*memVault
	commits int64
}

type memVault struct {
	state  *vault.Snapshot // includes closed activities
	items  []item.Item
	events []events.VaultEvent
}

// NewMemoryRepository creates an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{vaults: make(map[string]*memVault)}
}

// Commits counts successful CommitVaultDeltas calls.
func (m *MemoryRepository) Commits() int64 { return atomic.LoadInt64(&m.commits) }

// Items returns a copy of the stored items of a vault.
func (m *MemoryRepository) Items(vaultID string) []item.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.vaults[vaultID]
	if !ok {
		return nil
	}
	return append([]item.Item(nil), mv.items...)
}

func (m *MemoryRepository) GetVaultClock(_ context.Context, vaultID string) (vault.Clock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.vaults[vaultID]
	if !ok {
		return vault.Clock{}, ErrNotFound
	}
	v := mv.state.Vault
	return vault.Clock{VaultID: v.ID, LastTickAt: v.LastTickAt, Paused: v.Paused}, nil
}

func (m *MemoryRepository) LoadVaultSnapshot(_ context.Context, vaultID string) (*vault.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.vaults[vaultID]
	if !ok {
		return nil, ErrNotFound
	}

	all := mv.state.Clone()
	s := &vault.Snapshot{
		Vault:         all.Vault,
		Rooms:         all.Rooms,
		Dwellers:      all.Dwellers,
		Relationships: all.Relationships,
	}
	for _, i := range all.Incidents {
		if i.Status == activity.IncidentActive {
			s.Incidents = append(s.Incidents, i)
		}
	}
	for _, e := range all.Explorations {
		if e.Outcome == activity.OutcomePending {
			s.Explorations = append(s.Explorations, e)
		}
	}
	for _, t := range all.Trainings {
		if t.Status.Open() {
			s.Trainings = append(s.Trainings, t)
		}
	}
	for _, p := range all.Pregnancies {
		if p.Status.Open() {
			s.Pregnancies = append(s.Pregnancies, p)
		}
	}
	for _, q := range all.Quests {
		if q.Status.Open() {
			s.Quests = append(s.Quests, q)
		}
	}
	s.StorageUsed = item.TotalSize(mv.items)
	return s, nil
}

func (m *MemoryRepository) CommitVaultDeltas(_ context.Context, cs *vault.Changeset, evts []events.VaultEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.vaults[cs.VaultID]
	if !ok {
		return ErrNotFound
	}
	cur := mv.state.Vault
	if cur.Version != cs.ExpectedVersion {
		return ErrStaleSnapshot
	}

	nv := cs.Vault.Clone()
	nv.NeedsReview, nv.ReviewReason = cur.NeedsReview, cur.ReviewReason
	nv.Version = cur.Version + 1
	mv.state.Vault = nv

	st := mv.state
	for _, d := range cs.Dwellers {
		st.Dwellers = upsertByID(st.Dwellers, d.Clone(), func(x *dweller.Dweller) string { return x.ID })
	}
	for _, r := range cs.Relationships {
		rc := *r
		st.Relationships = upsertByID(st.Relationships, &rc, func(x *dweller.Relationship) string { return x.A + "|" + x.B })
	}
	for _, i := range cs.Incidents {
		st.Incidents = upsertByID(st.Incidents, i.Clone(), func(x *activity.Incident) string { return x.ID })
	}
	for _, e := range cs.Explorations {
		st.Explorations = upsertByID(st.Explorations, e.Clone(), func(x *activity.ExplorationRun) string { return x.ID })
	}
	for _, t := range cs.Trainings {
		st.Trainings = upsertByID(st.Trainings, t.Clone(), func(x *activity.TrainingSession) string { return x.ID })
	}
	for _, p := range cs.Pregnancies {
		st.Pregnancies = upsertByID(st.Pregnancies, p.Clone(), func(x *activity.Pregnancy) string { return x.ID })
	}
	for _, q := range cs.Quests {
		st.Quests = upsertByID(st.Quests, q.Clone(), func(x *activity.QuestParty) string { return x.ID })
	}
	mv.items = append(mv.items, cs.StoredItems...)

	for _, e := range evts {
		// store what a SQL reload would return
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		e.Payload = json.RawMessage(raw)
		mv.events = append(mv.events, e)
	}

	atomic.AddInt64(&m.commits, 1)
	return nil
}

func (m *MemoryRepository) ListDueVaults(_ context.Context, cutoff time.Time, limit int) ([]vault.Clock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []vault.Clock
	for _, mv := range m.vaults {
		v := mv.state.Vault
		if v.Paused || v.NeedsReview || v.LastTickAt.After(cutoff) {
			continue
		}
		out = append(out, vault.Clock{VaultID: v.ID, LastTickAt: v.LastTickAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastTickAt.Equal(out[j].LastTickAt) {
			return out[i].LastTickAt.Before(out[j].LastTickAt)
		}
		return out[i].VaultID < out[j].VaultID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) CreateVault(_ context.Context, s *vault.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vaults[s.Vault.ID]; ok {
		return ErrVaultExists
	}
	st := s.Clone()
	st.StorageUsed = 0
	m.vaults[s.Vault.ID] = &memVault{state: st}
	return nil
}

func (m *MemoryRepository) FlagForReview(_ context.Context, vaultID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.vaults[vaultID]
	if !ok {
		return ErrNotFound
	}
	mv.state.Vault.NeedsReview = true
	mv.state.Vault.ReviewReason = reason
	return nil
}

func (m *MemoryRepository) ListEvents(_ context.Context, vaultID string, since time.Time, limit int) ([]events.VaultEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.vaults[vaultID]
	if !ok {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultEventLimit
	}
	var out []events.VaultEvent
	for _, e := range mv.events {
		if e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func upsertByID[T any](list []*T, v *T, id func(*T) string) []*T {
	key := id(v)
	for i, x := range list {
		if id(x) == key {
			list[i] = v
			return list
		}
	}
	return append(list, v)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/quest"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/cache"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/lock"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/storage"
)

// Rejections of a user action. They are wrapped with detail, so compare with
// errors.Is.
var (
	ErrBadRequest      = errors.New("invalid request")
	ErrDwellerNotFound = errors.New("dweller not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrDwellerBusy     = errors.New("dweller is unavailable")
	ErrNoExpedition    = errors.New("no expedition in progress")
	ErrIneligible      = errors.New("party does not meet quest requirements")
)

// Actions are the direct player commands. Each one takes the same vault
// lease as a tick, waiting briefly for an in-flight tick to finish, and
// commits a single changeset without moving the vault clock.
type Actions struct {
	o *Orchestrator
}

// NewActions shares the orchestrator's store, lease and tuning.
func NewActions(o *Orchestrator) *Actions {
	return &Actions{o: o}
}

// CreateVault founds a new vault with the starter layout.
func (a *Actions) CreateVault(ctx context.Context, name string) (*vault.Snapshot, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: vault name is required", ErrBadRequest)
	}
	now := a.o.clock.Now()
	s := vault.NewStarter(a.o.newID(), name, now, a.o.newID)
	if err := s.Validate(a.o.balance.RoomCapacityPerSize, now); err != nil {
		return nil, &InvariantViolation{VaultID: s.Vault.ID, Stage: "create", Err: err}
	}
	if err := a.o.repo.CreateVault(ctx, s); err != nil {
		return nil, fmt.Errorf("create vault: %w", err)
	}
	a.o.logger.Event("VAULT_CREATED", s.Vault.ID, "vault founded", zap.String("name", name))
	return s, nil
}

// AssignDweller moves a dweller into roomID, or out of any room when roomID
// is nil. Entering a training room opens a training session; leaving one
// cancels it.
func (a *Actions) AssignDweller(ctx context.Context, vaultID, dwellerID string, roomID *string) error {
	_, err := a.mutate(ctx, vaultID, func(s *vault.Snapshot, now time.Time) (*outcome, error) {
		d, err := homeDweller(s, dwellerID)
		if err != nil {
			return nil, err
		}
		var r *room.Room
		if roomID != nil {
			if r = s.Room(*roomID); r == nil {
				return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, *roomID)
			}
			if d.InRoom(r.ID) {
				return &outcome{}, nil
			}
			if d.IsChild(now) && r.Category != room.CategoryLiving {
				return nil, fmt.Errorf("%w: %s is a child", ErrDwellerBusy, d.ID)
			}
			if len(s.Occupants(r.ID)) >= r.Capacity(a.o.balance.RoomCapacityPerSize) {
				return nil, fmt.Errorf("%w: %s", ErrRoomFull, r.ID)
			}
		}

		cancelTraining(s, d.ID, now)
		d.StatusStartedAt = now
		if r == nil {
			d.RoomID = nil
			d.Status = dweller.StatusIdle
			return &outcome{}, nil
		}
		id := r.ID
		d.RoomID = &id
		d.Status = statusIn(r)
		if r.Category == room.CategoryTraining {
			stat := *r.TrainingStat
			if d.Stats[stat] >= a.o.balance.Training.StatCeiling {
				d.Status = dweller.StatusIdle
				return &outcome{}, nil
			}
			s.Trainings = append(s.Trainings, &activity.TrainingSession{
				ID:        a.o.newID(),
				VaultID:   s.Vault.ID,
				DwellerID: d.ID,
				RoomID:    r.ID,
				Stat:      stat,
				Status:    activity.PhasePending,
				CreatedAt: now,
				Duration:  rules.TrainingDuration(d.Stats[stat], r.Tier, a.o.balance),
			})
		}
		return &outcome{}, nil
	})
	return err
}

// StartExploration sends a dweller into the wasteland for duration, carrying
// supplies taken from the vault pools.
func (a *Actions) StartExploration(ctx context.Context, vaultID, dwellerID string, duration time.Duration, stimpaks, radaways int) error {
	_, err := a.mutate(ctx, vaultID, func(s *vault.Snapshot, now time.Time) (*outcome, error) {
		d, err := homeDweller(s, dwellerID)
		if err != nil {
			return nil, err
		}
		if d.IsChild(now) {
			return nil, fmt.Errorf("%w: %s is a child", ErrDwellerBusy, d.ID)
		}
		if duration <= 0 || duration > a.o.balance.Exploration.MaxDuration.D() {
			return nil, fmt.Errorf("%w: duration %s out of range", ErrBadRequest, duration)
		}
		if stimpaks < 0 || radaways < 0 ||
			float64(stimpaks) > s.Vault.Pools[resource.Stimpak].Amount ||
			float64(radaways) > s.Vault.Pools[resource.RadAway].Amount {
			return nil, fmt.Errorf("%w: not enough supplies", ErrBadRequest)
		}

		cancelTraining(s, d.ID, now)
		s.Vault.Pools.Add(resource.Stimpak, -float64(stimpaks))
		s.Vault.Pools.Add(resource.RadAway, -float64(radaways))
		d.Stimpaks += stimpaks
		d.RadAways += radaways
		d.RoomID = nil
		d.Status = dweller.StatusExploring
		d.StatusStartedAt = now

		s.Explorations = append(s.Explorations, &activity.ExplorationRun{
			ID:              a.o.newID(),
			VaultID:         s.Vault.ID,
			DwellerID:       d.ID,
			StartedAt:       now,
			PlannedDuration: duration,
			LastRollAt:      now,
			Outcome:         activity.OutcomePending,
		})
		return &outcome{}, nil
	})
	return err
}

// RecallExploration brings an explorer home early. The rolls owed up to now
// are played first, so recalling never skips danger or loot.
func (a *Actions) RecallExploration(ctx context.Context, vaultID, dwellerID string) ([]events.VaultEvent, error) {
	return a.mutate(ctx, vaultID, func(s *vault.Snapshot, now time.Time) (*outcome, error) {
		d := s.Dweller(dwellerID)
		if d == nil {
			return nil, fmt.Errorf("%w: %s", ErrDwellerNotFound, dwellerID)
		}
		run := s.PendingRun(d.ID)
		if run == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoExpedition, d.ID)
		}

		out := &outcome{}
		rng := tickRNG(s.Vault.ID, run.LastRollAt, now)
		step := rules.ExploreStep(run, d, now, rng, a.o.newID, a.o.balance)
		if rules.GainExperience(d, step.XP, a.o.balance) > 0 {
			out.emit(s.Vault.ID, events.EventTypeDwellerLeveled, now, d.ID, events.DwellerLeveledPayload{DwellerID: d.ID, Level: d.Level})
		}
		if step.Died {
			out.emit(s.Vault.ID, events.EventTypeDwellerDied, *run.EndedAt, d.ID, events.DwellerDiedPayload{DwellerID: d.ID, Cause: "wasteland"})
			return out, nil
		}

		evtType := events.EventTypeExplorationReturned
		if !step.Returned {
			run.Outcome = activity.OutcomeRecalled
			ended := now
			run.EndedAt = &ended
			evtType = events.EventTypeExplorationRecalled
		}
		accepted, overflow := rules.StoreLoot(run.Loot, s.StorageUsed, s.Vault.StorageCapacity)
		s.StorageUsed += item.TotalSize(accepted)
		out.stored = accepted
		s.Vault.Pools.Add(resource.Caps, float64(run.CapsFound))
		homecoming(s, d, *run.EndedAt)
		out.emit(s.Vault.ID, evtType, *run.EndedAt, d.ID, returnPayload(run, accepted, overflow))
		return out, nil
	})
}

// StartQuest forms a party for questID. When the party does not qualify the
// returned Eligibility lists why, alongside ErrIneligible.
func (a *Actions) StartQuest(ctx context.Context, vaultID, questID string, memberIDs []string) (quest.Eligibility, error) {
	var elig quest.Eligibility
	_, err := a.mutate(ctx, vaultID, func(s *vault.Snapshot, now time.Time) (*outcome, error) {
		def, err := quest.Lookup(questID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		members := make([]*dweller.Dweller, 0, len(memberIDs))
		for _, id := range memberIDs {
			d := s.Dweller(id)
			if d == nil {
				return nil, fmt.Errorf("%w: %s", ErrDwellerNotFound, id)
			}
			members = append(members, d)
		}

		elig = def.Eligible(s.Vault.CompletedSet(), members, now)
		for _, id := range memberIDs {
			if p := s.OpenParty(id); p != nil {
				elig.Met = false
				elig.Reasons = append(elig.Reasons, fmt.Sprintf("dweller %s already in party %s", id, p.ID))
			}
		}
		if !elig.Met {
			return nil, ErrIneligible
		}

		s.Quests = append(s.Quests, &activity.QuestParty{
			ID:        a.o.newID(),
			VaultID:   s.Vault.ID,
			QuestID:   def.ID,
			Members:   append([]string(nil), memberIDs...),
			Status:    activity.PhasePending,
			CreatedAt: now,
			Duration:  def.Duration,
		})
		return &outcome{}, nil
	})
	return elig, err
}

// SetPaused freezes or resumes a vault. Resuming restarts the vault clock at
// now, so paused time is never simulated.
func (a *Actions) SetPaused(ctx context.Context, vaultID string, paused bool) error {
	_, err := a.mutate(ctx, vaultID, func(s *vault.Snapshot, now time.Time) (*outcome, error) {
		if s.Vault.Paused == paused {
			return &outcome{}, nil
		}
		s.Vault.Paused = paused
		if !paused && now.After(s.Vault.LastTickAt) {
			s.Vault.LastTickAt = now
		}
		return &outcome{}, nil
	})
	return err
}

// SetGuard marks a dweller as security. Guards join the defence of any room.
func (a *Actions) SetGuard(ctx context.Context, vaultID, dwellerID string, guard bool) error {
	_, err := a.mutate(ctx, vaultID, func(s *vault.Snapshot, now time.Time) (*outcome, error) {
		d := s.Dweller(dwellerID)
		if d == nil {
			return nil, fmt.Errorf("%w: %s", ErrDwellerNotFound, dwellerID)
		}
		if !d.Alive() || d.IsChild(now) {
			return nil, fmt.Errorf("%w: %s", ErrDwellerBusy, d.ID)
		}
		d.Guard = guard
		return &outcome{}, nil
	})
	return err
}

// Summary returns the read model of a vault, from cache when possible.
func (a *Actions) Summary(ctx context.Context, vaultID string) (*cache.VaultSummary, error) {
	if a.o.cache != nil {
		if sum, err := a.o.cache.GetSummary(ctx, vaultID); err == nil {
			return sum, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			a.o.logger.Warn("summary cache read failed", zap.String("vault_id", vaultID), zap.Error(err))
		}
	}
	s, err := a.o.repo.LoadVaultSnapshot(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	sum := cache.Summarize(s)
	if a.o.cache != nil {
		if err := a.o.cache.SetSummary(ctx, sum); err != nil {
			a.o.logger.Warn("summary cache write failed", zap.String("vault_id", vaultID), zap.Error(err))
		}
	}
	return &sum, nil
}

// outcome is what an action leaves behind besides the mutated snapshot.
type outcome struct {
	stored []item.Item
	events []events.VaultEvent
}

func (o *outcome) emit(vaultID string, t events.EventType, at time.Time, actorID string, payload interface{}) {
	o.events = append(o.events, events.New(vaultID, t, at, actorID, payload))
}

// mutate runs fn on a working copy of the vault under its lease and commits
// the difference.
func (a *Actions) mutate(ctx context.Context, vaultID string, fn func(s *vault.Snapshot, now time.Time) (*outcome, error)) ([]events.VaultEvent, error) {
	lease, err := a.acquire(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	released := false
	defer func() {
		if !released {
			a.o.release(ctx, lease)
		}
	}()

	// same bound as a tick, so the lease cannot lapse mid-write
	actx, cancel := context.WithTimeout(ctx, a.o.settings.MaxDuration)
	defer cancel()

	snap, err := a.o.repo.LoadVaultSnapshot(actx, vaultID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, &TransientError{Op: "load snapshot", VaultID: vaultID, Err: err}
	}
	now := a.o.clock.Now()
	work := snap.Clone()
	out, err := fn(work, now)
	if err != nil {
		return nil, err
	}
	work.Vault.Pools.ClampAll()
	if err := work.Validate(a.o.balance.RoomCapacityPerSize, now); err != nil {
		return nil, &InvariantViolation{VaultID: vaultID, Stage: "action", Err: err}
	}

	if err := actx.Err(); err != nil {
		return nil, &TransientError{Op: "action", VaultID: vaultID, Err: err}
	}
	cs := vault.Diff(snap, work, out.stored)
	if err := a.o.repo.CommitVaultDeltas(actx, cs, out.events); err != nil {
		return nil, &TransientError{Op: "commit action", VaultID: vaultID, Err: err}
	}
	a.o.release(ctx, lease)
	released = true

	a.o.dispatcher.Publish(ctx, out.events)
	if a.o.cache != nil {
		if err := a.o.cache.Invalidate(ctx, vaultID); err != nil {
			a.o.logger.Warn("summary cache invalidation failed", zap.String("vault_id", vaultID), zap.Error(err))
		}
	}
	return out.events, nil
}

// acquire waits up to ActionLockAttempts x ActionLockBackoff for the lease.
func (a *Actions) acquire(ctx context.Context, vaultID string) (lock.Lease, error) {
	s := a.o.settings
	var lastErr error
	for attempt := 0; attempt < s.ActionLockAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lock.Lease{}, &ConflictError{VaultID: vaultID, Err: ctx.Err()}
			case <-time.After(s.ActionLockBackoff):
			}
		}
		lease, err := a.o.leaser.TryAcquire(ctx, vaultID, s.LeaseTTL)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, lock.ErrLeaseHeld) {
			return lock.Lease{}, &TransientError{Op: "acquire lease", VaultID: vaultID, Err: err}
		}
		lastErr = err
	}
	return lock.Lease{}, &ConflictError{VaultID: vaultID, Err: lastErr}
}

// homeDweller returns a live dweller who is inside the vault.
func homeDweller(s *vault.Snapshot, id string) (*dweller.Dweller, error) {
	d := s.Dweller(id)
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrDwellerNotFound, id)
	}
	switch d.Status {
	case dweller.StatusDead, dweller.StatusExploring, dweller.StatusQuesting:
		return nil, fmt.Errorf("%w: %s is %s", ErrDwellerBusy, d.ID, d.Status)
	}
	if p := s.OpenParty(d.ID); p != nil {
		return nil, fmt.Errorf("%w: %s is in quest party %s", ErrDwellerBusy, d.ID, p.ID)
	}
	return d, nil
}

func cancelTraining(s *vault.Snapshot, dwellerID string, now time.Time) {
	if t := s.OpenTraining(dwellerID); t != nil {
		t.Status = activity.PhaseCancelled
		done := now
		t.CompletedAt = &done
	}
}

func statusIn(r *room.Room) dweller.Status {
	switch r.Category {
	case room.CategoryTraining:
		return dweller.StatusTraining
	case room.CategoryLiving:
		return dweller.StatusIdle
	}
	return dweller.StatusWorking
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/blob"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/cache"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/lock"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/storage"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/config"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/otel"
)

// Settings bound the timing of ticks and actions.
type Settings struct {
	MinInterval        time.Duration
	MaxDuration        time.Duration
	LeaseTTL           time.Duration
	ActionLockAttempts int
	ActionLockBackoff  time.Duration
}

// SettingsFromConfig copies the tick section of the server config.
func SettingsFromConfig(c config.TickConfig) Settings {
	return Settings{
		MinInterval:        c.MinInterval,
		MaxDuration:        c.MaxDuration,
		LeaseTTL:           c.LeaseTTL,
		ActionLockAttempts: c.ActionLockAttempts,
		ActionLockBackoff:  c.ActionLockBackoff,
	}
}

// Deps are the collaborators of an Orchestrator. Repo and Leaser are
// required; the rest fall back to defaults.
type Deps struct {
	Repo       storage.VaultRepository
	Leaser     lock.Leaser
	Dispatcher *events.Dispatcher
	Blobs      blob.Store
	Cache      *cache.VaultCache
	Logger     *logger.Logger
	Metrics    *metrics.Collector
	Balance    *rules.Balance
	Clock      Clock
	NewID      func() string
}

// Orchestrator advances one vault at a time by the wall time elapsed since
// its last tick. Every tick runs the systems in a fixed order on a working
// copy of the vault and commits the result as one batch.
type Orchestrator struct {
	repo       storage.VaultRepository
	leaser     lock.Leaser
	dispatcher *events.Dispatcher
	blobs      blob.Store
	cache      *cache.VaultCache
	logger     *logger.Logger
	metrics    *metrics.Collector
	balance    *rules.Balance
	clock      Clock
	newID      func() string
	settings   Settings

	// Sub-systems, in execution order
	production  *ProductionSystem
	happiness   *HappinessSystem
	progress    *ProgressSystem
	exploration *ExplorationSystem
	incidents   *IncidentSystem
}

// NewOrchestrator wires the tick pipeline.
func NewOrchestrator(d Deps, s Settings) *Orchestrator {
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Dispatcher == nil {
		d.Dispatcher = events.NewDispatcher(d.Logger, d.Metrics)
	}
	if d.Balance == nil {
		d.Balance = rules.DefaultBalance()
	}
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if s.MaxDuration <= 0 {
		s.MaxDuration = 10 * time.Second
	}
	if s.LeaseTTL <= 0 {
		s.LeaseTTL = 30 * time.Second
	}
	if s.ActionLockAttempts < 1 {
		s.ActionLockAttempts = 1
	}

	return &Orchestrator{
		repo:       d.Repo,
		leaser:     d.Leaser,
		dispatcher: d.Dispatcher,
		blobs:      d.Blobs,
		cache:      d.Cache,
		logger:     d.Logger,
		metrics:    d.Metrics,
		balance:    d.Balance,
		clock:      d.Clock,
		newID:      d.NewID,
		settings:   s,

		production:  NewProductionSystem(d.Logger),
		happiness:   NewHappinessSystem(d.Logger),
		progress:    NewProgressSystem(d.Logger),
		exploration: NewExplorationSystem(d.Logger),
		incidents:   NewIncidentSystem(d.Logger),
	}
}

// Balance returns the tuning the orchestrator runs with.
func (o *Orchestrator) Balance() *rules.Balance { return o.balance }

// RunTick advances a vault if at least the minimum interval has passed since
// its last tick. A vault that is not due, paused, or flagged yields a skipped
// result and no error. A vault leased by someone else yields a skipped result
// and a TransientError wrapping ErrLockUnavailable.
func (o *Orchestrator) RunTick(ctx context.Context, vaultID string) (TickResult, error) {
	return o.tick(ctx, vaultID, false)
}

// ForceTick is RunTick without the minimum interval. It still needs some
// time to have passed and goes through the same lease.
func (o *Orchestrator) ForceTick(ctx context.Context, vaultID string) (TickResult, error) {
	return o.tick(ctx, vaultID, true)
}

func (o *Orchestrator) tick(ctx context.Context, vaultID string, force bool) (TickResult, error) {
	ctx, span := otel.Tracer().Start(ctx, "vault.tick", trace.WithAttributes(
		attribute.String("vault.id", vaultID),
		attribute.Bool("vault.force", force),
	))
	defer span.End()

	start := time.Now()
	res, err := o.run(ctx, vaultID, force)
	o.metrics.RecordTick(tickOutcome(res, err), time.Since(start))

	span.SetAttributes(
		attribute.Bool("vault.skipped", res.Skipped),
		attribute.Int("vault.events", len(res.Events)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func tickOutcome(res TickResult, err error) string {
	switch {
	case errors.Is(err, ErrLockUnavailable):
		return metrics.ResultContended
	case err != nil:
		return metrics.ResultFailed
	case res.Skipped:
		return metrics.ResultSkipped
	}
	return metrics.ResultCommitted
}

func (o *Orchestrator) run(ctx context.Context, vaultID string, force bool) (TickResult, error) {
	res := TickResult{VaultID: vaultID}
	now := o.clock.Now()

	clk, err := o.repo.GetVaultClock(ctx, vaultID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return res, err
		}
		return res, &TransientError{Op: "read clock", VaultID: vaultID, Err: err}
	}
	if reason := o.skipReason(clk.LastTickAt, clk.Paused, now, force); reason != "" {
		if reason == ReasonBackwards {
			o.logger.Warn("vault clock ahead of wall clock",
				zap.String("vault_id", vaultID),
				zap.Time("last_tick_at", clk.LastTickAt),
				zap.Time("now", now))
		}
		res.Skipped, res.Reason = true, reason
		return res, nil
	}

	lease, err := o.leaser.TryAcquire(ctx, vaultID, o.settings.LeaseTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLeaseHeld) {
			res.Skipped, res.Reason = true, ReasonLocked
			return res, &TransientError{Op: "acquire lease", VaultID: vaultID, Err: ErrLockUnavailable}
		}
		return res, &TransientError{Op: "acquire lease", VaultID: vaultID, Err: err}
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		o.release(ctx, lease)
	}
	defer release()

	tctx, cancel := context.WithTimeout(ctx, o.settings.MaxDuration)
	defer cancel()

	res, err = o.advance(tctx, vaultID, now, force)
	if err != nil || res.Skipped {
		return res, err
	}

	release()
	o.dispatcher.Publish(ctx, res.Events)
	if o.cache != nil {
		if err := o.cache.Invalidate(ctx, vaultID); err != nil {
			o.logger.Warn("summary cache invalidation failed", zap.String("vault_id", vaultID), zap.Error(err))
		}
	}
	return res, nil
}

// advance runs under the lease: load, validate, simulate, clamp, commit.
func (o *Orchestrator) advance(ctx context.Context, vaultID string, now time.Time, force bool) (TickResult, error) {
	res := TickResult{VaultID: vaultID}

	snap, err := o.repo.LoadVaultSnapshot(ctx, vaultID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return res, err
		}
		return res, &TransientError{Op: "load snapshot", VaultID: vaultID, Err: err}
	}
	// the clock read before the lease may be stale; decide again on what we hold
	if snap.Vault.NeedsReview {
		res.Skipped, res.Reason = true, ReasonReview
		return res, nil
	}
	if reason := o.skipReason(snap.Vault.LastTickAt, snap.Vault.Paused, now, force); reason != "" {
		res.Skipped, res.Reason = true, reason
		return res, nil
	}
	if err := snap.Validate(o.balance.RoomCapacityPerSize, now); err != nil {
		return res, o.quarantine(ctx, snap, "load", err)
	}

	tc := newTickContext(snap, now, o.newID, o.balance, o.metrics)
	o.production.Apply(tc)
	o.happiness.Apply(tc)
	o.progress.Apply(tc)
	o.exploration.Apply(tc)
	o.incidents.Apply(tc)
	settle(tc)

	tc.work.Vault.LastTickAt = now
	if err := tc.work.Validate(o.balance.RoomCapacityPerSize, now); err != nil {
		return res, o.quarantine(ctx, tc.work, "commit", err)
	}
	if err := ctx.Err(); err != nil {
		return res, &TransientError{Op: "tick", VaultID: vaultID, Err: err}
	}

	cs := vault.Diff(snap, tc.work, tc.stored)
	start := time.Now()
	err = o.repo.CommitVaultDeltas(ctx, cs, tc.events)
	o.metrics.RecordCommit(time.Since(start), err)
	if err != nil {
		return res, &TransientError{Op: "commit", VaultID: vaultID, Err: err}
	}

	res = *tc.result
	res.Events = tc.events
	res.CommittedAt = now
	o.logger.Event("TICK_COMMITTED", vaultID, "vault advanced",
		zap.Duration("elapsed", res.Elapsed),
		zap.Int("events", len(res.Events)),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// settle clamps every pool once and reports vital pools that ran dry.
func settle(tc *tickContext) {
	tc.result.Dropped = tc.work.Vault.Pools.ClampAll()
	for _, k := range resource.Vital {
		before, after := tc.pre.Vault.Pools[k], tc.work.Vault.Pools[k]
		if before.Amount > 0 && after.Amount == 0 && after.Capacity > 0 {
			tc.emit(events.EventTypeResourceDepleted, "", events.ResourceDepletedPayload{Resource: string(k)})
		}
	}
}

func (o *Orchestrator) skipReason(last time.Time, paused bool, now time.Time, force bool) string {
	elapsed := now.Sub(last)
	switch {
	case paused:
		return ReasonPaused
	case elapsed < 0:
		return ReasonBackwards
	case elapsed == 0:
		return ReasonNoElapsed
	case !force && elapsed < o.settings.MinInterval:
		return ReasonTooSoon
	}
	return ""
}

func (o *Orchestrator) release(ctx context.Context, lease lock.Lease) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := o.leaser.Release(ctx, lease); err != nil {
		o.logger.Warn("lease release failed", zap.String("vault_id", lease.VaultID), zap.Error(err))
	}
}

// diagnostic is the archived record of a vault that failed validation.
type diagnostic struct {
	VaultID  string          `json:"vault_id"`
	Stage    string          `json:"stage"`
	Reason   string          `json:"reason"`
	At       time.Time       `json:"at"`
	Snapshot *vault.Snapshot `json:"snapshot"`
}

// quarantine flags the vault for review and archives the offending
// snapshot. Failures here are logged; the violation is returned either way.
func (o *Orchestrator) quarantine(ctx context.Context, snap *vault.Snapshot, stage string, cause error) error {
	iv := &InvariantViolation{VaultID: snap.Vault.ID, Stage: stage, Err: cause}
	o.logger.Error("vault invariant violated",
		zap.String("vault_id", snap.Vault.ID),
		zap.String("stage", stage),
		zap.Error(cause))

	// flag even when the tick itself ran out of time
	ctx = context.WithoutCancel(ctx)
	if err := o.repo.FlagForReview(ctx, snap.Vault.ID, iv.Error()); err != nil {
		o.logger.Error("flag for review failed", zap.String("vault_id", snap.Vault.ID), zap.Error(err))
	}
	if o.cache != nil {
		_ = o.cache.Invalidate(ctx, snap.Vault.ID)
	}
	if o.blobs == nil {
		return iv
	}

	now := o.clock.Now()
	data, err := json.Marshal(diagnostic{VaultID: snap.Vault.ID, Stage: stage, Reason: cause.Error(), At: now, Snapshot: snap})
	if err != nil {
		o.logger.Error("diagnostic encode failed", zap.String("vault_id", snap.Vault.ID), zap.Error(err))
		return iv
	}
	key := fmt.Sprintf("vaults/%s/%d-%s.json", snap.Vault.ID, now.UnixNano(), stage)
	if err := o.blobs.Put(ctx, key, data, "application/json"); err != nil {
		o.logger.Error("diagnostic archive failed", zap.String("vault_id", snap.Vault.ID), zap.String("key", key), zap.Error(err))
	}
	return iv
}

// Package test holds the invariant soak harness: many vaults driven by
// random player commands through hundreds of scheduler cycles on a fake
// clock, with the persistent invariants checked after every cycle.
package test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/engine"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/lock"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/storage"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
)

// SoakConfig sizes a soak run.
type SoakConfig struct {
	Vaults  int
	Cycles  int
	Step    time.Duration // simulated time between cycles
	Workers int
	Seed    uint64
	Balance *rules.Balance // nil = defaults
	Logger  *logger.Logger // nil = silent
}

// CheckResult captures the outcome of each check.
type CheckResult struct {
	Scenario string
	Passed   bool
	Reason   string
}

// Soak is one harness instance.
type Soak struct {
	cfg       SoakConfig
	repo      *storage.MemoryRepository
	clock     *engine.FakeClock
	sink      *events.MemorySink
	orch      *engine.Orchestrator
	actions   *engine.Actions
	scheduler *engine.Scheduler
	logger    *logger.Logger
	rng       *rand.Rand

	vaultIDs   []string
	violations []string
	unexpected []string
	skipped    int
}

var soakStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// NewSoak builds the harness on in-memory infrastructure.
func NewSoak(cfg SoakConfig) *Soak {
	if cfg.Vaults <= 0 {
		cfg.Vaults = 10
	}
	if cfg.Cycles <= 0 {
		cfg.Cycles = 100
	}
	if cfg.Step <= 0 {
		cfg.Step = 5 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Balance == nil {
		cfg.Balance = rules.DefaultBalance()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	s := &Soak{
		cfg:    cfg,
		repo:   storage.NewMemoryRepository(),
		clock:  engine.NewFakeClock(soakStart),
		sink:   &events.MemorySink{},
		logger: cfg.Logger,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed)),
	}
	m := metrics.New()

	var (
		mu sync.Mutex
		n  int
	)
	s.orch = engine.NewOrchestrator(engine.Deps{
		Repo:       s.repo,
		Leaser:     lock.NewMemoryLeaser(),
		Dispatcher: events.NewDispatcher(cfg.Logger, m, s.sink),
		Logger:     cfg.Logger,
		Metrics:    m,
		Balance:    cfg.Balance,
		Clock:      s.clock,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("soak-%06d", n)
		},
	}, engine.Settings{
		MinInterval:        time.Minute,
		MaxDuration:        5 * time.Second,
		LeaseTTL:           30 * time.Second,
		ActionLockAttempts: 3,
		ActionLockBackoff:  time.Millisecond,
	})
	s.actions = engine.NewActions(s.orch)
	s.scheduler = engine.NewScheduler(s.orch, s.repo, s.clock, cfg.Logger, m, engine.SchedulerConfig{
		MinInterval: time.Minute,
		Workers:     cfg.Workers,
		BatchLimit:  cfg.Vaults,
	})
	return s
}

// Run executes the soak and returns one result per check.
func (s *Soak) Run(ctx context.Context) []CheckResult {
	var results []CheckResult
	for i := 0; i < s.cfg.Vaults; i++ {
		v, err := s.actions.CreateVault(ctx, fmt.Sprintf("Soak Vault %02d", i))
		if err != nil {
			return []CheckResult{{Scenario: "found vaults", Reason: err.Error()}}
		}
		s.vaultIDs = append(s.vaultIDs, v.Vault.ID)
	}

	for cycle := 0; cycle < s.cfg.Cycles; cycle++ {
		if ctx.Err() != nil {
			break
		}
		for _, id := range s.vaultIDs {
			s.agitate(ctx, id)
		}
		s.clock.Advance(s.cfg.Step)
		stats := s.scheduler.RunOnce(ctx)
		s.skipped += stats.Skipped + stats.Failed
		s.checkAll(ctx, cycle)
	}

	results = append(results,
		verdict("invariants hold after every cycle", s.violations),
		verdict("player commands fail only with domain errors", s.unexpected),
		CheckResult{
			Scenario: "every due vault ticked",
			Passed:   s.skipped == 0,
			Reason:   fmt.Sprintf("%d skipped or failed ticks", s.skipped),
		},
		s.checkContention(ctx),
		s.checkOutbox(ctx),
	)
	return results
}

// agitate issues one random command against a vault.
func (s *Soak) agitate(ctx context.Context, vaultID string) {
	snap, err := s.repo.LoadVaultSnapshot(ctx, vaultID)
	if err != nil || len(snap.Dwellers) == 0 {
		return
	}
	d := snap.Dwellers[s.rng.IntN(len(snap.Dwellers))]

	switch s.rng.IntN(6) {
	case 0:
		r := snap.Rooms[s.rng.IntN(len(snap.Rooms))]
		err = s.actions.AssignDweller(ctx, vaultID, d.ID, &r.ID)
	case 1:
		err = s.actions.StartExploration(ctx, vaultID, d.ID, time.Duration(10+s.rng.IntN(50))*time.Minute, s.rng.IntN(2), 0)
	case 2:
		_, err = s.actions.RecallExploration(ctx, vaultID, d.ID)
	case 3:
		err = s.actions.SetGuard(ctx, vaultID, d.ID, s.rng.IntN(2) == 0)
	case 4:
		_, err = s.actions.StartQuest(ctx, vaultID, "supply-run", []string{d.ID})
	default:
		return
	}
	if err != nil && !domainError(err) {
		s.unexpected = append(s.unexpected, fmt.Sprintf("vault %s: %v", vaultID, err))
	}
}

func domainError(err error) bool {
	for _, target := range []error{
		engine.ErrBadRequest, engine.ErrDwellerNotFound, engine.ErrRoomNotFound,
		engine.ErrRoomFull, engine.ErrDwellerBusy, engine.ErrNoExpedition, engine.ErrIneligible,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Soak) checkAll(ctx context.Context, cycle int) {
	now := s.clock.Now()
	capacity := s.orch.Balance().RoomCapacityPerSize
	for _, id := range s.vaultIDs {
		snap, err := s.repo.LoadVaultSnapshot(ctx, id)
		if err != nil {
			s.violate(cycle, id, err.Error())
			continue
		}
		if err := snap.Validate(capacity, now); err != nil {
			s.violate(cycle, id, err.Error())
		}
		if snap.Vault.NeedsReview {
			s.violate(cycle, id, "flagged for review: "+snap.Vault.ReviewReason)
		}
		if !snap.Vault.LastTickAt.Equal(now) {
			s.violate(cycle, id, "not ticked up to now")
		}
		checkDwellers(snap, func(msg string) { s.violate(cycle, id, msg) })
	}
}

func checkDwellers(snap *vault.Snapshot, fail func(string)) {
	for _, d := range snap.Dwellers {
		if d.Happiness < 0 || d.Happiness > 100 {
			fail(fmt.Sprintf("dweller %s happiness %.2f", d.ID, d.Happiness))
		}
		if d.Health < 0 || d.Health > d.MaxHealth {
			fail(fmt.Sprintf("dweller %s health %.2f/%.2f", d.ID, d.Health, d.MaxHealth))
		}
	}
}

func (s *Soak) violate(cycle int, vaultID, msg string) {
	s.violations = append(s.violations, fmt.Sprintf("cycle %d vault %s: %s", cycle, vaultID, msg))
	s.logger.Warn("soak invariant violated",
		zap.Int("cycle", cycle),
		zap.String("vault_id", vaultID),
		zap.String("problem", msg))
}

// checkContention force-ticks one vault from many goroutines at once.
func (s *Soak) checkContention(ctx context.Context) CheckResult {
	res := CheckResult{Scenario: "concurrent force ticks commit once"}
	if len(s.vaultIDs) == 0 {
		res.Reason = "no vaults"
		return res
	}
	s.clock.Advance(time.Minute)
	before := s.repo.Commits()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.orch.ForceTick(ctx, s.vaultIDs[0])
		}()
	}
	wg.Wait()

	got := s.repo.Commits() - before
	res.Passed = got == 1
	res.Reason = fmt.Sprintf("%d commits", got)
	return res
}

// checkOutbox compares the persisted events with the live feed.
func (s *Soak) checkOutbox(ctx context.Context) CheckResult {
	res := CheckResult{Scenario: "outbox matches live feed"}
	stored := 0
	for _, id := range s.vaultIDs {
		evts, err := s.repo.ListEvents(ctx, id, time.Time{}, 1<<30)
		if err != nil {
			res.Reason = err.Error()
			return res
		}
		stored += len(evts)
	}
	live := len(s.sink.Events())
	res.Passed = stored == live
	res.Reason = fmt.Sprintf("stored=%d live=%d", stored, live)
	return res
}

func verdict(scenario string, problems []string) CheckResult {
	if len(problems) == 0 {
		return CheckResult{Scenario: scenario, Passed: true}
	}
	reason := problems[0]
	if len(problems) > 1 {
		reason = fmt.Sprintf("%s (and %d more)", reason, len(problems)-1)
	}
	return CheckResult{Scenario: scenario, Reason: reason}
}

package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MRamiBalles/vaultsim/server/internal/infra/storage"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/otel"
)

// TickRunner advances one vault. *Orchestrator implements it.
type TickRunner interface {
	RunTick(ctx context.Context, vaultID string) (TickResult, error)
}

// SchedulerConfig sizes the scheduler loop.
type SchedulerConfig struct {
	Interval    time.Duration // time between cycles
	MinInterval time.Duration // a vault is due once this much has passed
	Workers     int           // vaults ticked in parallel
	BatchLimit  int           // vaults considered per cycle
}

// CycleStats counts what one scheduler cycle did.
type CycleStats struct {
	Due     int `json:"due"`
	Ticked  int `json:"ticked"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Scheduler is the heartbeat of the server. Every Interval, or when
// triggered, it finds the vaults that are due and ticks them on a bounded
// pool of workers.
type Scheduler struct {
	runner  TickRunner
	repo    storage.VaultRepository
	clock   Clock
	logger  *logger.Logger
	metrics *metrics.Collector
	cfg     SchedulerConfig

	trigger  chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewScheduler creates a scheduler. clock may be nil for the system clock.
func NewScheduler(runner TickRunner, repo storage.VaultRepository, clock Clock, log *logger.Logger, m *metrics.Collector, cfg SchedulerConfig) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchLimit < 1 {
		cfg.BatchLimit = 500
	}
	return &Scheduler{
		runner:   runner,
		repo:     repo,
		clock:    clock,
		logger:   log,
		metrics:  m,
		cfg:      cfg,
		trigger:  make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		inflight: make(map[string]struct{}),
	}
}

// Start runs the loop until ctx is done or Stop is called. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("workers", s.cfg.Workers))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped by context.")
			return
		case <-s.stopChan:
			s.logger.Info("Scheduler stopped manually.")
			return
		case <-ticker.C:
			s.cycle(ctx)
		case <-s.trigger:
			s.cycle(ctx)
		}
	}
}

// Stop gracefully stops the loop. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Trigger asks for a cycle as soon as the loop is free. Requests made while
// one is already pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	stats := s.RunOnce(ctx)
	if stats.Due == 0 {
		return
	}
	s.logger.Info("scheduler cycle",
		zap.Int("due", stats.Due),
		zap.Int("ticked", stats.Ticked),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
}

// RunOnce ticks every vault due now and waits for all of them. A failing
// vault is counted and logged; it never stops the others.
func (s *Scheduler) RunOnce(ctx context.Context) CycleStats {
	ctx, span := otel.Tracer().Start(ctx, "scheduler.cycle")
	defer span.End()

	var stats CycleStats
	start := time.Now()
	cutoff := s.clock.Now().Add(-s.cfg.MinInterval)

	due, err := s.repo.ListDueVaults(ctx, cutoff, s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("list due vaults failed", zap.Error(err))
		span.RecordError(err)
		return stats
	}
	stats.Due = len(due)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Workers)
	for _, c := range due {
		// already being ticked by an overlapping cycle in this process
		if !s.claim(c.VaultID) {
			stats.Skipped++
			continue
		}
		vaultID := c.VaultID
		g.Go(func() error {
			defer s.unclaim(vaultID)
			res, err := s.runner.RunTick(ctx, vaultID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrLockUnavailable):
				stats.Skipped++
			case err != nil:
				stats.Failed++
				s.logger.Warn("vault tick failed",
					zap.String("vault_id", vaultID),
					zap.Bool("retryable", IsRetryable(err)),
					zap.Error(err))
			case res.Skipped:
				stats.Skipped++
			default:
				stats.Ticked++
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.metrics != nil {
		s.metrics.RecordCycle(stats.Due, time.Since(start))
	}
	span.SetAttributes(
		attribute.Int("scheduler.due", stats.Due),
		attribute.Int("scheduler.ticked", stats.Ticked),
		attribute.Int("scheduler.failed", stats.Failed),
	)
	return stats
}

func (s *Scheduler) claim(vaultID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[vaultID]; busy {
		return false
	}
	s.inflight[vaultID] = struct{}{}
	return true
}

func (s *Scheduler) unclaim(vaultID string) {
	s.mu.Lock()
	delete(s.inflight, vaultID)
	s.mu.Unlock()
}

/*
scheduler.go - Scheduled ledger integrity checks

PURPOSE:
  Periodically verifies the two ledger invariants that background drift
  would break:
  - every part's cached stock level equals the sum of its stock ledger
  - every asset has at most one open assignment, matching its holder

  Findings are logged as warnings and kept as the last report, which
  GET /api/integrity/last serves. Nothing is repaired automatically.

CONFIGURATION:
  Schedule is a standard 5-field cron expression (INTEGRITY_CRON).
  An empty schedule disables the background job; RunNow still works.

USAGE:
  sched := NewIntegrityScheduler(engine, "0 3 * * *", logger)
  if err := sched.Start(); err != nil { ... }
  defer sched.Stop()
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/asset-ledger/inventory"
	"go.uber.org/zap"
)

// IntegrityReport is the outcome of one integrity run.
type IntegrityReport struct {
	CheckedAt  time.Time
	StockDrift []inventory.Reconciliation
	Violations []inventory.Violation
}

func (r IntegrityReport) Healthy() bool {
	return len(r.StockDrift) == 0 && len(r.Violations) == 0
}

// RunIntegrityCheck reconciles every part and checks every asset's
// assignment ledger.
func RunIntegrityCheck(ctx context.Context, engine *inventory.Engine) (IntegrityReport, error) {
	report := IntegrityReport{CheckedAt: time.Now().UTC()}

	drift, err := engine.Stock.ReconcileStock(ctx)
	if err != nil {
		return report, fmt.Errorf("reconcile stock: %w", err)
	}
	report.StockDrift = drift

	violations, err := engine.Assets.CheckAssignments(ctx)
	if err != nil {
		return report, fmt.Errorf("check assignments: %w", err)
	}
	report.Violations = violations

	return report, nil
}

// IntegrityScheduler runs RunIntegrityCheck on a cron schedule.
type IntegrityScheduler struct {
	Engine   *inventory.Engine
	Schedule string
	Timeout  time.Duration

	cron   *cron.Cron
	logger *zap.Logger

	mu   sync.Mutex
	last *IntegrityReport
}

// NewIntegrityScheduler creates a scheduler. It does nothing until Start.
func NewIntegrityScheduler(engine *inventory.Engine, schedule string, logger *zap.Logger) *IntegrityScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntegrityScheduler{
		Engine:   engine,
		Schedule: schedule,
		Timeout:  5 * time.Minute,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the job and starts the cron runner.
func (s *IntegrityScheduler) Start() error {
	if s.Schedule == "" {
		s.logger.Info("integrity scheduler disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.Schedule, s.run); err != nil {
		return fmt.Errorf("schedule integrity check %q: %w", s.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info("integrity scheduler started", zap.String("schedule", s.Schedule))
	return nil
}

// Stop stops the cron runner and waits for a running check to finish.
func (s *IntegrityScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("integrity scheduler stopped")
}

func (s *IntegrityScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error("integrity check failed", zap.Error(err))
	}
}

// RunNow runs a check immediately and records it as the last report.
func (s *IntegrityScheduler) RunNow(ctx context.Context) (IntegrityReport, error) {
	report, err := RunIntegrityCheck(ctx, s.Engine)
	if err != nil {
		return report, err
	}

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	if report.Healthy() {
		s.logger.Info("integrity check passed")
	} else {
		s.logger.Warn("integrity check found problems",
			zap.Int("stock_drift", len(report.StockDrift)),
			zap.Int("assignment_violations", len(report.Violations)))
	}
	return report, nil
}

// LastReport returns the most recent report, or nil before the first run.
func (s *IntegrityScheduler) LastReport() *IntegrityReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// NextRun returns when the job fires next, or zero when disabled.
func (s *IntegrityScheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

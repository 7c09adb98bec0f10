package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"textmill/internal/logging"
)

// Run processes jobs until the queue is drained (ModeDrain) or ctx is
// cancelled. Cancellation is a clean shutdown: in-flight jobs are released and
// the summary is returned with Interrupted set. The returned error is non-nil
// only for run-level failures such as a held lock or a store outage that
// outlasted workflow.max_store_failures.
func (m *Manager) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	runID := uuid.NewString()
	summary := Summary{RunID: runID, Mode: m.mode.String(), Workers: m.workers}

	lock, err := AcquireRunLock(m.cfg)
	if err != nil {
		return summary, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			m.logger.Warn("failed to release run lock", logging.Error(err))
		}
	}()

	ctx = logging.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, m.logger)

	if m.cfg.Workflow.ResetClaimedOnStart {
		reset, err := m.store.ResetClaimed(ctx)
		if err != nil {
			return summary, fmt.Errorf("reset claimed jobs: %w", err)
		}
		summary.ResetOnRun = reset
		if reset > 0 {
			logger.Info("returned interrupted claims to pending", logging.Int64("count", reset))
		}
	}

	pending, _ := m.store.CountPending(ctx)
	logger.Info("extraction run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("workers", m.workers),
		logging.String("mode", m.mode.String()),
		logging.Int("pending", pending),
	)

	t := newTally()
	reclaimCtx, stopReclaimer := context.WithCancel(ctx)
	var reclaimWG sync.WaitGroup
	reclaimWG.Add(1)
	go func() {
		defer reclaimWG.Done()
		m.heartbeat.RunReclaimer(reclaimCtx, t.reclaim)
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	for i := range m.workers {
		name := fmt.Sprintf("worker-%d", i+1)
		group.Go(func() error {
			return m.runWorker(groupCtx, name, t)
		})
	}
	runErr := group.Wait()
	stopReclaimer()
	reclaimWG.Wait()

	t.fill(&summary)
	summary.Interrupted = ctx.Err() != nil
	summary.Duration = time.Since(started)
	if m.handleStats != nil {
		summary.Handles = m.handleStats()
	}
	if remaining, err := m.store.CountUnprocessed(context.WithoutCancel(ctx)); err == nil {
		summary.Remaining = remaining
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("processed", summary.Processed),
		logging.Int("failed", summary.FailedTotal()),
		logging.Int("released", summary.Released),
		logging.Int("texts", summary.Texts),
		logging.Int("remaining", summary.Remaining),
		logging.Duration("duration", summary.Duration),
		logging.Bool("interrupted", summary.Interrupted),
	}
	if runErr != nil {
		logging.ErrorWithContext(logger, "extraction run failed", "run_failed",
			append(attrs[1:], logging.Error(runErr), logging.String(logging.FieldErrorHint, "check job database access"))...)
		return summary, runErr
	}
	logger.Info("extraction run finished", logging.Args(attrs...)...)
	return summary, nil
}

// runWorker loops until the queue is drained, ctx is cancelled, or the store
// keeps failing.
func (m *Manager) runWorker(ctx context.Context, name string, t *tally) error {
	ctx = logging.WithWorker(ctx, name)
	logger := logging.WithContext(ctx, m.logger)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	storeFailures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		job, err := m.store.ClaimNext(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			storeFailures++
			if giveUp := m.storeFailure(ctx, logger, err, storeFailures); giveUp != nil {
				return giveUp
			}
			continue
		}
		if job == nil {
			if m.mode == ModeDrain {
				return nil
			}
			if !sleepCtx(ctx, m.cfg.PollInterval()) {
				return nil
			}
			continue
		}

		t.claim()
		if err := m.processJob(ctx, job, t); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			storeFailures++
			if giveUp := m.storeFailure(ctx, logger, err, storeFailures); giveUp != nil {
				return giveUp
			}
			continue
		}
		storeFailures = 0
	}
}

// storeFailure logs a store error and backs off. It returns a non-nil error
// once the consecutive failure budget is spent.
func (m *Manager) storeFailure(ctx context.Context, logger *slog.Logger, err error, count int) error {
	limit := m.cfg.Workflow.MaxStoreFailures
	logging.ErrorWithContext(logger, "job store unavailable", "store_unavailable",
		logging.Error(err),
		logging.Int("consecutive_failures", count),
		logging.Int("max_failures", limit),
		logging.String(logging.FieldErrorHint, "check job database access"),
	)
	if limit > 0 && count >= limit {
		return fmt.Errorf("giving up after %d consecutive store failures: %w", count, err)
	}
	sleepCtx(ctx, m.cfg.ErrorRetryInterval())
	return nil
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var errClaimLost = errors.New("claim lost to another worker")

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"textmill/internal/jobs"
	"textmill/internal/logging"
)

// HeartbeatMonitor keeps claims alive and returns abandoned claims to pending.
type HeartbeatMonitor struct {
	store    *jobs.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor creates a monitor. A non-positive timeout disables
// reclamation; a non-positive interval disables heartbeats.
func NewHeartbeatMonitor(store *jobs.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    store,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// ReclaimStale returns claims whose heartbeat is older than the timeout to
// pending and reports how many were reset.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context) (int64, error) {
	if h.timeout <= 0 {
		return 0, nil
	}
	reclaimed, err := h.store.ReclaimStale(ctx, time.Now().Add(-h.timeout))
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		logging.WithContext(ctx, h.logger).Info("reclaimed stale claims", logging.Int64("count", reclaimed))
	}
	return reclaimed, nil
}

// RunReclaimer calls ReclaimStale every interval until ctx is done.
func (h *HeartbeatMonitor) RunReclaimer(ctx context.Context, onReclaim func(int64)) {
	if h.interval <= 0 || h.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.ReclaimStale(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.WarnWithContext(logging.WithContext(ctx, h.logger), "reclaim stale claims failed; stuck jobs may remain", "heartbeat_reclaim_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check job database access"),
				)
				continue
			}
			if n > 0 && onReclaim != nil {
				onReclaim(n)
			}
		}
	}
}

// StartLoop refreshes job's heartbeat until ctx is cancelled. When the claim
// turns out to be owned by someone else, onLost is called once and the loop
// stops.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, job *jobs.Job, onLost func(error)) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.UpdateHeartbeat(ctx, job.ID, job.ClaimToken)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, jobs.ErrClaimLost), errors.Is(err, jobs.ErrNotFound):
				logging.WarnWithContext(logger, "claim lost while processing", "claim_lost", logging.Error(err))
				if onLost != nil {
					onLost(err)
				}
				return
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}

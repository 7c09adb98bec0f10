package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"textmill/internal/ingesterr"
	"textmill/internal/jobs"
	"textmill/internal/logging"
)

// consumerError marks failures raised by the consumer chain.
type consumerError struct{ err error }

func (e *consumerError) Error() string { return "consumer: " + e.err.Error() }
func (e *consumerError) Unwrap() error { return e.err }

// failureKind returns the error kind persisted for a failed job.
func failureKind(err error) string {
	kind := ingesterr.KindOf(err)
	var ce *consumerError
	if kind == ingesterr.KindUnknown && errors.As(err, &ce) {
		return ingesterr.KindConsumer
	}
	return kind
}

// processJob runs one claimed job to completion. It returns an error only for
// store failures that should count against the worker; per-job failures are
// recorded on the job and reported through t.
func (m *Manager) processJob(ctx context.Context, job *jobs.Job, t *tally) error {
	jobCtx := logging.WithJobID(ctx, job.ID)
	logger := logging.WithContext(jobCtx, m.logger).With(
		logging.String(logging.FieldArchive, job.ArchivePath),
		logging.String(logging.FieldMember, job.MemberPath),
	)
	started := time.Now()
	logger.Debug("job claimed", logging.Int("attempt", job.Attempts))

	workCtx, cancelWork := context.WithCancelCause(jobCtx)
	defer cancelWork(nil)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(workCtx, &hbWG, job, func(err error) {
		cancelWork(fmt.Errorf("%w: %w", errClaimLost, err))
	})

	res, err := m.execute(workCtx, job)
	lost := errors.Is(context.Cause(workCtx), errClaimLost)
	cancelWork(nil)
	hbWG.Wait()

	switch {
	case err == nil:
		t.process(res)
		logger.Info("job processed",
			logging.Int("texts", res.Texts),
			logging.Int64("words", res.Words),
			logging.Duration("duration", time.Since(started)),
		)
		return nil

	case ctx.Err() != nil:
		m.release(jobCtx, job, t)
		return nil

	case lost || errors.Is(err, jobs.ErrClaimLost):
		logging.WarnWithContext(logger, "job abandoned after losing its claim", "claim_lost",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "another worker or a stale-claim reset took the job"),
		)
		return nil

	case errors.Is(err, ingesterr.ErrStoreUnavailable):
		return err
	}

	kind := failureKind(err)
	if markErr := m.store.MarkFailed(jobCtx, job.ID, job.ClaimToken, kind, err.Error()); markErr != nil {
		if errors.Is(markErr, jobs.ErrClaimLost) {
			logging.WarnWithContext(logger, "could not record failure; claim lost", "claim_lost", logging.Error(markErr))
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		return markErr
	}
	t.fail(kind)
	logging.WarnWithContext(logger, "job failed", "job_failed",
		logging.String(logging.FieldErrorKind, kind),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, failureHint(kind)),
	)
	return nil
}

func (m *Manager) execute(ctx context.Context, job *jobs.Job) (Result, error) {
	text, err := m.reader.Read(ctx, job)
	if err != nil {
		return Result{}, err
	}
	return m.Complete(ctx, job, text)
}

// Complete runs the consumer chain over text and marks the claimed job
// processed. Consumer writes commit in the same transaction as the status
// change; a consumer failure leaves the job claimed and unchanged.
func (m *Manager) Complete(ctx context.Context, job *jobs.Job, text string) (Result, error) {
	var (
		total   Result
		applies []func(context.Context, *sql.Tx) error
	)
	for _, consumer := range m.consumers {
		res, err := consumer.Consume(ctx, job, text)
		if err != nil {
			return Result{}, &consumerError{err: err}
		}
		total.Texts += res.Texts
		total.Words += res.Words
		if res.Apply != nil {
			applies = append(applies, res.Apply)
		}
	}

	err := m.store.MarkProcessedWith(ctx, job.ID, job.ClaimToken, func(tx *sql.Tx) error {
		for _, apply := range applies {
			if err := apply(ctx, tx); err != nil {
				return &consumerError{err: err}
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return total, nil
}

// release returns an interrupted job to pending. The store call outlives the
// cancelled run context so shutdown never strands a claim.
func (m *Manager) release(ctx context.Context, job *jobs.Job, t *tally) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	logger := logging.WithContext(ctx, m.logger)
	if err := m.store.Release(relCtx, job.ID, job.ClaimToken); err != nil {
		logging.WarnWithContext(logger, "failed to release interrupted job", "release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the job is recovered on the next run or by 'textmill jobs recover'"),
		)
		return
	}
	t.release()
	logger.Info("released interrupted job")
}

func failureHint(kind string) string {
	switch kind {
	case ingesterr.KindMemberNotFound:
		return "archive changed since cataloging; re-run 'textmill catalog'"
	case ingesterr.KindCorruptMember:
		return "check decode.encoding and decode.errors, then 'textmill jobs retry'"
	case ingesterr.KindArchiveUnreadable:
		return "archive missing or damaged; restore it and run 'textmill jobs retry'"
	case ingesterr.KindConsumer:
		return "inspect the member with 'textmill extract'"
	default:
		return "check logs for details"
	}
}

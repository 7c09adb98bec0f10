package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"textmill/internal/database"
)

// ClaimNext atomically claims the oldest pending job for worker. It returns
// nil, nil when no pending job exists. Two concurrent callers never receive
// the same job: selection and status change happen in one statement.
func (s *Store) ClaimNext(ctx context.Context, worker string) (*Job, error) {
	ctx = database.EnsureContext(ctx)
	now := formatTime(time.Now())
	token := uuid.NewString()

	var job *Job
	err := database.RetryOnBusy(ctx, func() error {
		row := s.db.SQL().QueryRowContext(ctx,
			`UPDATE jobs
             SET status = ?, claim_token = ?, claimed_by = ?, claimed_at = ?,
                 last_heartbeat = ?, attempts = attempts + 1
             WHERE id = (SELECT id FROM jobs WHERE status = ? ORDER BY id LIMIT 1)
               AND status = ?
             RETURNING `+jobColumns,
			StatusClaimed, token, nullableString(worker), now, now,
			StatusPending, StatusPending,
		)
		scanned, err := scanJob(row)
		if err != nil {
			return err
		}
		job = scanned
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("claim next", err)
	}
	return job, nil
}

// ClaimByID claims a specific pending or failed job for manual processing.
func (s *Store) ClaimByID(ctx context.Context, id int64, worker string) (*Job, error) {
	ctx = database.EnsureContext(ctx)
	now := formatTime(time.Now())
	token := uuid.NewString()

	var job *Job
	err := database.RetryOnBusy(ctx, func() error {
		row := s.db.SQL().QueryRowContext(ctx,
			`UPDATE jobs
             SET status = ?, claim_token = ?, claimed_by = ?, claimed_at = ?,
                 last_heartbeat = ?, attempts = attempts + 1
             WHERE id = ? AND status IN (?, ?)
             RETURNING `+jobColumns,
			StatusClaimed, token, nullableString(worker), now, now,
			id, StatusPending, StatusFailed,
		)
		scanned, err := scanJob(row)
		if err != nil {
			return err
		}
		job = scanned
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current == nil {
			return nil, fmt.Errorf("claim job %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("claim job %d (%s): %w", id, current.Status, ErrNotClaimable)
	}
	if err != nil {
		return nil, storeErr("claim by id", err)
	}
	return job, nil
}

const markProcessedSQL = `UPDATE jobs
    SET status = ?, processed = 1, processed_at = ?, claim_token = NULL,
        last_heartbeat = NULL, error_kind = NULL, error_message = NULL
    WHERE id = ? AND status = ? AND claim_token = ?`

// MarkProcessed records successful extraction of a claimed job. Marking an
// already processed job is a no-op. A token that no longer owns the claim
// yields ErrClaimLost and leaves the job untouched.
func (s *Store) MarkProcessed(ctx context.Context, id int64, token string) error {
	return s.MarkProcessedWith(ctx, id, token, nil)
}

// MarkProcessedWith marks a claimed job processed and runs apply in the same
// transaction. apply only runs when the claim is still owned by token, so its
// writes land exactly once per job; an apply error rolls back both.
func (s *Store) MarkProcessedWith(ctx context.Context, id int64, token string, apply func(tx *sql.Tx) error) error {
	ctx = database.EnsureContext(ctx)
	var affected int64
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, markProcessedSQL,
			StatusProcessed, formatTime(time.Now()),
			id, StatusClaimed, token,
		)
		if err != nil {
			return err
		}
		if affected, err = res.RowsAffected(); err != nil {
			return err
		}
		if affected == 0 || apply == nil {
			return nil
		}
		if err := apply(tx); err != nil {
			return &applyError{err: err}
		}
		return nil
	})
	var applyErr *applyError
	if errors.As(err, &applyErr) {
		return applyErr.err
	}
	if err != nil {
		return storeErr("mark processed", err)
	}
	if affected > 0 {
		return nil
	}
	return s.resolveMissing(ctx, id, "mark processed", true)
}

// applyError keeps caller errors from being tagged as store failures.
type applyError struct{ err error }

func (e *applyError) Error() string { return e.err.Error() }
func (e *applyError) Unwrap() error { return e.err }

// MarkFailed records a failed extraction. The job stays unprocessed and is
// not claimed again until RetryFailed or a manual claim.
func (s *Store) MarkFailed(ctx context.Context, id int64, token, kind, message string) error {
	res, err := s.db.ExecWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, claim_token = NULL, last_heartbeat = NULL,
             error_kind = ?, error_message = ?
         WHERE id = ? AND status = ? AND claim_token = ?`,
		StatusFailed, nullableString(kind), nullableString(message),
		id, StatusClaimed, token,
	)
	if err != nil {
		return storeErr("mark failed", err)
	}
	return s.resolveTransition(ctx, res, id, "mark failed", false)
}

// Release returns a claimed job to pending without recording a failure.
func (s *Store) Release(ctx context.Context, id int64, token string) error {
	res, err := s.db.ExecWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, claim_token = NULL, claimed_by = NULL, claimed_at = NULL,
             last_heartbeat = NULL
         WHERE id = ? AND status = ? AND claim_token = ?`,
		StatusPending,
		id, StatusClaimed, token,
	)
	if err != nil {
		return storeErr("release", err)
	}
	return s.resolveTransition(ctx, res, id, "release", false)
}

// UpdateHeartbeat refreshes the heartbeat of a claim held by token.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64, token string) error {
	res, err := s.db.ExecWithRetry(ctx,
		`UPDATE jobs SET last_heartbeat = ? WHERE id = ? AND status = ? AND claim_token = ?`,
		formatTime(time.Now()), id, StatusClaimed, token,
	)
	if err != nil {
		return storeErr("update heartbeat", err)
	}
	return s.resolveTransition(ctx, res, id, "update heartbeat", false)
}

func (s *Store) resolveTransition(ctx context.Context, res sql.Result, id int64, op string, processedIsNoop bool) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if affected > 0 {
		return nil
	}
	return s.resolveMissing(ctx, id, op, processedIsNoop)
}

// resolveMissing explains why a guarded transition matched no row.
func (s *Store) resolveMissing(ctx context.Context, id int64, op string, processedIsNoop bool) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%s job %d: %w", op, id, ErrNotFound)
	}
	if processedIsNoop && current.Status == StatusProcessed {
		return nil
	}
	return fmt.Errorf("%s job %d (%s): %w", op, id, current.Status, ErrClaimLost)
}

package jobs

import (
	"context"
	"time"
)

// ResetClaimed returns every claimed job to pending. Call it only while
// holding the run lock, when no other worker process can hold live claims.
func (s *Store) ResetClaimed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, claim_token = NULL, claimed_by = NULL, claimed_at = NULL,
             last_heartbeat = NULL
         WHERE status = ?`,
		StatusPending, StatusClaimed,
	)
	if err != nil {
		return 0, storeErr("reset claimed", err)
	}
	return res.RowsAffected()
}

// ReclaimStale returns claimed jobs whose heartbeat is older than cutoff to
// pending. Their former holders lose the claim.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecWithRetry(ctx,
		`UPDATE jobs
         SET status = ?, claim_token = NULL, claimed_by = NULL, claimed_at = NULL,
             last_heartbeat = NULL
         WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		StatusPending, StatusClaimed, formatTime(cutoff),
	)
	if err != nil {
		return 0, storeErr("reclaim stale", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed jobs back to pending. With no ids every failed job
// is retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	query := `UPDATE jobs
        SET status = ?, error_kind = NULL, error_message = NULL
        WHERE status = ?`
	args := []any{StatusPending, StatusFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		args = append(args, idArgs(ids)...)
	}
	res, err := s.db.ExecWithRetry(ctx, query, args...)
	if err != nil {
		return 0, storeErr("retry failed", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, storeErr("job stats", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, storeErr("job stats", err)
		}
		stats[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("job stats", err)
	}
	return stats, nil
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusClaimed:
			health.Claimed += count
		case StatusFailed:
			health.Failed += count
		case StatusProcessed:
			health.Processed += count
		}
	}
	return health, nil
}

// ArchiveSummary reports per-archive job totals.
type ArchiveSummary struct {
	ArchivePath string `json:"archive_path"`
	Jobs        int    `json:"jobs"`
	Processed   int    `json:"processed"`
	Bytes       int64  `json:"bytes"`
}

// Archives lists catalogued archives with job counts.
func (s *Store) Archives(ctx context.Context) ([]ArchiveSummary, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT archive_path, COUNT(1), SUM(processed), SUM(file_size)
         FROM jobs GROUP BY archive_path ORDER BY archive_path`)
	if err != nil {
		return nil, storeErr("archive summary", err)
	}
	defer rows.Close()

	var out []ArchiveSummary
	for rows.Next() {
		var summary ArchiveSummary
		if err := rows.Scan(&summary.ArchivePath, &summary.Jobs, &summary.Processed, &summary.Bytes); err != nil {
			return nil, storeErr("archive summary", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("archive summary", err)
	}
	return out, nil
}

package jobs

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Get fetches a job by identifier. It returns nil, nil when the id is unknown.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	row := s.db.SQL().QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get job", err)
	}
	return job, nil
}

// GetMany fetches jobs by identifier in id order. Unknown ids are skipped.
func (s *Store) GetMany(ctx context.Context, ids ...int64) ([]*Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id IN (` + makePlaceholders(len(ids)) + `) ORDER BY id`
	return s.queryJobs(ctx, "get jobs", query, idArgs(ids)...)
}

// List returns jobs in id order narrowed by filter.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, `status IN (`+makePlaceholders(len(filter.Statuses))+`)`)
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.Archive != "" {
		clauses = append(clauses, `archive_path = ?`)
		args = append(args, filter.Archive)
	}
	if filter.AfterID > 0 {
		clauses = append(clauses, `id > ?`)
		args = append(args, filter.AfterID)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.queryJobs(ctx, "list jobs", query, args...)
}

// CountUnprocessed returns the number of jobs whose processed flag is false,
// regardless of whether they are pending, claimed, or failed.
func (s *Store) CountUnprocessed(ctx context.Context) (int, error) {
	var count int
	if err := s.db.SQL().QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE processed = 0`).Scan(&count); err != nil {
		return 0, storeErr("count unprocessed", err)
	}
	return count, nil
}

// CountPending returns the number of jobs eligible for ClaimNext.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var count int
	if err := s.db.SQL().QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE status = ?`, StatusPending).Scan(&count); err != nil {
		return 0, storeErr("count pending", err)
	}
	return count, nil
}

func (s *Store) queryJobs(ctx context.Context, op, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return jobs, nil
}

package jobs

import (
	"context"
	"database/sql"
	"time"

	"textmill/internal/database"
)

const insertJobSQL = `INSERT INTO jobs (
        archive_path, member_path, file_name, extension, file_size, detected_at
    ) VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT(archive_path, member_path) DO NOTHING`

// Enqueue records a member as a job. Re-enqueueing an existing
// (archive_path, member_path) pair is a no-op and reports created=false; the
// stored record, including its file size, is left untouched.
func (s *Store) Enqueue(ctx context.Context, job NewJob) (bool, error) {
	res, err := s.db.ExecWithRetry(ctx, insertJobSQL,
		job.ArchivePath,
		job.MemberPath,
		job.FileName,
		job.Extension,
		job.FileSize,
		formatTime(time.Now()),
	)
	if err != nil {
		return false, storeErr("enqueue", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("enqueue", err)
	}
	return affected > 0, nil
}

// EnqueueBatch records many members in one transaction and returns the number
// of jobs created. Members already catalogued are skipped.
func (s *Store) EnqueueBatch(ctx context.Context, batch []NewJob) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	ctx = database.EnsureContext(ctx)
	detected := formatTime(time.Now())

	var created int
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		created = 0
		stmt, err := tx.PrepareContext(ctx, insertJobSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, job := range batch {
			res, err := stmt.ExecContext(ctx,
				job.ArchivePath,
				job.MemberPath,
				job.FileName,
				job.Extension,
				job.FileSize,
				detected,
			)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			created += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, storeErr("enqueue batch", err)
	}
	return created, nil
}

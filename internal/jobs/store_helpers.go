package jobs

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, archive_path, member_path, file_name, extension, file_size, processed, status, claim_token, claimed_by, claimed_at, last_heartbeat, attempts, error_kind, error_message, detected_at, processed_at"

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		processed    int64
		status       string
		claimToken   sql.NullString
		claimedBy    sql.NullString
		claimedAt    sql.NullString
		heartbeat    sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		detectedRaw  string
		processedAt  sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.ArchivePath,
		&job.MemberPath,
		&job.FileName,
		&job.Extension,
		&job.FileSize,
		&processed,
		&status,
		&claimToken,
		&claimedBy,
		&claimedAt,
		&heartbeat,
		&job.Attempts,
		&errorKind,
		&errorMessage,
		&detectedRaw,
		&processedAt,
	); err != nil {
		return nil, err
	}

	job.Processed = processed != 0
	job.Status = Status(status)
	job.ClaimToken = claimToken.String
	job.ClaimedBy = claimedBy.String
	job.ErrorKind = errorKind.String
	job.ErrorMessage = errorMessage.String
	if detected, err := parseTimeString(detectedRaw); err == nil {
		job.DetectedAt = detected
	}
	job.ClaimedAt = parseNullableTime(claimedAt)
	job.LastHeartbeat = parseNullableTime(heartbeat)
	job.ProcessedAt = parseNullableTime(processedAt)
	return &job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

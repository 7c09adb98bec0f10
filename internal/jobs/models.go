package jobs

import (
	"errors"
	"strings"
	"time"

	"textmill/internal/database"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusFailed    Status = "failed"
	StatusProcessed Status = "processed"
)

var allStatuses = []Status{
	StatusPending,
	StatusClaimed,
	StatusFailed,
	StatusProcessed,
}

var (
	// ErrNotFound indicates the job id does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrClaimLost indicates the caller's claim token no longer owns the job.
	ErrClaimLost = errors.New("job claim lost")
	// ErrNotClaimable indicates a manual claim targeted a job that is claimed
	// by another worker or already processed.
	ErrNotClaimable = errors.New("job not claimable")
	// ErrSchemaMismatch is returned by Open when the database was written by
	// a different schema version.
	ErrSchemaMismatch = database.ErrSchemaMismatch
)

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// NewJob describes a member discovered during cataloging.
type NewJob struct {
	ArchivePath string
	MemberPath  string
	FileName    string
	Extension   string
	FileSize    int64
}

// Job represents a catalogued archive member persisted in SQLite.
type Job struct {
	ID            int64      `json:"id"`
	ArchivePath   string     `json:"archive_path"`
	MemberPath    string     `json:"member_path"`
	FileName      string     `json:"file_name"`
	Extension     string     `json:"extension"`
	FileSize      int64      `json:"file_size"`
	Processed     bool       `json:"processed"`
	Status        Status     `json:"status"`
	ClaimToken    string     `json:"-"`
	ClaimedBy     string     `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	Attempts      int        `json:"attempts"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	DetectedAt    time.Time  `json:"detected_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Statuses []Status
	Archive  string
	AfterID  int64
	Limit    int
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Claimed   int `json:"claimed"`
	Failed    int `json:"failed"`
	Processed int `json:"processed"`
}

// Unprocessed returns the number of jobs not yet processed.
func (h HealthSummary) Unprocessed() int {
	return h.Pending + h.Claimed + h.Failed
}

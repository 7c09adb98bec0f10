package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"textmill/internal/handles"
	"textmill/internal/jobs"
)

// Mode selects what workers do when the queue is empty.
type Mode int

const (
	// ModeDrain stops a worker once no pending job is left.
	ModeDrain Mode = iota
	// ModeFollow keeps polling for newly catalogued jobs until cancelled.
	ModeFollow
)

func (m Mode) String() string {
	if m == ModeFollow {
		return "follow"
	}
	return "drain"
}

// ErrAlreadyRunning reports that another run holds the catalog lock.
var ErrAlreadyRunning = errors.New("another textmill run is already processing this catalog")

// JobReader resolves a job to its decoded member text.
type JobReader interface {
	Read(ctx context.Context, job *jobs.Job) (string, error)
}

// Result is what a consumer contributes for one job. Apply, when set, runs in
// the transaction that marks the job processed.
type Result struct {
	Texts int
	Words int64
	Apply func(ctx context.Context, tx *sql.Tx) error
}

// Consumer processes the text of one job. Returning an error fails the job.
type Consumer interface {
	Consume(ctx context.Context, job *jobs.Job, text string) (Result, error)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, job *jobs.Job, text string) (Result, error)

// Consume calls f.
func (f ConsumerFunc) Consume(ctx context.Context, job *jobs.Job, text string) (Result, error) {
	return f(ctx, job, text)
}

// Summary reports what a run did.
type Summary struct {
	RunID       string         `json:"run_id"`
	Mode        string         `json:"mode"`
	Workers     int            `json:"workers"`
	ResetOnRun  int64          `json:"reset_on_start"`
	Claimed     int            `json:"claimed"`
	Processed   int            `json:"processed"`
	Released    int            `json:"released"`
	Failed      map[string]int `json:"failed"`
	Reclaimed   int64          `json:"reclaimed"`
	Texts       int            `json:"texts"`
	Words       int64          `json:"words"`
	Remaining   int            `json:"remaining"`
	Interrupted bool           `json:"interrupted"`
	Duration    time.Duration  `json:"duration"`
	Handles     handles.Stats  `json:"handles"`
}

// FailedTotal returns the number of jobs that failed during the run.
func (s Summary) FailedTotal() int {
	total := 0
	for _, n := range s.Failed {
		total += n
	}
	return total
}

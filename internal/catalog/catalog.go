// Package catalog turns located archives into jobs, one per member file.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"textmill/internal/archive"
	"textmill/internal/ingesterr"
	"textmill/internal/jobs"
	"textmill/internal/logging"
)

// Enqueuer persists catalogued members.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, batch []jobs.NewJob) (int, error)
}

// Opener opens an archive by path.
type Opener func(path string) (archive.Archive, error)

// FailedArchive records an archive that could not be catalogued.
type FailedArchive struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Summary reports the outcome of Build.
type Summary struct {
	Archives int             `json:"archives"`
	Failed   []FailedArchive `json:"failed,omitempty"`
	Members  int             `json:"members"`
	Created  int             `json:"created"`
	Existing int             `json:"existing"`
	Duration time.Duration   `json:"duration"`
}

// Builder catalogs archive members into a job store.
type Builder struct {
	store    Enqueuer
	open     Opener
	logger   *slog.Logger
	progress io.Writer
}

// Option customizes a Builder.
type Option func(*Builder)

// WithOpener replaces archive.Open.
func WithOpener(open Opener) Option {
	return func(b *Builder) { b.open = open }
}

// WithProgress renders a progress bar to w.
func WithProgress(w io.Writer) Option {
	return func(b *Builder) { b.progress = w }
}

// New constructs a Builder.
func New(store Enqueuer, logger *slog.Logger, opts ...Option) *Builder {
	b := &Builder{
		store:  store,
		open:   archive.Open,
		logger: logging.NewComponentLogger(logger, "catalog"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build enumerates the members of each archive and enqueues one job per file.
// Running it again over the same archives creates no new jobs. An archive that
// cannot be opened is logged and skipped; a store failure aborts the build.
func (b *Builder) Build(ctx context.Context, archivePaths []string) (Summary, error) {
	start := time.Now()
	summary := Summary{}

	var bar *progressbar.ProgressBar
	if b.progress != nil {
		bar = progressbar.NewOptions(len(archivePaths),
			progressbar.OptionSetWriter(b.progress),
			progressbar.OptionSetDescription("cataloging"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		defer func() { _ = bar.Finish() }()
	}

	for _, archivePath := range archivePaths {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
		summary.Archives++

		members, created, err := b.catalogArchive(ctx, archivePath)
		if bar != nil {
			_ = bar.Add(1)
		}
		if err != nil {
			if errors.Is(err, ingesterr.ErrStoreUnavailable) || ctx.Err() != nil {
				summary.Duration = time.Since(start)
				return summary, err
			}
			logging.WarnWithContext(b.logger, "archive skipped",
				ingesterr.KindArchiveUnreadable,
				logging.String(logging.FieldArchive, archivePath),
				logging.String(logging.FieldErrorKind, ingesterr.KindOf(err)),
				logging.String(logging.FieldErrorHint, "check the archive is complete and readable"),
				logging.Error(err),
			)
			summary.Failed = append(summary.Failed, FailedArchive{Path: archivePath, Error: err.Error()})
			continue
		}
		summary.Members += members
		summary.Created += created
		summary.Existing += members - created
		b.logger.Debug("archive catalogued",
			logging.String(logging.FieldArchive, archivePath),
			logging.Int("members", members),
			logging.Int("created", created),
		)
	}

	summary.Duration = time.Since(start)
	b.logger.Info("catalog complete",
		logging.Int("archives", summary.Archives),
		logging.Int("failed", len(summary.Failed)),
		logging.Int("members", summary.Members),
		logging.Int("created", summary.Created),
		logging.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (b *Builder) catalogArchive(ctx context.Context, archivePath string) (int, int, error) {
	arch, err := b.open(archivePath)
	if err != nil {
		return 0, 0, err
	}
	members, err := arch.Members()
	closeErr := arch.Close()
	if err != nil {
		return 0, 0, ingesterr.Wrap(ingesterr.ErrArchiveUnreadable, "catalog", "list members", archivePath, err)
	}
	if closeErr != nil {
		b.logger.Debug("archive close failed", logging.String(logging.FieldArchive, archivePath), logging.Error(closeErr))
	}

	batch := make([]jobs.NewJob, 0, len(members))
	for _, m := range members {
		if m.IsDir() {
			continue
		}
		name, ext := SplitName(m.Name())
		batch = append(batch, jobs.NewJob{
			ArchivePath: archivePath,
			MemberPath:  m.Name(),
			FileName:    name,
			Extension:   ext,
			FileSize:    m.Size(),
		})
	}
	created, err := b.store.EnqueueBatch(ctx, batch)
	if err != nil {
		return 0, 0, fmt.Errorf("enqueue %s: %w", archivePath, err)
	}
	return len(batch), created, nil
}

// SplitName returns the base name of a member path and its lower-case
// extension without the dot. Leading dots do not start an extension.
func SplitName(memberPath string) (string, string) {
	base := path.Base(strings.TrimSuffix(memberPath, "/"))
	ext := path.Ext(strings.TrimLeft(base, "."))
	return base, strings.ToLower(strings.TrimPrefix(ext, "."))
}

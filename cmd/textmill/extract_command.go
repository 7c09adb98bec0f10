package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"textmill/internal/content"
	"textmill/internal/fileutil"
	"textmill/internal/handles"
	"textmill/internal/ingesterr"
	"textmill/internal/jobs"
	"textmill/internal/pipeline"
	"textmill/internal/textproc"
)

type extractedFile struct {
	ID        int64  `json:"id"`
	Member    string `json:"member"`
	Path      string `json:"path"`
	CleanPath string `json:"clean_path,omitempty"`
	Marked    bool   `json:"marked"`
}

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	var clean bool
	var mark bool

	cmd := &cobra.Command{
		Use:   "extract <id>...",
		Short: "Write the decoded text of specific jobs to files",
		Long: "Extract reads the named jobs' members and writes <id>.txt into the output directory.\n" +
			"With --clean a <id>_clean.txt holding the cleaned extracted texts is written too.\n" +
			"With --mark each job is claimed, consumed and marked processed like a run would.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			dir := outDir
			if dir == "" {
				dir = cfg.Paths.SampleDir
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			return ctx.withStore(func(store *jobs.Store) error {
				cache := handles.New(cfg.Archives.MaxOpenHandles, nil, logger)
				defer cache.Close()
				reader, err := content.NewFromConfig(cfg, cache)
				if err != nil {
					return err
				}
				manager := pipeline.NewManager(cfg, store, reader, logger)
				worker := "extract-" + strconv.Itoa(os.Getpid())

				var written []extractedFile
				for _, id := range ids {
					job, err := store.Get(cmd.Context(), id)
					if err != nil {
						return err
					}
					if job == nil {
						return fmt.Errorf("job %d: %w", id, jobs.ErrNotFound)
					}
					if mark {
						if job, err = store.ClaimByID(cmd.Context(), id, worker); err != nil {
							return fmt.Errorf("claim job %d: %w", id, err)
						}
					}

					// fail returns err, settling the claim first under --mark.
					fail := func(err error, recordFailure bool) error {
						err = fmt.Errorf("job %d: %w", id, err)
						if !mark {
							return err
						}
						if cmd.Context().Err() != nil {
							recordFailure = false
						}
						return errors.Join(err, settleClaim(cmd.Context(), store, job, err, recordFailure))
					}

					text, err := reader.Read(cmd.Context(), job)
					if err != nil {
						return fail(err, ingesterr.IsJobFailure(err))
					}

					file := extractedFile{ID: id, Member: job.MemberPath, Path: filepath.Join(dir, fmt.Sprintf("%d.txt", id))}
					if err := fileutil.WriteFileAtomic(file.Path, []byte(text), 0o644); err != nil {
						return fail(err, false)
					}
					if clean {
						file.CleanPath = filepath.Join(dir, fmt.Sprintf("%d_clean.txt", id))
						if err := fileutil.WriteFileAtomic(file.CleanPath, []byte(cleanTexts(text)), 0o644); err != nil {
							return fail(err, false)
						}
					}
					if mark {
						if _, err := manager.Complete(cmd.Context(), job, text); err != nil {
							return fail(err, ingesterr.IsJobFailure(err))
						}
						file.Marked = true
					}
					written = append(written, file)
				}

				if ctx.JSONMode() {
					return writeJSON(cmd, written)
				}
				out := cmd.OutOrStdout()
				for _, f := range written {
					fmt.Fprintf(out, "Job %d (%s) -> %s\n", f.ID, f.Member, f.Path)
					if f.CleanPath != "" {
						fmt.Fprintf(out, "Job %d cleaned -> %s\n", f.ID, f.CleanPath)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (defaults to paths.sample_dir)")
	cmd.Flags().BoolVar(&clean, "clean", false, "Also write the cleaned extracted texts")
	cmd.Flags().BoolVar(&mark, "mark", false, "Claim, consume and mark the jobs processed")
	return cmd
}

// settleClaim records a failed manual claim, or releases it when the cause
// says nothing about the job itself. An error means the job is still claimed.
func settleClaim(ctx context.Context, store *jobs.Store, job *jobs.Job, cause error, recordFailure bool) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	if recordFailure {
		kind := ingesterr.KindOf(cause)
		if kind == ingesterr.KindUnknown {
			kind = ingesterr.KindConsumer
		}
		err = store.MarkFailed(ctx, job.ID, job.ClaimToken, kind, cause.Error())
	} else {
		err = store.Release(ctx, job.ID, job.ClaimToken)
	}
	if err != nil {
		return fmt.Errorf("job %d left claimed (see 'textmill jobs recover'): %w", job.ID, err)
	}
	return nil
}

func cleanTexts(raw string) string {
	var out []byte
	for _, text := range textproc.ExtractTexts(raw) {
		out = append(out, textproc.Clean(text)...)
	}
	return string(out)
}

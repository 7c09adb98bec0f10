package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"textmill/internal/content"
	"textmill/internal/handles"
	"textmill/internal/jobs"
	"textmill/internal/pipeline"
	"textmill/internal/preflight"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var workers int
	var follow bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract text from every unprocessed job",
		Long: "Run claims pending jobs with a pool of workers, extracts their text, and marks them processed.\n" +
			"Without --follow the run ends once the catalog is drained. Interrupting a run releases\n" +
			"in-flight jobs so the next run picks them up again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := preflight.Failures(preflight.RunAll(cfg)); err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			return ctx.withStore(func(store *jobs.Store) error {
				cache := handles.New(cfg.Archives.MaxOpenHandles, nil, logger)
				defer cache.Close()

				reader, err := content.NewFromConfig(cfg, cache)
				if err != nil {
					return err
				}

				opts := []pipeline.Option{pipeline.WithHandleStats(cache.Stats)}
				if workers > 0 {
					opts = append(opts, pipeline.WithWorkers(workers))
				}
				if follow {
					opts = append(opts, pipeline.WithMode(pipeline.ModeFollow))
				}

				summary, err := pipeline.NewManager(cfg, store, reader, logger, opts...).Run(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, summary)
				}
				printRunSummary(cmd, summary)
				if summary.Interrupted {
					return context.Canceled
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Worker count (defaults to workflow.workers)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling for new jobs until interrupted")
	return cmd
}

func printRunSummary(cmd *cobra.Command, s pipeline.Summary) {
	out := cmd.OutOrStdout()
	printFields(out, [][2]string{
		{"Run", s.RunID},
		{"Mode", s.Mode},
		{"Workers", strconv.Itoa(s.Workers)},
		{"Claimed", strconv.Itoa(s.Claimed)},
		{"Processed", strconv.Itoa(s.Processed)},
		{"Failed", strconv.Itoa(s.FailedTotal())},
		{"Released", strconv.Itoa(s.Released)},
		{"Recovered claims", strconv.FormatInt(s.ResetOnRun+s.Reclaimed, 10)},
		{"Texts", humanize.Comma(int64(s.Texts))},
		{"Words", humanize.Comma(s.Words)},
		{"Remaining", strconv.Itoa(s.Remaining)},
		{"Archive opens", fmt.Sprintf("%d (%d hits, %d evictions)", s.Handles.Opens, s.Handles.Hits, s.Handles.Evictions)},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	})

	if len(s.Failed) == 0 {
		return
	}
	kinds := make([]string, 0, len(s.Failed))
	for kind := range s.Failed {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	rows := make([][]string, 0, len(kinds))
	for _, kind := range kinds {
		rows = append(rows, []string{kind, strconv.Itoa(s.Failed[kind])})
	}
	fmt.Fprintln(out)
	printTable(out, []string{"Failure kind", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}, "")
	fmt.Fprintln(out, "Inspect failures with 'textmill jobs list --status failed'; requeue with 'textmill jobs retry'.")
}

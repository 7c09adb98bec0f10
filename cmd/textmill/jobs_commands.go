package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"textmill/internal/jobs"
	"textmill/internal/pipeline"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage the job catalog",
	}

	jobsCmd.AddCommand(newJobsStatusCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsRecoverCommand(ctx))
	jobsCmd.AddCommand(newJobsResetCommand(ctx))
	jobsCmd.AddCommand(newJobsHealthCommand(ctx))

	return jobsCmd
}

type jobsStatusReport struct {
	jobs.HealthSummary
	Archives []jobs.ArchiveSummary `json:"archives,omitempty"`
}

func newJobsStatusCommand(ctx *commandContext) *cobra.Command {
	var perArchive bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job counts per state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *jobs.Store) error {
				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				report := jobsStatusReport{HealthSummary: summary}
				if perArchive {
					if report.Archives, err = store.Archives(cmd.Context()); err != nil {
						return err
					}
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, report)
				}

				out := cmd.OutOrStdout()
				if summary.Total == 0 {
					fmt.Fprintln(out, "Catalog is empty (run 'textmill catalog')")
					return nil
				}
				rows := [][]string{
					{string(jobs.StatusPending), strconv.Itoa(summary.Pending)},
					{string(jobs.StatusClaimed), strconv.Itoa(summary.Claimed)},
					{string(jobs.StatusFailed), strconv.Itoa(summary.Failed)},
					{string(jobs.StatusProcessed), strconv.Itoa(summary.Processed)},
					{"total", strconv.Itoa(summary.Total)},
				}
				printTable(out, []string{"Status", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}, "")

				if perArchive {
					archiveRows := make([][]string, 0, len(report.Archives))
					for _, a := range report.Archives {
						archiveRows = append(archiveRows, []string{
							a.ArchivePath,
							strconv.Itoa(a.Jobs),
							strconv.Itoa(a.Processed),
							humanize.Bytes(uint64(a.Bytes)),
						})
					}
					fmt.Fprintln(out)
					printTable(out, []string{"Archive", "Jobs", "Processed", "Member bytes"}, archiveRows,
						[]columnAlignment{alignLeft, alignRight, alignRight, alignRight}, "")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&perArchive, "archives", "a", false, "Break counts down per archive")
	return cmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var archivePath string
	var afterID int64
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := jobs.Filter{Archive: strings.TrimSpace(archivePath), AfterID: afterID, Limit: limit}
			for _, value := range statuses {
				status, ok := jobs.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q (expected one of %s)", value, joinStatuses())
				}
				filter.Statuses = append(filter.Statuses, status)
			}

			return ctx.withStore(func(store *jobs.Store) error {
				list, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					if list == nil {
						list = []*jobs.Job{}
					}
					return writeJSON(cmd, list)
				}
				rows := make([][]string, 0, len(list))
				for _, job := range list {
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						string(job.Status),
						job.MemberPath,
						humanize.Bytes(uint64(job.FileSize)),
						job.ErrorKind,
					})
				}
				printTable(cmd.OutOrStdout(), []string{"ID", "Status", "Member", "Size", "Error"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft}, "No matching jobs")
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&archivePath, "archive", "", "Only jobs from this archive path")
	cmd.Flags().Int64Var(&afterID, "after", 0, "Only jobs with an id greater than this")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum jobs to list (0 for all)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *jobs.Store) error {
				job, err := store.Get(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d: %w", ids[0], jobs.ErrNotFound)
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, job)
				}
				fields := [][2]string{
					{"ID", strconv.FormatInt(job.ID, 10)},
					{"Status", string(job.Status)},
					{"Archive", job.ArchivePath},
					{"Member", job.MemberPath},
					{"File name", job.FileName},
					{"Extension", job.Extension},
					{"Size", humanize.Bytes(uint64(job.FileSize))},
					{"Attempts", strconv.Itoa(job.Attempts)},
					{"Detected", job.DetectedAt.Format(time.RFC3339)},
				}
				if job.ClaimedBy != "" {
					fields = append(fields, [2]string{"Claimed by", job.ClaimedBy})
				}
				if job.LastHeartbeat != nil {
					fields = append(fields, [2]string{"Last heartbeat", humanize.Time(*job.LastHeartbeat)})
				}
				if job.ProcessedAt != nil {
					fields = append(fields, [2]string{"Processed", job.ProcessedAt.Format(time.RFC3339)})
				}
				if job.ErrorKind != "" {
					fields = append(fields, [2]string{"Error kind", job.ErrorKind}, [2]string{"Error", job.ErrorMessage})
				}
				printFields(cmd.OutOrStdout(), fields)
				return nil
			})
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Return failed jobs to pending (all failed jobs when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *jobs.Store) error {
				n, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed job(s)\n", n)
				return nil
			})
		},
	}
}

func newJobsRecoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Return claimed jobs left behind by an interrupted run to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock, err := pipeline.AcquireRunLock(cfg)
			if errors.Is(err, pipeline.ErrAlreadyRunning) {
				return fmt.Errorf("cannot recover claims while a run is active: %w", err)
			}
			if err != nil {
				return err
			}
			defer lock.Release()

			return ctx.withStore(func(store *jobs.Store) error {
				n, err := store.ResetClaimed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d claimed job(s)\n", n)
				return nil
			})
		},
	}
}

func newJobsResetCommand(ctx *commandContext) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every job, word count and token and recreate the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("reset deletes the whole catalog; pass --yes to confirm")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock, err := pipeline.AcquireRunLock(cfg)
			if errors.Is(err, pipeline.ErrAlreadyRunning) {
				return fmt.Errorf("cannot reset the database while a run is active: %w", err)
			}
			if err != nil {
				return err
			}
			defer lock.Release()
			out := cmd.OutOrStdout()

			store, err := ctx.ensureStore()
			if errors.Is(err, jobs.ErrSchemaMismatch) {
				// An incompatible file cannot be opened, so it is replaced instead.
				path := cfg.DatabasePath()
				for _, name := range []string{path, path + "-wal", path + "-shm"} {
					if rmErr := os.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
						return fmt.Errorf("remove %s: %w", name, rmErr)
					}
				}
				fresh, openErr := jobs.Open(path)
				if openErr != nil {
					return fmt.Errorf("recreate job store: %w", openErr)
				}
				_ = fresh.Close()
				fmt.Fprintf(out, "Replaced incompatible database at %s\n", path)
				return nil
			}
			if err != nil {
				return err
			}
			if err := store.DB().Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "Reset database at %s\n", cfg.DatabasePath())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "Confirm the reset")
	return cmd
}

func parseJobIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid job id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func joinStatuses() string {
	all := jobs.AllStatuses()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

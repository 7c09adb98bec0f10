package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"textmill/internal/archive"
	"textmill/internal/catalog"
	"textmill/internal/config"
	"textmill/internal/jobs"
	"textmill/internal/preflight"
)

func newDiscoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List archives under the input directory without cataloging them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			locations, err := locate(cmd.Context(), ctx, cfg)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				if locations == nil {
					locations = []archive.Location{}
				}
				return writeJSON(cmd, locations)
			}

			rows := make([][]string, 0, len(locations))
			var total uint64
			for _, loc := range locations {
				rows = append(rows, []string{loc.Path, string(loc.Format), humanize.Bytes(uint64(loc.Size))})
				total += uint64(loc.Size)
			}
			out := cmd.OutOrStdout()
			printTable(out, []string{"Archive", "Format", "Size"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight}, "No archives found in "+cfg.Paths.InputDir)
			if len(rows) > 0 {
				fmt.Fprintf(out, "%d archives, %s\n", len(rows), humanize.Bytes(total))
			}
			return nil
		},
	}
}

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Locate archives and record one job per member",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := preflight.Failures(preflight.RunAll(cfg)); err != nil {
				return err
			}
			locations, err := locate(cmd.Context(), ctx, cfg)
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			return ctx.withStore(func(store *jobs.Store) error {
				var opts []catalog.Option
				if !ctx.JSONMode() && isatty.IsTerminal(os.Stderr.Fd()) {
					opts = append(opts, catalog.WithProgress(os.Stderr))
				}
				summary, err := catalog.New(store, logger, opts...).Build(cmd.Context(), archive.Paths(locations))
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, summary)
				}
				printCatalogSummary(cmd, summary)
				return nil
			})
		},
	}
}

func locate(ctx context.Context, cc *commandContext, cfg *config.Config) ([]archive.Location, error) {
	logger, err := cc.ensureLogger()
	if err != nil {
		return nil, err
	}
	return archive.Locate(ctx, cfg.Paths.InputDir, archive.LocateOptions{
		Extensions:     cfg.Archives.Extensions,
		FollowSymlinks: cfg.Archives.FollowSymlinks,
		Logger:         logger,
	})
}

func printCatalogSummary(cmd *cobra.Command, summary catalog.Summary) {
	out := cmd.OutOrStdout()
	printFields(out, [][2]string{
		{"Archives", strconv.Itoa(summary.Archives)},
		{"Unreadable", strconv.Itoa(len(summary.Failed))},
		{"Members", strconv.Itoa(summary.Members)},
		{"New jobs", strconv.Itoa(summary.Created)},
		{"Already cataloged", strconv.Itoa(summary.Existing)},
		{"Duration", summary.Duration.Round(time.Millisecond).String()},
	})
	if len(summary.Failed) == 0 {
		return
	}
	rows := make([][]string, 0, len(summary.Failed))
	for _, f := range summary.Failed {
		rows = append(rows, []string{f.Path, f.Error})
	}
	fmt.Fprintln(out)
	printTable(out, []string{"Unreadable archive", "Error"}, rows, nil, "")
}

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"textmill/internal/database"
	"textmill/internal/jobs"
	"textmill/internal/preflight"
)

type healthReport struct {
	Database  database.Health    `json:"database"`
	Preflight []preflight.Result `json:"preflight"`
}

func newJobsHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database integrity and directory access",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *jobs.Store) error {
				dbHealth, err := store.DB().CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				report := healthReport{Database: dbHealth, Preflight: preflight.RunAll(cfg)}
				if ctx.JSONMode() {
					return writeJSON(cmd, report)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database path: %s\n", dbHealth.Path)
				fmt.Fprintf(out, "Database exists: %s\n", yesNo(dbHealth.DatabaseExists))
				fmt.Fprintf(out, "Readable: %s\n", yesNo(dbHealth.DatabaseReadable))
				fmt.Fprintf(out, "Schema version: %d\n", dbHealth.SchemaVersion)
				if len(dbHealth.MissingTables) > 0 {
					fmt.Fprintf(out, "Missing tables: %s\n", strings.Join(dbHealth.MissingTables, ", "))
				} else {
					fmt.Fprintln(out, "Missing tables: none")
				}
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(dbHealth.IntegrityCheck))
				tables := make([]string, 0, len(dbHealth.RowCounts))
				for table := range dbHealth.RowCounts {
					tables = append(tables, table)
				}
				sort.Strings(tables)
				for _, table := range tables {
					fmt.Fprintf(out, "Rows in %s: %d\n", table, dbHealth.RowCounts[table])
				}
				if dbHealth.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", dbHealth.Error)
				}
				for _, r := range report.Preflight {
					state := "ok"
					if !r.Passed {
						state = "FAIL"
					}
					fmt.Fprintf(out, "%s directory: %s (%s)\n", r.Name, state, r.Detail)
				}
				return nil
			})
		},
	}
}

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"textmill/internal/jobs"
	"textmill/internal/stats"
)

func newWordsCommand(ctx *commandContext) *cobra.Command {
	wordsCmd := &cobra.Command{
		Use:   "words",
		Short: "Inspect word counts gathered by runs",
	}
	wordsCmd.AddCommand(newWordsTopCommand(ctx))
	wordsCmd.AddCommand(newWordsCountCommand(ctx))
	return wordsCmd
}

func newWordsTopCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the most frequent words",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *jobs.Store) error {
				top, err := stats.NewWordCounter(store.DB()).Top(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					if top == nil {
						top = []stats.WordCount{}
					}
					return writeJSON(cmd, top)
				}
				rows := make([][]string, 0, len(top))
				for i, wc := range top {
					rows = append(rows, []string{strconv.Itoa(i + 1), wc.Word, humanize.Comma(wc.Count)})
				}
				printTable(cmd.OutOrStdout(), []string{"Rank", "Word", "Count"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignRight}, "No words counted yet")
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of words to show")
	return cmd
}

func newWordsCountCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "count <word>...",
		Short: "Show the count of specific words",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *jobs.Store) error {
				counter := stats.NewWordCounter(store.DB())
				out := cmd.OutOrStdout()
				for _, word := range args {
					n, err := counter.Count(cmd.Context(), strings.ToLower(word))
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s\t%d\n", word, n)
				}
				return nil
			})
		},
	}
}

func newTokensCommand(ctx *commandContext) *cobra.Command {
	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage the token vocabulary",
	}
	tokensCmd.AddCommand(newTokensImportCommand(ctx))
	tokensCmd.AddCommand(newTokensLookupCommand(ctx))
	return tokensCmd
}

func newTokensImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <vocab-file>",
		Short: "Import a piece<TAB>score vocabulary; ids are line numbers from zero",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open vocabulary: %w", err)
			}
			defer file.Close()

			return ctx.withStore(func(store *jobs.Store) error {
				added, err := stats.NewTokenStore(store.DB()).ImportVocab(cmd.Context(), file)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d token(s) from %s\n", added, args[0])
				return nil
			})
		},
	}
}

func newTokensLookupCommand(ctx *commandContext) *cobra.Command {
	var byID bool

	cmd := &cobra.Command{
		Use:   "lookup <piece|id>...",
		Short: "Look up token ids by piece, or pieces by id with --id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *jobs.Store) error {
				tokens := stats.NewTokenStore(store.DB())
				out := cmd.OutOrStdout()
				for _, arg := range args {
					if byID {
						id, err := strconv.ParseInt(arg, 10, 64)
						if err != nil {
							return fmt.Errorf("invalid token id %q", arg)
						}
						piece, ok, err := tokens.Piece(cmd.Context(), id)
						if err != nil {
							return err
						}
						if !ok {
							fmt.Fprintf(out, "%d\t(not found)\n", id)
							continue
						}
						fmt.Fprintf(out, "%d\t%s\n", id, piece)
						continue
					}
					id, ok, err := tokens.ID(cmd.Context(), arg)
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintf(out, "%s\t(not found)\n", arg)
						continue
					}
					fmt.Fprintf(out, "%s\t%d\n", arg, id)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&byID, "id", false, "Treat arguments as token ids")
	return cmd
}

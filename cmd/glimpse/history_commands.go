package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"glimpse/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past captioning runs",
	}

	cmd.AddCommand(newHistoryListCommand(ctx))
	cmd.AddCommand(newHistoryClearCommand(ctx))

	return cmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent captioning runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *history.Store) error {
				runs, err := store.ListRecent(cmd.Context(), limit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}

				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						shortID(run.ID),
						truncate(run.Label, 24),
						run.StartedAt.Local().Format("2006-01-02 15:04"),
						strconv.Itoa(run.Processed),
						strconv.Itoa(run.Errors),
						runStatus(run),
						run.Model,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Label", "Started", "Images", "Errors", "Status", "Model"},
					rows,
					alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft,
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	return cmd
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("pass --yes to confirm deleting all run history")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			// A schema mismatch means the store cannot open at all, and this
			// command is the documented way out. Remove the file instead.
			store, err := history.Open(cfg)
			if errors.Is(err, history.ErrSchemaMismatch) {
				if err := removeHistoryDatabase(cfg.HistoryDBPath()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Removed incompatible history database")
				return nil
			}
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion without prompting")
	return cmd
}

func removeHistoryDatabase(path string) error {
	for _, name := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"glimpse/internal/history"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its captions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *history.Store) error {
				run, err := store.FindRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("no run matches %q", args[0])
				}
				captions, err := store.Captions(cmd.Context(), run.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderDetailLine("Run", run.ID))
				fmt.Fprintln(out, renderDetailLine("Label", run.Label))
				fmt.Fprintln(out, renderDetailLine("Directory", run.Directory))
				fmt.Fprintln(out, renderDetailLine("Model", fmt.Sprintf("%s (%s)", run.Model, run.Engine)))
				fmt.Fprintln(out, renderDetailLine("Profile", run.Device+"/"+run.Quantization))
				fmt.Fprintln(out, renderDetailLine("Started", run.StartedAt.Local().Format("2006-01-02 15:04:05")))
				fmt.Fprintln(out, renderDetailLine("Status", runStatus(run)))
				fmt.Fprintln(out, renderDetailLine("Images", fmt.Sprintf("%d captioned, %d failed", run.Processed, run.Errors)))

				if len(captions) == 0 {
					fmt.Fprintln(out, "No captions recorded")
					return nil
				}

				captionWidth := 60
				if full {
					captionWidth = 0
				}
				rows := make([][]string, 0, len(captions))
				for _, caption := range captions {
					rows = append(rows, []string{
						caption.Filename,
						truncate(caption.Caption, captionWidth),
						caption.Dimensions,
						(time.Duration(caption.DurationMS) * time.Millisecond).String(),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Image", "Caption", "Dimensions", "Time"},
					rows,
					alignLeft, alignLeft, alignLeft, alignRight,
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Print captions without truncation")
	return cmd
}

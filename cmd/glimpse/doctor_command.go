package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"glimpse/internal/notifications"
	"glimpse/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that glimpse is ready to caption",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			failed := 0
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
					failed++
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			// A broken ntfy topic should not fail the doctor; runs work
			// without notifications.
			if cfg.Notifications.NtfyTopic != "" {
				notifier := notifications.NewService(cfg)
				kind, detail := statusOK, "test notification sent"
				if err := notifier.TestNotification(cmd.Context()); err != nil {
					kind, detail = statusWarn, err.Error()
				}
				fmt.Fprintln(out, renderStatusLine("Notifications", kind, detail, colorize))
			}

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}

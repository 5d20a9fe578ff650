package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"glimpse/internal/prompts"
)

func newPromptsCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "prompts",
		Short:       "List the built-in prompt presets",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := prompts.Presets()
			rows := make([][]string, 0, len(presets))
			for _, preset := range presets {
				rows = append(rows, []string{preset.Name, preset.Prompt})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Preset", "Prompt"}, rows))
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/simplui/simplui/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the version",
	GroupID: "system",
	// No config or logger needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			_ = printJSON(cmd.OutOrStdout(), map[string]string{"version": version.Version, "commit": version.Commit()})
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the relfetch version and the User-Agent it sends to GitHub.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", Version)
		fmt.Fprintf(cmd.OutOrStdout(), "User-Agent: relfetch (v%s)\n", Version)
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}

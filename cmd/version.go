package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of suitectl",
		Long:  `All software has versions. This is suitectl's.`,
		Run: func(cmd *cobra.Command, args []string) {
			// The version template in root.go handles --version; this is the
			// explicit subcommand.
			fmt.Fprintf(cmd.OutOrStdout(), "suitectl version %s\n", rootCmd.Version)
		},
	}
}

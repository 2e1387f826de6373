package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overwritten at release build time via -ldflags, mirroring
// the teacher's internal/version.GetWazeroVersion "dev vs tagged" split.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wasmsplit version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

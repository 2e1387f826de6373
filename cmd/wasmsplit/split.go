package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wasm-split/wasmsplit/internal/splitter"
)

func newSplitCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "split <input.wasm> <output-dir>",
		Short: "Split a linked WebAssembly module into lazily loadable pieces",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading input module %s: %w", args[0], err)
			}

			res, err := splitter.Run(input, splitter.Options{
				OutDir:  args[1],
				Verbose: verbose || viper.GetBool("verbose"),
				Log:     cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}

			for _, f := range res.Files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print per-output function/size diagnostics")
	return cmd
}

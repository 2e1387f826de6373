package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// newRootCmd builds the command tree fresh for every invocation (rather
// than a package-level var) so that run is safely callable more than once
// per process, which the tests rely on.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wasmsplit",
		Short:         "Splits a linked WebAssembly module into lazily loadable pieces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.wasmsplit.yaml)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initConfig()
	}

	root.AddCommand(newSplitCmd(), newVersionCmd())
	return root
}

// initConfig wires Viper the way cucaracha/cmd/root.go does: an explicit
// --config file if given, else a well-known name in the home directory,
// plus WASMSPLIT_* environment variables. The only key read from either
// source is "verbose", consulted by the split command.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".wasmsplit")
	}

	viper.SetEnvPrefix("wasmsplit")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return err
		}
	}
	return nil
}

// run builds and executes the command tree against args, writing to the
// given streams, and returns the process exit code. Kept separate from
// main so tests can exercise the whole CLI without calling os.Exit.
func run(stdOut, stdErr io.Writer, args []string) int {
	root := newRootCmd()
	root.SetOut(stdOut)
	root.SetErr(stdErr)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		io.WriteString(stdErr, err.Error()+"\n")
		return 1
	}
	return 0
}

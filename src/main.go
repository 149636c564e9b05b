package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var (
		debug    bool
		envFiles []string
	)

	rootCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Sharded Discord gateway sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Human readable debug logging")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, "Env files to load before the environment (default .env)")

	rootCmd.AddCommand(
		runCmd(&debug, &envFiles),
		lockdCmd(&debug),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

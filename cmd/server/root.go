package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:   "sai-pipeline",
	Short: "Middleware pipeline service with JWT and session authentication",
	Long: `sai-pipeline serves greeting and session endpoints through a composable
middleware pipeline: dependency container, binding, validation, logging,
timing, error translation and a JWT plus session cache auth stack.

Settings come from a YAML file overlaid by .env files and the environment.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, ".env files to load before the environment")
}

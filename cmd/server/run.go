package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-pipeline/config"
	"github.com/saiset-co/sai-pipeline/service"
	"github.com/saiset-co/sai-pipeline/types"
)

var runFlags struct {
	framework string
	port      int
	logLevel  string
	dryRun    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the HTTP service",
	Long: `Start the HTTP service with the configured web framework.

Examples:
  # Start with defaults and the environment
  sai-pipeline run

  # Start from a config file on the chi router
  sai-pipeline run --config config.yml --framework chi

  # Validate settings without listening
  sai-pipeline run --dry-run`,
	RunE: runServer,
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the registered routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd.Context())
		if err != nil {
			return err
		}

		svc, err := service.New(cmd.Context(), settings, []service.Option{service.WithoutSignals()})
		if err != nil {
			return err
		}
		defer func() { _ = svc.Container().Close() }()

		for _, route := range svc.WebApp().Routes() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-7s %s\n", route.Method, route.Path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(routesCmd)

	runCmd.Flags().StringVar(&runFlags.framework, "framework", "", "override web framework (fasthttp, chi)")
	runCmd.Flags().IntVarP(&runFlags.port, "port", "p", 0, "override listen port")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate settings without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd.Context())
	if err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid")
		return nil
	}

	svc, err := service.New(cmd.Context(), settings, nil)
	if err != nil {
		return err
	}

	return svc.Start()
}

// loadSettings reads file and environment sources, applies flag overrides
// and validates the final result.
func loadSettings(ctx context.Context) (*types.Settings, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	manager, err := config.NewManager(ctx, cfgFile, envFiles...)
	if err != nil {
		return nil, err
	}

	settings := *manager.Settings()

	if runFlags.framework != "" {
		settings.WebFramework = runFlags.framework
	}
	if runFlags.port != 0 {
		settings.Port = runFlags.port
	}
	if runFlags.logLevel != "" {
		settings.Logger.Level = runFlags.logLevel
	}

	validated, err := config.FromSettings(&settings)
	if err != nil {
		return nil, err
	}

	return validated.Settings(), nil
}

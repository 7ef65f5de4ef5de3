package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	buildVersion = "dev"
)

// ErrIncomplete is returned when a run finished but some specs or handles
// failed. The details have already been printed.
var ErrIncomplete = errors.New("run finished with failures")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cloudsim",
		Short: "CloudSim - in-memory cloud provisioning simulator",
		Long: `CloudSim simulates a cloud provider in memory: compute instances, object
storage buckets, managed databases and serverless functions.

Features:
  - Topologies in YAML, JSON, CUE or Starlark
  - Ordered provisioning with per-spec failure reporting
  - Guardrail policies written in Rego
  - Audit journal of runs and resource events in SQLite
  - HTTP API with Prometheus metrics`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newProvisionCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

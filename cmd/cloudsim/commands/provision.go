package commands

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudsim/pkg/config"
	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/orchestrator"
)

func newProvisionCommand() *cobra.Command {
	var (
		topologyPath string
		demo         bool
		skipCleanup  bool
		forceCleanup bool
		policyDir    string
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision a topology",
		Long: `Provision every resource in a topology, then destroy it again.

Kinds are created in a fixed order: instances, buckets, databases,
functions. A failed spec stops the remaining specs of its kind; other
kinds still run. Cleanup destroys everything in reverse order unless
--skip-cleanup is given.

Without --topology the built-in demo stack is provisioned and a short
tour of instance, bucket and function operations runs against it.`,
		Example: `  # Run the demo
  cloudsim provision

  # Provision a topology file and keep it
  cloudsim provision --topology stack.yaml --skip-cleanup

  # Apply extra policies and delete non-empty buckets during cleanup
  cloudsim provision -t stack.star --policies ./policies --force-cleanup`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if topologyPath == "" {
				demo = true
			}

			rt, err := newRuntime(ctx, runtimeOptions{policyDir: policyDir})
			if err != nil {
				return err
			}
			defer rt.Close()

			topo, err := resolveTopology(ctx, rt, topologyPath)
			if err != nil {
				return err
			}

			ctx = orchestrator.ContextWithSource(ctx, runSource(topologyPath))
			log.Info().Int("specs", topo.Count()).Bool("demo", demo).Msg("Provisioning topology")

			res, err := rt.orch.Provision(ctx, topo)
			if err != nil {
				return err
			}

			handles := slices.Clone(res.Created)
			var demoErr error
			if demo {
				extra, err := runDemoOperations(ctx, rt.orch)
				handles = append(handles, extra...)
				demoErr = err
				if err != nil {
					log.Error().Err(err).Msg("Demo operations failed")
				}
			}

			var report *orchestrator.DestroyReport
			if skipCleanup {
				log.Info().Int("resources", len(handles)).Msg("Skipping cleanup")
			} else {
				// Cleanup runs even after an interrupt.
				report = rt.orch.Destroy(context.WithoutCancel(ctx), handles,
					orchestrator.DestroyOptions{ForceBuckets: forceCleanup || demo})
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, struct {
					Provision *orchestrator.Result        `json:"provision"`
					Cleanup   *orchestrator.DestroyReport `json:"cleanup,omitempty"`
				}{res, report}); err != nil {
					return err
				}
			} else {
				printProvisionResult(out, res)
				if report != nil {
					printDestroyReport(out, report)
				}
			}

			if demoErr != nil {
				return demoErr
			}
			if !res.OK() || (report != nil && !report.OK()) {
				return ErrIncomplete
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&topologyPath, "topology", "t", "", "topology file (.yaml, .json, .cue or .star)")
	cmd.Flags().BoolVar(&demo, "demo", false, "provision the built-in demo stack (default when no --topology)")
	cmd.Flags().BoolVar(&skipCleanup, "skip-cleanup", false, "leave provisioned resources in place")
	cmd.Flags().BoolVar(&forceCleanup, "force-cleanup", false, "delete buckets together with their objects during cleanup")
	cmd.Flags().StringVar(&policyDir, "policies", "", "directory of additional .rego or .json policies")
	cmd.MarkFlagsMutuallyExclusive("demo", "topology")

	return cmd
}

// resolveTopology loads path, or returns the demo topology when path is
// empty. Starlark scripts see the configured environment as "environment".
func resolveTopology(ctx context.Context, rt *runtime, path string) (engine.Topology, error) {
	if path == "" {
		return demoTopology(), nil
	}
	topo, err := config.LoadTopology(ctx, path,
		config.WithStarlarkInput(map[string]interface{}{"environment": rt.settings.Environment}))
	if err != nil {
		return nil, fmt.Errorf("failed to load topology: %w", err)
	}
	return topo, nil
}

// runSource labels journal runs with the topology path, or "demo".
func runSource(path string) string {
	if path == "" {
		return "demo"
	}
	return path
}

package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudsim/pkg/orchestrator"
)

func newStatusCommand() *cobra.Command {
	var topologyPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Provision a topology and show the resulting inventory",
		Long: `Provision a topology (the demo stack by default) and print the
inventory of every kind, grouped by state. Nothing is destroyed; the
simulator state lives only as long as the process.`,
		Example: `  # Inventory of the demo stack
  cloudsim status

  # Inventory of a topology, as JSON
  cloudsim status --topology stack.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			topo, err := resolveTopology(ctx, rt, topologyPath)
			if err != nil {
				return err
			}

			res, err := rt.orch.Provision(orchestrator.ContextWithSource(ctx, runSource(topologyPath)), topo)
			if err != nil {
				return err
			}
			if !res.OK() {
				log.Warn().
					Int("failed", len(res.Failures)).
					Int("skipped", len(res.Skipped)).
					Msg("Some specs were not provisioned")
			}

			snap, err := rt.orch.Status(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), snap)
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	cmd.Flags().StringVarP(&topologyPath, "topology", "t", "", "topology file (default: demo stack)")

	return cmd
}

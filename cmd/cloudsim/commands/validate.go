package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudsim/pkg/config"
	"github.com/openfroyo/cloudsim/pkg/policy"
)

type validateOutput struct {
	Path       string             `json:"path"`
	Specs      int                `json:"specs"`
	Issues     []config.Issue     `json:"issues"`
	Violations []policy.Violation `json:"violations"`
	Valid      bool               `json:"valid"`
}

func newValidateCommand() *cobra.Command {
	var policyDir string

	cmd := &cobra.Command{
		Use:   "validate <topology>",
		Short: "Validate a topology without provisioning it",
		Long: `Validate a topology file against the built-in schemas and the
guardrail policies.

This command checks:
  - File syntax (YAML, JSON, CUE or Starlark)
  - Kind names and spec shapes
  - Field types, ranges and allowed values (CUE schemas)
  - Policy compliance (Rego)

Policy warnings are reported but do not fail validation.`,
		Example: `  # Validate a topology
  cloudsim validate stack.yaml

  # Validate against extra policies
  cloudsim validate --policies ./policies stack.star`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			rt, err := newRuntime(ctx, runtimeOptions{policyDir: policyDir})
			if err != nil {
				return err
			}
			defer rt.Close()

			log.Debug().Str("path", path).Msg("Validating topology")

			topo, err := resolveTopology(ctx, rt, path)
			if err != nil {
				return err
			}

			schemas, err := config.NewSchemaRegistry()
			if err != nil {
				return err
			}
			issues, err := schemas.ValidateTopology(ctx, topo)
			if err != nil {
				return fmt.Errorf("schema validation failed: %w", err)
			}

			report, err := rt.policy.EvaluateTopology(ctx, topo)
			if err != nil {
				return fmt.Errorf("policy evaluation failed: %w", err)
			}

			out := validateOutput{
				Path:       path,
				Specs:      topo.Count(),
				Issues:     issues,
				Violations: report.Violations(),
				Valid:      len(issues) == 0 && report.Allowed(),
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(w, out); err != nil {
					return err
				}
			} else {
				for _, issue := range out.Issues {
					fmt.Fprintf(w, "%s: %s\n", issue.Severity, issue)
				}
				for _, v := range out.Violations {
					fmt.Fprintf(w, "%s: %s\n", v.Severity, v)
				}
				if out.Valid {
					fmt.Fprintf(w, "%s: %d specs valid\n", path, out.Specs)
				} else {
					fmt.Fprintf(w, "%s: invalid\n", path)
				}
			}

			if !out.Valid {
				return ErrIncomplete
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policyDir, "policies", "", "directory of additional .rego or .json policies")

	return cmd
}

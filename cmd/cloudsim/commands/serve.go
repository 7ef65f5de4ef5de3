package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/cloudsim/pkg/api"
	"github.com/openfroyo/cloudsim/pkg/orchestrator"
	"github.com/openfroyo/cloudsim/pkg/policy"
)

func newServeCommand() *cobra.Command {
	var (
		address      string
		topologyPath string
		policyDir    string
		watch        bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the simulator over HTTP",
		Long: `Start the HTTP API. Metrics are served on /metrics, or on a dedicated
listener when metrics.address is set.

With --watch the policy directory is reloaded whenever a file in it
changes.`,
		Example: `  # Serve on the configured address
  cloudsim serve

  # Serve on another port with a preloaded topology
  cloudsim serve --address :9090 --topology stack.yaml

  # Hot-reload policies
  cloudsim serve --policies ./policies --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, runtimeOptions{policyDir: policyDir})
			if err != nil {
				return err
			}
			defer rt.Close()

			settings := rt.settings
			if address == "" {
				address = settings.Server.Address
			}
			if policyDir == "" {
				policyDir = settings.Policy.Dir
			}

			if topologyPath != "" {
				topo, err := resolveTopology(ctx, rt, topologyPath)
				if err != nil {
					return err
				}
				res, err := rt.orch.Provision(orchestrator.ContextWithSource(ctx, topologyPath), topo)
				if err != nil {
					return err
				}
				log.Info().Int("created", len(res.Created)).Bool("ok", res.OK()).Msg("Preloaded topology")
			}

			if (watch || settings.Policy.Watch) && policyDir != "" {
				loader, err := rt.policy.Watch(ctx, []string{policyDir},
					policy.WithLoaderLogger(rt.tel.Logger.NewComponentLogger("policy-loader")))
				if err != nil {
					return fmt.Errorf("failed to watch policies: %w", err)
				}
				defer func() { _ = loader.StopWatching() }()
			}

			srv := api.NewServer(rt.orch, api.WithTelemetry(rt.tel)).
				NewHTTPServer(address, settings.Server.ReadTimeout, settings.Server.WriteTimeout)
			servers := []*http.Server{srv}
			if ms := rt.tel.Metrics.NewMetricsServer(); ms != nil {
				servers = append(servers, ms)
			}

			g, gctx := errgroup.WithContext(ctx)
			for _, s := range servers {
				g.Go(func() error {
					log.Info().Str("address", s.Addr).Msg("Listening")
					if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("server on %s failed: %w", s.Addr, err)
					}
					return nil
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settings.Server.ShutdownTimeout)
				defer cancel()

				log.Info().Msg("Shutting down HTTP servers")
				var errs []error
				for _, s := range servers {
					errs = append(errs, s.Shutdown(shutdownCtx))
				}
				return errors.Join(errs...)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (default from settings)")
	cmd.Flags().StringVarP(&topologyPath, "topology", "t", "", "topology to provision before serving")
	cmd.Flags().StringVar(&policyDir, "policies", "", "directory of additional .rego or .json policies")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload policies when the directory changes")

	return cmd
}

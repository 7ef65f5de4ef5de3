package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/cloudsim/pkg/config"
	"github.com/openfroyo/cloudsim/pkg/orchestrator"
	"github.com/openfroyo/cloudsim/pkg/policy"
	"github.com/openfroyo/cloudsim/pkg/registry"
	"github.com/openfroyo/cloudsim/pkg/stores"
	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

// runtime holds everything a command needs to drive the simulator.
type runtime struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	policy   *policy.Engine
	journal  *stores.SQLiteStore
	orch     *orchestrator.Orchestrator
}

type runtimeOptions struct {
	// policyDir overrides the settings file when non-empty.
	policyDir string
}

func loadSettings() (*config.Settings, error) {
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.Log.Level = "debug"
	}
	return settings, nil
}

// newRuntime loads settings and wires telemetry, policies, the journal and
// the orchestrator. The global zerolog logger is replaced with the
// configured one.
func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	log.Logger = tel.Logger.Zerolog()

	rt := &runtime{settings: settings, tel: tel}

	rt.policy, err = newPolicyEngine(ctx, settings, tel, opts.policyDir)
	if err != nil {
		rt.Close()
		return nil, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithTelemetry(tel),
		orchestrator.WithPolicyEngine(rt.policy),
	}
	if jc, ok := settings.JournalConfig(); ok {
		rt.journal, err = stores.Open(ctx, jc)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithJournal(rt.journal))
	}

	rt.orch = orchestrator.New(registry.New(), orchOpts...)
	return rt, nil
}

func newPolicyEngine(ctx context.Context, settings *config.Settings, tel *telemetry.Telemetry, dir string) (*policy.Engine, error) {
	opts := []policy.Option{
		policy.WithLogger(tel.Logger),
		policy.WithEnvironment(settings.Environment),
	}
	if settings.Policy.DisableBuiltins {
		opts = append(opts, policy.WithoutBuiltins())
	}
	eng, err := policy.NewEngine(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	if dir == "" {
		dir = settings.Policy.Dir
	}
	if dir != "" {
		if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", dir, err)
		}
	}
	return eng, nil
}

// Close flushes telemetry and closes the journal.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close journal")
		}
	}
	if err := rt.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

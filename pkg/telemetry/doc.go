// Package telemetry provides observability instrumentation for CloudSim.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and event publishing.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Kind modules accept an engine.Observer. Passing tel.Observer() counts
// every operation in the metrics registry and publishes it as an event:
//
//	compute.NewManager(reg, compute.WithObserver(tel.Observer()))
//
// # Runs
//
// A provision or destroy run is bracketed by StartRun and Run.End. The
// returned context carries the run ID, so events published from kind
// modules during the run are attributed to it:
//
//	ctx, run := tel.StartRun(ctx, runID, "provision")
//	defer run.End("succeeded", err)
//
// # Logging
//
// File outputs are rotated with lumberjack. Components derive child loggers:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger.WithResource(engine.KindInstance, id).Info("created")
//
// # Metrics
//
//   - cloudsim_runs_started_total{operation}
//   - cloudsim_runs_completed_total{operation,status}
//   - cloudsim_run_duration_seconds{operation}
//   - cloudsim_resource_operations_total{kind,action,outcome}
//   - cloudsim_resources{kind,state}
//   - cloudsim_errors_total{kind,code}
//   - cloudsim_policy_violations_total{policy,severity}
//   - cloudsim_active_runs
//
// # Exporters
//
// Tracing supports "stdout", "otlp" (gRPC) and "none".
package telemetry

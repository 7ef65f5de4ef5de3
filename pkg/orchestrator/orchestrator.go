package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/openfroyo/cloudsim/pkg/compute"
	"github.com/openfroyo/cloudsim/pkg/database"
	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/functions"
	"github.com/openfroyo/cloudsim/pkg/policy"
	"github.com/openfroyo/cloudsim/pkg/registry"
	"github.com/openfroyo/cloudsim/pkg/status"
	"github.com/openfroyo/cloudsim/pkg/storage"
	"github.com/openfroyo/cloudsim/pkg/stores"
	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

// Orchestrator drives whole topologies through the kind modules. It owns no
// resource state; everything it knows about a resource is a Handle.
type Orchestrator struct {
	reg     *registry.Registry
	tel     *telemetry.Telemetry
	log     *telemetry.Logger
	policy  *policy.Engine
	journal stores.Journal

	instances *compute.Manager
	buckets   *storage.Manager
	databases *database.Manager
	functions *functions.Manager

	kinds map[engine.Kind]Provisioner

	// runs are serialized so journal entries and metrics of two runs never
	// interleave.
	runMu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTelemetry sets the telemetry bundle shared with the kind modules.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tel = t
		}
	}
}

// WithPolicyEngine checks every spec against eng before provisioning it.
func WithPolicyEngine(eng *policy.Engine) Option {
	return func(o *Orchestrator) { o.policy = eng }
}

// WithJournal records every run and its events in j. When j can subscribe
// to telemetry events, it is subscribed.
func WithJournal(j stores.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithProvisioner replaces the kind module used for p.Kind().
func WithProvisioner(p Provisioner) Option {
	return func(o *Orchestrator) {
		o.kinds[p.Kind()] = p
	}
}

type journalSubscriber interface {
	Subscriber(ctx context.Context, onError func(error)) telemetry.EventSubscriber
}

// New builds the four kind modules on reg and an orchestrator over them.
func New(reg *registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:   reg,
		tel:   telemetry.NewNopTelemetry(),
		kinds: make(map[engine.Kind]Provisioner),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.tel.Logger.NewComponentLogger("orchestrator")

	obs := o.tel.Observer()
	o.instances = compute.NewManager(reg, compute.WithLogger(o.tel.Logger), compute.WithObserver(obs))
	o.buckets = storage.NewManager(reg, storage.WithLogger(o.tel.Logger), storage.WithObserver(obs))
	o.databases = database.NewManager(reg, database.WithLogger(o.tel.Logger), database.WithObserver(obs))
	o.functions = functions.NewManager(reg, functions.WithLogger(o.tel.Logger), functions.WithObserver(obs))

	for _, p := range []Provisioner{o.instances, o.buckets, o.databases, o.functions} {
		if _, replaced := o.kinds[p.Kind()]; !replaced {
			o.kinds[p.Kind()] = p
		}
	}

	if sub, ok := o.journal.(journalSubscriber); ok {
		o.tel.Events.Subscribe(sub.Subscriber(context.Background(), func(err error) {
			o.log.WithError(err).Warn("Failed to journal event")
		}), nil)
	}

	return o
}

// Registry returns the registry shared by the kind modules.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Instances returns the instance module.
func (o *Orchestrator) Instances() *compute.Manager { return o.instances }

// Buckets returns the storage module.
func (o *Orchestrator) Buckets() *storage.Manager { return o.buckets }

// Databases returns the database module.
func (o *Orchestrator) Databases() *database.Manager { return o.databases }

// Functions returns the function module.
func (o *Orchestrator) Functions() *functions.Manager { return o.functions }

// Journal returns the audit journal, or nil.
func (o *Orchestrator) Journal() stores.Journal { return o.journal }

// Provision creates every spec of topo, kind by kind in engine.ProvisionOrder
// and in list order within a kind. A failed spec stops the rest of its kind,
// which are reported as skipped; other kinds still run and nothing already
// created is rolled back.
//
// The returned error is reserved for a topology that cannot be run at all.
func (o *Orchestrator) Provision(ctx context.Context, topo Topology) (*Result, error) {
	for kind := range topo {
		if _, ok := o.kinds[kind]; !ok || !slices.Contains(engine.ProvisionOrder, kind) {
			return nil, engine.NewValidationError(fmt.Sprintf("kind %q cannot be provisioned", kind), nil).
				WithOperation("provision")
		}
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()

	result := &Result{RunID: uuid.NewString(), Created: []engine.Handle{}}
	o.beginRun(ctx, result.RunID, stores.RunOperationProvision)
	ctx, run := o.tel.StartRun(ctx, result.RunID, string(stores.RunOperationProvision))
	log := telemetry.FromContext(ctx).NewComponentLogger("orchestrator")

	for _, kind := range engine.ProvisionOrder {
		p := o.kinds[kind]
		aborted := false
		for i, spec := range topo[kind] {
			name := policy.SpecName(kind, spec)
			if aborted {
				result.Skipped = append(result.Skipped, SkippedSpec{Kind: kind, Index: i, Name: name})
				continue
			}

			h, err := o.provisionOne(ctx, result, p, kind, name, spec)
			if err != nil {
				log.WithResource(kind, name).WithError(err).Warnf("%s[%d] failed, skipping %d remaining", kind, i, len(topo[kind])-i-1)
				result.Failures = append(result.Failures, SpecFailure{Kind: kind, Index: i, Name: name, Spec: spec, Err: err})
				aborted = true
				continue
			}
			result.Created = append(result.Created, h)
		}
	}

	counts := stores.RunCounts{
		Succeeded: len(result.Created),
		Failed:    len(result.Failures),
		Skipped:   len(result.Skipped),
	}
	var runErr error
	if len(result.Created) == 0 && len(result.Failures) > 0 {
		runErr = result.Failures[0].Err
	}
	o.endRun(ctx, run, counts, runErr)

	log.WithFields(map[string]interface{}{
		"created":  counts.Succeeded,
		"failed":   counts.Failed,
		"skipped":  counts.Skipped,
		"warnings": len(result.Warnings),
	}).Info("Provision run finished")

	return result, nil
}

func (o *Orchestrator) provisionOne(ctx context.Context, result *Result, p Provisioner, kind engine.Kind, name string, spec engine.RawSpec) (engine.Handle, error) {
	if o.policy != nil {
		res, err := o.policy.EvaluateSpec(ctx, kind, spec)
		if err != nil {
			return engine.Handle{}, err
		}
		for _, v := range res.Violations {
			o.tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
			_ = o.tel.Events.PublishPolicyViolation(result.RunID, kind, name, v.Policy, string(v.Severity), v.Message)
			if !v.Severity.Blocking() {
				result.Warnings = append(result.Warnings, v)
			}
		}
		if err := res.Err(kind, name); err != nil {
			o.tel.Metrics.RecordError(kind, engine.CodeOf(err))
			return engine.Handle{}, err
		}
	}

	var h engine.Handle
	err := o.tel.TraceResource(ctx, kind, engine.ActionCreate, name, func(ctx context.Context) error {
		var err error
		h, err = p.Provision(ctx, spec)
		return err
	})
	return h, err
}

// DestroyResult tears down everything a provision run created.
func (o *Orchestrator) DestroyResult(ctx context.Context, r *Result, opts DestroyOptions) *DestroyReport {
	return o.Destroy(ctx, r.Created, opts)
}

// Destroy tears down handles in reverse kind order (functions first,
// instances last) and in reverse list order within a kind. It is
// best-effort: every handle is attempted and failures are collected.
// A handle already torn down reports NotFound.
func (o *Orchestrator) Destroy(ctx context.Context, handles []engine.Handle, opts DestroyOptions) *DestroyReport {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	report := &DestroyReport{RunID: uuid.NewString(), Destroyed: []engine.Handle{}}
	o.beginRun(ctx, report.RunID, stores.RunOperationDestroy)
	ctx, run := o.tel.StartRun(ctx, report.RunID, string(stores.RunOperationDestroy))
	log := telemetry.FromContext(ctx).NewComponentLogger("orchestrator")

	byKind := make(map[engine.Kind][]engine.Handle)
	for _, h := range handles {
		byKind[h.Kind] = append(byKind[h.Kind], h)
	}
	order := slices.Clone(engine.ProvisionOrder)
	slices.Reverse(order)
	for kind := range byKind {
		if !slices.Contains(order, kind) {
			order = append(order, kind)
		}
	}

	for _, kind := range order {
		hs := byKind[kind]
		p, ok := o.kinds[kind]
		for _, h := range slices.Backward(hs) {
			var err error
			if !ok {
				err = engine.NewValidationError(fmt.Sprintf("kind %q cannot be destroyed", kind), nil)
			} else {
				h = o.resolveHandle(h)
				err = o.tel.TraceResource(ctx, kind, engine.ActionDelete, h.Key(), func(ctx context.Context) error {
					return p.Teardown(ctx, h, opts.ForceBuckets)
				})
			}
			if err != nil {
				log.WithResource(kind, h.Key()).WithError(err).Warn("Teardown failed")
				report.Failures = append(report.Failures, HandleFailure{Handle: h, Err: err})
				continue
			}
			report.Destroyed = append(report.Destroyed, h)
		}
	}

	counts := stores.RunCounts{Succeeded: len(report.Destroyed), Failed: len(report.Failures)}
	var runErr error
	if len(report.Destroyed) == 0 && len(report.Failures) > 0 {
		runErr = report.Failures[0].Err
	}
	o.endRun(ctx, run, counts, runErr)

	log.WithFields(map[string]interface{}{
		"destroyed": counts.Succeeded,
		"failed":    counts.Failed,
	}).Info("Destroy run finished")

	return report
}

// resolveHandle fills in whichever of id and name the caller left out, so
// managers keyed by name can tear down an id-only handle and vice versa.
// Unknown handles are returned unchanged and fail in Teardown.
func (o *Orchestrator) resolveHandle(h engine.Handle) engine.Handle {
	switch {
	case h.Name == "" && h.ID != "":
		if rec, err := o.reg.Get(h.Kind, h.ID); err == nil {
			h.Name = rec.Name
		}
	case h.ID == "" && h.Name != "":
		if id, err := o.reg.ResolveName(h.Kind, h.Name); err == nil {
			h.ID = id
		}
	}
	return h
}

// Status returns a snapshot of every kind, detached database snapshots
// included.
func (o *Orchestrator) Status(ctx context.Context) (*status.Snapshot, error) {
	return status.Collect(ctx, o.sources()...)
}

func (o *Orchestrator) sources() []status.Source {
	out := make([]status.Source, 0, len(engine.ProvisionOrder)+1)
	for _, kind := range engine.ProvisionOrder {
		out = append(out, o.kinds[kind])
	}
	return append(out, status.SourceFunc(engine.KindSnapshot, o.databases.SnapshotSummaries))
}

// beginRun journals the run before any event refers to it.
func (o *Orchestrator) beginRun(ctx context.Context, runID string, op stores.RunOperation) {
	if o.journal == nil {
		return
	}
	err := o.journal.CreateRun(ctx, &stores.Run{
		ID:        runID,
		Operation: op,
		Source:    sourceFromContext(ctx),
		Status:    stores.RunStatusRunning,
	})
	if err != nil {
		o.log.WithRunID(runID).WithError(err).Warn("Failed to journal run")
	}
}

func (o *Orchestrator) endRun(ctx context.Context, run *telemetry.Run, counts stores.RunCounts, runErr error) {
	st := runStatus(counts)
	run.End(string(st), runErr)
	o.refreshGauges(ctx)

	if o.journal == nil {
		return
	}
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	if err := o.journal.FinishRun(context.WithoutCancel(ctx), run.ID, st, counts, msg); err != nil {
		o.log.WithRunID(run.ID).WithError(err).Warn("Failed to journal run outcome")
	}
}

func runStatus(c stores.RunCounts) stores.RunStatus {
	switch {
	case c.Failed == 0 && c.Skipped == 0:
		return stores.RunStatusSucceeded
	case c.Succeeded == 0:
		return stores.RunStatusFailed
	default:
		return stores.RunStatusPartial
	}
}

// refreshGauges publishes per-kind state counts after a run.
func (o *Orchestrator) refreshGauges(ctx context.Context) {
	snap, err := o.Status(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			o.log.WithError(err).Warn("Failed to refresh resource gauges")
		}
		return
	}
	for kind, ks := range snap.Kinds {
		o.tel.Metrics.SetResourceCounts(kind, ks.Totals)
	}
}

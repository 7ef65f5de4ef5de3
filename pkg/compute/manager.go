package compute

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/registry"
	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

// Manager implements the instance lifecycle on top of a shared registry.
type Manager struct {
	reg      *registry.Registry
	log      *telemetry.Logger
	observer engine.Observer
	validate *validator.Validate
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *telemetry.Logger) Option {
	return func(m *Manager) {
		m.log = l.NewComponentLogger("compute")
	}
}

// WithObserver registers an observer notified of every transition.
func WithObserver(o engine.Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// NewManager creates an instance manager backed by reg.
func NewManager(reg *registry.Registry, opts ...Option) *Manager {
	v := engine.NewValidator()
	_ = v.RegisterValidation("instance_type", func(fl validator.FieldLevel) bool {
		return slices.Contains(InstanceTypes, fl.Field().String())
	})

	m := &Manager{
		reg:      reg,
		log:      telemetry.NewNopLogger(),
		observer: engine.Observers(nil),
		validate: v,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Kind returns engine.KindInstance.
func (m *Manager) Kind() engine.Kind {
	return engine.KindInstance
}

// CreateInstance validates spec, registers a new instance in pending and
// boots it to running.
func (m *Manager) CreateInstance(ctx context.Context, spec InstanceSpec) (*Instance, error) {
	spec.applyDefaults()
	if err := m.validate.Struct(spec); err != nil {
		return nil, engine.FromValidator(engine.KindInstance, err).WithOperation("create")
	}

	attrs := &Attributes{
		InstanceType:   spec.InstanceType,
		AMIID:          spec.AMIID,
		KeyName:        spec.KeyName,
		SecurityGroups: slices.Clone(spec.SecurityGroups),
	}
	attrs.PublicIP, attrs.PrivateIP = allocateAddresses()

	rec, err := m.reg.Create(engine.KindInstance, engine.Draft{
		State:      Lifecycle.Initial(),
		Attributes: attrs,
		Tags:       maps.Clone(spec.Tags),
	})
	if err != nil {
		return nil, err
	}
	m.notify(ctx, rec, engine.ActionCreate, "", rec.State)

	rec, err = m.transition(ctx, rec.ID, engine.ActionStart, StateRunning, nil)
	if err != nil {
		return nil, err
	}

	m.log.WithResource(engine.KindInstance, rec.ID).
		Infof("launched %s instance from %s", attrs.InstanceType, attrs.AMIID)
	return fromRecord(rec), nil
}

// StopInstance moves a running instance to stopped.
func (m *Manager) StopInstance(ctx context.Context, id string) (*Instance, error) {
	rec, err := m.transition(ctx, id, engine.ActionStop, StateStopped, nil)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// StartInstance moves a stopped instance back to running.
func (m *Manager) StartInstance(ctx context.Context, id string) (*Instance, error) {
	rec, err := m.transition(ctx, id, engine.ActionStart, StateRunning, func(rec *engine.Record) error {
		if rec.State != StateStopped {
			return engine.NewInvalidTransitionError(engine.KindInstance, id, rec.State, StateRunning)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// RebootInstance restarts a running instance in place. The state does not
// change; the reboot counter does.
func (m *Manager) RebootInstance(ctx context.Context, id string) (*Instance, error) {
	rec, err := m.reg.Update(engine.KindInstance, id, func(rec *engine.Record) error {
		if rec.State != StateRunning {
			return engine.NewInvalidTransitionError(engine.KindInstance, id, rec.State, StateRunning).
				WithOperation(string(engine.ActionReboot))
		}
		rec.Attributes.(*Attributes).Reboots++
		return nil
	})
	if err != nil {
		m.fail(ctx, id, engine.ActionReboot, err)
		return nil, err
	}
	m.notify(ctx, rec, engine.ActionReboot, StateRunning, StateRunning)
	return fromRecord(rec), nil
}

// TerminateInstance moves an instance to terminated. The record stays
// visible; terminated is a sink.
func (m *Manager) TerminateInstance(ctx context.Context, id string) (*Instance, error) {
	rec, err := m.transition(ctx, id, engine.ActionTerminate, StateTerminated, nil)
	if err != nil {
		return nil, err
	}
	m.log.WithResource(engine.KindInstance, id).Info("instance terminated")
	return fromRecord(rec), nil
}

// TagInstance merges tags into the instance's tag set.
func (m *Manager) TagInstance(ctx context.Context, id string, tags map[string]string) (*Instance, error) {
	rec, err := m.reg.Update(engine.KindInstance, id, func(rec *engine.Record) error {
		maps.Copy(rec.Tags, tags)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.notify(ctx, rec, engine.ActionTag, rec.State, rec.State)
	return fromRecord(rec), nil
}

// GetInstance returns the instance with the given id.
func (m *Manager) GetInstance(_ context.Context, id string) (*Instance, error) {
	rec, err := m.reg.Get(engine.KindInstance, id)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// ListInstances returns instances in creation order. With no states given
// every instance is returned.
func (m *Manager) ListInstances(_ context.Context, states ...engine.State) iter.Seq[*Instance] {
	return func(yield func(*Instance) bool) {
		for rec := range m.reg.List(engine.KindInstance, engine.StateFilter(states...)) {
			if !yield(fromRecord(rec)) {
				return
			}
		}
	}
}

// Provision decodes a raw topology spec and creates the instance.
func (m *Manager) Provision(ctx context.Context, raw engine.RawSpec) (engine.Handle, error) {
	var spec InstanceSpec
	if err := engine.DecodeSpec(engine.KindInstance, raw, &spec); err != nil {
		return engine.Handle{}, err
	}
	inst, err := m.CreateInstance(ctx, spec)
	if err != nil {
		return engine.Handle{}, err
	}
	return engine.Handle{Kind: engine.KindInstance, ID: inst.ID}, nil
}

// Teardown terminates the instance behind h. A terminated instance has
// already been torn down, so it is reported as NotFound.
func (m *Manager) Teardown(ctx context.Context, h engine.Handle, _ bool) error {
	_, err := m.TerminateInstance(ctx, h.ID)
	if errors.Is(err, engine.ErrInvalidStateTransition) {
		if inst, gerr := m.GetInstance(ctx, h.ID); gerr == nil && inst.State == StateTerminated {
			return engine.NewNotFoundError(engine.KindInstance, h.ID).
				WithOperation("teardown").
				WithDetail("state", string(StateTerminated))
		}
	}
	return err
}

// Summaries lists every instance for status reporting.
func (m *Manager) Summaries(_ context.Context) iter.Seq[engine.Summary] {
	return func(yield func(engine.Summary) bool) {
		for rec := range m.reg.List(engine.KindInstance, engine.Filter{}) {
			attrs := rec.Attributes.(*Attributes)
			s := engine.Summary{
				ID:    rec.ID,
				State: rec.State,
				Tags:  rec.Tags,
				Details: map[string]string{
					"instance_type": attrs.InstanceType,
					"public_ip":     attrs.PublicIP,
					"private_ip":    attrs.PrivateIP,
				},
			}
			if !yield(s) {
				return
			}
		}
	}
}

// transition moves the instance to target after checking the state machine
// (and guard, if any) inside the registry lock.
func (m *Manager) transition(ctx context.Context, id string, action engine.Action, target engine.State, guard func(*engine.Record) error) (engine.Record, error) {
	var from engine.State
	rec, err := m.reg.Update(engine.KindInstance, id, func(rec *engine.Record) error {
		from = rec.State
		if guard != nil {
			if err := guard(rec); err != nil {
				return err
			}
		}
		if err := Lifecycle.Transition(id, rec.State, target); err != nil {
			return err
		}
		rec.State = target
		return nil
	})
	if err != nil {
		m.fail(ctx, id, action, err)
		return engine.Record{}, engine.AnnotateOperation(err, string(action))
	}
	m.notify(ctx, rec, action, from, target)
	return rec, nil
}

func (m *Manager) notify(ctx context.Context, rec engine.Record, action engine.Action, from, to engine.State) {
	m.log.WithResource(engine.KindInstance, rec.ID).Debugf("%s: %s -> %s", action, from, to)
	m.observer.Observe(ctx, engine.Change{
		Kind:   engine.KindInstance,
		ID:     rec.ID,
		Action: action,
		From:   from,
		To:     to,
	})
}

func (m *Manager) fail(ctx context.Context, id string, action engine.Action, err error) {
	m.log.WithResource(engine.KindInstance, id).WithError(err).Warnf("%s rejected", action)
	m.observer.Observe(ctx, engine.Change{Kind: engine.KindInstance, ID: id, Action: action, Err: err})
}

// allocateAddresses derives a public and a private IPv4 address from a
// random UUID.
func allocateAddresses() (public, private string) {
	u := uuid.New()
	public = fmt.Sprintf("54.%d.%d.%d", u[0], u[1], max(u[2], 1))
	private = fmt.Sprintf("10.0.%d.%d", u[3], max(u[4], 1))
	return public, private
}

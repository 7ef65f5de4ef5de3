package functions

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"iter"
	"maps"
	"slices"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/registry"
	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

const simulatedMessage = "Function executed successfully (simulated)"

// Manager implements serverless functions on top of a shared registry.
// Functions are addressed by name.
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
		m.log = l.NewComponentLogger("functions")
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

// NewManager creates a function manager backed by reg.
func NewManager(reg *registry.Registry, opts ...Option) *Manager {
	v := engine.NewValidator()
	_ = v.RegisterValidation("function_name", func(fl validator.FieldLevel) bool {
		return ValidFunctionName(fl.Field().String())
	})
	_ = v.RegisterValidation("runtime", func(fl validator.FieldLevel) bool {
		return slices.Contains(Runtimes, fl.Field().String())
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

// Kind returns engine.KindFunction.
func (m *Manager) Kind() engine.Kind {
	return engine.KindFunction
}

// CreateFunction validates spec, registers the function in pending and
// activates it.
func (m *Manager) CreateFunction(ctx context.Context, spec FunctionSpec) (*Function, error) {
	spec.applyDefaults()
	if err := m.validate.Struct(spec); err != nil {
		return nil, engine.FromValidator(engine.KindFunction, err).
			WithResource(spec.Name).WithOperation(string(engine.ActionCreate))
	}

	code := spec.Code
	if code == "" {
		code = "inline://" + spec.Name
	}
	sum, size := codeDigest(code)

	rec, err := m.reg.Create(engine.KindFunction, engine.Draft{
		Name:  spec.Name,
		State: Lifecycle.Initial(),
		Attributes: &Attributes{
			ARN:           arnPrefix + spec.Name,
			Runtime:       spec.Runtime,
			Handler:       spec.Handler,
			Role:          spec.Role,
			Description:   spec.Description,
			Timeout:       *spec.Timeout,
			MemorySize:    *spec.MemorySize,
			Environment:   maps.Clone(spec.Environment),
			CodeReference: code,
			CodeSHA256:    sum,
			CodeSize:      size,
			Revision:      1,
		},
		Tags: maps.Clone(spec.Tags),
	})
	if err != nil {
		m.fail(ctx, spec.Name, engine.ActionCreate, err)
		return nil, err
	}
	m.notify(ctx, rec, engine.ActionCreate, "", rec.State)

	rec, err = m.transition(ctx, spec.Name, engine.ActionCreate, nil, StateActive)
	if err != nil {
		return nil, err
	}
	m.log.WithResource(engine.KindFunction, rec.ID).
		Infof("created function %s (%s, %dMB)", spec.Name, spec.Runtime, *spec.MemorySize)
	return fromRecord(rec), nil
}

// Invoke simulates a call to an active function. RequestResponse and Event
// invocations are counted; DryRun only checks that the call would be
// accepted. The returned payload echoes the input.
func (m *Manager) Invoke(ctx context.Context, name string, payload json.RawMessage, typ InvocationType) (*InvocationResult, error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	if typ == "" {
		typ = InvocationRequestResponse
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, engine.NewValidationError("payload is not valid JSON", nil).
			WithKind(engine.KindFunction).WithResource(name).
			WithOperation(string(engine.ActionInvoke))
	}

	id, err := m.reg.ResolveName(engine.KindFunction, name)
	if err != nil {
		return nil, engine.AnnotateOperation(err, string(engine.ActionInvoke))
	}
	rec, err := m.reg.Update(engine.KindFunction, id, func(rec *engine.Record) error {
		if rec.State != StateActive {
			return engine.NewInvalidTransitionError(engine.KindFunction, name, rec.State, rec.State).
				WithDetail("reason", "function is not active")
		}
		if typ != InvocationDryRun {
			rec.Attributes.(*Attributes).Invocations++
		}
		return nil
	})
	if err != nil {
		m.fail(ctx, name, engine.ActionInvoke, err)
		return nil, engine.AnnotateOperation(err, string(engine.ActionInvoke))
	}

	attrs := rec.Attributes.(*Attributes)
	res := &InvocationResult{
		RequestID:       uuid.NewString(),
		StatusCode:      typ.StatusCode(),
		ExecutedVersion: LatestVersion,
		FunctionARN:     attrs.ARN,
		CodeSHA256:      attrs.CodeSHA256,
		Runtime:         attrs.Runtime,
		MemorySize:      attrs.MemorySize,
	}
	if typ == InvocationRequestResponse {
		input := payload
		if len(input) == 0 {
			input = json.RawMessage("null")
		}
		out, err := json.Marshal(struct {
			Message string          `json:"message"`
			Input   json.RawMessage `json:"input"`
		}{simulatedMessage, input})
		if err != nil {
			return nil, err
		}
		res.Payload = out
	}

	if typ != InvocationDryRun {
		m.notify(ctx, rec, engine.ActionInvoke, rec.State, rec.State)
	}
	m.log.WithResource(engine.KindFunction, rec.ID).
		WithField("invocation_type", string(typ)).
		Debugf("invoked %s (%d total)", name, attrs.Invocations)
	return res, nil
}

// UpdateConfiguration applies changes to an active function. The function
// passes through updating and returns to active.
func (m *Manager) UpdateConfiguration(ctx context.Context, name string, changes FunctionChanges) (*Function, error) {
	if err := m.validate.Struct(changes); err != nil {
		return nil, engine.FromValidator(engine.KindFunction, err).
			WithResource(name).WithOperation(string(engine.ActionModify))
	}

	apply := func(rec *engine.Record) error {
		attrs := rec.Attributes.(*Attributes)
		if changes.Runtime != nil {
			attrs.Runtime = *changes.Runtime
		}
		if changes.Handler != nil {
			attrs.Handler = *changes.Handler
		}
		if changes.Role != nil {
			attrs.Role = *changes.Role
		}
		if changes.Description != nil {
			attrs.Description = *changes.Description
		}
		if changes.Timeout != nil {
			attrs.Timeout = *changes.Timeout
		}
		if changes.MemorySize != nil {
			attrs.MemorySize = *changes.MemorySize
		}
		if changes.Environment != nil {
			attrs.Environment = maps.Clone(changes.Environment)
		}
		attrs.Revision++
		return nil
	}

	rec, err := m.transition(ctx, name, engine.ActionModify, apply, StateUpdating, StateActive)
	if err != nil {
		return nil, err
	}
	m.log.WithResource(engine.KindFunction, rec.ID).Infof("updated configuration of %s", name)
	return fromRecord(rec), nil
}

// UpdateCode replaces the code reference of an active function and
// recomputes its digest.
func (m *Manager) UpdateCode(ctx context.Context, name, code string) (*Function, error) {
	if code == "" {
		return nil, engine.NewValidationError("code reference is required", nil).
			WithKind(engine.KindFunction).WithResource(name).
			WithOperation(string(engine.ActionModify))
	}
	sum, size := codeDigest(code)

	apply := func(rec *engine.Record) error {
		attrs := rec.Attributes.(*Attributes)
		attrs.CodeReference = code
		attrs.CodeSHA256 = sum
		attrs.CodeSize = size
		attrs.Revision++
		return nil
	}

	rec, err := m.transition(ctx, name, engine.ActionModify, apply, StateUpdating, StateActive)
	if err != nil {
		return nil, err
	}
	m.log.WithResource(engine.KindFunction, rec.ID).Infof("updated code of %s (%s)", name, sum)
	return fromRecord(rec), nil
}

// AddPermission attaches a resource-policy statement. Statement ids are
// unique per function.
func (m *Manager) AddPermission(ctx context.Context, name string, perm Permission) (*Function, error) {
	if err := m.validate.Struct(perm); err != nil {
		return nil, engine.FromValidator(engine.KindFunction, err).
			WithResource(name).WithOperation("add_permission")
	}

	id, err := m.reg.ResolveName(engine.KindFunction, name)
	if err != nil {
		return nil, engine.AnnotateOperation(err, "add_permission")
	}
	rec, err := m.reg.Update(engine.KindFunction, id, func(rec *engine.Record) error {
		attrs := rec.Attributes.(*Attributes)
		if _, ok := attrs.Permissions[perm.StatementID]; ok {
			return engine.NewDuplicateNameError(engine.KindFunction, perm.StatementID).
				WithDetail("function_name", name)
		}
		if attrs.Permissions == nil {
			attrs.Permissions = make(map[string]Permission)
		}
		attrs.Permissions[perm.StatementID] = perm
		return nil
	})
	if err != nil {
		m.fail(ctx, name, engine.ActionModify, err)
		return nil, engine.AnnotateOperation(err, "add_permission")
	}
	m.notify(ctx, rec, engine.ActionModify, rec.State, rec.State)
	return fromRecord(rec), nil
}

// RemovePermission detaches a resource-policy statement.
func (m *Manager) RemovePermission(ctx context.Context, name, statementID string) error {
	id, err := m.reg.ResolveName(engine.KindFunction, name)
	if err != nil {
		return engine.AnnotateOperation(err, "remove_permission")
	}
	rec, err := m.reg.Update(engine.KindFunction, id, func(rec *engine.Record) error {
		attrs := rec.Attributes.(*Attributes)
		if _, ok := attrs.Permissions[statementID]; !ok {
			return engine.NewNotFoundError(engine.KindFunction, name).
				WithDetail("statement_id", statementID)
		}
		delete(attrs.Permissions, statementID)
		return nil
	})
	if err != nil {
		return engine.AnnotateOperation(err, "remove_permission")
	}
	m.notify(ctx, rec, engine.ActionModify, rec.State, rec.State)
	return nil
}

// DeleteFunction removes an active function.
func (m *Manager) DeleteFunction(ctx context.Context, name string) error {
	id, err := m.reg.ResolveName(engine.KindFunction, name)
	if err != nil {
		return engine.AnnotateOperation(err, string(engine.ActionDelete))
	}
	var from engine.State
	rec, err := m.reg.Remove(engine.KindFunction, id, func(r engine.Record) error {
		from = r.State
		return Lifecycle.Transition(name, r.State, engine.StateRemoved)
	})
	if err != nil {
		m.fail(ctx, name, engine.ActionDelete, err)
		return engine.AnnotateOperation(err, string(engine.ActionDelete))
	}
	m.notify(ctx, rec, engine.ActionDelete, from, engine.StateRemoved)
	m.log.WithResource(engine.KindFunction, rec.ID).Infof("deleted function %s", name)
	return nil
}

// GetFunction returns the function with the given name.
func (m *Manager) GetFunction(_ context.Context, name string) (*Function, error) {
	rec, err := m.reg.GetByName(engine.KindFunction, name)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// ListFunctions returns functions in creation order, restricted to runtime
// when it is not empty.
func (m *Manager) ListFunctions(_ context.Context, runtime string) iter.Seq[*Function] {
	filter := engine.Filter{}
	if runtime != "" {
		filter.Attributes = map[string]string{"runtime": runtime}
	}
	return func(yield func(*Function) bool) {
		for rec := range m.reg.List(engine.KindFunction, filter) {
			if !yield(fromRecord(rec)) {
				return
			}
		}
	}
}

// Provision decodes a raw topology spec and creates the function.
func (m *Manager) Provision(ctx context.Context, raw engine.RawSpec) (engine.Handle, error) {
	var spec FunctionSpec
	if err := engine.DecodeSpec(engine.KindFunction, raw, &spec); err != nil {
		return engine.Handle{}, err
	}
	fn, err := m.CreateFunction(ctx, spec)
	if err != nil {
		return engine.Handle{}, err
	}
	return engine.Handle{Kind: engine.KindFunction, ID: fn.ID, Name: fn.Name}, nil
}

// Teardown deletes the function behind h.
func (m *Manager) Teardown(ctx context.Context, h engine.Handle, _ bool) error {
	return m.DeleteFunction(ctx, h.Key())
}

// Summaries lists every function for status reporting.
func (m *Manager) Summaries(ctx context.Context) iter.Seq[engine.Summary] {
	return func(yield func(engine.Summary) bool) {
		for fn := range m.ListFunctions(ctx, "") {
			s := engine.Summary{
				ID:    fn.ID,
				Name:  fn.Name,
				State: fn.State,
				Tags:  fn.Tags,
				Details: map[string]string{
					"function_arn": fn.ARN,
					"runtime":      fn.Runtime,
					"handler":      fn.Handler,
					"memory_size":  strconv.Itoa(fn.MemorySize),
					"timeout":      strconv.Itoa(fn.Timeout),
					"invocations":  strconv.Itoa(fn.Invocations),
				},
			}
			if !yield(s) {
				return
			}
		}
	}
}

// transition walks the function through path inside one registry update,
// after running apply.
func (m *Manager) transition(ctx context.Context, name string, action engine.Action, apply func(*engine.Record) error, path ...engine.State) (engine.Record, error) {
	id, err := m.reg.ResolveName(engine.KindFunction, name)
	if err != nil {
		return engine.Record{}, engine.AnnotateOperation(err, string(action))
	}

	var from engine.State
	rec, err := m.reg.Update(engine.KindFunction, id, func(rec *engine.Record) error {
		from = rec.State
		final, err := Lifecycle.Walk(name, rec.State, path...)
		if err != nil {
			return err
		}
		if apply != nil {
			if err := apply(rec); err != nil {
				return err
			}
		}
		rec.State = final
		return nil
	})
	if err != nil {
		m.fail(ctx, name, action, err)
		return engine.Record{}, engine.AnnotateOperation(err, string(action))
	}

	prev := from
	for _, step := range path {
		m.notify(ctx, rec, action, prev, step)
		prev = step
	}
	return rec, nil
}

func (m *Manager) notify(ctx context.Context, rec engine.Record, action engine.Action, from, to engine.State) {
	m.log.WithResource(engine.KindFunction, rec.ID).Debugf("%s %s: %s -> %s", action, rec.Name, from, to)
	m.observer.Observe(ctx, engine.Change{
		Kind:   engine.KindFunction,
		ID:     rec.ID,
		Name:   rec.Name,
		Action: action,
		From:   from,
		To:     to,
	})
}

func (m *Manager) fail(ctx context.Context, name string, action engine.Action, err error) {
	m.log.WithField("function_name", name).WithError(err).Warnf("%s rejected", action)
	m.observer.Observe(ctx, engine.Change{Kind: engine.KindFunction, Name: name, Action: action, Err: err})
}

func codeDigest(code string) (string, int) {
	sum := sha256.Sum256([]byte(code))
	return base64.StdEncoding.EncodeToString(sum[:]), len(code)
}

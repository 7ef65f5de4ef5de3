package policy

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

// Engine evaluates raw topology specs against compiled Rego policies.
type Engine struct {
	mu          sync.RWMutex
	policies    map[string]*compiledPolicy
	log         *telemetry.Logger
	environment string
	builtins    bool
}

type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l.NewComponentLogger("policy")
		}
	}
}

// WithEnvironment sets the value policies see as input.context.environment.
func WithEnvironment(env string) Option {
	return func(e *Engine) { e.environment = env }
}

// WithoutBuiltins starts the engine with no policies loaded.
func WithoutBuiltins() Option {
	return func(e *Engine) { e.builtins = false }
}

// NewEngine creates a policy engine with the built-in policies compiled.
func NewEngine(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		log:      telemetry.NewNopLogger(),
		builtins: true,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.builtins {
		for _, p := range BuiltinPolicies() {
			cp, err := compile(ctx, p)
			if err != nil {
				return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
			}
			e.policies[p.Name] = cp
		}
		e.log.WithField("count", len(e.policies)).Debug("Built-in policies loaded")
	}

	return e, nil
}

// Environment returns the configured environment name.
func (e *Engine) Environment() string {
	return e.environment
}

// EvaluateSpec evaluates every enabled policy against one raw spec. A policy
// that fails to evaluate is reported in Result.Warnings and never denies.
func (e *Engine) EvaluateSpec(ctx context.Context, kind engine.Kind, spec engine.RawSpec) (*Result, error) {
	start := time.Now()
	if err := kind.Validate(); err != nil {
		return nil, engine.NewValidationError(err.Error(), nil)
	}
	if spec == nil {
		spec = engine.RawSpec{}
	}

	input := Input{
		Kind: kind,
		Name: SpecName(kind, spec),
		Spec: spec,
		Context: Context{
			Environment: e.environment,
			Operation:   "provision",
			Timestamp:   start.UTC(),
		},
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}
	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := evaluate(ctx, cp, input)
		if err != nil {
			e.log.WithError(err).
				WithField("policy", name).
				WithResource(kind, input.Name).
				Error("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}
		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
			}
		}
		result.Violations = append(result.Violations, violations...)
	}
	result.Duration = time.Since(start)

	e.log.WithResource(kind, input.Name).
		WithFields(map[string]interface{}{
			"violations": len(result.Violations),
			"allowed":    result.Allowed,
			"duration":   result.Duration.String(),
		}).
		Debug("Spec policy evaluation completed")

	return result, nil
}

// SpecResult is the evaluation of one spec in a topology.
type SpecResult struct {
	Kind   engine.Kind `json:"kind"`
	Index  int         `json:"index"`
	Name   string      `json:"name,omitempty"`
	Result *Result     `json:"result"`
}

// Report is the evaluation of a whole topology.
type Report struct {
	Specs []SpecResult `json:"specs"`
}

// Allowed reports whether no spec in the topology was denied.
func (r *Report) Allowed() bool {
	for _, s := range r.Specs {
		if !s.Result.Allowed {
			return false
		}
	}
	return true
}

// Violations returns every violation in provisioning order.
func (r *Report) Violations() []Violation {
	var out []Violation
	for _, s := range r.Specs {
		out = append(out, s.Result.Violations...)
	}
	return out
}

// EvaluateTopology evaluates every spec of a topology in provisioning order.
func (e *Engine) EvaluateTopology(ctx context.Context, topo engine.Topology) (*Report, error) {
	report := &Report{}
	for _, kind := range engine.ProvisionOrder {
		for i, spec := range topo[kind] {
			res, err := e.EvaluateSpec(ctx, kind, spec)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", kind, i, err)
			}
			report.Specs = append(report.Specs, SpecResult{
				Kind:   kind,
				Index:  i,
				Name:   SpecName(kind, spec),
				Result: res,
			})
		}
	}
	return report, nil
}

// LoadPolicies loads .rego files from paths and adds them to the engine.
// Policies are compiled before any is installed, so a broken file leaves the
// engine unchanged.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(WithLoaderLogger(e.log)).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	compiled, err := compileAll(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	maps.Copy(e.policies, compiled)
	e.mu.Unlock()

	e.log.WithField("count", len(compiled)).Info("Policies loaded successfully")
	return nil
}

// ReplacePolicies swaps every non-built-in policy for the given set. It is
// the reload callback used with Loader.Watch.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	compiled, err := compileAll(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	maps.DeleteFunc(e.policies, func(_ string, cp *compiledPolicy) bool {
		return !cp.policy.Builtin
	})
	maps.Copy(e.policies, compiled)
	e.mu.Unlock()

	e.log.WithField("count", len(compiled)).Info("Policies replaced")
	return nil
}

// Watch loads the policies under paths, replacing any previously loaded
// ones, and keeps the engine in sync with them until ctx is done.
func (e *Engine) Watch(ctx context.Context, paths []string, opts ...LoaderOption) (*Loader, error) {
	loader := NewLoader(append([]LoaderOption{WithLoaderLogger(e.log)}, opts...)...)

	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	if err := e.ReplacePolicies(ctx, policies); err != nil {
		return nil, err
	}

	err = loader.Watch(ctx, paths, func(p []Policy) error {
		return e.ReplacePolicies(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return loader, nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		out = append(out, e.policies[name].policy)
	}
	return out
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.log.WithFields(map[string]interface{}{"policy": name, "enabled": enabled}).Info("Policy toggled")
	return nil
}

func compileAll(ctx context.Context, policies []Policy) (map[string]*compiledPolicy, error) {
	out := make(map[string]*compiledPolicy, len(policies))
	for _, p := range policies {
		if _, dup := out[p.Name]; dup {
			return nil, fmt.Errorf("duplicate policy name %s", p.Name)
		}
		cp, err := compile(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		out[p.Name] = cp
	}
	return out, nil
}

// compile parses the module and prepares a query for its deny set.
func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if err := p.Severity.Validate(); err != nil {
		return nil, err
	}

	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	if p.LoadedAt.IsZero() {
		p.LoadedAt = time.Now().UTC()
	}
	return &compiledPolicy{policy: p, query: query}, nil
}

func evaluate(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d, input))
		}
	}
	return violations, nil
}

// newViolation accepts either a bare message or an object with message,
// severity and resource fields.
func newViolation(p Policy, result interface{}, input Input) Violation {
	v := Violation{
		Policy:   p.Name,
		Kind:     input.Kind,
		Resource: input.Name,
		Severity: p.Severity,
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok && Severity(sev).Validate() == nil {
			v.Severity = Severity(sev)
		}
		if res, ok := r["resource"].(string); ok {
			v.Resource = res
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}

	return v
}

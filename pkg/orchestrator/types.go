package orchestrator

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/policy"
)

// Provisioner is the contract a kind module fulfils for batch operations.
type Provisioner interface {
	Kind() engine.Kind
	Provision(ctx context.Context, spec engine.RawSpec) (engine.Handle, error)
	Teardown(ctx context.Context, h engine.Handle, force bool) error
	Summaries(ctx context.Context) iter.Seq[engine.Summary]
}

// Topology maps each kind to the ordered raw specs to provision.
type Topology = engine.Topology

// SpecFailure records a spec that could not be provisioned.
type SpecFailure struct {
	Kind  engine.Kind
	Index int
	Name  string
	Spec  engine.RawSpec
	Err   error
}

func (f SpecFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  engine.Kind    `json:"kind"`
		Index int            `json:"index"`
		Name  string         `json:"name,omitempty"`
		Spec  engine.RawSpec `json:"spec,omitempty"`
		Code  string         `json:"code,omitempty"`
		Error string         `json:"error"`
	}{f.Kind, f.Index, f.Name, f.Spec, engine.CodeOf(f.Err), f.Err.Error()})
}

// SkippedSpec is a spec never attempted because an earlier spec of the same
// kind failed.
type SkippedSpec struct {
	Kind  engine.Kind `json:"kind"`
	Index int         `json:"index"`
	Name  string      `json:"name,omitempty"`
}

// Result is the outcome of a provision run. Created handles are listed in
// creation order.
type Result struct {
	RunID    string             `json:"run_id"`
	Created  []engine.Handle    `json:"created"`
	Failures []SpecFailure      `json:"failures,omitempty"`
	Skipped  []SkippedSpec      `json:"skipped,omitempty"`
	Warnings []policy.Violation `json:"warnings,omitempty"`
}

// OK reports whether every spec was provisioned.
func (r *Result) OK() bool {
	return len(r.Failures) == 0 && len(r.Skipped) == 0
}

// Handles returns the created handles of one kind.
func (r *Result) Handles(kind engine.Kind) []engine.Handle {
	var out []engine.Handle
	for _, h := range r.Created {
		if h.Kind == kind {
			out = append(out, h)
		}
	}
	return out
}

// DestroyOptions controls Destroy.
type DestroyOptions struct {
	// ForceBuckets deletes buckets together with their objects.
	ForceBuckets bool `json:"force_buckets"`
}

// HandleFailure records a handle that could not be torn down.
type HandleFailure struct {
	Handle engine.Handle
	Err    error
}

func (f HandleFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		engine.Handle
		Code  string `json:"code,omitempty"`
		Error string `json:"error"`
	}{f.Handle, engine.CodeOf(f.Err), f.Err.Error()})
}

// DestroyReport is the outcome of a destroy run. Destroyed handles are listed
// in teardown order.
type DestroyReport struct {
	RunID     string          `json:"run_id"`
	Destroyed []engine.Handle `json:"destroyed"`
	Failures  []HandleFailure `json:"failures,omitempty"`
}

// OK reports whether every handle was torn down.
func (r *DestroyReport) OK() bool {
	return len(r.Failures) == 0
}

type sourceContextKey struct{}

// ContextWithSource labels runs started with ctx, for the audit journal.
func ContextWithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceContextKey{}, source)
}

func sourceFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sourceContextKey{}).(string); ok && s != "" {
		return s
	}
	return "api"
}

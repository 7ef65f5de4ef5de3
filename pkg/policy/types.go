package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block provisioning.
	SeverityWarning Severity = "warning"

	// SeverityError blocks provisioning of the offending spec.
	SeverityError Severity = "error"
)

// Blocking reports whether a violation of this severity denies the spec.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Validate checks if the severity is known.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return nil
	default:
		return fmt.Errorf("invalid severity: %s", s)
	}
}

// Policy is a Rego module whose `deny` rule yields violations.
type Policy struct {
	// Name uniquely identifies the policy within an Engine.
	Name string `json:"name"`

	// Description is taken from the leading comment block of the module.
	Description string `json:"description,omitempty"`

	// Rego is the module source. It must define `deny` as a set.
	Rego string `json:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled controls whether the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the binary.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`

	LoadedAt time.Time `json:"loaded_at"`
}

// Violation is one denial produced by a policy.
type Violation struct {
	Policy   string      `json:"policy"`
	Kind     engine.Kind `json:"kind"`
	Resource string      `json:"resource,omitempty"`
	Message  string      `json:"message"`
	Severity Severity    `json:"severity"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
}

// Result is the outcome of evaluating every enabled policy against a spec.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate. A broken policy never
	// blocks a spec.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Blocking returns the violations that deny the spec.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Err returns a POLICY_DENIED error describing the blocking violations, or
// nil when the spec is allowed.
func (r *Result) Err(kind engine.Kind, resource string) error {
	if r == nil || r.Allowed {
		return nil
	}
	blocking := r.Blocking()
	msgs := make([]string, 0, len(blocking))
	names := make([]string, 0, len(blocking))
	for _, v := range blocking {
		msgs = append(msgs, v.Message)
		names = append(names, v.Policy)
	}
	return engine.NewPolicyDeniedError(strings.Join(msgs, "; ")).
		WithKind(kind).
		WithResource(resource).
		WithDetail("policies", names)
}

// Input is the document policies see as `input`.
type Input struct {
	Kind    engine.Kind    `json:"kind"`
	Name    string         `json:"name"`
	Spec    engine.RawSpec `json:"spec"`
	Context Context        `json:"context"`
}

// Context describes the circumstances of an evaluation.
type Context struct {
	Environment string    `json:"environment,omitempty"`
	Operation   string    `json:"operation"`
	Timestamp   time.Time `json:"timestamp"`
}

// nameKeys are the natural-key fields of each kind's raw spec.
var nameKeys = map[engine.Kind]string{
	engine.KindBucket:   "bucket_name",
	engine.KindDatabase: "db_instance_identifier",
	engine.KindFunction: "function_name",
}

// SpecName returns the natural key named in a raw spec, or "" when the kind
// has none or the spec omits it.
func SpecName(kind engine.Kind, spec engine.RawSpec) string {
	key, ok := nameKeys[kind]
	if !ok {
		if n, ok := spec["name"].(string); ok {
			return n
		}
		return ""
	}
	n, _ := spec[key].(string)
	return n
}

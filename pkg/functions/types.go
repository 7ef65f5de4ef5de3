package functions

import (
	"encoding/json"
	"maps"
	"regexp"
	"strconv"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

// Function lifecycle states.
const (
	StatePending  engine.State = "pending"
	StateActive   engine.State = "active"
	StateUpdating engine.State = "updating"
)

// Lifecycle is the function state machine.
var Lifecycle = engine.NewStateMachine(engine.KindFunction, StatePending, map[engine.State][]engine.State{
	StatePending:  {StateActive},
	StateActive:   {StateUpdating, engine.StateRemoved},
	StateUpdating: {StateActive},
})

// Memory and timeout bounds. Values outside are rejected, never clamped.
const (
	MinMemorySize = 128
	MaxMemorySize = 10240
	MinTimeout    = 1
	MaxTimeout    = 900
)

// Defaults applied to a FunctionSpec.
const (
	DefaultRuntime    = "python3.9"
	DefaultHandler    = "index.handler"
	DefaultRole       = "arn:aws:iam::123456789012:role/lambda-role"
	DefaultTimeout    = 3
	DefaultMemorySize = 128

	// LatestVersion is the executed version reported by every invocation.
	LatestVersion = "$LATEST"

	arnPrefix = "arn:aws:lambda:us-east-1:123456789012:function:"
)

// Runtimes is the set of accepted runtimes.
var Runtimes = []string{
	"python3.9", "python3.10", "python3.11", "python3.12", "python3.13",
	"nodejs18.x", "nodejs20.x", "nodejs22.x",
	"java11", "java17", "java21",
	"dotnet8",
	"ruby3.2", "ruby3.3",
	"go1.x", "provided.al2", "provided.al2023",
}

var functionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidFunctionName reports whether name is 1 to 64 letters, digits,
// hyphens or underscores.
func ValidFunctionName(name string) bool {
	return functionNamePattern.MatchString(name)
}

// FunctionSpec is the input to CreateFunction.
type FunctionSpec struct {
	Name        string            `mapstructure:"function_name" validate:"required,function_name"`
	Runtime     string            `mapstructure:"runtime" validate:"required,runtime"`
	Handler     string            `mapstructure:"handler" validate:"required"`
	Role        string            `mapstructure:"role" validate:"required,startswith=arn:aws:iam::"`
	Code        string            `mapstructure:"code"`
	Description string            `mapstructure:"description" validate:"max=256"`
	Timeout     *int              `mapstructure:"timeout" validate:"required,min=1,max=900"`
	MemorySize  *int              `mapstructure:"memory_size" validate:"required,min=128,max=10240"`
	Environment map[string]string `mapstructure:"environment"`
	Tags        map[string]string `mapstructure:"tags"`
}

func (s *FunctionSpec) applyDefaults() {
	if s.Runtime == "" {
		s.Runtime = DefaultRuntime
	}
	if s.Handler == "" {
		s.Handler = DefaultHandler
	}
	if s.Role == "" {
		s.Role = DefaultRole
	}
	// Only absent values are defaulted; an explicit zero must fail validation.
	if s.Timeout == nil {
		timeout := DefaultTimeout
		s.Timeout = &timeout
	}
	if s.MemorySize == nil {
		memory := DefaultMemorySize
		s.MemorySize = &memory
	}
}

// FunctionChanges lists the mutable configuration of a function. Nil fields
// are left unchanged; a non-nil Environment replaces the whole map.
type FunctionChanges struct {
	Runtime     *string           `json:"runtime,omitempty" validate:"omitempty,runtime"`
	Handler     *string           `json:"handler,omitempty" validate:"omitempty,min=1"`
	Role        *string           `json:"role,omitempty" validate:"omitempty,startswith=arn:aws:iam::"`
	Description *string           `json:"description,omitempty" validate:"omitempty,max=256"`
	Timeout     *int              `json:"timeout,omitempty" validate:"omitempty,min=1,max=900"`
	MemorySize  *int              `json:"memory_size,omitempty" validate:"omitempty,min=128,max=10240"`
	Environment map[string]string `json:"environment,omitempty"`
}

// Permission is a resource-policy statement attached to a function.
type Permission struct {
	StatementID string `json:"statement_id" validate:"required,max=100"`
	Action      string `json:"action" validate:"required"`
	Principal   string `json:"principal" validate:"required"`
	SourceARN   string `json:"source_arn,omitempty"`
}

// InvocationType selects how Invoke reports its result.
type InvocationType string

const (
	InvocationRequestResponse InvocationType = "RequestResponse"
	InvocationEvent           InvocationType = "Event"
	InvocationDryRun          InvocationType = "DryRun"
)

// StatusCode returns the synthetic HTTP status for the invocation type.
func (t InvocationType) StatusCode() int {
	switch t {
	case InvocationEvent:
		return 202
	case InvocationDryRun:
		return 204
	default:
		return 200
	}
}

// Validate checks if the invocation type is valid.
func (t InvocationType) Validate() error {
	switch t {
	case "", InvocationRequestResponse, InvocationEvent, InvocationDryRun:
		return nil
	default:
		return engine.NewValidationError("invalid invocation type "+strconv.Quote(string(t)), nil).
			WithKind(engine.KindFunction)
	}
}

// InvocationResult is the synthetic outcome of Invoke. No code runs.
type InvocationResult struct {
	RequestID       string          `json:"request_id"`
	StatusCode      int             `json:"status_code"`
	ExecutedVersion string          `json:"executed_version"`
	FunctionARN     string          `json:"function_arn"`
	CodeSHA256      string          `json:"code_sha256"`
	Runtime         string          `json:"runtime"`
	MemorySize      int             `json:"memory_size"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// Attributes are the function-specific fields of a record.
type Attributes struct {
	ARN           string                `json:"function_arn"`
	Runtime       string                `json:"runtime"`
	Handler       string                `json:"handler"`
	Role          string                `json:"role"`
	Description   string                `json:"description,omitempty"`
	Timeout       int                   `json:"timeout"`
	MemorySize    int                   `json:"memory_size"`
	Environment   map[string]string     `json:"environment,omitempty"`
	CodeReference string                `json:"code_reference"`
	CodeSHA256    string                `json:"code_sha256"`
	CodeSize      int                   `json:"code_size"`
	Revision      int                   `json:"revision"`
	Invocations   int                   `json:"invocations"`
	Permissions   map[string]Permission `json:"permissions,omitempty"`
}

// Clone implements engine.Attributes.
func (a *Attributes) Clone() engine.Attributes {
	c := *a
	c.Environment = maps.Clone(a.Environment)
	c.Permissions = maps.Clone(a.Permissions)
	return &c
}

// Lookup implements engine.Attributes.
func (a *Attributes) Lookup(key string) (string, bool) {
	switch key {
	case "runtime":
		return a.Runtime, true
	case "handler":
		return a.Handler, true
	case "memory_size":
		return strconv.Itoa(a.MemorySize), true
	case "timeout":
		return strconv.Itoa(a.Timeout), true
	case "code_sha256":
		return a.CodeSHA256, true
	}
	return "", false
}

// Function is the caller-facing view of a function record.
type Function struct {
	ID    string            `json:"function_id"`
	Name  string            `json:"function_name"`
	State engine.State      `json:"state"`
	Tags  map[string]string `json:"tags,omitempty"`
	Attributes
}

func fromRecord(rec engine.Record) *Function {
	return &Function{
		ID:         rec.ID,
		Name:       rec.Name,
		State:      rec.State,
		Tags:       rec.Tags,
		Attributes: *rec.Attributes.(*Attributes),
	}
}

package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrorClass groups error codes by how a caller is expected to react.
type ErrorClass string

const (
	// ErrorClassInvalid indicates the request itself was malformed.
	// Retrying the same input will fail the same way.
	ErrorClassInvalid ErrorClass = "invalid"

	// ErrorClassConflict indicates the request clashes with current state.
	// Examples: duplicate names, illegal transitions, non-empty buckets.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassMissing indicates the target resource does not exist.
	ErrorClassMissing ErrorClass = "missing"

	// ErrorClassDenied indicates a guardrail policy rejected the request.
	ErrorClassDenied ErrorClass = "denied"
)

// Error codes for programmatic handling.
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeDuplicateName          = "DUPLICATE_NAME"
	ErrCodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	ErrCodeBucketNotEmpty         = "BUCKET_NOT_EMPTY"
	ErrCodePolicyDenied           = "POLICY_DENIED"
)

// Sentinels for errors.Is. Matching compares class and code only.
var (
	ErrValidation             = &EngineError{Class: ErrorClassInvalid, Code: ErrCodeValidation}
	ErrNotFound               = &EngineError{Class: ErrorClassMissing, Code: ErrCodeNotFound}
	ErrDuplicateName          = &EngineError{Class: ErrorClassConflict, Code: ErrCodeDuplicateName}
	ErrInvalidStateTransition = &EngineError{Class: ErrorClassConflict, Code: ErrCodeInvalidStateTransition}
	ErrBucketNotEmpty         = &EngineError{Class: ErrorClassConflict, Code: ErrCodeBucketNotEmpty}
	ErrPolicyDenied           = &EngineError{Class: ErrorClassDenied, Code: ErrCodePolicyDenied}
)

// EngineError represents a classified error with resource context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code identifies the error kind.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Kind is the resource kind involved, if any.
	Kind Kind `json:"kind,omitempty"`

	// Resource is the resource id or name that caused the error.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains field-level or state context.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)

	var ctx []string
	if e.Kind != "" {
		ctx = append(ctx, "kind="+string(e.Kind))
	}
	if e.Resource != "" {
		ctx = append(ctx, "resource="+e.Resource)
	}
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates an error for input that violates a constraint.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInvalid,
		Code:    ErrCodeValidation,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates an error for a missing resource.
func NewNotFoundError(kind Kind, resource string) *EngineError {
	return &EngineError{
		Class:    ErrorClassMissing,
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found", kind),
		Kind:     kind,
		Resource: resource,
	}
}

// NewDuplicateNameError creates an error for a natural-key collision.
func NewDuplicateNameError(kind Kind, name string) *EngineError {
	return &EngineError{
		Class:    ErrorClassConflict,
		Code:     ErrCodeDuplicateName,
		Message:  fmt.Sprintf("%s name already in use", kind),
		Kind:     kind,
		Resource: name,
	}
}

// NewInvalidTransitionError creates an error for a transition the state
// machine does not allow.
func NewInvalidTransitionError(kind Kind, resource string, from, to State) *EngineError {
	return (&EngineError{
		Class:    ErrorClassConflict,
		Code:     ErrCodeInvalidStateTransition,
		Message:  fmt.Sprintf("cannot transition %s from %s to %s", kind, from, to),
		Kind:     kind,
		Resource: resource,
	}).WithDetail("from", string(from)).WithDetail("to", string(to))
}

// NewBucketNotEmptyError creates an error for deleting a bucket that still
// holds objects.
func NewBucketNotEmptyError(name string, objects int) *EngineError {
	return (&EngineError{
		Class:    ErrorClassConflict,
		Code:     ErrCodeBucketNotEmpty,
		Message:  "bucket is not empty",
		Kind:     KindBucket,
		Resource: name,
	}).WithDetail("objects", objects)
}

// NewPolicyDeniedError creates an error for a spec rejected by a guardrail.
func NewPolicyDeniedError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassDenied,
		Code:    ErrCodePolicyDenied,
		Message: message,
	}
}

// WithKind adds the resource kind to an error.
func (e *EngineError) WithKind(kind Kind) *EngineError {
	e.Kind = kind
	return e
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AnnotateOperation records operation on err if it is an EngineError that
// does not name one yet. err is returned unchanged otherwise.
func AnnotateOperation(err error, operation string) error {
	var e *EngineError
	if errors.As(err, &e) && e.Operation == "" {
		e.Operation = operation
	}
	return err
}

// CodeOf returns the error code carried by err, or "" when err is not an
// EngineError.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation returns true if the error is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error reports a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is classified as a state conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// FromValidator translates validator/v10 output into a ValidationError with
// one detail entry per offending field. Other errors are wrapped unchanged.
func FromValidator(kind Kind, err error) *EngineError {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return NewValidationError("invalid "+string(kind)+" spec", err).WithKind(kind)
	}

	fields := make([]string, 0, len(fieldErrs))
	verr := NewValidationError("", nil).WithKind(kind)
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
		verr.WithDetail(fe.Field(), describeFieldError(fe))
	}
	sort.Strings(fields)
	verr.Message = fmt.Sprintf("invalid %s spec: %s", kind, strings.Join(fields, ", "))
	return verr
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s (got %v)", fe.Param(), fe.Value())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s (got %v)", fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s] (got %v)", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %s check (got %v)", fe.Tag(), fe.Value())
	}
}

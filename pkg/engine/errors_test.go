package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineError_IsMatchesByCode(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		target  error
		matches bool
	}{
		{"not found", NewNotFoundError(KindInstance, "i-1"), ErrNotFound, true},
		{"duplicate", NewDuplicateNameError(KindBucket, "logs"), ErrDuplicateName, true},
		{"transition", NewInvalidTransitionError(KindInstance, "i-1", "stopped", "stopped"), ErrInvalidStateTransition, true},
		{"bucket not empty", NewBucketNotEmptyError("logs", 2), ErrBucketNotEmpty, true},
		{"validation", NewValidationError("bad", nil), ErrValidation, true},
		{"policy", NewPolicyDeniedError("nope"), ErrPolicyDenied, true},
		{"wrapped", fmt.Errorf("provision: %w", NewNotFoundError(KindFunction, "f")), ErrNotFound, true},
		{"different code same class", NewDuplicateNameError(KindBucket, "logs"), ErrBucketNotEmpty, false},
		{"plain error", errors.New("boom"), ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.matches {
				t.Errorf("errors.Is() = %v, want %v", got, tt.matches)
			}
		})
	}
}

func TestEngineError_ErrorString(t *testing.T) {
	err := NewInvalidTransitionError(KindInstance, "i-abc", "terminated", "running").
		WithOperation("start")

	msg := err.Error()
	for _, want := range []string{ErrCodeInvalidStateTransition, "kind=instance", "resource=i-abc", "operation=start"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	if err.Details["from"] != "terminated" || err.Details["to"] != "running" {
		t.Errorf("unexpected details: %v", err.Details)
	}
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := errors.New("decode failed")
	err := NewValidationError("malformed spec", cause)

	if !errors.Is(err, cause) {
		t.Error("expected the cause to be reachable through Unwrap")
	}
	if CodeOf(err) != ErrCodeValidation {
		t.Errorf("CodeOf() = %q", CodeOf(err))
	}
	if CodeOf(cause) != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", CodeOf(cause))
	}
}

func TestClassHelpers(t *testing.T) {
	if !IsConflict(NewBucketNotEmptyError("b", 1)) {
		t.Error("bucket not empty should be a conflict")
	}
	if IsConflict(NewNotFoundError(KindBucket, "b")) {
		t.Error("not found should not be a conflict")
	}
	if !IsNotFound(fmt.Errorf("wrap: %w", NewNotFoundError(KindBucket, "b"))) {
		t.Error("IsNotFound should see through wrapping")
	}
	if !IsValidation(NewValidationError("x", nil)) {
		t.Error("IsValidation should match")
	}
}

type sampleSpec struct {
	Name   string `mapstructure:"name" validate:"required"`
	Memory int    `mapstructure:"memory_size" validate:"min=128,max=10240"`
}

func TestFromValidator(t *testing.T) {
	v := NewValidator()
	err := v.Struct(sampleSpec{Memory: 99999})
	if err == nil {
		t.Fatal("expected validation failure")
	}

	verr := FromValidator(KindFunction, err)
	if !errors.Is(verr, ErrValidation) {
		t.Fatalf("expected ValidationError, got %v", verr)
	}
	if _, ok := verr.Details["memory_size"]; !ok {
		t.Errorf("expected memory_size detail, got %v", verr.Details)
	}
	if _, ok := verr.Details["name"]; !ok {
		t.Errorf("expected name detail, got %v", verr.Details)
	}
	if !strings.Contains(verr.Message, "memory_size") {
		t.Errorf("message should name the field: %q", verr.Message)
	}

	if FromValidator(KindFunction, nil) != nil {
		t.Error("nil input should give nil")
	}
}

package functions

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/registry"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(registry.New())
}

func mustCreate(t *testing.T, m *Manager, spec FunctionSpec) *Function {
	t.Helper()
	fn, err := m.CreateFunction(context.Background(), spec)
	if err != nil {
		t.Fatalf("CreateFunction(%s) error: %v", spec.Name, err)
	}
	return fn
}

func ptr[T any](v T) *T { return &v }

func TestCreateFunction(t *testing.T) {
	m := setupTestManager(t)

	fn := mustCreate(t, m, FunctionSpec{Name: "resize-images", Code: "s3://code/resize.zip"})

	if fn.State != StateActive {
		t.Errorf("State = %s, want active", fn.State)
	}
	if fn.ARN != "arn:aws:lambda:us-east-1:123456789012:function:resize-images" {
		t.Errorf("ARN = %s", fn.ARN)
	}
	if fn.Runtime != DefaultRuntime || fn.Handler != DefaultHandler || fn.Role != DefaultRole {
		t.Errorf("defaults not applied: %+v", fn)
	}
	if fn.Timeout != 3 || fn.MemorySize != 128 {
		t.Errorf("Timeout/MemorySize = %d/%d, want 3/128", fn.Timeout, fn.MemorySize)
	}
	if fn.CodeSHA256 == "" || fn.CodeSize != len("s3://code/resize.zip") {
		t.Errorf("code digest not computed: %+v", fn.Attributes)
	}
}

func TestCreateFunction_Validation(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec FunctionSpec
	}{
		{"missing name", FunctionSpec{}},
		{"bad name", FunctionSpec{Name: "has spaces"}},
		{"unknown runtime", FunctionSpec{Name: "f", Runtime: "cobol85"}},
		{"memory too large", FunctionSpec{Name: "f", MemorySize: ptr(99999)}},
		{"memory too small", FunctionSpec{Name: "f", MemorySize: ptr(64)}},
		{"timeout too long", FunctionSpec{Name: "f", Timeout: ptr(901)}},
		{"negative timeout", FunctionSpec{Name: "f", Timeout: ptr(-1)}},
		{"zero memory", FunctionSpec{Name: "f", MemorySize: ptr(0)}},
		{"zero timeout", FunctionSpec{Name: "f", Timeout: ptr(0)}},
		{"bad role", FunctionSpec{Name: "f", Role: "lambda-role"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.CreateFunction(ctx, tt.spec); !errors.Is(err, engine.ErrValidation) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
	if n := len(slices.Collect(m.ListFunctions(ctx, ""))); n != 0 {
		t.Errorf("failed creates left %d records", n)
	}

	mustCreate(t, m, FunctionSpec{Name: "edge", MemorySize: ptr(MaxMemorySize), Timeout: ptr(MaxTimeout)})
	if _, err := m.CreateFunction(ctx, FunctionSpec{Name: "edge"}); !errors.Is(err, engine.ErrDuplicateName) {
		t.Errorf("expected DuplicateName, got %v", err)
	}
}

func TestInvoke(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, FunctionSpec{Name: "echo"})

	res, err := m.Invoke(ctx, "echo", json.RawMessage(`{"key":"value"}`), InvocationRequestResponse)
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if res.StatusCode != 200 || res.ExecutedVersion != LatestVersion {
		t.Errorf("unexpected result %+v", res)
	}
	var body struct {
		Message string            `json:"message"`
		Input   map[string]string `json:"input"`
	}
	if err := json.Unmarshal(res.Payload, &body); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if body.Message != simulatedMessage || body.Input["key"] != "value" {
		t.Errorf("payload = %s", res.Payload)
	}

	tests := []struct {
		typ    InvocationType
		status int
	}{
		{"", 200},
		{InvocationEvent, 202},
		{InvocationDryRun, 204},
	}
	for _, tt := range tests {
		res, err := m.Invoke(ctx, "echo", nil, tt.typ)
		if err != nil {
			t.Fatalf("Invoke(%q) error: %v", tt.typ, err)
		}
		if res.StatusCode != tt.status {
			t.Errorf("Invoke(%q) status = %d, want %d", tt.typ, res.StatusCode, tt.status)
		}
	}

	fn, _ := m.GetFunction(ctx, "echo")
	if fn.Invocations != 3 {
		t.Errorf("Invocations = %d, want 3 (dry runs are not counted)", fn.Invocations)
	}

	if _, err := m.Invoke(ctx, "echo", json.RawMessage(`{broken`), InvocationRequestResponse); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("invalid payload should fail validation, got %v", err)
	}
	if _, err := m.Invoke(ctx, "echo", nil, "Async"); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("unknown invocation type should fail validation, got %v", err)
	}
	if _, err := m.Invoke(ctx, "ghost", nil, ""); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestUpdateConfiguration(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, FunctionSpec{Name: "worker", Environment: map[string]string{"A": "1"}})

	fn, err := m.UpdateConfiguration(ctx, "worker", FunctionChanges{
		Runtime:     ptr("nodejs20.x"),
		MemorySize:  ptr(512),
		Timeout:     ptr(30),
		Environment: map[string]string{"B": "2"},
	})
	if err != nil {
		t.Fatalf("UpdateConfiguration() error: %v", err)
	}
	if fn.State != StateActive || fn.Runtime != "nodejs20.x" || fn.MemorySize != 512 || fn.Timeout != 30 {
		t.Errorf("changes not applied: %+v", fn)
	}
	if _, ok := fn.Environment["A"]; ok || fn.Environment["B"] != "2" {
		t.Errorf("Environment = %v, want replaced", fn.Environment)
	}
	if fn.Revision != 2 {
		t.Errorf("Revision = %d, want 2", fn.Revision)
	}

	if _, err := m.UpdateConfiguration(ctx, "worker", FunctionChanges{MemorySize: ptr(20000)}); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	cur, _ := m.GetFunction(ctx, "worker")
	if cur.MemorySize != 512 {
		t.Errorf("rejected update leaked: %d", cur.MemorySize)
	}
}

func TestUpdateCode(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	before := mustCreate(t, m, FunctionSpec{Name: "api", Code: "v1.zip"})

	after, err := m.UpdateCode(ctx, "api", "v2.zip")
	if err != nil {
		t.Fatalf("UpdateCode() error: %v", err)
	}
	if after.CodeSHA256 == before.CodeSHA256 || after.CodeReference != "v2.zip" {
		t.Errorf("code not replaced: %+v", after.Attributes)
	}
	if _, err := m.UpdateCode(ctx, "api", ""); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("empty code should fail validation, got %v", err)
	}
}

func TestPermissions(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, FunctionSpec{Name: "hook"})

	perm := Permission{StatementID: "s3-invoke", Action: "lambda:InvokeFunction", Principal: "s3.amazonaws.com"}
	fn, err := m.AddPermission(ctx, "hook", perm)
	if err != nil {
		t.Fatalf("AddPermission() error: %v", err)
	}
	if fn.Permissions["s3-invoke"] != perm {
		t.Errorf("Permissions = %v", fn.Permissions)
	}
	if _, err := m.AddPermission(ctx, "hook", perm); !errors.Is(err, engine.ErrDuplicateName) {
		t.Errorf("duplicate statement should fail, got %v", err)
	}
	if _, err := m.AddPermission(ctx, "hook", Permission{StatementID: "x"}); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("incomplete statement should fail, got %v", err)
	}
	if err := m.RemovePermission(ctx, "hook", "s3-invoke"); err != nil {
		t.Fatalf("RemovePermission() error: %v", err)
	}
	if err := m.RemovePermission(ctx, "hook", "s3-invoke"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("second remove should be NotFound, got %v", err)
	}
}

func TestDeleteFunction(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, FunctionSpec{Name: "gone"})

	if err := m.DeleteFunction(ctx, "gone"); err != nil {
		t.Fatalf("DeleteFunction() error: %v", err)
	}
	if _, err := m.GetFunction(ctx, "gone"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("function should be gone, got %v", err)
	}
	if err := m.DeleteFunction(ctx, "gone"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("second delete should be NotFound, got %v", err)
	}
	if _, err := m.Invoke(ctx, "gone", nil, ""); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("invoke after delete should be NotFound, got %v", err)
	}
}

func TestListFunctions_RuntimeFilter(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, FunctionSpec{Name: "a", Runtime: "go1.x"})
	mustCreate(t, m, FunctionSpec{Name: "b"})
	mustCreate(t, m, FunctionSpec{Name: "c", Runtime: "go1.x"})

	var got []string
	for fn := range m.ListFunctions(ctx, "go1.x") {
		got = append(got, fn.Name)
	}
	if !slices.Equal(got, []string{"a", "c"}) {
		t.Errorf("go functions = %v", got)
	}
}

func TestProvision(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	h, err := m.Provision(ctx, engine.RawSpec{
		"function_name": "myapp-processor",
		"runtime":       "python3.9",
		"handler":       "app.handler",
		"timeout":       30,
		"memory_size":   256,
		"environment":   map[string]any{"STAGE": "dev"},
	})
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	fn, _ := m.GetFunction(ctx, h.Key())
	if fn.MemorySize != 256 || fn.Environment["STAGE"] != "dev" {
		t.Errorf("spec not decoded: %+v", fn)
	}

	var summaries []engine.Summary
	for s := range m.Summaries(ctx) {
		summaries = append(summaries, s)
	}
	if len(summaries) != 1 || summaries[0].Details["memory_size"] != "256" {
		t.Errorf("Summaries = %+v", summaries)
	}

	if err := m.Teardown(ctx, h, false); err != nil {
		t.Fatalf("Teardown() error: %v", err)
	}
}

func TestProvision_ExplicitZeroBounds(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	for _, field := range []string{"memory_size", "timeout"} {
		_, err := m.Provision(ctx, engine.RawSpec{
			"function_name": "zero-bound",
			"runtime":       "python3.9",
			field:           0,
		})
		if !errors.Is(err, engine.ErrValidation) {
			t.Errorf("%s: 0 should be rejected, got %v", field, err)
		}
	}
	if n := m.reg.Count(engine.KindFunction); n != 0 {
		t.Errorf("rejected specs left %d records", n)
	}
}

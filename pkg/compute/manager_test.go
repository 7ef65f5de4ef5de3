package compute

import (
	"context"
	"errors"
	"iter"
	"regexp"
	"sync"
	"testing"

	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/registry"
)

var instanceIDPattern = regexp.MustCompile(`^i-[0-9a-f]{17}$`)

func setupTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	return NewManager(registry.New(), opts...)
}

func TestCreateInstance(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	inst, err := m.CreateInstance(ctx, InstanceSpec{
		InstanceType:   "t2.small",
		SecurityGroups: []string{"sg-web"},
		Tags:           map[string]string{"Name": "web-1"},
	})
	if err != nil {
		t.Fatalf("CreateInstance() error: %v", err)
	}

	if !instanceIDPattern.MatchString(inst.ID) {
		t.Errorf("unexpected id format %q", inst.ID)
	}
	if inst.State != StateRunning {
		t.Errorf("State = %s, want running", inst.State)
	}
	if inst.AMIID != DefaultAMI {
		t.Errorf("AMIID = %s, want default", inst.AMIID)
	}
	if inst.PublicIP == "" || inst.PrivateIP == "" {
		t.Error("expected addresses to be allocated")
	}
	if inst.Tags["Name"] != "web-1" {
		t.Errorf("tags not stored: %v", inst.Tags)
	}

	other, err := m.CreateInstance(ctx, InstanceSpec{})
	if err != nil {
		t.Fatalf("CreateInstance() with defaults: %v", err)
	}
	if other.ID == inst.ID {
		t.Error("ids must be distinct")
	}
	if other.InstanceType != DefaultInstanceType {
		t.Errorf("InstanceType = %s, want default", other.InstanceType)
	}
}

func TestCreateInstance_Validation(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec InstanceSpec
	}{
		{"unknown type", InstanceSpec{InstanceType: "x9.huge"}},
		{"bad ami", InstanceSpec{AMIID: "img-123"}},
		{"empty security group", InstanceSpec{SecurityGroups: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateInstance(ctx, tt.spec)
			if !errors.Is(err, engine.ErrValidation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	if n := len(collect(m.ListInstances(ctx))); n != 0 {
		t.Errorf("failed creates left %d records", n)
	}
}

func TestInstanceLifecycle(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	inst, _ := m.CreateInstance(ctx, InstanceSpec{})

	stopped, err := m.StopInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("StopInstance() error: %v", err)
	}
	if stopped.State != StateStopped {
		t.Fatalf("State = %s, want stopped", stopped.State)
	}

	// Stopping twice is illegal and must not mutate the record.
	_, err = m.StopInstance(ctx, inst.ID)
	if !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("expected InvalidStateTransition, got %v", err)
	}
	cur, _ := m.GetInstance(ctx, inst.ID)
	if cur.State != StateStopped || cur.Attributes.Reboots != 0 {
		t.Errorf("record changed after rejected stop: %+v", cur)
	}

	if _, err := m.RebootInstance(ctx, inst.ID); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Errorf("reboot of stopped instance should fail, got %v", err)
	}

	if _, err := m.StartInstance(ctx, inst.ID); err != nil {
		t.Fatalf("StartInstance() error: %v", err)
	}
	if _, err := m.StartInstance(ctx, inst.ID); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Errorf("start of running instance should fail, got %v", err)
	}

	rebooted, err := m.RebootInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("RebootInstance() error: %v", err)
	}
	if rebooted.Reboots != 1 || rebooted.State != StateRunning {
		t.Errorf("unexpected reboot result: %+v", rebooted)
	}

	term, err := m.TerminateInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("TerminateInstance() error: %v", err)
	}
	if term.State != StateTerminated {
		t.Fatalf("State = %s, want terminated", term.State)
	}

	for name, op := range map[string]func(context.Context, string) (*Instance, error){
		"stop":      m.StopInstance,
		"start":     m.StartInstance,
		"terminate": m.TerminateInstance,
	} {
		if _, err := op(ctx, inst.ID); !errors.Is(err, engine.ErrInvalidStateTransition) {
			t.Errorf("%s after terminate: expected InvalidStateTransition, got %v", name, err)
		}
	}
}

func TestInstanceOperations_NotFound(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	if _, err := m.StopInstance(ctx, "i-00000000000000000"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := m.GetInstance(ctx, "i-00000000000000000"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestListInstances_StateFilter(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	a, _ := m.CreateInstance(ctx, InstanceSpec{})
	b, _ := m.CreateInstance(ctx, InstanceSpec{})
	_, _ = m.CreateInstance(ctx, InstanceSpec{})
	_, _ = m.StopInstance(ctx, a.ID)
	_, _ = m.TerminateInstance(ctx, b.ID)

	if n := len(collect(m.ListInstances(ctx))); n != 3 {
		t.Errorf("all = %d, want 3", n)
	}
	stopped := collect(m.ListInstances(ctx, StateStopped))
	if len(stopped) != 1 || stopped[0].ID != a.ID {
		t.Errorf("stopped = %v", stopped)
	}
	if n := len(collect(m.ListInstances(ctx, StateRunning, StateStopped))); n != 2 {
		t.Errorf("running|stopped = %d, want 2", n)
	}
}

func TestTagInstance(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	inst, _ := m.CreateInstance(ctx, InstanceSpec{Tags: map[string]string{"env": "dev"}})
	tagged, err := m.TagInstance(ctx, inst.ID, map[string]string{"owner": "ops", "env": "prod"})
	if err != nil {
		t.Fatalf("TagInstance() error: %v", err)
	}
	if tagged.Tags["env"] != "prod" || tagged.Tags["owner"] != "ops" {
		t.Errorf("unexpected tags %v", tagged.Tags)
	}
}

func TestObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var changes []engine.Change
	obs := engine.ObserverFunc(func(_ context.Context, c engine.Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})

	m := setupTestManager(t, WithObserver(obs))
	ctx := context.Background()
	inst, _ := m.CreateInstance(ctx, InstanceSpec{})
	_, _ = m.StopInstance(ctx, inst.ID)
	_, _ = m.StopInstance(ctx, inst.ID)

	if len(changes) != 4 {
		t.Fatalf("observed %d changes, want 4: %+v", len(changes), changes)
	}
	if changes[1].From != StatePending || changes[1].To != StateRunning {
		t.Errorf("boot change = %+v", changes[1])
	}
	if changes[3].Err == nil {
		t.Error("rejected stop should be reported with its error")
	}
}

func TestProvisionRawSpec(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	h, err := m.Provision(ctx, engine.RawSpec{"instance_type": "t2.micro", "unknown_key": 1})
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	if h.Kind != engine.KindInstance || h.Key() != h.ID {
		t.Errorf("unexpected handle %+v", h)
	}

	if _, err := m.Provision(ctx, engine.RawSpec{"instance_type": 5}); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected ValidationError for wrong type, got %v", err)
	}

	if err := m.Teardown(ctx, h, false); err != nil {
		t.Fatalf("Teardown() error: %v", err)
	}
	inst, _ := m.GetInstance(ctx, h.ID)
	if inst.State != StateTerminated {
		t.Errorf("State = %s after teardown", inst.State)
	}
	if err := m.Teardown(ctx, h, false); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("second Teardown() = %v, want NotFound", err)
	}
}

func collect[T any](seq iter.Seq[T]) []T {
	var out []T
	for v := range seq {
		out = append(out, v)
	}
	return out
}

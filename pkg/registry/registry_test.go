package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

type testAttrs struct {
	Size int
}

func (a *testAttrs) Clone() engine.Attributes {
	c := *a
	return &c
}

func (a *testAttrs) Lookup(key string) (string, bool) {
	if key == "size" {
		return fmt.Sprint(a.Size), true
	}
	return "", false
}

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New()
}

func TestRegistry_CreateAssignsUniqueIDs(t *testing.T) {
	reg := setupTestRegistry(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		rec, err := reg.Create(engine.KindInstance, engine.Draft{State: "pending", Attributes: &testAttrs{}})
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		if seen[rec.ID] {
			t.Fatalf("duplicate id %s", rec.ID)
		}
		seen[rec.ID] = true

		if !strings.HasPrefix(rec.ID, "i-") || len(rec.ID) != 19 {
			t.Errorf("unexpected instance id format %q", rec.ID)
		}
	}

	if reg.Count(engine.KindInstance) != 100 {
		t.Errorf("Count() = %d, want 100", reg.Count(engine.KindInstance))
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := setupTestRegistry(t)

	if _, err := reg.Create(engine.KindBucket, engine.Draft{Name: "logs", State: "active"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	_, err := reg.Create(engine.KindBucket, engine.Draft{Name: "logs", State: "active"})
	if !errors.Is(err, engine.ErrDuplicateName) {
		t.Fatalf("expected DuplicateName, got %v", err)
	}
	if reg.Count(engine.KindBucket) != 1 {
		t.Errorf("duplicate create must not store a record")
	}

	// Names are scoped per kind.
	if _, err := reg.Create(engine.KindFunction, engine.Draft{Name: "logs", State: "active"}); err != nil {
		t.Errorf("same name in another kind should be allowed: %v", err)
	}
	// Case-sensitive.
	if _, err := reg.Create(engine.KindBucket, engine.Draft{Name: "Logs", State: "active"}); err != nil {
		t.Errorf("names differing in case should be allowed: %v", err)
	}
}

func TestRegistry_GetReturnsCopies(t *testing.T) {
	reg := setupTestRegistry(t)
	rec, _ := reg.Create(engine.KindInstance, engine.Draft{State: "running", Attributes: &testAttrs{Size: 1}})

	got, err := reg.Get(engine.KindInstance, rec.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	got.Attributes.(*testAttrs).Size = 42
	got.Tags["x"] = "y"

	again, _ := reg.Get(engine.KindInstance, rec.ID)
	if again.Attributes.(*testAttrs).Size != 1 || len(again.Tags) != 0 {
		t.Error("mutating a returned record leaked into the registry")
	}
}

func TestRegistry_UpdateIsAllOrNothing(t *testing.T) {
	reg := setupTestRegistry(t)
	rec, _ := reg.Create(engine.KindInstance, engine.Draft{State: "running", Attributes: &testAttrs{Size: 1}})

	boom := errors.New("boom")
	_, err := reg.Update(engine.KindInstance, rec.ID, func(r *engine.Record) error {
		r.State = "stopped"
		r.Attributes.(*testAttrs).Size = 99
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}

	cur, _ := reg.Get(engine.KindInstance, rec.ID)
	if cur.State != "running" || cur.Attributes.(*testAttrs).Size != 1 {
		t.Errorf("failed update leaked: %+v", cur)
	}

	updated, err := reg.Update(engine.KindInstance, rec.ID, func(r *engine.Record) error {
		r.State = "stopped"
		r.ID = "hijacked"
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.State != "stopped" || updated.ID != rec.ID {
		t.Errorf("unexpected update result: %+v", updated)
	}
	if updated.UpdatedAt <= rec.UpdatedAt {
		t.Errorf("UpdatedAt did not advance: %d <= %d", updated.UpdatedAt, rec.UpdatedAt)
	}

	if _, err := reg.Update(engine.KindInstance, "i-missing", func(*engine.Record) error { return nil }); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestRegistry_DeleteAndNameReuse(t *testing.T) {
	reg := setupTestRegistry(t)
	rec, _ := reg.Create(engine.KindDatabase, engine.Draft{Name: "orders", State: "available"})

	if _, err := reg.Delete(engine.KindDatabase, rec.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := reg.Delete(engine.KindDatabase, rec.ID); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("second delete should report NotFound, got %v", err)
	}
	if _, err := reg.GetByName(engine.KindDatabase, "orders"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("name index should be cleared, got %v", err)
	}

	again, err := reg.Create(engine.KindDatabase, engine.Draft{Name: "orders", State: "available"})
	if err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
	if again.ID == rec.ID {
		t.Error("ids must not be reused")
	}
}

func TestRegistry_RemoveGuard(t *testing.T) {
	reg := setupTestRegistry(t)
	rec, _ := reg.Create(engine.KindBucket, engine.Draft{Name: "data", State: "active"})

	veto := errors.New("veto")
	if _, err := reg.Remove(engine.KindBucket, rec.ID, func(engine.Record) error { return veto }); !errors.Is(err, veto) {
		t.Fatalf("expected guard error, got %v", err)
	}
	if reg.Count(engine.KindBucket) != 1 {
		t.Error("vetoed removal must keep the record")
	}
}

func TestRegistry_ListIsLazyRestartableAndOrdered(t *testing.T) {
	reg := setupTestRegistry(t)
	var ids []string
	for i := 0; i < 5; i++ {
		rec, _ := reg.Create(engine.KindInstance, engine.Draft{State: "running", Attributes: &testAttrs{Size: i % 2}})
		ids = append(ids, rec.ID)
	}

	seq := reg.List(engine.KindInstance, engine.Filter{})
	for pass := 0; pass < 2; pass++ {
		var got []string
		for rec := range seq {
			got = append(got, rec.ID)
		}
		if strings.Join(got, ",") != strings.Join(ids, ",") {
			t.Errorf("pass %d: order = %v, want %v", pass, got, ids)
		}
	}

	n := 0
	for range reg.List(engine.KindInstance, engine.Filter{Attributes: map[string]string{"size": "1"}}) {
		n++
	}
	if n != 2 {
		t.Errorf("filtered count = %d, want 2", n)
	}

	// Early break must not deadlock later writers.
	for range seq {
		break
	}
	if _, err := reg.Create(engine.KindInstance, engine.Draft{State: "pending"}); err != nil {
		t.Fatalf("Create() after break: %v", err)
	}
}

func TestRegistry_ConcurrentUpdatesSerialize(t *testing.T) {
	reg := setupTestRegistry(t)
	rec, _ := reg.Create(engine.KindInstance, engine.Draft{State: "running"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Update(engine.KindInstance, rec.ID, func(r *engine.Record) error {
				if r.State != "running" {
					return engine.NewInvalidTransitionError(engine.KindInstance, r.ID, r.State, "stopped")
				}
				r.State = "stopped"
				return nil
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("exactly one stop should win, got %d", wins)
	}
}

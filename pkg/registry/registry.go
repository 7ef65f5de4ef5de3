package registry

import (
	"encoding/hex"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

// Mutator changes a private copy of a record. Returning an error discards
// the copy and leaves the stored record untouched.
type Mutator func(rec *engine.Record) error

// Registry is the authoritative in-memory store of resource records.
// Each kind has its own lock; a mutation of one kind never blocks another.
type Registry struct {
	clock atomic.Uint64
	now   func() time.Time

	mu     sync.Mutex
	tables map[engine.Kind]*table
}

type table struct {
	mu     sync.RWMutex
	byID   map[string]*engine.Record
	byName map[string]string
	// order holds ids in creation order.
	order []string
	// issued holds every id ever handed out, so ids are never reused.
	issued map[string]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the wall clock used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		now:    time.Now,
		tables: make(map[engine.Kind]*table),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) table(kind engine.Kind) *table {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[kind]
	if !ok {
		t = &table{
			byID:   make(map[string]*engine.Record),
			byName: make(map[string]string),
			issued: make(map[string]struct{}),
		}
		r.tables[kind] = t
	}
	return t
}

// Revision returns the current value of the logical clock.
func (r *Registry) Revision() uint64 {
	return r.clock.Load()
}

func (r *Registry) tick() uint64 {
	return r.clock.Add(1)
}

// Create stores a new record built from draft and returns a copy of it.
// A draft whose Name is already used within the kind fails with
// DuplicateName and stores nothing.
func (r *Registry) Create(kind engine.Kind, draft engine.Draft) (engine.Record, error) {
	if err := kind.Validate(); err != nil {
		return engine.Record{}, engine.NewValidationError("cannot create record", err)
	}

	t := r.table(kind)
	t.mu.Lock()
	defer t.mu.Unlock()

	if draft.Name != "" {
		if _, taken := t.byName[draft.Name]; taken {
			return engine.Record{}, engine.NewDuplicateNameError(kind, draft.Name).WithOperation("create")
		}
	}

	id := newID(kind)
	for _, used := t.issued[id]; used; _, used = t.issued[id] {
		id = newID(kind)
	}
	t.issued[id] = struct{}{}

	rev := r.tick()
	now := r.now().UTC()
	rec := &engine.Record{
		ID:          id,
		Kind:        kind,
		Name:        draft.Name,
		State:       draft.State,
		Attributes:  draft.Attributes,
		Tags:        draft.Tags,
		CreatedAt:   rev,
		UpdatedAt:   rev,
		CreatedTime: now,
		UpdatedTime: now,
	}
	if rec.Tags == nil {
		rec.Tags = make(map[string]string)
	}
	stored := rec.Clone()

	t.byID[id] = &stored
	if draft.Name != "" {
		t.byName[draft.Name] = id
	}
	t.order = append(t.order, id)

	return stored.Clone(), nil
}

// Get returns a copy of the record with the given id.
func (r *Registry) Get(kind engine.Kind, id string) (engine.Record, error) {
	t := r.table(kind)
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.byID[id]
	if !ok {
		return engine.Record{}, engine.NewNotFoundError(kind, id)
	}
	return rec.Clone(), nil
}

// GetByName returns a copy of the record with the given natural key.
func (r *Registry) GetByName(kind engine.Kind, name string) (engine.Record, error) {
	t := r.table(kind)
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.byName[name]
	if !ok {
		return engine.Record{}, engine.NewNotFoundError(kind, name)
	}
	return t.byID[id].Clone(), nil
}

// ResolveName maps a natural key to its record id.
func (r *Registry) ResolveName(kind engine.Kind, name string) (string, error) {
	t := r.table(kind)
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.byName[name]
	if !ok {
		return "", engine.NewNotFoundError(kind, name)
	}
	return id, nil
}

// Update applies fn to a copy of the record under the kind's exclusive lock
// and publishes the copy only if fn succeeds. ID, Kind, Name and CreatedAt
// cannot be changed by fn.
func (r *Registry) Update(kind engine.Kind, id string, fn Mutator) (engine.Record, error) {
	t := r.table(kind)
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.byID[id]
	if !ok {
		return engine.Record{}, engine.NewNotFoundError(kind, id)
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		return engine.Record{}, err
	}

	next.ID = cur.ID
	next.Kind = cur.Kind
	next.Name = cur.Name
	next.CreatedAt = cur.CreatedAt
	next.CreatedTime = cur.CreatedTime
	next.UpdatedAt = r.tick()
	next.UpdatedTime = r.now().UTC()
	if next.Tags == nil {
		next.Tags = make(map[string]string)
	}

	t.byID[id] = &next
	return next.Clone(), nil
}

// Remove deletes the record after guard approves it, under the kind's
// exclusive lock. A nil guard always approves. The removed record is
// returned.
func (r *Registry) Remove(kind engine.Kind, id string, guard func(rec engine.Record) error) (engine.Record, error) {
	t := r.table(kind)
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.byID[id]
	if !ok {
		return engine.Record{}, engine.NewNotFoundError(kind, id)
	}
	if guard != nil {
		if err := guard(rec.Clone()); err != nil {
			return engine.Record{}, err
		}
	}

	delete(t.byID, id)
	if rec.Name != "" {
		delete(t.byName, rec.Name)
	}
	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
	r.tick()

	return rec.Clone(), nil
}

// Delete removes the record with the given id. Deleting an unknown id
// reports NotFound.
func (r *Registry) Delete(kind engine.Kind, id string) (engine.Record, error) {
	return r.Remove(kind, id, nil)
}

// List returns a lazy sequence of records of kind matching filter, in
// creation order. Every iteration takes its own consistent snapshot, so the
// sequence can be ranged over more than once.
func (r *Registry) List(kind engine.Kind, filter engine.Filter) iter.Seq[engine.Record] {
	return func(yield func(engine.Record) bool) {
		for _, rec := range r.snapshot(kind) {
			if !filter.Matches(rec) {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// Count returns the number of records of kind.
func (r *Registry) Count(kind engine.Kind) int {
	t := r.table(kind)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

func (r *Registry) snapshot(kind engine.Kind) []engine.Record {
	t := r.table(kind)
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]engine.Record, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id].Clone())
	}
	return out
}

// newID derives an identifier from a random UUID. Instances get the
// 17-character hex suffix used by real compute ids.
func newID(kind engine.Kind) string {
	u := uuid.New()
	h := hex.EncodeToString(u[:])
	if kind == engine.KindInstance {
		return kind.IDPrefix() + h[:17]
	}
	return kind.IDPrefix() + h[:12]
}

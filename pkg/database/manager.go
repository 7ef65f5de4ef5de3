package database

import (
	"context"
	"encoding/hex"
	"fmt"
	"iter"
	"maps"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/registry"
	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

// Manager implements managed relational databases and their snapshots on
// top of a shared registry. Databases are addressed by identifier.
type Manager struct {
	reg      *registry.Registry
	log      *telemetry.Logger
	observer engine.Observer
	validate *validator.Validate
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *telemetry.Logger) Option {
	return func(m *Manager) {
		m.log = l.NewComponentLogger("database")
	}
}

// WithObserver registers an observer notified of every transition.
func WithObserver(o engine.Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// NewManager creates a database manager backed by reg.
func NewManager(reg *registry.Registry, opts ...Option) *Manager {
	v := engine.NewValidator()
	_ = v.RegisterValidation("db_identifier", func(fl validator.FieldLevel) bool {
		return ValidIdentifier(fl.Field().String())
	})

	m := &Manager{
		reg:      reg,
		log:      telemetry.NewNopLogger(),
		observer: engine.Observers(nil),
		validate: v,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Kind returns engine.KindDatabase.
func (m *Manager) Kind() engine.Kind {
	return engine.KindDatabase
}

// CreateDatabase validates spec, registers the database in creating and
// brings it to available.
func (m *Manager) CreateDatabase(ctx context.Context, spec DatabaseSpec) (*Database, error) {
	spec.applyDefaults()
	if err := m.validate.Struct(spec); err != nil {
		return nil, engine.FromValidator(engine.KindDatabase, err).
			WithResource(spec.Identifier).WithOperation("create")
	}

	attrs := &Attributes{
		Engine:                spec.Engine,
		EngineVersion:         spec.EngineVersion,
		InstanceClass:         spec.InstanceClass,
		AllocatedStorage:      spec.AllocatedStorage,
		DBName:                spec.DBName,
		MasterUsername:        spec.MasterUsername,
		MultiAZ:               spec.MultiAZ,
		BackupRetentionPeriod: *spec.BackupRetentionPeriod,
		Endpoint:              endpointFor(spec.Identifier),
		Port:                  DefaultPort(spec.Engine),
	}

	rec, err := m.reg.Create(engine.KindDatabase, engine.Draft{
		Name:       spec.Identifier,
		State:      Lifecycle.Initial(),
		Attributes: attrs,
		Tags:       maps.Clone(spec.Tags),
	})
	if err != nil {
		m.fail(ctx, spec.Identifier, engine.ActionCreate, err)
		return nil, err
	}
	m.notify(ctx, rec, engine.ActionCreate, "", rec.State)

	rec, err = m.transition(ctx, spec.Identifier, engine.ActionCreate, nil, StateAvailable)
	if err != nil {
		return nil, err
	}

	m.log.WithResource(engine.KindDatabase, rec.ID).
		Infof("created %s %s database %s (%s)", attrs.Engine, attrs.EngineVersion, spec.Identifier, attrs.InstanceClass)
	return fromRecord(rec), nil
}

// ModifyDatabase applies changes to an available database. The database
// passes through modifying and returns to available. The engine cannot be
// changed.
func (m *Manager) ModifyDatabase(ctx context.Context, identifier string, changes DatabaseChanges) (*Database, error) {
	if changes.Engine != nil {
		return nil, engine.NewValidationError("engine is immutable", nil).
			WithKind(engine.KindDatabase).WithResource(identifier).
			WithOperation(string(engine.ActionModify)).
			WithDetail("engine", *changes.Engine)
	}
	if err := m.validate.Struct(changes); err != nil {
		return nil, engine.FromValidator(engine.KindDatabase, err).
			WithResource(identifier).WithOperation(string(engine.ActionModify))
	}

	apply := func(rec *engine.Record) error {
		if rec.State != StateAvailable {
			return engine.NewInvalidTransitionError(engine.KindDatabase, identifier, rec.State, StateModifying)
		}
		attrs := rec.Attributes.(*Attributes)
		if changes.AllocatedStorage != nil && *changes.AllocatedStorage < attrs.AllocatedStorage {
			return engine.NewValidationError("allocated storage cannot shrink", nil).
				WithKind(engine.KindDatabase).WithResource(identifier).
				WithDetail("current", attrs.AllocatedStorage).
				WithDetail("requested", *changes.AllocatedStorage)
		}
		if changes.EngineVersion != nil {
			attrs.EngineVersion = *changes.EngineVersion
		}
		if changes.InstanceClass != nil {
			attrs.InstanceClass = *changes.InstanceClass
		}
		if changes.AllocatedStorage != nil {
			attrs.AllocatedStorage = *changes.AllocatedStorage
		}
		if changes.MultiAZ != nil {
			attrs.MultiAZ = *changes.MultiAZ
		}
		if changes.BackupRetentionPeriod != nil {
			attrs.BackupRetentionPeriod = *changes.BackupRetentionPeriod
		}
		return nil
	}

	rec, err := m.transition(ctx, identifier, engine.ActionModify, apply, StateModifying, StateAvailable)
	if err != nil {
		return nil, err
	}
	m.log.WithResource(engine.KindDatabase, rec.ID).Infof("modified database %s", identifier)
	return fromRecord(rec), nil
}

// StopDatabase moves an available database to stopped.
func (m *Manager) StopDatabase(ctx context.Context, identifier string) (*Database, error) {
	rec, err := m.transition(ctx, identifier, engine.ActionStop, nil, StateStopped)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// StartDatabase moves a stopped database back to available.
func (m *Manager) StartDatabase(ctx context.Context, identifier string) (*Database, error) {
	guard := func(rec *engine.Record) error {
		if rec.State != StateStopped {
			return engine.NewInvalidTransitionError(engine.KindDatabase, identifier, rec.State, StateAvailable)
		}
		return nil
	}
	rec, err := m.transition(ctx, identifier, engine.ActionStart, guard, StateAvailable)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// CreateSnapshot takes a snapshot of an available database. An empty
// snapshotID generates one. The snapshot is stored as its own record and
// its identifier appended to the database's snapshot list.
func (m *Manager) CreateSnapshot(ctx context.Context, identifier, snapshotID string) (*Snapshot, error) {
	return m.snapshot(ctx, identifier, snapshotID, false, StateAvailable)
}

// DeleteDatabase removes an available or stopped database, optionally
// taking a final snapshot first. Snapshots outlive the database.
func (m *Manager) DeleteDatabase(ctx context.Context, identifier string, opts DeleteDatabaseOptions) error {
	rec, err := m.reg.GetByName(engine.KindDatabase, identifier)
	if err != nil {
		return engine.AnnotateOperation(err, string(engine.ActionDelete))
	}
	if err := Lifecycle.Transition(identifier, rec.State, StateDeleting); err != nil {
		m.fail(ctx, identifier, engine.ActionDelete, err)
		return engine.AnnotateOperation(err, string(engine.ActionDelete))
	}

	if opts.FinalSnapshotIdentifier != "" {
		if _, err := m.snapshot(ctx, identifier, opts.FinalSnapshotIdentifier, true, StateAvailable, StateStopped); err != nil {
			return err
		}
	}

	if _, err := m.transition(ctx, identifier, engine.ActionDelete, nil, StateDeleting); err != nil {
		return err
	}

	removed, err := m.reg.Remove(engine.KindDatabase, rec.ID, func(r engine.Record) error {
		return Lifecycle.Transition(identifier, r.State, engine.StateRemoved)
	})
	if err != nil {
		m.fail(ctx, identifier, engine.ActionDelete, err)
		return err
	}
	m.notify(ctx, removed, engine.ActionDelete, StateDeleting, engine.StateRemoved)
	m.log.WithResource(engine.KindDatabase, removed.ID).Infof("deleted database %s", identifier)
	return nil
}

// GetDatabase returns the database with the given identifier.
func (m *Manager) GetDatabase(_ context.Context, identifier string) (*Database, error) {
	rec, err := m.reg.GetByName(engine.KindDatabase, identifier)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// ListDatabases returns databases in creation order, restricted to
// engineName when it is not empty.
func (m *Manager) ListDatabases(_ context.Context, engineName string) iter.Seq[*Database] {
	filter := engine.Filter{}
	if engineName != "" {
		filter.Attributes = map[string]string{"engine": engineName}
	}
	return func(yield func(*Database) bool) {
		for rec := range m.reg.List(engine.KindDatabase, filter) {
			if !yield(fromRecord(rec)) {
				return
			}
		}
	}
}

// GetSnapshot returns the snapshot with the given identifier.
func (m *Manager) GetSnapshot(_ context.Context, snapshotID string) (*Snapshot, error) {
	rec, err := m.reg.GetByName(engine.KindSnapshot, snapshotID)
	if err != nil {
		return nil, err
	}
	return snapshotFromRecord(rec), nil
}

// ListSnapshots returns snapshots in creation order, restricted to those
// taken from sourceIdentifier when it is not empty.
func (m *Manager) ListSnapshots(_ context.Context, sourceIdentifier string) iter.Seq[*Snapshot] {
	filter := engine.StateFilter(SnapshotAvailable)
	if sourceIdentifier != "" {
		filter.Attributes = map[string]string{"source_db_instance_identifier": sourceIdentifier}
	}
	return func(yield func(*Snapshot) bool) {
		for rec := range m.reg.List(engine.KindSnapshot, filter) {
			if !yield(snapshotFromRecord(rec)) {
				return
			}
		}
	}
}

// DeleteSnapshot removes a snapshot record.
func (m *Manager) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	id, err := m.reg.ResolveName(engine.KindSnapshot, snapshotID)
	if err != nil {
		return err
	}
	rec, err := m.reg.Remove(engine.KindSnapshot, id, func(r engine.Record) error {
		return SnapshotLifecycle.Transition(snapshotID, r.State, engine.StateRemoved)
	})
	if err != nil {
		return err
	}
	m.notifyKind(ctx, engine.KindSnapshot, rec, engine.ActionDelete, rec.State, engine.StateRemoved)
	return nil
}

// Provision decodes a raw topology spec and creates the database.
func (m *Manager) Provision(ctx context.Context, raw engine.RawSpec) (engine.Handle, error) {
	var spec DatabaseSpec
	if err := engine.DecodeSpec(engine.KindDatabase, raw, &spec); err != nil {
		return engine.Handle{}, err
	}
	db, err := m.CreateDatabase(ctx, spec)
	if err != nil {
		return engine.Handle{}, err
	}
	return engine.Handle{Kind: engine.KindDatabase, ID: db.ID, Name: db.Identifier}, nil
}

// Teardown deletes the database behind h without a final snapshot.
func (m *Manager) Teardown(ctx context.Context, h engine.Handle, _ bool) error {
	return m.DeleteDatabase(ctx, h.Key(), DeleteDatabaseOptions{})
}

// Summaries lists every database for status reporting.
func (m *Manager) Summaries(ctx context.Context) iter.Seq[engine.Summary] {
	return func(yield func(engine.Summary) bool) {
		for db := range m.ListDatabases(ctx, "") {
			s := engine.Summary{
				ID:    db.ID,
				Name:  db.Identifier,
				State: db.State,
				Tags:  db.Tags,
				Details: map[string]string{
					"engine":         db.Engine,
					"engine_version": db.EngineVersion,
					"instance_class": db.InstanceClass,
					"endpoint":       fmt.Sprintf("%s:%d", db.Endpoint, db.Port),
					"multi_az":       strconv.FormatBool(db.MultiAZ),
					"snapshots":      strconv.Itoa(len(db.Snapshots)),
				},
			}
			if !yield(s) {
				return
			}
		}
	}
}

// SnapshotSummaries lists every detached snapshot for status reporting.
func (m *Manager) SnapshotSummaries(ctx context.Context) iter.Seq[engine.Summary] {
	return func(yield func(engine.Summary) bool) {
		for snap := range m.ListSnapshots(ctx, "") {
			s := engine.Summary{
				ID:    snap.ID,
				Name:  snap.Identifier,
				State: snap.State,
				Details: map[string]string{
					"source":            snap.SourceIdentifier,
					"engine":            snap.Engine,
					"allocated_storage": strconv.Itoa(snap.AllocatedStorage),
					"final":             strconv.FormatBool(snap.Final),
				},
			}
			if !yield(s) {
				return
			}
		}
	}
}

// transition walks the database through path inside one registry update,
// after running guard. Intermediate states are logged but never published.
func (m *Manager) transition(ctx context.Context, identifier string, action engine.Action, guard func(*engine.Record) error, path ...engine.State) (engine.Record, error) {
	id, err := m.reg.ResolveName(engine.KindDatabase, identifier)
	if err != nil {
		return engine.Record{}, engine.AnnotateOperation(err, string(action))
	}

	var from engine.State
	rec, err := m.reg.Update(engine.KindDatabase, id, func(rec *engine.Record) error {
		from = rec.State
		if guard != nil {
			if err := guard(rec); err != nil {
				return err
			}
		}
		final, err := Lifecycle.Walk(identifier, rec.State, path...)
		if err != nil {
			return err
		}
		rec.State = final
		return nil
	})
	if err != nil {
		m.fail(ctx, identifier, action, err)
		return engine.Record{}, engine.AnnotateOperation(err, string(action))
	}

	prev := from
	for _, step := range path {
		m.notify(ctx, rec, action, prev, step)
		prev = step
	}
	return rec, nil
}

func (m *Manager) snapshot(ctx context.Context, identifier, snapshotID string, final bool, allowed ...engine.State) (*Snapshot, error) {
	if snapshotID == "" {
		snapshotID = identifier + "-" + shortHex(8)
	}
	if !ValidIdentifier(snapshotID) {
		return nil, engine.NewValidationError("invalid snapshot identifier", nil).
			WithKind(engine.KindSnapshot).WithResource(snapshotID).
			WithOperation(string(engine.ActionSnapshot))
	}

	source, err := m.reg.GetByName(engine.KindDatabase, identifier)
	if err != nil {
		return nil, engine.AnnotateOperation(err, string(engine.ActionSnapshot))
	}
	srcAttrs := source.Attributes.(*Attributes)

	// Reserve the snapshot name first so a collision leaves the database
	// untouched.
	snap, err := m.reg.Create(engine.KindSnapshot, engine.Draft{
		Name:  snapshotID,
		State: SnapshotLifecycle.Initial(),
		Attributes: &SnapshotAttributes{
			SourceIdentifier: identifier,
			SourceID:         source.ID,
			Engine:           srcAttrs.Engine,
			EngineVersion:    srcAttrs.EngineVersion,
			AllocatedStorage: srcAttrs.AllocatedStorage,
			Final:            final,
		},
		Tags: maps.Clone(source.Tags),
	})
	if err != nil {
		m.fail(ctx, identifier, engine.ActionSnapshot, err)
		return nil, engine.AnnotateOperation(err, string(engine.ActionSnapshot))
	}

	rec, err := m.reg.Update(engine.KindDatabase, source.ID, func(rec *engine.Record) error {
		ok := false
		for _, s := range allowed {
			if rec.State == s {
				ok = true
			}
		}
		if !ok {
			return engine.NewInvalidTransitionError(engine.KindDatabase, identifier, rec.State, rec.State).
				WithDetail("reason", "snapshots require an available database")
		}
		attrs := rec.Attributes.(*Attributes)
		attrs.Snapshots = append(attrs.Snapshots, snapshotID)
		return nil
	})
	if err != nil {
		_, _ = m.reg.Delete(engine.KindSnapshot, snap.ID)
		m.fail(ctx, identifier, engine.ActionSnapshot, err)
		return nil, engine.AnnotateOperation(err, string(engine.ActionSnapshot))
	}

	snap, err = m.reg.Update(engine.KindSnapshot, snap.ID, func(r *engine.Record) error {
		if err := SnapshotLifecycle.Transition(snapshotID, r.State, SnapshotAvailable); err != nil {
			return err
		}
		r.State = SnapshotAvailable
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.notify(ctx, rec, engine.ActionSnapshot, rec.State, rec.State)
	m.notifyKind(ctx, engine.KindSnapshot, snap, engine.ActionCreate, SnapshotCreating, SnapshotAvailable)
	m.log.WithResource(engine.KindDatabase, rec.ID).Infof("snapshot %s taken of %s", snapshotID, identifier)
	return snapshotFromRecord(snap), nil
}

func (m *Manager) notify(ctx context.Context, rec engine.Record, action engine.Action, from, to engine.State) {
	m.notifyKind(ctx, engine.KindDatabase, rec, action, from, to)
}

func (m *Manager) notifyKind(ctx context.Context, kind engine.Kind, rec engine.Record, action engine.Action, from, to engine.State) {
	m.log.WithResource(kind, rec.ID).Debugf("%s %s: %s -> %s", action, rec.Name, from, to)
	m.observer.Observe(ctx, engine.Change{
		Kind:   kind,
		ID:     rec.ID,
		Name:   rec.Name,
		Action: action,
		From:   from,
		To:     to,
	})
}

func (m *Manager) fail(ctx context.Context, identifier string, action engine.Action, err error) {
	m.log.WithField("db_instance_identifier", identifier).WithError(err).Warnf("%s rejected", action)
	m.observer.Observe(ctx, engine.Change{Kind: engine.KindDatabase, Name: identifier, Action: action, Err: err})
}

func endpointFor(identifier string) string {
	return fmt.Sprintf("%s.%s.%s.rds.amazonaws.com", identifier, shortHex(12), DefaultRegion)
}

func shortHex(n int) string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:n]
}

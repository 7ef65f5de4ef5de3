package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"iter"
	"maps"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/registry"
	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

// Manager implements buckets and their objects on top of a shared registry.
// Buckets are addressed by name.
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
		m.log = l.NewComponentLogger("storage")
	}
}

// WithObserver registers an observer notified of every mutation.
func WithObserver(o engine.Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// NewManager creates a storage manager backed by reg.
func NewManager(reg *registry.Registry, opts ...Option) *Manager {
	v := engine.NewValidator()
	_ = v.RegisterValidation("bucket_name", func(fl validator.FieldLevel) bool {
		return ValidBucketName(fl.Field().String())
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

// Kind returns engine.KindBucket.
func (m *Manager) Kind() engine.Kind {
	return engine.KindBucket
}

// CreateBucket validates spec and creates an empty bucket. Bucket names are
// unique across the whole process.
func (m *Manager) CreateBucket(ctx context.Context, spec BucketSpec) (*Bucket, error) {
	spec.applyDefaults()
	if err := m.validate.Struct(spec); err != nil {
		return nil, engine.FromValidator(engine.KindBucket, err).
			WithResource(spec.Name).WithOperation("create")
	}

	rec, err := m.reg.Create(engine.KindBucket, engine.Draft{
		Name:  spec.Name,
		State: Lifecycle.Initial(),
		Attributes: &Attributes{
			Region:     spec.Region,
			ACL:        spec.ACL,
			Versioning: spec.Versioning,
			Encryption: spec.Encryption,
			Objects:    make(map[string]*Object),
		},
		Tags: maps.Clone(spec.Tags),
	})
	if err != nil {
		m.fail(ctx, spec.Name, engine.ActionCreate, err)
		return nil, err
	}
	m.notify(ctx, rec, engine.ActionCreate, "", rec.State)

	rec, err = m.reg.Update(engine.KindBucket, rec.ID, func(r *engine.Record) error {
		if err := Lifecycle.Transition(r.Name, r.State, StateActive); err != nil {
			return err
		}
		r.State = StateActive
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.notify(ctx, rec, engine.ActionCreate, StateCreating, StateActive)

	m.log.WithResource(engine.KindBucket, rec.ID).
		Infof("created bucket %s in %s", spec.Name, spec.Region)
	return fromRecord(rec), nil
}

// DeleteBucket removes the bucket. A bucket that still holds objects fails
// with BucketNotEmpty unless opts.Force is set.
func (m *Manager) DeleteBucket(ctx context.Context, name string, opts DeleteBucketOptions) error {
	id, err := m.reg.ResolveName(engine.KindBucket, name)
	if err != nil {
		return engine.AnnotateOperation(err, string(engine.ActionDelete))
	}

	rec, err := m.reg.Remove(engine.KindBucket, id, func(r engine.Record) error {
		if err := Lifecycle.Transition(name, r.State, engine.StateRemoved); err != nil {
			return err
		}
		attrs := r.Attributes.(*Attributes)
		if n := len(attrs.Objects); n > 0 && !opts.Force {
			return engine.NewBucketNotEmptyError(name, n).WithOperation(string(engine.ActionDelete))
		}
		return nil
	})
	if err != nil {
		m.fail(ctx, name, engine.ActionDelete, err)
		return engine.AnnotateOperation(err, string(engine.ActionDelete))
	}

	m.notify(ctx, rec, engine.ActionDelete, rec.State, engine.StateRemoved)
	m.log.WithResource(engine.KindBucket, rec.ID).Infof("deleted bucket %s", name)
	return nil
}

// PutObject stores content under key. With versioning enabled a new version
// is appended; otherwise the key is overwritten.
func (m *Manager) PutObject(ctx context.Context, bucket, key string, content []byte, metadata map[string]string) (*ObjectVersion, error) {
	if key == "" {
		return nil, engine.NewValidationError("object key must not be empty", nil).
			WithKind(engine.KindBucket).WithResource(bucket).WithOperation(string(engine.ActionPut))
	}

	var written ObjectVersion
	rec, err := m.updateByName(bucket, func(r *engine.Record, attrs *Attributes) error {
		if r.State != StateActive {
			return engine.NewInvalidTransitionError(engine.KindBucket, bucket, r.State, r.State).
				WithOperation(string(engine.ActionPut))
		}

		sum := md5.Sum(content)
		written = ObjectVersion{
			VersionID: NullVersionID,
			Content:   bytes.Clone(content),
			ETag:      hex.EncodeToString(sum[:]),
			Size:      len(content),
			Metadata:  maps.Clone(metadata),
		}
		attrs.WriteSeq++
		written.Seq = attrs.WriteSeq

		obj, exists := attrs.Objects[key]
		if attrs.Versioning {
			written.VersionID = newVersionID()
			if !exists {
				obj = &Object{}
				attrs.Objects[key] = obj
			}
			obj.Versions = append(obj.Versions, written)
			return nil
		}
		attrs.Objects[key] = &Object{Versions: []ObjectVersion{written}}
		return nil
	})
	if err != nil {
		m.fail(ctx, bucket, engine.ActionPut, err)
		return nil, err
	}

	m.notify(ctx, rec, engine.ActionPut, rec.State, rec.State)
	m.log.WithResource(engine.KindBucket, rec.ID).
		Debugf("put %s/%s (%d bytes, version %s)", bucket, key, written.Size, written.VersionID)
	out := written
	out.Content = bytes.Clone(written.Content)
	return &out, nil
}

// GetObject returns the latest version of key.
func (m *Manager) GetObject(_ context.Context, bucket, key string) (*ObjectVersion, error) {
	obj, err := m.object(bucket, key)
	if err != nil {
		return nil, err
	}
	v := obj.Latest()
	v.Content = bytes.Clone(v.Content)
	return &v, nil
}

// GetObjectVersion returns the version of key at index, where 0 is the
// oldest retained version.
func (m *Manager) GetObjectVersion(_ context.Context, bucket, key string, index int) (*ObjectVersion, error) {
	obj, err := m.object(bucket, key)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(obj.Versions) {
		return nil, engine.NewNotFoundError(engine.KindBucket, bucket+"/"+key).
			WithOperation("get_object_version").
			WithDetail("index", index).
			WithDetail("versions", len(obj.Versions))
	}
	v := obj.Versions[index]
	v.Content = bytes.Clone(v.Content)
	return &v, nil
}

// ListObjectVersions returns every retained version of key, oldest first.
// Content is omitted.
func (m *Manager) ListObjectVersions(_ context.Context, bucket, key string) ([]ObjectVersion, error) {
	obj, err := m.object(bucket, key)
	if err != nil {
		return nil, err
	}
	out := make([]ObjectVersion, len(obj.Versions))
	for i, v := range obj.Versions {
		v.Content = nil
		out[i] = v
	}
	return out, nil
}

// DeleteObject removes key. When versioning is enabled and older versions
// exist only the latest version is removed and the previous one becomes
// current. Otherwise the key is removed entirely.
func (m *Manager) DeleteObject(ctx context.Context, bucket, key string) error {
	rec, err := m.updateByName(bucket, func(r *engine.Record, attrs *Attributes) error {
		obj, ok := attrs.Objects[key]
		if !ok {
			return engine.NewNotFoundError(engine.KindBucket, bucket+"/"+key).
				WithOperation(string(engine.ActionRemove))
		}
		if attrs.Versioning && len(obj.Versions) > 1 {
			obj.Versions = obj.Versions[:len(obj.Versions)-1]
			return nil
		}
		delete(attrs.Objects, key)
		return nil
	})
	if err != nil {
		m.fail(ctx, bucket, engine.ActionRemove, err)
		return err
	}
	m.notify(ctx, rec, engine.ActionRemove, rec.State, rec.State)
	return nil
}

// ListObjects returns the keys of bucket that start with prefix, in
// lexicographic order. The prefix is matched literally. Each iteration of
// the returned sequence reads the bucket afresh.
func (m *Manager) ListObjects(_ context.Context, bucket, prefix string) (iter.Seq[string], error) {
	id, err := m.reg.ResolveName(engine.KindBucket, bucket)
	if err != nil {
		return nil, err
	}

	return func(yield func(string) bool) {
		rec, err := m.reg.Get(engine.KindBucket, id)
		if err != nil {
			return
		}
		for _, key := range rec.Attributes.(*Attributes).sortedKeys() {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			if !yield(key) {
				return
			}
		}
	}, nil
}

// EnableVersioning turns on versioning for bucket. Existing objects keep
// their single null version.
func (m *Manager) EnableVersioning(ctx context.Context, bucket string) (*Bucket, error) {
	rec, err := m.updateByName(bucket, func(_ *engine.Record, attrs *Attributes) error {
		attrs.Versioning = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.notify(ctx, rec, engine.ActionModify, rec.State, rec.State)
	return fromRecord(rec), nil
}

// GetBucket returns the bucket with the given name.
func (m *Manager) GetBucket(_ context.Context, name string) (*Bucket, error) {
	rec, err := m.reg.GetByName(engine.KindBucket, name)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// ListBuckets returns every bucket in creation order.
func (m *Manager) ListBuckets(_ context.Context) iter.Seq[*Bucket] {
	return func(yield func(*Bucket) bool) {
		for rec := range m.reg.List(engine.KindBucket, engine.Filter{}) {
			if !yield(fromRecord(rec)) {
				return
			}
		}
	}
}

// Provision decodes a raw topology spec and creates the bucket.
func (m *Manager) Provision(ctx context.Context, raw engine.RawSpec) (engine.Handle, error) {
	var spec BucketSpec
	if err := engine.DecodeSpec(engine.KindBucket, raw, &spec, encryptionHook); err != nil {
		return engine.Handle{}, err
	}
	b, err := m.CreateBucket(ctx, spec)
	if err != nil {
		return engine.Handle{}, err
	}
	return engine.Handle{Kind: engine.KindBucket, ID: b.ID, Name: b.Name}, nil
}

// Teardown deletes the bucket behind h.
func (m *Manager) Teardown(ctx context.Context, h engine.Handle, force bool) error {
	return m.DeleteBucket(ctx, h.Key(), DeleteBucketOptions{Force: force})
}

// Summaries lists every bucket for status reporting.
func (m *Manager) Summaries(ctx context.Context) iter.Seq[engine.Summary] {
	return func(yield func(engine.Summary) bool) {
		for b := range m.ListBuckets(ctx) {
			s := engine.Summary{
				ID:    b.ID,
				Name:  b.Name,
				State: b.State,
				Tags:  b.Tags,
				Details: map[string]string{
					"region":       b.Region,
					"versioning":   strconv.FormatBool(b.Versioning),
					"encryption":   string(b.Encryption),
					"object_count": strconv.Itoa(b.ObjectCount),
				},
			}
			if !yield(s) {
				return
			}
		}
	}
}

func (m *Manager) updateByName(bucket string, fn func(r *engine.Record, attrs *Attributes) error) (engine.Record, error) {
	id, err := m.reg.ResolveName(engine.KindBucket, bucket)
	if err != nil {
		return engine.Record{}, err
	}
	return m.reg.Update(engine.KindBucket, id, func(r *engine.Record) error {
		return fn(r, r.Attributes.(*Attributes))
	})
}

func (m *Manager) object(bucket, key string) (*Object, error) {
	rec, err := m.reg.GetByName(engine.KindBucket, bucket)
	if err != nil {
		return nil, err
	}
	obj, ok := rec.Attributes.(*Attributes).Objects[key]
	if !ok {
		return nil, engine.NewNotFoundError(engine.KindBucket, bucket+"/"+key).WithOperation("get_object")
	}
	return obj, nil
}

func (m *Manager) notify(ctx context.Context, rec engine.Record, action engine.Action, from, to engine.State) {
	m.log.WithResource(engine.KindBucket, rec.ID).Debugf("%s %s: %s -> %s", action, rec.Name, from, to)
	m.observer.Observe(ctx, engine.Change{
		Kind:   engine.KindBucket,
		ID:     rec.ID,
		Name:   rec.Name,
		Action: action,
		From:   from,
		To:     to,
	})
}

func (m *Manager) fail(ctx context.Context, name string, action engine.Action, err error) {
	m.log.WithField("bucket", name).WithError(err).Warnf("%s rejected", action)
	m.observer.Observe(ctx, engine.Change{Kind: engine.KindBucket, Name: name, Action: action, Err: err})
}

func newVersionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

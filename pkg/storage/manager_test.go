package storage

import (
	"context"
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

func mustCreateBucket(t *testing.T, m *Manager, spec BucketSpec) *Bucket {
	t.Helper()
	b, err := m.CreateBucket(context.Background(), spec)
	if err != nil {
		t.Fatalf("CreateBucket(%s) error: %v", spec.Name, err)
	}
	return b
}

func TestCreateBucket_Defaults(t *testing.T) {
	m := setupTestManager(t)

	b := mustCreateBucket(t, m, BucketSpec{Name: "my-app-data"})
	if b.State != StateActive {
		t.Errorf("State = %s, want active", b.State)
	}
	if b.Region != DefaultRegion || b.ACL != DefaultACL || b.Encryption != EncryptionAES256 {
		t.Errorf("defaults not applied: %+v", b)
	}
	if b.Versioning {
		t.Error("versioning should default to off")
	}
}

func TestCreateBucket_Validation(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	names := []string{"", "ab", "Uppercase", "under_score", "-leading", "trailing-", "two..dots", "192.168.1.1"}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			_, err := m.CreateBucket(ctx, BucketSpec{Name: name})
			if !errors.Is(err, engine.ErrValidation) {
				t.Errorf("expected ValidationError for %q, got %v", name, err)
			}
		})
	}

	if _, err := m.CreateBucket(ctx, BucketSpec{Name: "ok-name", ACL: "world-writable"}); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected ValidationError for bad acl, got %v", err)
	}
}

func TestCreateBucket_DuplicateName(t *testing.T) {
	m := setupTestManager(t)
	mustCreateBucket(t, m, BucketSpec{Name: "shared"})

	_, err := m.CreateBucket(context.Background(), BucketSpec{Name: "shared", Region: "eu-west-1"})
	if !errors.Is(err, engine.ErrDuplicateName) {
		t.Fatalf("expected DuplicateName, got %v", err)
	}
}

func TestDeleteBucket_NotEmpty(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreateBucket(t, m, BucketSpec{Name: "logs"})

	for _, key := range []string{"a.txt", "b.txt"} {
		if _, err := m.PutObject(ctx, "logs", key, []byte(key), nil); err != nil {
			t.Fatalf("PutObject() error: %v", err)
		}
	}

	err := m.DeleteBucket(ctx, "logs", DeleteBucketOptions{})
	if !errors.Is(err, engine.ErrBucketNotEmpty) {
		t.Fatalf("expected BucketNotEmpty, got %v", err)
	}
	if _, err := m.GetBucket(ctx, "logs"); err != nil {
		t.Fatalf("bucket should survive a rejected delete: %v", err)
	}

	for _, key := range []string{"a.txt", "b.txt"} {
		if err := m.DeleteObject(ctx, "logs", key); err != nil {
			t.Fatalf("DeleteObject() error: %v", err)
		}
	}
	if err := m.DeleteBucket(ctx, "logs", DeleteBucketOptions{}); err != nil {
		t.Fatalf("DeleteBucket() on empty bucket: %v", err)
	}
	if err := m.DeleteBucket(ctx, "logs", DeleteBucketOptions{}); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("second delete should report NotFound, got %v", err)
	}
}

func TestDeleteBucket_Force(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreateBucket(t, m, BucketSpec{Name: "scratch"})
	_, _ = m.PutObject(ctx, "scratch", "tmp", []byte("x"), nil)

	if err := m.DeleteBucket(ctx, "scratch", DeleteBucketOptions{Force: true}); err != nil {
		t.Fatalf("forced delete: %v", err)
	}
}

func TestPutObject_Overwrite(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreateBucket(t, m, BucketSpec{Name: "plain"})

	_, _ = m.PutObject(ctx, "plain", "k", []byte("one"), nil)
	v, err := m.PutObject(ctx, "plain", "k", []byte("two"), map[string]string{"content-type": "text/plain"})
	if err != nil {
		t.Fatalf("PutObject() error: %v", err)
	}
	if v.VersionID != NullVersionID {
		t.Errorf("VersionID = %s, want null", v.VersionID)
	}

	versions, _ := m.ListObjectVersions(ctx, "plain", "k")
	if len(versions) != 1 {
		t.Fatalf("unversioned bucket kept %d versions", len(versions))
	}
	got, _ := m.GetObject(ctx, "plain", "k")
	if string(got.Content) != "two" || got.Metadata["content-type"] != "text/plain" {
		t.Errorf("unexpected object %+v", got)
	}
	if got.ETag == "" || got.Size != 3 {
		t.Errorf("etag/size not set: %+v", got)
	}
}

func TestPutObject_Versioned(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreateBucket(t, m, BucketSpec{Name: "versioned", Versioning: true})

	v1, _ := m.PutObject(ctx, "versioned", "config.json", []byte(`{"v":1}`), nil)
	v2, _ := m.PutObject(ctx, "versioned", "config.json", []byte(`{"v":2}`), nil)
	if v1.VersionID == v2.VersionID {
		t.Fatal("versions must have distinct ids")
	}

	first, err := m.GetObjectVersion(ctx, "versioned", "config.json", 0)
	if err != nil {
		t.Fatalf("GetObjectVersion(0) error: %v", err)
	}
	second, _ := m.GetObjectVersion(ctx, "versioned", "config.json", 1)
	if string(first.Content) != `{"v":1}` || string(second.Content) != `{"v":2}` {
		t.Errorf("content did not round-trip: %q %q", first.Content, second.Content)
	}
	latest, _ := m.GetObject(ctx, "versioned", "config.json")
	if latest.VersionID != v2.VersionID {
		t.Errorf("latest = %s, want %s", latest.VersionID, v2.VersionID)
	}

	if _, err := m.GetObjectVersion(ctx, "versioned", "config.json", 2); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("out of range index should be NotFound, got %v", err)
	}

	// Deleting pops the latest version; the older one becomes current.
	if err := m.DeleteObject(ctx, "versioned", "config.json"); err != nil {
		t.Fatalf("DeleteObject() error: %v", err)
	}
	cur, _ := m.GetObject(ctx, "versioned", "config.json")
	if cur.VersionID != v1.VersionID {
		t.Errorf("after delete current = %s, want %s", cur.VersionID, v1.VersionID)
	}
	if err := m.DeleteObject(ctx, "versioned", "config.json"); err != nil {
		t.Fatalf("DeleteObject() of last version: %v", err)
	}
	if _, err := m.GetObject(ctx, "versioned", "config.json"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("key should be gone, got %v", err)
	}
}

func TestPutObject_ReturnedContentIsIsolated(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreateBucket(t, m, BucketSpec{Name: "iso"})

	src := []byte("hello")
	_, _ = m.PutObject(ctx, "iso", "k", src, nil)
	src[0] = 'j'

	got, _ := m.GetObject(ctx, "iso", "k")
	got.Content[1] = 'a'

	again, _ := m.GetObject(ctx, "iso", "k")
	if string(again.Content) != "hello" {
		t.Errorf("stored content was mutated: %q", again.Content)
	}
}

func TestListObjects_Prefix(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreateBucket(t, m, BucketSpec{Name: "lake"})

	for _, key := range []string{"data/raw/b.csv", "data/raw/a.csv", "data/rawish.csv", "data/processed/x.csv", "readme"} {
		_, _ = m.PutObject(ctx, "lake", key, []byte("-"), nil)
	}

	seq, err := m.ListObjects(ctx, "lake", "data/raw/")
	if err != nil {
		t.Fatalf("ListObjects() error: %v", err)
	}
	got := slices.Collect(seq)
	want := []string{"data/raw/a.csv", "data/raw/b.csv"}
	if !slices.Equal(got, want) {
		t.Errorf("ListObjects(data/raw/) = %v, want %v", got, want)
	}

	all, _ := m.ListObjects(ctx, "lake", "")
	if n := len(slices.Collect(all)); n != 5 {
		t.Errorf("empty prefix listed %d keys, want 5", n)
	}

	// Regex metacharacters are literal.
	_, _ = m.PutObject(ctx, "lake", "a.b", []byte("-"), nil)
	_, _ = m.PutObject(ctx, "lake", "axb", []byte("-"), nil)
	dot, _ := m.ListObjects(ctx, "lake", "a.")
	if got := slices.Collect(dot); !slices.Equal(got, []string{"a.b"}) {
		t.Errorf("ListObjects(a.) = %v", got)
	}

	if _, err := m.ListObjects(ctx, "missing", ""); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected NotFound for unknown bucket, got %v", err)
	}
}

func TestEnableVersioning(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	mustCreateBucket(t, m, BucketSpec{Name: "later"})
	_, _ = m.PutObject(ctx, "later", "k", []byte("v0"), nil)

	b, err := m.EnableVersioning(ctx, "later")
	if err != nil {
		t.Fatalf("EnableVersioning() error: %v", err)
	}
	if !b.Versioning {
		t.Fatal("versioning not enabled")
	}

	_, _ = m.PutObject(ctx, "later", "k", []byte("v1"), nil)
	versions, _ := m.ListObjectVersions(ctx, "later", "k")
	if len(versions) != 2 || versions[0].VersionID != NullVersionID {
		t.Errorf("unexpected versions %+v", versions)
	}
}

func TestProvision_EncryptionBoolean(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	h, err := m.Provision(ctx, engine.RawSpec{"bucket_name": "enc-off", "encryption": false, "versioning": true})
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	if h.Name != "enc-off" {
		t.Errorf("handle name = %s", h.Name)
	}
	b, _ := m.GetBucket(ctx, "enc-off")
	if b.Encryption != EncryptionNone || !b.Versioning {
		t.Errorf("unexpected bucket %+v", b)
	}

	if _, err := m.Provision(ctx, engine.RawSpec{"region": "us-east-1"}); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("missing bucket_name should be a ValidationError, got %v", err)
	}
}

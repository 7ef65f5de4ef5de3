package storage

import (
	"maps"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

// Bucket lifecycle states.
const (
	StateCreating engine.State = "creating"
	StateActive   engine.State = "active"
)

// Lifecycle is the bucket state machine.
var Lifecycle = engine.NewStateMachine(engine.KindBucket, StateCreating, map[engine.State][]engine.State{
	StateCreating: {StateActive},
	StateActive:   {engine.StateRemoved},
})

// Defaults applied to a BucketSpec.
const (
	DefaultRegion = "us-east-1"
	DefaultACL    = "private"
)

// NullVersionID is the version id of objects written while versioning is
// disabled.
const NullVersionID = "null"

// Encryption is a bucket's server-side encryption setting.
type Encryption string

const (
	EncryptionNone   Encryption = "none"
	EncryptionAES256 Encryption = "AES256"
	EncryptionKMS    Encryption = "aws:kms"
)

// ACLs is the set of accepted canned ACLs.
var ACLs = []string{"private", "public-read", "public-read-write", "authenticated-read"}

var (
	bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
	ipAddressPattern  = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)
)

// ValidBucketName reports whether name follows DNS-compatible bucket naming:
// 3 to 63 characters of lowercase letters, digits, dots and hyphens, starting
// and ending with a letter or digit, no adjacent dots, not an IP address.
func ValidBucketName(name string) bool {
	return bucketNamePattern.MatchString(name) &&
		!strings.Contains(name, "..") &&
		!ipAddressPattern.MatchString(name)
}

// BucketSpec is the input to CreateBucket.
type BucketSpec struct {
	Name       string            `mapstructure:"bucket_name" validate:"required,bucket_name"`
	Region     string            `mapstructure:"region" validate:"required"`
	ACL        string            `mapstructure:"acl" validate:"oneof=private public-read public-read-write authenticated-read"`
	Versioning bool              `mapstructure:"versioning"`
	Encryption Encryption        `mapstructure:"encryption" validate:"oneof=none AES256 aws:kms"`
	Tags       map[string]string `mapstructure:"tags"`
}

func (s *BucketSpec) applyDefaults() {
	if s.Region == "" {
		s.Region = DefaultRegion
	}
	if s.ACL == "" {
		s.ACL = DefaultACL
	}
	if s.Encryption == "" {
		s.Encryption = EncryptionAES256
	}
}

// encryptionHook lets topologies use a boolean for the encryption setting.
func encryptionHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(Encryption("")) || from.Kind() != reflect.Bool {
		return data, nil
	}
	if data.(bool) {
		return EncryptionAES256, nil
	}
	return EncryptionNone, nil
}

var _ mapstructure.DecodeHookFuncType = encryptionHook

// ObjectVersion is one stored revision of an object. Content is never
// modified after the version is written.
type ObjectVersion struct {
	VersionID string            `json:"version_id"`
	Content   []byte            `json:"-"`
	ETag      string            `json:"etag"`
	Size      int               `json:"size"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	// Seq orders writes within the bucket.
	Seq uint64 `json:"seq"`
}

// Object holds every retained version of a key, oldest first.
type Object struct {
	Versions []ObjectVersion `json:"versions"`
}

// Latest returns the current version.
func (o *Object) Latest() ObjectVersion {
	return o.Versions[len(o.Versions)-1]
}

// Attributes are the bucket-specific fields of a record.
type Attributes struct {
	Region     string             `json:"region"`
	ACL        string             `json:"acl"`
	Versioning bool               `json:"versioning"`
	Encryption Encryption         `json:"encryption"`
	Objects    map[string]*Object `json:"-"`
	WriteSeq   uint64             `json:"-"`
}

// Clone implements engine.Attributes. Version content is shared because it
// is immutable.
func (a *Attributes) Clone() engine.Attributes {
	c := *a
	c.Objects = make(map[string]*Object, len(a.Objects))
	for k, obj := range a.Objects {
		versions := make([]ObjectVersion, len(obj.Versions))
		for i, v := range obj.Versions {
			v.Metadata = maps.Clone(v.Metadata)
			versions[i] = v
		}
		c.Objects[k] = &Object{Versions: versions}
	}
	return &c
}

// Lookup implements engine.Attributes.
func (a *Attributes) Lookup(key string) (string, bool) {
	switch key {
	case "region":
		return a.Region, true
	case "acl":
		return a.ACL, true
	case "versioning":
		return strconv.FormatBool(a.Versioning), true
	case "encryption":
		return string(a.Encryption), true
	case "object_count":
		return strconv.Itoa(len(a.Objects)), true
	}
	return "", false
}

// SizeBytes sums the size of every retained version.
func (a *Attributes) SizeBytes() int {
	total := 0
	for _, obj := range a.Objects {
		for _, v := range obj.Versions {
			total += v.Size
		}
	}
	return total
}

// sortedKeys returns object keys in lexicographic order.
func (a *Attributes) sortedKeys() []string {
	keys := slices.Collect(maps.Keys(a.Objects))
	slices.Sort(keys)
	return keys
}

// Bucket is the caller-facing view of a bucket record.
type Bucket struct {
	ID          string            `json:"bucket_id"`
	Name        string            `json:"bucket_name"`
	State       engine.State      `json:"state"`
	Region      string            `json:"region"`
	ACL         string            `json:"acl"`
	Versioning  bool              `json:"versioning"`
	Encryption  Encryption        `json:"encryption"`
	ObjectCount int               `json:"object_count"`
	SizeBytes   int               `json:"size_bytes"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func fromRecord(rec engine.Record) *Bucket {
	attrs := rec.Attributes.(*Attributes)
	return &Bucket{
		ID:          rec.ID,
		Name:        rec.Name,
		State:       rec.State,
		Region:      attrs.Region,
		ACL:         attrs.ACL,
		Versioning:  attrs.Versioning,
		Encryption:  attrs.Encryption,
		ObjectCount: len(attrs.Objects),
		SizeBytes:   attrs.SizeBytes(),
		Tags:        rec.Tags,
	}
}

// DeleteBucketOptions controls DeleteBucket.
type DeleteBucketOptions struct {
	// Force deletes the bucket together with its objects.
	Force bool
}

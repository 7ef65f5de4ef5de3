package engine

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Kind identifies a resource category.
type Kind string

const (
	// KindInstance is a virtual compute instance.
	KindInstance Kind = "instance"

	// KindBucket is an object-storage bucket.
	KindBucket Kind = "bucket"

	// KindDatabase is a managed relational database.
	KindDatabase Kind = "database"

	// KindFunction is a serverless function.
	KindFunction Kind = "function"

	// KindSnapshot is a detached database snapshot. It is never provisioned
	// from a topology and outlives the database it was taken from.
	KindSnapshot Kind = "snapshot"
)

// ProvisionOrder is the fixed order in which a topology is created.
// Destruction walks it backwards.
var ProvisionOrder = []Kind{KindInstance, KindBucket, KindDatabase, KindFunction}

var kindAliases = map[string]Kind{
	"instance":  KindInstance,
	"instances": KindInstance,
	"ec2":       KindInstance,
	"bucket":    KindBucket,
	"buckets":   KindBucket,
	"s3":        KindBucket,
	"database":  KindDatabase,
	"databases": KindDatabase,
	"rds":       KindDatabase,
	"function":  KindFunction,
	"functions": KindFunction,
	"lambda":    KindFunction,
}

// ParseKind resolves a topology key (including provider-style aliases such
// as "ec2" or "lambda") to a provisionable Kind.
func ParseKind(s string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", NewValidationError(fmt.Sprintf("unknown resource kind %q", s), nil)
	}
	return k, nil
}

// Validate checks if the kind is valid.
func (k Kind) Validate() error {
	switch k {
	case KindInstance, KindBucket, KindDatabase, KindFunction, KindSnapshot:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// IDPrefix returns the prefix used for generated identifiers of this kind.
func (k Kind) IDPrefix() string {
	switch k {
	case KindInstance:
		return "i-"
	case KindBucket:
		return "bkt-"
	case KindDatabase:
		return "db-"
	case KindFunction:
		return "fn-"
	case KindSnapshot:
		return "snap-"
	default:
		return string(k) + "-"
	}
}

// Attributes is the kind-specific payload of a Record.
type Attributes interface {
	// Clone returns a deep copy so mutators never touch a published record.
	Clone() Attributes

	// Lookup returns the string form of a named attribute for exact-match
	// filtering. The boolean is false when the attribute is unknown.
	Lookup(key string) (string, bool)
}

// Record is the common resource record stored by the registry.
type Record struct {
	// ID is the generated identifier, immutable and unique within its kind.
	ID string `json:"id"`

	// Kind is the resource category.
	Kind Kind `json:"kind"`

	// Name is the optional natural key, unique within its kind.
	Name string `json:"name,omitempty"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// Attributes holds the kind-specific fields.
	Attributes Attributes `json:"attributes"`

	// Tags are user-supplied key/value labels.
	Tags map[string]string `json:"tags,omitempty"`

	// CreatedAt is the logical clock value at creation.
	CreatedAt uint64 `json:"created_at"`

	// UpdatedAt is the logical clock value at the last mutation.
	UpdatedAt uint64 `json:"updated_at"`

	// CreatedTime is wall-clock time for auditing only.
	CreatedTime time.Time `json:"created_time"`

	// UpdatedTime is wall-clock time for auditing only.
	UpdatedTime time.Time `json:"updated_time"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.Attributes != nil {
		out.Attributes = r.Attributes.Clone()
	}
	out.Tags = maps.Clone(r.Tags)
	return out
}

// Draft describes a record to be created.
type Draft struct {
	Name       string
	State      State
	Attributes Attributes
	Tags       map[string]string
}

// Filter is an exact-match predicate over a record. Empty fields match
// everything.
type Filter struct {
	// Name matches the natural key.
	Name string

	// States matches any of the listed states.
	States []State

	// Attributes matches attribute values by their string form.
	Attributes map[string]string

	// Tags matches tag values.
	Tags map[string]string
}

// Matches reports whether the record satisfies every clause of the filter.
func (f Filter) Matches(r Record) bool {
	if f.Name != "" && r.Name != f.Name {
		return false
	}
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if r.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for k, want := range f.Attributes {
		if r.Attributes == nil {
			return false
		}
		got, ok := r.Attributes.Lookup(k)
		if !ok || got != want {
			return false
		}
	}
	for k, want := range f.Tags {
		if got, ok := r.Tags[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// StateFilter is shorthand for a filter on one or more states.
func StateFilter(states ...State) Filter {
	return Filter{States: states}
}

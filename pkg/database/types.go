package database

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

// Database lifecycle states.
const (
	StateCreating  engine.State = "creating"
	StateAvailable engine.State = "available"
	StateModifying engine.State = "modifying"
	StateStopped   engine.State = "stopped"
	StateDeleting  engine.State = "deleting"
)

// Lifecycle is the database state machine. Deleting always ends with the
// record leaving the registry.
var Lifecycle = engine.NewStateMachine(engine.KindDatabase, StateCreating, map[engine.State][]engine.State{
	StateCreating:  {StateAvailable},
	StateAvailable: {StateModifying, StateStopped, StateDeleting},
	StateModifying: {StateAvailable},
	StateStopped:   {StateAvailable, StateDeleting},
	StateDeleting:  {engine.StateRemoved},
})

// Snapshot states.
const (
	SnapshotCreating  engine.State = "creating"
	SnapshotAvailable engine.State = "available"
)

// SnapshotLifecycle is the snapshot state machine.
var SnapshotLifecycle = engine.NewStateMachine(engine.KindSnapshot, SnapshotCreating, map[engine.State][]engine.State{
	SnapshotCreating:  {SnapshotAvailable, engine.StateRemoved},
	SnapshotAvailable: {engine.StateRemoved},
})

// Supported engines.
const (
	EngineMySQL      = "mysql"
	EnginePostgreSQL = "postgresql"
	EngineMariaDB    = "mariadb"
)

// Engines is the set of accepted database engines.
var Engines = []string{EngineMySQL, EnginePostgreSQL, EngineMariaDB}

// Defaults applied to a DatabaseSpec.
const (
	DefaultEngine                = EngineMySQL
	DefaultInstanceClass         = "db.t3.micro"
	DefaultAllocatedStorage      = 20
	DefaultMasterUsername        = "admin"
	DefaultBackupRetentionPeriod = 7
	DefaultRegion                = "us-east-1"
)

var defaultEngineVersions = map[string]string{
	EngineMySQL:      "8.0",
	EnginePostgreSQL: "16.3",
	EngineMariaDB:    "10.11",
}

// DefaultPort returns the listener port for engine.
func DefaultPort(engineName string) int {
	if engineName == EnginePostgreSQL {
		return 5432
	}
	return 3306
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]{0,62}$`)

// ValidIdentifier reports whether id is a legal database or snapshot
// identifier: 1 to 63 letters, digits or hyphens, starting with a letter,
// with no trailing hyphen and no two consecutive hyphens.
func ValidIdentifier(id string) bool {
	return identifierPattern.MatchString(id) &&
		!strings.HasSuffix(id, "-") &&
		!strings.Contains(id, "--")
}

// DatabaseSpec is the input to CreateDatabase.
type DatabaseSpec struct {
	Identifier            string            `mapstructure:"db_instance_identifier" validate:"required,db_identifier"`
	Engine                string            `mapstructure:"engine" validate:"required,oneof=mysql postgresql mariadb"`
	EngineVersion         string            `mapstructure:"engine_version" validate:"required"`
	InstanceClass         string            `mapstructure:"instance_class" validate:"required,startswith=db."`
	AllocatedStorage      int               `mapstructure:"allocated_storage" validate:"min=20,max=65536"`
	DBName                string            `mapstructure:"db_name" validate:"omitempty,max=64,alphanum"`
	MasterUsername        string            `mapstructure:"master_username" validate:"required,max=16"`
	MultiAZ               bool              `mapstructure:"multi_az"`
	BackupRetentionPeriod *int              `mapstructure:"backup_retention_period" validate:"omitempty,min=0,max=35"`
	Tags                  map[string]string `mapstructure:"tags"`
}

func (s *DatabaseSpec) applyDefaults() {
	if s.Engine == "" {
		s.Engine = DefaultEngine
	}
	if s.EngineVersion == "" {
		s.EngineVersion = defaultEngineVersions[s.Engine]
	}
	if s.InstanceClass == "" {
		s.InstanceClass = DefaultInstanceClass
	}
	if s.AllocatedStorage == 0 {
		s.AllocatedStorage = DefaultAllocatedStorage
	}
	if s.MasterUsername == "" {
		s.MasterUsername = DefaultMasterUsername
	}
	if s.BackupRetentionPeriod == nil {
		days := DefaultBackupRetentionPeriod
		s.BackupRetentionPeriod = &days
	}
}

// DatabaseChanges lists the mutable settings of a database. Nil fields are
// left unchanged. Engine is accepted only to reject it explicitly.
type DatabaseChanges struct {
	Engine                *string `mapstructure:"engine" json:"engine,omitempty"`
	EngineVersion         *string `mapstructure:"engine_version" json:"engine_version,omitempty" validate:"omitempty,min=1"`
	InstanceClass         *string `mapstructure:"instance_class" json:"instance_class,omitempty" validate:"omitempty,startswith=db."`
	AllocatedStorage      *int    `mapstructure:"allocated_storage" json:"allocated_storage,omitempty" validate:"omitempty,min=20,max=65536"`
	MultiAZ               *bool   `mapstructure:"multi_az" json:"multi_az,omitempty"`
	BackupRetentionPeriod *int    `mapstructure:"backup_retention_period" json:"backup_retention_period,omitempty" validate:"omitempty,min=0,max=35"`
}

// Attributes are the database-specific fields of a record.
type Attributes struct {
	Engine                string   `json:"engine"`
	EngineVersion         string   `json:"engine_version"`
	InstanceClass         string   `json:"instance_class"`
	AllocatedStorage      int      `json:"allocated_storage"`
	DBName                string   `json:"db_name,omitempty"`
	MasterUsername        string   `json:"master_username"`
	MultiAZ               bool     `json:"multi_az"`
	BackupRetentionPeriod int      `json:"backup_retention_period"`
	Endpoint              string   `json:"endpoint"`
	Port                  int      `json:"port"`
	Snapshots             []string `json:"snapshots,omitempty"`
}

// Clone implements engine.Attributes.
func (a *Attributes) Clone() engine.Attributes {
	c := *a
	c.Snapshots = slices.Clone(a.Snapshots)
	return &c
}

// Lookup implements engine.Attributes.
func (a *Attributes) Lookup(key string) (string, bool) {
	switch key {
	case "engine":
		return a.Engine, true
	case "engine_version":
		return a.EngineVersion, true
	case "instance_class":
		return a.InstanceClass, true
	case "allocated_storage":
		return strconv.Itoa(a.AllocatedStorage), true
	case "multi_az":
		return strconv.FormatBool(a.MultiAZ), true
	case "endpoint":
		return a.Endpoint, true
	case "port":
		return strconv.Itoa(a.Port), true
	}
	return "", false
}

// Database is the caller-facing view of a database record.
type Database struct {
	ID         string            `json:"db_resource_id"`
	Identifier string            `json:"db_instance_identifier"`
	State      engine.State      `json:"status"`
	Tags       map[string]string `json:"tags,omitempty"`
	Attributes
}

func fromRecord(rec engine.Record) *Database {
	return &Database{
		ID:         rec.ID,
		Identifier: rec.Name,
		State:      rec.State,
		Tags:       rec.Tags,
		Attributes: *rec.Attributes.(*Attributes),
	}
}

// SnapshotAttributes are the fields of a detached snapshot record.
type SnapshotAttributes struct {
	SourceIdentifier string `json:"source_db_instance_identifier"`
	SourceID         string `json:"source_db_resource_id"`
	Engine           string `json:"engine"`
	EngineVersion    string `json:"engine_version"`
	AllocatedStorage int    `json:"allocated_storage"`
	Final            bool   `json:"final"`
}

// Clone implements engine.Attributes.
func (a *SnapshotAttributes) Clone() engine.Attributes {
	c := *a
	return &c
}

// Lookup implements engine.Attributes.
func (a *SnapshotAttributes) Lookup(key string) (string, bool) {
	switch key {
	case "source_db_instance_identifier":
		return a.SourceIdentifier, true
	case "engine":
		return a.Engine, true
	case "final":
		return strconv.FormatBool(a.Final), true
	}
	return "", false
}

// Snapshot is the caller-facing view of a snapshot record.
type Snapshot struct {
	ID         string       `json:"snapshot_resource_id"`
	Identifier string       `json:"snapshot_identifier"`
	State      engine.State `json:"status"`
	SnapshotAttributes
}

func snapshotFromRecord(rec engine.Record) *Snapshot {
	return &Snapshot{
		ID:                 rec.ID,
		Identifier:         rec.Name,
		State:              rec.State,
		SnapshotAttributes: *rec.Attributes.(*SnapshotAttributes),
	}
}

// DeleteDatabaseOptions controls DeleteDatabase.
type DeleteDatabaseOptions struct {
	// FinalSnapshotIdentifier, when set, takes a snapshot with this
	// identifier before the database is removed.
	FinalSnapshotIdentifier string
}

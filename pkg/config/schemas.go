package config

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/openfroyo/cloudsim/pkg/compute"
	"github.com/openfroyo/cloudsim/pkg/engine"
	"github.com/openfroyo/cloudsim/pkg/functions"
)

// SchemaRegistry manages CUE schemas used to lint topologies before they
// reach the kind modules.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the built-in schemas:
// "instance", "bucket", "database", "function" and "topology".
func NewSchemaRegistry() (*SchemaRegistry, error) {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	root := sr.ctx.CompileString(builtinSchemas(), cue.Filename("builtin.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile built-in schemas: %w", err)
	}
	for name, def := range map[string]string{
		"instance": "#Instance",
		"bucket":   "#Bucket",
		"database": "#Database",
		"function": "#Function",
		"topology": "#Topology",
	} {
		v := root.LookupPath(cue.ParsePath(def))
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("failed to look up %s: %w", def, err)
		}
		sr.schemas[name] = v
	}
	return sr, nil
}

// RegisterSchema compiles schema and stores it under name, replacing any
// schema with the same name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateAgainstSchema checks data against a named schema and returns every
// problem found. A nil result means the data conforms.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return nil, fmt.Errorf("schema %s not found", schemaName)
	}

	// cue.Context is not safe for concurrent use.
	sr.mu.Lock()
	defer sr.mu.Unlock()

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true), cue.All()); err != nil {
		return convertCUEErrors(err), nil
	}
	return nil, nil
}

// ValidateTopology lints topo against the built-in topology schema. Keys the
// schema does not know are permitted; the kind modules ignore them too.
func (sr *SchemaRegistry) ValidateTopology(ctx context.Context, topo engine.Topology) ([]Issue, error) {
	doc := make(map[string]interface{}, len(topo))
	for kind, specs := range topo {
		list := make([]interface{}, len(specs))
		for i, spec := range specs {
			list[i] = map[string]interface{}(spec)
		}
		doc[string(kind)] = list
	}
	return sr.ValidateAgainstSchema(ctx, "topology", doc)
}

// convertCUEErrors flattens CUE errors into one issue per field path. A
// failed disjunction reports once per alternative; only the first message
// for a path is kept.
func convertCUEErrors(err error) []Issue {
	var issues []Issue
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		issue := Issue{
			Path:     issuePath(e.Path()),
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		}
		// Positions inside the built-in schema do not help the user.
		for _, pos := range cueerrors.Positions(e) {
			if pos.Filename() != "" && pos.Filename() != "builtin.cue" {
				issue.File = pos.Filename()
				issue.Line = pos.Line()
				issue.Column = pos.Column()
				break
			}
		}
		key := issue.Path
		if key == "" {
			key = issue.Message
		}
		if !seen[key] {
			seen[key] = true
			issues = append(issues, issue)
		}
	}
	return issues
}

// issuePath drops leading definition selectors such as "#Topology" so paths
// name fields of the validated document.
func issuePath(path []string) string {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	return strings.Join(path, ".")
}

func cueDisjunction(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return strings.Join(quoted, " | ")
}

func builtinSchemas() string {
	return fmt.Sprintf(schemaTemplate, cueDisjunction(compute.InstanceTypes), cueDisjunction(functions.Runtimes))
}

const schemaTemplate = `
#Tags: {[string]: string}

#Instance: {
	instance_type?:   %s
	ami_id?:          =~"^ami-"
	key_name?:        string
	security_groups?: [...string & != ""]
	tags?:            #Tags
	...
}

#Bucket: {
	bucket_name!: =~"^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$"
	region?:      string & != ""
	acl?:         "private" | "public-read" | "public-read-write" | "authenticated-read"
	versioning?:  bool
	encryption?:  bool | "none" | "AES256" | "aws:kms"
	tags?:        #Tags
	...
}

#Database: {
	db_instance_identifier!:  =~"^[a-zA-Z][a-zA-Z0-9-]{0,62}$"
	engine?:                  "mysql" | "postgresql" | "mariadb"
	engine_version?:          string
	instance_class?:          =~"^db\\."
	allocated_storage?:       int & >=20 & <=65536
	db_name?:                 =~"^[a-zA-Z0-9]{0,64}$"
	master_username?:         string
	multi_az?:                bool
	backup_retention_period?: int & >=0 & <=35
	tags?:                    #Tags
	...
}

#Function: {
	function_name!: =~"^[a-zA-Z0-9_-]{1,64}$"
	runtime?:       %s
	handler?:       string & != ""
	role?:          =~"^arn:aws:iam::"
	code?:          string
	description?:   string
	timeout?:       int & >=1 & <=900
	memory_size?:   int & >=128 & <=10240
	environment?:   {[string]: string}
	tags?:          #Tags
	...
}

#Topology: {
	instance?: [...#Instance]
	bucket?:   [...#Bucket]
	database?: [...#Database]
	function?: [...#Function]
}
`

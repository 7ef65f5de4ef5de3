package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

// TopologyGlobal is the global a Starlark topology script must define.
const TopologyGlobal = "topology"

type loadOptions struct {
	starlarkTimeout time.Duration
	starlarkInput   map[string]interface{}
}

// LoadOption configures LoadTopology.
type LoadOption func(*loadOptions)

// WithStarlarkTimeout bounds Starlark topology scripts.
func WithStarlarkTimeout(d time.Duration) LoadOption {
	return func(o *loadOptions) { o.starlarkTimeout = d }
}

// WithStarlarkInput exposes values to Starlark topology scripts as
// predeclared globals.
func WithStarlarkInput(input map[string]interface{}) LoadOption {
	return func(o *loadOptions) { o.starlarkInput = input }
}

// LoadTopology reads a topology file. YAML and JSON are decoded directly, a
// Starlark script must assign the global "topology", and a CUE file is
// evaluated and exported as concrete data.
func LoadTopology(ctx context.Context, path string, opts ...LoadOption) (engine.Topology, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, engine.NewValidationError(err.Error(), nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology %s: %w", path, err)
	}

	var doc interface{}
	switch format {
	case FormatYAML, FormatJSON:
		return ParseTopology(data)

	case FormatStarlark:
		eval := NewStarlarkEvaluator(o.starlarkTimeout)
		res, err := eval.Evaluate(ctx, path, string(data), o.starlarkInput)
		if err != nil {
			return nil, engine.NewValidationError("failed to evaluate "+path, err)
		}
		v, ok := res.Output[TopologyGlobal]
		if !ok {
			return nil, engine.NewValidationError(fmt.Sprintf("%s does not define a %q global", path, TopologyGlobal), nil)
		}
		doc = v

	case FormatCUE:
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, engine.NewValidationError("failed to compile "+path, err)
		}
		// Round-trip through JSON so numbers decode the same as YAML input.
		raw, err := v.MarshalJSON()
		if err != nil {
			return nil, engine.NewValidationError(path+" is not concrete", err)
		}
		return ParseTopology(raw)
	}

	return normalizeTopology(doc)
}

// ParseTopology decodes a YAML or JSON document of the form
// {kind: [spec, ...]}. An empty document is an empty topology.
func ParseTopology(data []byte) (engine.Topology, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.NewValidationError("malformed topology", err)
	}
	return normalizeTopology(doc)
}

func normalizeTopology(doc interface{}) (engine.Topology, error) {
	topo := engine.Topology{}
	if doc == nil {
		return topo, nil
	}

	root, ok := stringMap(doc)
	if !ok {
		return nil, engine.NewValidationError(fmt.Sprintf("topology must be a mapping of kinds, got %T", doc), nil)
	}

	// Alias keys such as "ec2" and "instances" may not both appear.
	seen := make(map[engine.Kind]string, len(root))
	keys := make([]string, 0, len(root))
	for key := range root {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		kind, err := engine.ParseKind(key)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[kind]; dup {
			return nil, engine.NewValidationError(fmt.Sprintf("topology keys %q and %q both name %s", prev, key, kind), nil).WithKind(kind)
		}
		seen[kind] = key

		specs, err := normalizeSpecs(kind, key, root[key])
		if err != nil {
			return nil, err
		}
		if len(specs) > 0 {
			topo[kind] = specs
		}
	}
	return topo, nil
}

func normalizeSpecs(kind engine.Kind, key string, v interface{}) ([]engine.RawSpec, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, engine.NewValidationError(fmt.Sprintf("%s must be a list of specs, got %T", key, v), nil).WithKind(kind)
	}

	specs := make([]engine.RawSpec, 0, len(items))
	for i, item := range items {
		m, ok := stringMap(item)
		if !ok {
			return nil, engine.NewValidationError(fmt.Sprintf("%s[%d] must be a mapping, got %T", key, i, item), nil).WithKind(kind)
		}
		specs = append(specs, engine.RawSpec(m))
	}
	return specs, nil
}

// stringMap converts decoder mappings to map[string]interface{}, recursing
// into nested values.
func stringMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[k] = normalizeValue(val)
		}
		return out, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out, true
	default:
		return nil, false
	}
}

func normalizeValue(v interface{}) interface{} {
	if m, ok := stringMap(v); ok {
		return m
	}
	if list, ok := v.([]interface{}); ok {
		out := make([]interface{}, len(list))
		for i, item := range list {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v
}

// MarshalTopology renders a topology as YAML with canonical kind keys.
func MarshalTopology(topo engine.Topology) ([]byte, error) {
	doc := make(map[string][]engine.RawSpec, len(topo))
	for kind, specs := range topo {
		doc[string(kind)] = specs
	}
	return yaml.Marshal(doc)
}

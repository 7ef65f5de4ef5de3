package config

import (
	"fmt"
	"strings"
	"time"
)

// Format identifies how a topology file is encoded.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatStarlark Format = "starlark"
	FormatCUE      Format = "cue"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch ext := strings.ToLower(extension(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".star", ".starlark":
		return FormatStarlark, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported topology file extension %q", ext)
	}
}

func extension(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 && !strings.ContainsAny(path[i:], `/\`) {
		return path[i:]
	}
	return ""
}

// Issue is one problem found while linting a topology.
type Issue struct {
	// File is the source file path, when known.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed), when known.
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed), when known.
	Column int `json:"column,omitempty"`

	// Path locates the offending value, e.g. "bucket.1.acl".
	Path string `json:"path,omitempty"`

	Message string `json:"message"`

	// Severity is error, warning or info.
	Severity string `json:"severity"`
}

func (i Issue) String() string {
	var loc string
	switch {
	case i.File != "" && i.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", i.File, i.Line, i.Column)
	case i.Path != "":
		loc = i.Path + ": "
	}
	return loc + i.Message
}

// StarlarkResult holds the output of a Starlark script execution.
type StarlarkResult struct {
	// Output is the set of exported globals, converted to Go values.
	Output map[string]interface{} `json:"output"`

	// ExecutionTime is how long the script took to run.
	ExecutionTime time.Duration `json:"execution_time"`

	// Steps is the number of Starlark computation steps executed.
	Steps uint64 `json:"steps"`
}

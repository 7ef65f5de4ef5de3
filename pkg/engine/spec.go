package engine

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

// RawSpec is an externally supplied resource description, as parsed from a
// topology file or API request body.
type RawSpec = map[string]any

// DecodeSpec decodes a raw spec into out, a pointer to a typed spec struct
// tagged with `mapstructure`. Unknown keys are ignored; a type mismatch is
// reported as a ValidationError.
func DecodeSpec(kind Kind, raw RawSpec, out any, hooks ...mapstructure.DecodeHookFunc) error {
	hook := mapstructure.ComposeDecodeHookFunc(append([]mapstructure.DecodeHookFunc{
		mapstructure.StringToTimeDurationHookFunc(),
	}, hooks...)...)

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  hook,
		Result:      out,
		TagName:     "mapstructure",
		ErrorUnused: false,
		ZeroFields:  false,
	})
	if err != nil {
		return NewValidationError("failed to build spec decoder", err).WithKind(kind)
	}
	if err := dec.Decode(raw); err != nil {
		return NewValidationError("malformed "+string(kind)+" spec", err).WithKind(kind)
	}
	return nil
}

// NewValidator returns a validator that reports fields by their topology key
// rather than the Go field name.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Topology maps each kind to the ordered raw specs to provision.
type Topology map[Kind][]RawSpec

// Count returns the number of specs across all kinds.
func (t Topology) Count() int {
	n := 0
	for _, specs := range t {
		n += len(specs)
	}
	return n
}

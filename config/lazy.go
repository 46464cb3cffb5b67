package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LazyMode selects between lazy and eager materialization.
type LazyMode string

// Lazy modes.
const (
	LazyOn       LazyMode = "true"
	LazyOff      LazyMode = "false"
	LazyRequired LazyMode = "required"
)

// UnmarshalYAML accepts a boolean or the string "required".
func (m *LazyMode) UnmarshalYAML(value *yaml.Node) error {
	var b bool
	if err := value.Decode(&b); err == nil {
		*m = LazyOff
		if b {
			*m = LazyOn
		}
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: lazy must be a boolean or \"required\"", value.Line)
	}
	*m = LazyMode(s)
	return nil
}

// Enabled reports whether files materialize on demand.
func (m LazyMode) Enabled() bool {
	return m == LazyOn || m == LazyRequired
}

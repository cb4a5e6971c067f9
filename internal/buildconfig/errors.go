package buildconfig

import (
	"fmt"
	"strings"
)

// ConfigNotFoundError is returned by Load when the configuration file does not exist.
type ConfigNotFoundError struct {
	Path string
	Err  error
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("build config %s not found", e.Path)
}

func (e *ConfigNotFoundError) Unwrap() error { return e.Err }

// ConfigSyntaxError is returned when the configuration cannot be parsed into
// a document of the expected shape.
type ConfigSyntaxError struct {
	Path string
	Line int
	Err  error
}

func (e *ConfigSyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("build config %s: syntax error at line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("build config %s: syntax error: %v", e.Path, e.Err)
}

func (e *ConfigSyntaxError) Unwrap() error { return e.Err }

// ConfigSchemaError is returned when required fields are absent or fields
// carry values of the wrong type. Problems lists every issue found.
type ConfigSchemaError struct {
	Path     string
	Problems []string
}

func (e *ConfigSchemaError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("build config %s: schema error: %s", e.Path, e.Problems[0])
	}
	return fmt.Sprintf("build config %s: %d schema errors:\n  - %s",
		e.Path, len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// ConfigValidationError aggregates all invariant violations of a configuration.
type ConfigValidationError struct {
	Violations []Violation
}

func (e *ConfigValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "build config validation failed"
	}
	if len(e.Violations) == 1 {
		return fmt.Sprintf("build config validation failed: %s", e.Violations[0])
	}
	lines := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		lines[i] = v.String()
	}
	return fmt.Sprintf("build config validation failed with %d errors:\n  - %s",
		len(e.Violations), strings.Join(lines, "\n  - "))
}

package bundler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownTransform is returned when a rule names a transform tool that is not registered.
	ErrUnknownTransform = errors.New("unknown transform tool")
	// ErrUnknownPlugin is returned when the configuration declares a plugin that is not registered.
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrInvalidPluginParams is returned when a plugin receives parameters it cannot use.
	ErrInvalidPluginParams = errors.New("invalid plugin parameters")
	// ErrFilenameExtension is returned when the output filename pattern has no extension to emit.
	ErrFilenameExtension = errors.New("output filename pattern has no extension")
)

// BuildError carries the messages reported by the engine for a failed build.
type BuildError struct {
	Messages []string
}

func (e *BuildError) Error() string {
	if len(e.Messages) == 1 {
		return fmt.Sprintf("build failed: %s", e.Messages[0])
	}
	return fmt.Sprintf("build failed with %d errors:\n  - %s", len(e.Messages), strings.Join(e.Messages, "\n  - "))
}

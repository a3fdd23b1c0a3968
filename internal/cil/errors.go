package cil

import (
	"errors"
	"fmt"
)

var (
	// ErrNotCLI is returned when the input is not a PE image with CLI metadata.
	ErrNotCLI = errors.New("not a CLI assembly")

	// ErrUnsupported is returned for valid but unsupported metadata layouts.
	ErrUnsupported = errors.New("unsupported metadata")

	// ErrAssemblyNotFound is returned by resolvers that cannot locate a
	// referenced assembly.
	ErrAssemblyNotFound = errors.New("assembly not found")
)

// FormatError reports malformed metadata.
type FormatError struct {
	Section string
	Err     error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.Section, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(section string, err error) error {
	return &FormatError{Section: section, Err: err}
}

// ResolutionError reports a type reference whose defining assembly (or the
// type inside it) could not be located.
type ResolutionError struct {
	Type     string
	Assembly string
	Err      error
}

func (e *ResolutionError) Error() string {
	if e.Assembly == "" {
		return fmt.Sprintf("resolve type %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("resolve type %s from assembly %s: %v", e.Type, e.Assembly, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

package config

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPatterns is returned when no pattern file or inline pattern was given.
	ErrNoPatterns = errors.New("no attributes to strip, try specifying '-x path-to-strip-attributes.xml'")

	// ErrNoAssemblies is returned when no target assembly was given.
	ErrNoAssemblies = errors.New("no assemblies to strip, try specifying '-a some.dll'")
)

// Error is a configuration problem detected before any target is touched.
// Source names the file or setting at fault, if any.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func configErr(source string, err error) error {
	return &Error{Source: source, Err: err}
}

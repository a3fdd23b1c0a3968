package strip

import (
	"fmt"
)

// ResolutionError reports a file holding an attribute whose type lives in an
// assembly that could not be found. The file is left untouched.
type ResolutionError struct {
	Path string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to process %s, pass --search-dir with the directories holding its dependencies: %v", e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// MissingFileError reports a target that does not exist.
type MissingFileError struct {
	Path string
	Err  error
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("file does not exist: %s", e.Path)
}

func (e *MissingFileError) Unwrap() error { return e.Err }

// LoadError reports a target that could not be read or parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// WriteError reports a failure to serialize or store a stripped module. The
// original file keeps its previous contents.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

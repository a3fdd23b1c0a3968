// Package safe provides validated file reads and crash-safe file replacement.
package safe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/coral-mesh/attrstrip/internal/errors"
)

// MaxAssemblySize is the default maximum size of an assembly read through this package (1GB).
const MaxAssemblySize = 1 << 30

// ReadOptions configures ReadFile and CopyFile.
type ReadOptions struct {
	// MaxSize is the maximum allowed file size in bytes. Zero means MaxAssemblySize.
	MaxSize int64
	// DestPerm is the permission mode for CopyFile's destination. Zero means the source mode.
	DestPerm os.FileMode
	// AllowSymlinks allows reading through symlinks. Default is false: a file
	// that is going to be replaced must not be a link to somewhere else.
	AllowSymlinks bool
}

func (o *ReadOptions) maxSize() int64 {
	if o == nil || o.MaxSize == 0 {
		return MaxAssemblySize
	}
	return o.MaxSize
}

// stat validates path and returns the info of the file it names.
func stat(path string, opts *ReadOptions) (os.FileInfo, error) {
	if opts == nil {
		opts = &ReadOptions{}
	}

	cleanPath := filepath.Clean(path)

	// Check file info without following symlinks.
	info, err := os.Lstat(cleanPath)
	if err != nil {
		return nil, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if !opts.AllowSymlinks {
			return nil, fmt.Errorf("file %q is a symlink, which is not allowed", path)
		}
		info, err = os.Stat(cleanPath)
		if err != nil {
			return nil, err
		}
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path %q is not a regular file", path)
	}

	if info.Size() > opts.maxSize() {
		return nil, fmt.Errorf("file %q exceeds maximum allowed size of %d bytes", path, opts.maxSize())
	}
	return info, nil
}

// ReadFile reads a file with validations.
// It rejects symlinks by default, validates file size, and ensures only
// regular files are read.
func ReadFile(path string, opts *ReadOptions) ([]byte, error) {
	if _, err := stat(path, opts); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Clean(path))
}

// CopyFile copies src to dst with the same validations as ReadFile.
func CopyFile(src, dst string, opts *ReadOptions) (err error) {
	info, err := stat(src, opts)
	if err != nil {
		return err
	}
	destPerm := info.Mode().Perm()
	if opts != nil && opts.DestPerm != 0 {
		destPerm = opts.DestPerm
	}

	srcFile, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer errors.CloseInto(&err, srcFile)

	// #nosec G304 - the source has been validated and dst is chosen by the caller.
	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, destPerm)
	if err != nil {
		return err
	}
	defer errors.CloseInto(&err, dstFile)

	_, err = io.Copy(dstFile, srcFile)
	return err
}

// WriteFileAtomic replaces path with data. The bytes go to a temporary file in
// the same directory which is synced and then renamed over path, so readers
// observe either the old or the new contents, never a partial write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

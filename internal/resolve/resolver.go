// Package resolve locates referenced assemblies in dependency search directories.
package resolve

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/attrstrip/internal/cil"
	"github.com/coral-mesh/attrstrip/internal/safe"
)

// extensions are tried in order for every directory.
var extensions = []string{".dll", ".exe"}

// Resolver implements cil.AssemblyResolver by looking for <name>.dll or
// <name>.exe in each search directory, in the order they were added. Lookups
// are cached by simple name, failures included, so every file of a run sees
// the same answer. It is safe for concurrent use.
type Resolver struct {
	logger  zerolog.Logger
	maxSize int64

	mu    sync.Mutex
	dirs  []string
	cache map[string]*entry
}

type entry struct {
	once sync.Once
	mod  *cil.Module
	path string
	err  error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for lookup diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithMaxFileSize caps the size of dependency files that will be loaded.
func WithMaxFileSize(n int64) Option {
	return func(r *Resolver) { r.maxSize = n }
}

// New creates a resolver over the given search directories.
func New(dirs []string, opts ...Option) *Resolver {
	r := &Resolver{
		logger:  zerolog.Nop(),
		maxSize: safe.MaxAssemblySize,
		cache:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, d := range dirs {
		r.AddSearchDirectory(d)
	}
	return r
}

// AddSearchDirectory appends a directory to the search list.
func (r *Resolver) AddSearchDirectory(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs = append(r.dirs, filepath.Clean(dir))
}

// SearchDirectories returns a copy of the search list.
func (r *Resolver) SearchDirectories() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dirs...)
}

// Resolve implements cil.AssemblyResolver.
func (r *Resolver) Resolve(ref cil.AssemblyName, requester string) (*cil.Module, error) {
	key := strings.ToLower(ref.Name)

	r.mu.Lock()
	e, ok := r.cache[key]
	if !ok {
		e = &entry{}
		r.cache[key] = e
	}
	dirs := append([]string(nil), r.dirs...)
	r.mu.Unlock()

	e.once.Do(func() {
		r.logger.Debug().Str("assembly", ref.Name).Str("requester", requester).Msg("Resolving assembly reference")
		mod, path, err := r.load(ref, dirs)
		r.mu.Lock()
		e.mod, e.path, e.err = mod, path, err
		r.mu.Unlock()
	})
	if e.err != nil {
		return nil, e.err
	}
	return e.mod, nil
}

func (r *Resolver) load(ref cil.AssemblyName, dirs []string) (*cil.Module, string, error) {
	for _, dir := range dirs {
		for _, ext := range extensions {
			path := filepath.Join(dir, ref.Name+ext)
			info, err := os.Stat(path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					r.logger.Debug().Err(err).Str("path", path).Msg("Skipping unreadable candidate")
				}
				continue
			}
			if info.IsDir() {
				continue
			}

			data, err := safe.ReadFile(path, &safe.ReadOptions{MaxSize: r.maxSize, AllowSymlinks: true})
			if err != nil {
				return nil, path, fmt.Errorf("read %s: %w", path, err)
			}
			mod, err := cil.Load(data, cil.WithResolver(r), cil.WithPath(path))
			if err != nil {
				return nil, path, fmt.Errorf("load %s: %w", path, err)
			}

			r.logger.Debug().
				Str("assembly", ref.String()).
				Str("path", path).
				Msg("Resolved assembly reference")
			return mod, path, nil
		}
	}
	if len(dirs) == 0 {
		return nil, "", fmt.Errorf("%w: %s (no search directories)", cil.ErrAssemblyNotFound, ref.Name)
	}
	return nil, "", fmt.Errorf("%w: %s (searched %s)", cil.ErrAssemblyNotFound, ref.Name, strings.Join(dirs, ", "))
}

// Resolved returns the paths of the assemblies loaded so far, sorted.
func (r *Resolver) Resolved() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var paths []string
	for _, e := range r.cache {
		if e.mod != nil {
			paths = append(paths, e.path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Package strip removes custom attributes matched by patterns from .NET
// assemblies and rewrites the files that changed.
package strip

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/attrstrip/internal/cil"
	"github.com/coral-mesh/attrstrip/internal/safe"
)

// BackupSuffix is appended to a target's path to name its backup copy.
const BackupSuffix = ".orig"

// Stripper removes matching attributes from assemblies. A single Stripper is
// shared by all workers of a run; it only keeps the global totals, which are
// guarded by a mutex.
type Stripper struct {
	patterns PatternSet
	resolver cil.AssemblyResolver
	logger   zerolog.Logger
	dryRun   bool
	backup   bool
	maxSize  int64
	totals   *Totals
}

// Option configures a Stripper.
type Option func(*Stripper)

// WithLogger sets the logger for per-file diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Stripper) { s.logger = logger }
}

// WithDryRun strips in memory and reports, but never writes.
func WithDryRun(dryRun bool) Option {
	return func(s *Stripper) { s.dryRun = dryRun }
}

// WithBackup copies each modified file to <path>.orig before replacing it.
// An existing backup is left alone.
func WithBackup(backup bool) Option {
	return func(s *Stripper) { s.backup = backup }
}

// WithMaxFileSize caps the size of target files.
func WithMaxFileSize(n int64) Option {
	return func(s *Stripper) { s.maxSize = n }
}

// New creates a Stripper. resolver is used for attribute types declared in
// other assemblies and may be nil when every attribute type is local.
func New(patterns PatternSet, resolver cil.AssemblyResolver, opts ...Option) *Stripper {
	s := &Stripper{
		patterns: patterns,
		resolver: resolver,
		logger:   zerolog.Nop(),
		maxSize:  safe.MaxAssemblySize,
		totals:   NewTotals(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Patterns returns the pattern set the stripper was built with.
func (s *Stripper) Patterns() PatternSet { return s.patterns }

// Totals returns a snapshot of the counts of every file committed so far.
func (s *Stripper) Totals() Counts { return s.totals.Snapshot() }

// Strip removes matching attributes from every type and member of modules,
// mutating them in place, and returns the removals keyed by attribute type.
// It does not touch the global totals; ProcessFile does that once a file's
// result is committed.
func (s *Stripper) Strip(modules ...*cil.Module) (Counts, error) {
	types, _, err := s.strip(modules)
	return types, err
}

func (s *Stripper) strip(modules []*cil.Module) (Counts, Counts, error) {
	types, byPattern := make(Counts), make(Counts)
	filter := func(attrs []*cil.Attribute) ([]*cil.Attribute, error) {
		return s.filter(attrs, types, byPattern)
	}
	for _, m := range modules {
		for _, t := range m.Types {
			if err := visit(t, filter); err != nil {
				return nil, nil, wrapModuleErr(m, err)
			}
		}
	}
	return types, byPattern, nil
}

// filter runs one pass per pattern over the live attribute list. After a
// removal the index stays put so the element shifted into place is examined.
func (s *Stripper) filter(attrs []*cil.Attribute, types, byPattern Counts) ([]*cil.Attribute, error) {
	for _, p := range s.patterns {
		for i := 0; i < len(attrs); {
			name, err := attrs[i].TypeName()
			if err != nil {
				return attrs, err
			}
			ok, err := p.Match(name)
			if err != nil {
				return attrs, err
			}
			if !ok {
				i++
				continue
			}
			attrs = append(attrs[:i], attrs[i+1:]...)
			types[name]++
			byPattern[p.String()]++
		}
	}
	return attrs, nil
}

// visit applies fn to the attributes of t, then its fields, properties and
// methods in declaration order, then its nested types depth-first.
func visit(t *cil.Type, fn func([]*cil.Attribute) ([]*cil.Attribute, error)) error {
	var err error
	if t.Attributes, err = fn(t.Attributes); err != nil {
		return err
	}
	for _, group := range [][]*cil.Member{t.Fields, t.Properties, t.Methods} {
		for _, m := range group {
			if m.Attributes, err = fn(m.Attributes); err != nil {
				return err
			}
		}
	}
	for _, nested := range t.NestedTypes {
		if err := visit(nested, fn); err != nil {
			return err
		}
	}
	return nil
}

func wrapModuleErr(m *cil.Module, err error) error {
	path := m.Path
	if path == "" {
		path = m.Name
	}
	var resErr *cil.ResolutionError
	if errors.As(err, &resErr) {
		return &ResolutionError{Path: path, Err: err}
	}
	var fmtErr *cil.FormatError
	if errors.As(err, &fmtErr) || errors.Is(err, cil.ErrUnsupported) {
		return &LoadError{Path: path, Err: err}
	}
	return fmt.Errorf("strip %s: %w", path, err)
}

// FileResult describes one processed file.
type FileResult struct {
	Path string `json:"path"`
	// Attributes is the number of type and member attributes before stripping.
	Attributes int    `json:"attributes"`
	Removed    int    `json:"removed"`
	Counts     Counts `json:"counts"`
	// Patterns credits each removal to the first pattern that matched it.
	Patterns  Counts `json:"patterns"`
	Size      int    `json:"size"`
	NewSize   int    `json:"new_size"`
	Digest    string `json:"digest"`
	NewDigest string `json:"new_digest"`
	Written   bool   `json:"written"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

func digest(data []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(data))
}

// ProcessFile strips one assembly in place: read, load, strip, and, only when
// something was removed, serialize and atomically replace the file. The
// global totals are updated after the replacement succeeded.
func (s *Stripper) ProcessFile(path string) (*FileResult, error) {
	logger := s.logger.With().Str("file", path).Logger()

	mod, data, mode, err := s.load(path)
	if err != nil {
		return nil, err
	}
	before := mod.AttributeCount()

	types, byPattern, err := s.strip([]*cil.Module{mod})
	if err != nil {
		return nil, err
	}

	res := &FileResult{
		Path:       path,
		Attributes: before,
		Removed:    types.Total(),
		Counts:     types,
		Patterns:   byPattern,
		Size:       len(data),
		NewSize:    len(data),
		Digest:     digest(data),
		DryRun:     s.dryRun,
	}
	res.NewDigest = res.Digest

	if len(types) == 0 {
		logger.Debug().Int("attributes", before).Msg("No matching attributes, file left untouched")
		return res, nil
	}

	out, err := mod.Write()
	if err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}
	res.NewSize = len(out)
	res.NewDigest = digest(out)

	if !s.dryRun {
		if mod.StrongNamed() {
			logger.Warn().Msg("Assembly is strong-name signed, its signature will no longer verify")
		}
		if s.backup {
			if err := s.backupFile(path, logger); err != nil {
				return nil, &WriteError{Path: path, Err: err}
			}
		}
		if err := safe.WriteFileAtomic(path, out, mode); err != nil {
			return nil, &WriteError{Path: path, Err: err}
		}
		res.Written = true
	}
	s.totals.Add(types)

	logger.Info().
		Int("removed", res.Removed).
		Int("remaining", before-res.Removed).
		Bool("dry_run", s.dryRun).
		Msg("Stripped attributes")
	for _, e := range types.Sorted() {
		logger.Info().Str("attribute", e.Name).Int("count", e.Count).Msg("Removed")
	}
	return res, nil
}

// Inventory counts the attributes on the types and members of the assembly
// at path by attribute type name. Nothing is removed or written.
func (s *Stripper) Inventory(path string) (Counts, error) {
	mod, _, _, err := s.load(path)
	if err != nil {
		return nil, err
	}
	counts := make(Counts)
	for _, t := range mod.Types {
		err := visit(t, func(attrs []*cil.Attribute) ([]*cil.Attribute, error) {
			for _, a := range attrs {
				name, err := a.TypeName()
				if err != nil {
					return attrs, err
				}
				counts[name]++
			}
			return attrs, nil
		})
		if err != nil {
			return nil, wrapModuleErr(mod, err)
		}
	}
	return counts, nil
}

func (s *Stripper) load(path string) (*cil.Module, []byte, os.FileMode, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, 0, &MissingFileError{Path: path, Err: err}
		}
		return nil, nil, 0, &LoadError{Path: path, Err: err}
	}

	data, err := safe.ReadFile(path, &safe.ReadOptions{MaxSize: s.maxSize})
	if err != nil {
		return nil, nil, 0, &LoadError{Path: path, Err: err}
	}

	mod, err := cil.Load(data, cil.WithResolver(s.resolver), cil.WithPath(path))
	if err != nil {
		return nil, nil, 0, &LoadError{Path: path, Err: err}
	}
	return mod, data, info.Mode().Perm(), nil
}

func (s *Stripper) backupFile(path string, logger zerolog.Logger) error {
	dst := path + BackupSuffix
	if _, err := os.Lstat(dst); err == nil {
		logger.Debug().Str("backup", dst).Msg("Backup already exists, keeping it")
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("check backup %s: %w", dst, err)
	}
	if err := safe.CopyFile(path, dst, nil); err != nil {
		return fmt.Errorf("backup to %s: %w", dst, err)
	}
	logger.Debug().Str("backup", dst).Msg("Saved original")
	return nil
}

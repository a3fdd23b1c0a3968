// Package config loads the settings of a strip run: pattern files, the YAML
// run file and ATTRSTRIP_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/attrstrip/internal/safe"
	"github.com/coral-mesh/attrstrip/internal/strip"
)

// RunConfig holds the settings of one strip run.
//
// Values are layered: DefaultRunConfig, then an optional YAML run file, then
// ATTRSTRIP_* environment variables, then command-line flags (applied by the
// CLI). Relative paths in a run file are resolved against the file's directory.
type RunConfig struct {
	// PatternFiles are XML or YAML pattern files, read in order.
	PatternFiles []string `yaml:"pattern_files" env:"ATTRSTRIP_CONFIG"`
	// Patterns are inline expressions appended after the pattern files.
	Patterns []string `yaml:"patterns"`
	// Assemblies are target files or directories of .dll files.
	Assemblies []string `yaml:"assemblies" env:"ATTRSTRIP_ASSEMBLIES"`
	// SearchDirs are searched in order for referenced assemblies.
	SearchDirs []string `yaml:"search_dirs" env:"ATTRSTRIP_SEARCH_DIRS"`
	// Excludes are gitignore-style patterns applied when expanding directories.
	Excludes []string `yaml:"excludes" env:"ATTRSTRIP_EXCLUDE"`

	Parallel bool `yaml:"parallel" env:"ATTRSTRIP_PARALLEL"`
	// Jobs bounds parallelism; 0 means one worker per file.
	Jobs int `yaml:"jobs" env:"ATTRSTRIP_JOBS"`

	DryRun bool `yaml:"dry_run" env:"ATTRSTRIP_DRY_RUN"`
	Backup bool `yaml:"backup" env:"ATTRSTRIP_BACKUP"`

	// MaxFileSize caps targets and dependencies, in bytes.
	MaxFileSize int64 `yaml:"max_file_size" env:"ATTRSTRIP_MAX_FILE_SIZE"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects the log destinations.
type LogConfig struct {
	Level string `yaml:"level" env:"ATTRSTRIP_LOG_LEVEL"`
	// File, when set, receives a copy of every log line (appended).
	File string `yaml:"file" env:"ATTRSTRIP_LOG_FILE"`
}

// DefaultRunConfig returns the defaults every run starts from.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		MaxFileSize: safe.MaxAssemblySize,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds a RunConfig from the defaults, the YAML run file at path (if
// path is not empty) and the environment.
func Load(path string) (*RunConfig, error) {
	cfg := DefaultRunConfig()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, configErr("environment", err)
	}
	return cfg, nil
}

func (c *RunConfig) mergeFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 - path is supplied by the user.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return configErr(path, fmt.Errorf("file does not exist: %w", err))
		}
		return configErr(path, err)
	}

	var file RunConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return configErr(path, fmt.Errorf("parse YAML: %w", err))
	}

	base := filepath.Dir(path)
	rel := func(paths []string) []string {
		out := make([]string, len(paths))
		for i, p := range paths {
			if filepath.IsAbs(p) {
				out[i] = p
			} else {
				out[i] = filepath.Join(base, p)
			}
		}
		return out
	}

	c.PatternFiles = append(c.PatternFiles, rel(file.PatternFiles)...)
	c.Patterns = append(c.Patterns, file.Patterns...)
	c.Assemblies = append(c.Assemblies, rel(file.Assemblies)...)
	c.SearchDirs = append(c.SearchDirs, rel(file.SearchDirs)...)
	c.Excludes = append(c.Excludes, file.Excludes...)
	c.Parallel = c.Parallel || file.Parallel
	c.DryRun = c.DryRun || file.DryRun
	c.Backup = c.Backup || file.Backup
	if file.Jobs != 0 {
		c.Jobs = file.Jobs
	}
	if file.MaxFileSize != 0 {
		c.MaxFileSize = file.MaxFileSize
	}
	if file.Log.Level != "" {
		c.Log.Level = file.Log.Level
	}
	if file.Log.File != "" {
		c.Log.File = rel([]string{file.Log.File})[0]
	}
	return nil
}

var logLevels = []string{"trace", "debug", "info", "warn", "error"}

// Validate checks the settings that do not require touching the filesystem.
func (c *RunConfig) Validate() error {
	if len(c.PatternFiles) == 0 && len(c.Patterns) == 0 {
		return configErr("", ErrNoPatterns)
	}
	if len(c.Assemblies) == 0 {
		return configErr("", ErrNoAssemblies)
	}
	if c.Jobs < 0 {
		return configErr("jobs", fmt.Errorf("must not be negative, got %d", c.Jobs))
	}
	if c.MaxFileSize <= 0 {
		return configErr("max_file_size", fmt.Errorf("must be positive, got %d", c.MaxFileSize))
	}
	if !slices.Contains(logLevels, c.Log.Level) {
		return configErr("log level", fmt.Errorf("%q is not one of %s", c.Log.Level, strings.Join(logLevels, ", ")))
	}
	return nil
}

// LoadPatternSet reads every pattern file, appends the inline patterns and
// compiles the result. An empty result is an error.
func (c *RunConfig) LoadPatternSet() (strip.PatternSet, error) {
	var exprs []string
	for _, path := range c.PatternFiles {
		patterns, err := LoadPatternFile(path)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, patterns...)
	}
	exprs = append(exprs, c.Patterns...)
	if len(exprs) == 0 {
		return nil, configErr("", ErrNoPatterns)
	}

	set, err := strip.CompilePatterns(exprs)
	if err != nil {
		return nil, configErr("patterns", err)
	}
	return set, nil
}

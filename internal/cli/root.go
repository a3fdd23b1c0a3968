// Package cli implements the attrstrip command line.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/attrstrip/internal/cli/helpers"
	"github.com/coral-mesh/attrstrip/internal/config"
	"github.com/coral-mesh/attrstrip/internal/logging"
)

// rootOptions holds the flags of the root command. The persistent ones are
// shared with the subcommands.
type rootOptions struct {
	helpers.TargetFlags

	runConfig string
	logFile   string
	logLevel  string

	patternFiles []string
	patterns     []string
	parallel     bool
	jobs         int
	dryRun       bool
	backup       bool
	format       string
}

// NewRootCmd builds the attrstrip command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "attrstrip",
		Short: "Strip useless custom attributes from .NET assemblies",
		Long: `attrstrip removes custom attributes whose type name matches a set of
regular expressions from the types, fields, properties and methods of .NET
assemblies, rewriting each assembly in place.

Stripping attributes nobody reads at runtime (serialization markers, editor
hints, debugger annotations) shrinks the metadata that ahead-of-time
compilers such as Unity IL2CPP turn into native code.

Patterns come from XML files (<strip-attribute><type regex="..."/></strip-attribute>)
or YAML files (patterns: [...]) and use the .NET regular expression dialect.
Attribute types defined in other assemblies are resolved through the
--search-dir directories.`,
		Example: `  attrstrip -x link.xml -a Managed/Assembly-CSharp.dll -d Managed
  attrstrip -x link.xml -a Managed -d Managed --exclude 'UnityEngine.*' -p -j 4
  attrstrip list -a Managed/Assembly-CSharp.dll -d Managed --match '^UnityEngine\.'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStrip(cmd, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.runConfig, "run-config", "c", "", "YAML run file (env: ATTRSTRIP_*)")
	pf.StringVarP(&opts.logFile, "log-file", "l", "", "Append log lines to this file")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	helpers.AddTargetFlags(cmd, &opts.TargetFlags)

	f := cmd.Flags()
	f.StringArrayVarP(&opts.patternFiles, "config", "x", nil, "Pattern file, XML or YAML (repeatable)")
	f.StringArrayVar(&opts.patterns, "pattern", nil, "Attribute type name expression (repeatable)")
	f.BoolVarP(&opts.parallel, "parallel", "p", false, "Process assemblies in parallel")
	f.IntVarP(&opts.jobs, "jobs", "j", 0, "Maximum assemblies processed at once with --parallel (0 = no limit)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Report what would be stripped without writing")
	f.BoolVar(&opts.backup, "backup", false, "Keep a copy of each rewritten assembly as <file>.orig")
	helpers.AddFormatFlag(cmd, &opts.format, helpers.FormatTable, helpers.SummaryFormats)

	_ = cmd.MarkFlagFilename("config", "xml", "yaml", "yml")
	_ = cmd.MarkPersistentFlagFilename("run-config", "yaml", "yml")

	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command. Errors not already written to the run log
// are printed to stderr.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	var reported *reportedError
	if err != nil && !errors.As(err, &reported) {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}

// reportedError marks an error that has been logged already.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// loadRunConfig layers the command-line flags over config.Load. List flags
// given on the command line replace the values from the file and the
// environment.
func loadRunConfig(cmd *cobra.Command, opts *rootOptions) (*config.RunConfig, error) {
	cfg, err := config.Load(opts.runConfig)
	if err != nil {
		return nil, err
	}

	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "config":
			cfg.PatternFiles = opts.patternFiles
		case "pattern":
			cfg.Patterns = opts.patterns
		case "assembly":
			cfg.Assemblies = opts.Assemblies
		case "search-dir":
			cfg.SearchDirs = opts.SearchDirs
		case "exclude":
			cfg.Excludes = opts.Excludes
		case "parallel":
			cfg.Parallel = opts.parallel
		case "jobs":
			cfg.Jobs = opts.jobs
		case "dry-run":
			cfg.DryRun = opts.dryRun
		case "backup":
			cfg.Backup = opts.backup
		case "log-file":
			cfg.Log.File = opts.logFile
		case "log-level":
			cfg.Log.Level = opts.logLevel
		}
	})
	return cfg, nil
}

// openLogger creates the run logger: pretty console output on the command's
// stderr, the optional log file, and a run_id shared by every line.
func openLogger(cmd *cobra.Command, cfg *config.RunConfig) (zerolog.Logger, io.Closer, error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Output = cmd.ErrOrStderr()
	logCfg.NoColor = !logging.IsTerminal(logCfg.Output)
	logCfg.File = cfg.Log.File

	logger, closer, err := logging.Open(logCfg)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	return logger.With().Str("run_id", uuid.NewString()).Logger(), closer, nil
}

func writeOutput(w io.Writer, format string, data any) error {
	formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
	if err != nil {
		return err
	}
	return formatter.Format(data, w)
}

package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/attrstrip/internal/cli/helpers"
	"github.com/coral-mesh/attrstrip/internal/config"
	"github.com/coral-mesh/attrstrip/internal/discover"
	"github.com/coral-mesh/attrstrip/internal/errors"
	"github.com/coral-mesh/attrstrip/internal/logging"
	"github.com/coral-mesh/attrstrip/internal/resolve"
	"github.com/coral-mesh/attrstrip/internal/runner"
	"github.com/coral-mesh/attrstrip/internal/strip"
	"github.com/coral-mesh/attrstrip/pkg/version"
)

func runStrip(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadRunConfig(cmd, opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := helpers.ValidateFormat(opts.format, helpers.SummaryFormats); err != nil {
		return err
	}

	logger, closer, err := openLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer errors.DeferClose(logger, closer, "failed to close log file")

	fail := func(err error) error {
		logger.Error().Err(err).Msg("Strip failed")
		return &reportedError{err: err}
	}

	logStart(logger, cfg)

	patterns, err := cfg.LoadPatternSet()
	if err != nil {
		return fail(err)
	}
	for _, p := range patterns {
		logger.Info().Str("regex", p.String()).Msg("CustomAttribute")
	}

	files, err := discover.Expand(cfg.Assemblies, cfg.Excludes)
	if err != nil {
		return fail(err)
	}
	if len(files) == 0 {
		return fail(&config.Error{Source: "assemblies", Err: config.ErrNoAssemblies})
	}

	resolver := resolve.New(cfg.SearchDirs,
		resolve.WithLogger(logging.WithComponent(logger, "resolver")),
		resolve.WithMaxFileSize(cfg.MaxFileSize),
	)
	stripper := strip.New(patterns, resolver,
		strip.WithLogger(logging.WithComponent(logger, "strip")),
		strip.WithDryRun(cfg.DryRun),
		strip.WithBackup(cfg.Backup),
		strip.WithMaxFileSize(cfg.MaxFileSize),
	)
	run := runner.New(stripper, logging.WithComponent(logger, "runner"), runner.Options{
		Parallel: cfg.Parallel,
		Jobs:     cfg.Jobs,
	})

	report, err := run.Run(files)
	if err != nil {
		logger.Error().
			Int("completed", len(report.Files)).
			Int("skipped", report.Skipped).
			Int("removed", report.Removed()).
			Msg("Strip failed")
		return &reportedError{err: err}
	}

	logSummary(logger, report)
	if err := writeOutput(cmd.OutOrStdout(), opts.format, summaryData(opts.format, report)); err != nil {
		return fail(err)
	}
	logger.Info().Msg("Done")
	return nil
}

func logStart(logger zerolog.Logger, cfg *config.RunConfig) {
	wd, _ := os.Getwd()
	logger.Info().
		Str("version", version.Version).
		Str("path", wd).
		Strs("args", os.Args[1:]).
		Msg("Start")
	logger.Debug().
		Strs("pattern_files", cfg.PatternFiles).
		Strs("assemblies", cfg.Assemblies).
		Strs("search_dirs", cfg.SearchDirs).
		Strs("excludes", cfg.Excludes).
		Bool("parallel", cfg.Parallel).
		Int("jobs", cfg.Jobs).
		Bool("dry_run", cfg.DryRun).
		Bool("backup", cfg.Backup).
		Msg("Configuration")
}

func logSummary(logger zerolog.Logger, report *runner.Report) {
	written := 0
	for _, f := range report.Files {
		if f.Written {
			written++
		}
	}
	logger.Info().
		Int("files", len(report.Files)).
		Int("written", written).
		Int("removed", report.Removed()).
		Dur("duration", report.Duration).
		Msg("Summary")
	for _, e := range report.Totals.Sorted() {
		logger.Info().Str("attribute", e.Name).Int("count", e.Count).Msg("Total")
	}
}

// summaryData picks what a format prints: the whole report as JSON, the
// sorted totals as rows otherwise.
func summaryData(format string, report *runner.Report) any {
	if helpers.OutputFormat(format) == helpers.FormatJSON {
		return report
	}
	return report.Totals.Sorted()
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/attrstrip/internal/cli/helpers"
	"github.com/coral-mesh/attrstrip/internal/config"
	"github.com/coral-mesh/attrstrip/internal/discover"
	"github.com/coral-mesh/attrstrip/internal/errors"
	"github.com/coral-mesh/attrstrip/internal/logging"
	"github.com/coral-mesh/attrstrip/internal/resolve"
	"github.com/coral-mesh/attrstrip/internal/strip"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		match  []string
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Count the custom attributes of assemblies by type",
		Long: `List reports every custom attribute type found on the types, fields,
properties and methods of the target assemblies, with the number of
occurrences. Nothing is written. Use it to find candidates for a pattern file,
or --match to preview what a set of expressions would strip.`,
		Example: `  attrstrip list -a Managed/Assembly-CSharp.dll -d Managed
  attrstrip list -a Managed -d Managed --match '^UnityEngine\.' -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, helpers.SummaryFormats); err != nil {
				return err
			}
			matchers, err := strip.CompilePatterns(match)
			if err != nil {
				return &config.Error{Source: "match", Err: err}
			}
			return runList(cmd, opts, matchers, format)
		},
	}

	cmd.Flags().StringArrayVarP(&match, "match", "m", nil,
		"Only report attribute types matching this expression (repeatable)")
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.SummaryFormats)
	return cmd
}

func runList(cmd *cobra.Command, opts *rootOptions, matchers strip.PatternSet, format string) error {
	cfg, err := loadRunConfig(cmd, opts)
	if err != nil {
		return err
	}
	if len(cfg.Assemblies) == 0 {
		return &config.Error{Err: config.ErrNoAssemblies}
	}

	logger, closer, err := openLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer errors.DeferClose(logger, closer, "failed to close log file")

	fail := func(err error) error {
		logger.Error().Err(err).Msg("List failed")
		return &reportedError{err: err}
	}

	files, err := discover.Expand(cfg.Assemblies, cfg.Excludes)
	if err != nil {
		return fail(err)
	}

	resolver := resolve.New(cfg.SearchDirs,
		resolve.WithLogger(logging.WithComponent(logger, "resolver")),
		resolve.WithMaxFileSize(cfg.MaxFileSize),
	)
	inventory := strip.New(nil, resolver,
		strip.WithLogger(logging.WithComponent(logger, "strip")),
		strip.WithMaxFileSize(cfg.MaxFileSize),
	)

	counts := strip.Counts{}
	for _, path := range files {
		found, err := inventory.Inventory(path)
		if err != nil {
			return fail(err)
		}
		logger.Debug().Str("file", path).Int("attributes", found.Total()).Msg("Listed attributes")
		counts.Merge(found)
	}

	if len(matchers) > 0 {
		for name := range counts {
			ok, err := matchesAny(matchers, name)
			if err != nil {
				return fail(err)
			}
			if !ok {
				delete(counts, name)
			}
		}
	}

	return writeOutput(cmd.OutOrStdout(), format, counts.Sorted())
}

func matchesAny(patterns strip.PatternSet, name string) (bool, error) {
	for _, p := range patterns {
		ok, err := p.Match(name)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

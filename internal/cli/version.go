package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/attrstrip/internal/cli/helpers"
	"github.com/coral-mesh/attrstrip/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if format == string(helpers.FormatJSON) {
				return writeOutput(cmd.OutOrStdout(), format, info)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "attrstrip version %s\n", info.Version)
			_, _ = fmt.Fprintf(out, "Git commit: %s\n", info.GitCommit)
			_, _ = fmt.Fprintf(out, "Build date: %s\n", info.BuildDate)
			_, _ = fmt.Fprintf(out, "Go version: %s\n", info.GoVersion)
			_, err := fmt.Fprintf(out, "Platform: %s\n", info.Platform)
			return err
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{helpers.FormatTable, helpers.FormatJSON})
	return cmd
}

package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AddFormatFlag adds a standard --format/-o flag to a command.
// Validates that the format is in the supportedFormats list.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supportedFormats []OutputFormat) {
	formatNames := formatNames(supportedFormats)

	description := fmt.Sprintf("Output format (%s)", strings.Join(formatNames, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat), description)

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return formatNames, cobra.ShellCompDirectiveNoFileComp
	})
}

// TargetFlags are the flags selecting the assemblies of a command.
type TargetFlags struct {
	Assemblies []string
	SearchDirs []string
	Excludes   []string
}

// AddTargetFlags adds the persistent -a/--assembly, -d/--search-dir and
// --exclude flags shared by every command that reads assemblies.
func AddTargetFlags(cmd *cobra.Command, flags *TargetFlags) {
	pf := cmd.PersistentFlags()
	pf.StringArrayVarP(&flags.Assemblies, "assembly", "a", nil,
		"Assembly to strip, or a directory of .dll files (repeatable)")
	pf.StringArrayVarP(&flags.SearchDirs, "search-dir", "d", nil,
		"Directory searched for referenced assemblies (repeatable)")
	pf.StringArrayVar(&flags.Excludes, "exclude", nil,
		"Gitignore-style pattern of files skipped when expanding a directory (repeatable)")

	_ = cmd.MarkPersistentFlagDirname("search-dir")
	_ = cmd.RegisterFlagCompletionFunc("assembly", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"dll", "exe"}, cobra.ShellCompDirectiveFilterFileExt
	})
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat(format string, supported []OutputFormat) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}

	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(formatNames(supported), ", "))
}

func formatNames(formats []OutputFormat) []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}

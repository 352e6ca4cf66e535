package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfind/internal/output"
	"github.com/Aman-CERP/amanfind/internal/store"
	"github.com/Aman-CERP/amanfind/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var jsonOutput, shortOutput bool

	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Long:        `Print the version, commit, build date and Go version, and the index format this binary reads.`,
		Args:        cobra.NoArgs,
		Annotations: configOptional,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			info.IndexFormat = store.FormatVersion

			switch {
			case shortOutput:
				_, err := fmt.Fprintln(cmd.OutOrStdout(), info.Version)
				return err
			case jsonOutput:
				return output.New(cmd.OutOrStdout()).JSON(info)
			default:
				_, err := fmt.Fprintln(cmd.OutOrStdout(), info)
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Output only the version number")

	return cmd
}

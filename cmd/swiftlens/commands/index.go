package commands

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// IndexCmd builds the project symbol index.
var IndexCmd = &cobra.Command{
	Use:   "index <project-root>",
	Short: "Build the project symbol index",
	Long: `Build the index store used for cross-file queries such as find-references.

For Swift packages this runs a build with index emission. For Xcode projects
and workspaces a scheme is required; when omitted, the first shared scheme is
used. Only one build per project runs at a time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scheme, _ := cmd.Flags().GetString("scheme")

		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		spinner, _ := pterm.DefaultSpinner.Start("Building index...")
		result, err := a.builder.Build(cmd.Context(), args[0], scheme)
		if err != nil {
			if spinner != nil {
				spinner.Fail("Index build failed")
			}
			return err
		}
		if spinner != nil {
			spinner.Success("Index built")
		}

		pterm.Info.Printf("Index store: %s\n", result.IndexPath)
		if result.Scheme != "" {
			pterm.Info.Printf("Scheme: %s\n", result.Scheme)
		}
		pterm.Info.Printf("Build time: %s\n", result.BuildTime.Round(time.Millisecond))
		return nil
	},
}

func init() {
	IndexCmd.Flags().String("scheme", "", "Xcode scheme to build")
}

package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// EnvironmentCmd checks whether the Swift toolchain is usable.
var EnvironmentCmd = &cobra.Command{
	Use:   "environment",
	Short: "Check the Swift toolchain",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		available, detail := a.checker.Probe(cmd.Context())
		if available {
			pterm.Success.Printf("Swift toolchain available: %s\n", detail)
			return nil
		}
		pterm.Error.Printf("Swift toolchain unavailable: %s\n", detail)
		return nil
	},
}

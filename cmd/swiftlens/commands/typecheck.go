package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// TypecheckCmd runs the Swift compiler over a file and reports diagnostics.
var TypecheckCmd = &cobra.Command{
	Use:   "typecheck <file.swift>",
	Short: "Typecheck a Swift file with the compiler",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.checker.Typecheck(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if result.OK {
			pterm.Success.Printf("%s typechecks cleanly\n", args[0])
			return nil
		}

		pterm.Error.Printf("%s has compiler diagnostics (exit %d)\n", args[0], result.ExitCode)
		if result.Stderr != "" {
			fmt.Println(result.Stderr)
		}
		if result.Stdout != "" {
			fmt.Println(result.Stdout)
		}
		return nil
	},
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swiftlens/swiftlens/cmd/swiftlens/commands"
	"github.com/swiftlens/swiftlens/logger"
)

var rootCmd = &cobra.Command{
	Use:   "swiftlens",
	Short: "swiftlens - Swift code analysis over the Language Server Protocol",
	Long: `swiftlens - semantic Swift analysis for tools and agents.

swiftlens supervises sourcekit-lsp sessions per project root and exposes
symbol, hover, reference, and definition queries, plus compiler typechecking
and index builds.

Available commands:
  serve       - Run the MCP server on stdio
  analyze     - Analyze symbols in Swift files
  typecheck   - Typecheck a Swift file with the compiler
  index       - Build the project symbol index
  environment - Check the Swift toolchain
  version     - Show version information

Examples:
  swiftlens serve                       # Serve tools to an MCP client
  swiftlens analyze 'Sources/**/*.swift'
  swiftlens typecheck Sources/App/Main.swift
  swiftlens index . --scheme MyApp`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The MCP server owns stdout, so logs always go to stderr.
		jsonLogs := cmd.Name() == "serve"
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.AnalyzeCmd)
	rootCmd.AddCommand(commands.TypecheckCmd)
	rootCmd.AddCommand(commands.IndexCmd)
	rootCmd.AddCommand(commands.EnvironmentCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/swiftlens/swiftlens/analyzer"
	"github.com/swiftlens/swiftlens/errors"
)

// AnalyzeCmd analyzes Swift files from the command line, mainly for trying
// the pipeline without an MCP client.
var AnalyzeCmd = &cobra.Command{
	Use:   "analyze <path-or-glob>...",
	Short: "Analyze symbols in Swift files",
	Long: `Analyze the symbol structure of one or more Swift files.

Arguments may be file paths or doublestar globs such as 'Sources/**/*.swift'.
Files sharing a project root are analyzed over one language server session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		paths, err := expandArgs(args)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return errors.Wrap(errors.ErrValidation, "no Swift files matched")
		}

		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		outcomes := a.analyzer.AnalyzeMany(context.Background(), paths, a.cfg.Batch.Workers,
			func(ctx context.Context, path string) (interface{}, error) {
				return a.analyzer.FileSymbols(ctx, path)
			})

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(analysisReport(outcomes))
		}

		failed := 0
		for _, outcome := range outcomes {
			if outcome.Err != nil {
				pterm.Error.Printf("%s: %v\n", outcome.Path, outcome.Err)
				failed++
				continue
			}
			symbols := outcome.Result.(*analyzer.FileSymbols)
			pterm.Success.Printf("%s: %d symbols\n", outcome.Path, symbols.TotalSymbols)
			printSymbols(symbols.Symbols, 1)
		}

		if failed > 0 {
			return errors.Newf("%d of %d files failed", failed, len(outcomes))
		}
		return nil
	},
}

func init() {
	AnalyzeCmd.Flags().BoolP("json", "j", false, "Output results as JSON")
}

// reportEntry is one file's outcome in JSON output. Failures carry the full
// error envelope so a failed file is never mistaken for an empty success.
type reportEntry struct {
	Path   string           `json:"path"`
	OK     bool             `json:"ok"`
	Result interface{}      `json:"result,omitempty"`
	Error  *errors.Envelope `json:"error,omitempty"`
}

type report struct {
	Files      []reportEntry `json:"files"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
}

func analysisReport(outcomes []analyzer.Outcome) report {
	r := report{
		Files: make([]reportEntry, len(outcomes)),
		Total: len(outcomes),
	}
	for i, outcome := range outcomes {
		entry := reportEntry{Path: outcome.Path}
		if outcome.Err != nil {
			env := errors.ToEnvelope(outcome.Err)
			entry.Error = &env
			r.Failed++
		} else {
			entry.OK = true
			entry.Result = outcome.Result
			r.Successful++
		}
		r.Files[i] = entry
	}
	return r
}

// expandArgs resolves each argument: globs expand against the working
// directory, plain paths pass through. The result is sorted and deduplicated.
func expandArgs(args []string) ([]string, error) {
	seen := make(map[string]struct{})
	var paths []string

	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "get working directory")
	}

	for _, arg := range args {
		if !doublestar.ValidatePattern(arg) || !containsGlobMeta(arg) {
			add(arg)
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(cwd), arg)
		if err != nil {
			return nil, errors.Wrapf(err, "expand pattern %s", arg)
		}
		sort.Strings(matches)
		for _, match := range matches {
			add(filepath.Join(cwd, match))
		}
	}
	return paths, nil
}

func containsGlobMeta(s string) bool {
	for _, r := range s {
		switch r {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

func printSymbols(nodes []analyzer.SymbolNode, depth int) {
	for _, node := range nodes {
		fmt.Printf("%*s%s (%s) line %d\n",
			depth*2, "", node.Name, node.Kind, node.Range.Start.Line)
		printSymbols(node.Children, depth+1)
	}
}

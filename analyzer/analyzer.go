package analyzer

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/swiftlens/swiftlens/errors"
	"github.com/swiftlens/swiftlens/langserver"
	"github.com/swiftlens/swiftlens/lsp"
	"github.com/swiftlens/swiftlens/project"
	"github.com/swiftlens/swiftlens/validate"
)

// Analyzer runs analysis operations against supervised language-server
// sessions. Every operation follows the same shape: validate, discover the
// project, acquire a session, open the document for the duration of the
// operation, normalize results.
type Analyzer struct {
	discoverer *project.Discoverer
	supervisor *langserver.Supervisor
	logger     *zap.SugaredLogger
}

// New creates an analyzer.
func New(discoverer *project.Discoverer, supervisor *langserver.Supervisor, logger *zap.SugaredLogger) *Analyzer {
	return &Analyzer{
		discoverer: discoverer,
		supervisor: supervisor,
		logger:     logger,
	}
}

// withDocument validates the path, acquires the project session, and runs fn
// with the document open. The paired close always happens, on success and
// error paths alike. A session-lost failure invalidates the session so the
// next call gets a fresh one.
func (a *Analyzer) withDocument(ctx context.Context, path string, fn func(ctx context.Context, sess *langserver.Session, uri string) error) error {
	abs, err := validate.SwiftSourcePath(path)
	if err != nil {
		return err
	}
	root, err := a.discoverer.Discover(abs)
	if err != nil {
		return err
	}
	sess, err := a.supervisor.Acquire(ctx, root)
	if err != nil {
		return err
	}

	uri := langserver.FileURI(abs)
	err = sess.WithDocument(ctx, abs, uri, func(ctx context.Context) error {
		return fn(ctx, sess, uri)
	})
	if errors.KindOf(err) == errors.KindSessionLost {
		a.supervisor.Invalidate(root.Path)
	}
	return err
}

// FileSymbols returns the document-symbol tree, kinds named, source order
// preserved.
func (a *Analyzer) FileSymbols(ctx context.Context, path string) (*FileSymbols, error) {
	var result *FileSymbols
	err := a.withDocument(ctx, path, func(ctx context.Context, sess *langserver.Session, uri string) error {
		symbols, err := sess.Client().DocumentSymbols(ctx, uri)
		if err != nil {
			return err
		}
		nodes := convertSymbols(symbols)
		result = &FileSymbols{
			Path:         langserver.URIPath(uri),
			Symbols:      nodes,
			TotalSymbols: countSymbols(nodes),
		}
		return nil
	})
	return result, err
}

// SymbolsOverview returns only the top-level declarations of a file.
func (a *Analyzer) SymbolsOverview(ctx context.Context, path string) (*FileSymbols, error) {
	full, err := a.FileSymbols(ctx, path)
	if err != nil {
		return nil, err
	}
	top := make([]SymbolNode, len(full.Symbols))
	for i, node := range full.Symbols {
		node.Children = nil
		top[i] = node
	}
	return &FileSymbols{Path: full.Path, Symbols: top, TotalSymbols: len(top)}, nil
}

// DeclarationContext returns dotted declaration paths in depth-first source
// order, e.g. "MyClass.myMethod".
func (a *Analyzer) DeclarationContext(ctx context.Context, path string) (*DeclarationContext, error) {
	full, err := a.FileSymbols(ctx, path)
	if err != nil {
		return nil, err
	}
	var contexts []string
	var walk func(prefix string, nodes []SymbolNode)
	walk = func(prefix string, nodes []SymbolNode) {
		for _, node := range nodes {
			dotted := node.Name
			if prefix != "" {
				dotted = prefix + "." + node.Name
			}
			contexts = append(contexts, dotted)
			walk(dotted, node.Children)
		}
	}
	walk("", full.Symbols)
	return &DeclarationContext{Path: full.Path, Contexts: contexts}, nil
}

// Hover returns hover information at a one-based line, zero-based character.
func (a *Analyzer) Hover(ctx context.Context, path string, line, character int) (*HoverInfo, error) {
	if err := validate.LineCharacter(line, character); err != nil {
		return nil, err
	}
	pos := Position{Line: line, Character: character}

	var result *HoverInfo
	err := a.withDocument(ctx, path, func(ctx context.Context, sess *langserver.Session, uri string) error {
		hover, err := sess.Client().Hover(ctx, uri, toWire(pos))
		if err != nil {
			return err
		}
		result = &HoverInfo{Path: langserver.URIPath(uri), Position: pos}
		if hover != nil {
			result.Found = true
			result.Text = hover.GetText()
			if hover.Range != nil {
				r := toPublicRange(*hover.Range)
				result.HoverRange = &r
			}
		}
		return nil
	})
	return result, err
}

// References resolves symbolName to its declaration position, then lists
// every reference. Resolution prefers the symbol tree; a textual locator
// handles files the index has not absorbed yet.
func (a *Analyzer) References(ctx context.Context, path, symbolName string, includeDeclaration bool) (*References, error) {
	if symbolName == "" {
		return nil, errors.Wrap(errors.ErrValidation, "symbol name is empty")
	}

	var result *References
	err := a.withDocument(ctx, path, func(ctx context.Context, sess *langserver.Session, uri string) error {
		pos, err := a.resolveSymbol(ctx, sess, uri, symbolName)
		if err != nil {
			return err
		}
		locations, err := sess.Client().References(ctx, uri, pos, includeDeclaration)
		if err != nil {
			return err
		}
		normalized := normalizeLocations(locations)
		result = &References{
			Path:      langserver.URIPath(uri),
			Symbol:    symbolName,
			Locations: normalized,
			Total:     len(normalized),
		}
		return nil
	})
	return result, err
}

// Definition resolves symbolName and returns its definition locations.
func (a *Analyzer) Definition(ctx context.Context, path, symbolName string) (*Definition, error) {
	if symbolName == "" {
		return nil, errors.Wrap(errors.ErrValidation, "symbol name is empty")
	}

	var result *Definition
	err := a.withDocument(ctx, path, func(ctx context.Context, sess *langserver.Session, uri string) error {
		pos, err := a.resolveSymbol(ctx, sess, uri, symbolName)
		if err != nil {
			return err
		}
		locations, err := sess.Client().Definition(ctx, uri, pos)
		if err != nil {
			return err
		}
		result = &Definition{
			Path:      langserver.URIPath(uri),
			Symbol:    symbolName,
			Locations: normalizeLocations(locations),
		}
		return nil
	})
	return result, err
}

// resolveSymbol finds the declaration position of a named symbol: first
// match in source order of the symbol tree, falling back to the textual
// locator when the tree has no match.
func (a *Analyzer) resolveSymbol(ctx context.Context, sess *langserver.Session, uri, symbolName string) (lsp.Position, error) {
	symbols, err := sess.Client().DocumentSymbols(ctx, uri)
	if err == nil {
		if pos, ok := findInTree(symbols, symbolName); ok {
			return pos, nil
		}
	} else {
		a.logger.Debugw("symbol tree unavailable, falling back to text scan",
			"uri", uri, "error", err)
	}

	pos, ok, err := locateInFile(langserver.URIPath(uri), symbolName)
	if err != nil {
		return lsp.Position{}, err
	}
	if !ok {
		return lsp.Position{}, errors.Wrapf(errors.ErrValidation, "symbol %q not found in %s", symbolName, langserver.URIPath(uri))
	}
	return pos, nil
}

// convertSymbols maps the wire tree to public nodes, preserving order.
func convertSymbols(symbols []lsp.DocumentSymbol) []SymbolNode {
	nodes := make([]SymbolNode, 0, len(symbols))
	for _, sym := range symbols {
		nodes = append(nodes, SymbolNode{
			Name:           sym.Name,
			Kind:           sym.Kind.String(),
			Detail:         sym.Detail,
			Range:          toPublicRange(sym.Range),
			SelectionRange: toPublicRange(sym.SelectionRange),
			Children:       convertSymbols(sym.Children),
		})
	}
	return nodes
}

func countSymbols(nodes []SymbolNode) int {
	total := len(nodes)
	for _, node := range nodes {
		total += countSymbols(node.Children)
	}
	return total
}

// findInTree returns the selection-range start of the first symbol with the
// given name, in depth-first source order.
func findInTree(symbols []lsp.DocumentSymbol, name string) (lsp.Position, bool) {
	for _, sym := range symbols {
		// Method symbols carry their signature, e.g. "greet(name:)".
		symName := sym.Name
		if idx := strings.IndexByte(symName, '('); idx > 0 {
			symName = symName[:idx]
		}
		if symName == name {
			return sym.SelectionRange.Start, true
		}
		if pos, ok := findInTree(sym.Children, name); ok {
			return pos, true
		}
	}
	return lsp.Position{}, false
}

// normalizeLocations converts wire locations to public form, collapses
// duplicates by (path, range), and orders by (path, start line, start
// character) where the server gave no meaningful order.
func normalizeLocations(locations []lsp.Location) []SymbolLocation {
	seen := make(map[SymbolLocation]struct{}, len(locations))
	out := make([]SymbolLocation, 0, len(locations))
	for _, loc := range locations {
		converted := SymbolLocation{
			Path:  langserver.URIPath(loc.URI),
			Range: toPublicRange(loc.Range),
		}
		if _, dup := seen[converted]; dup {
			continue
		}
		seen[converted] = struct{}{}
		out = append(out, converted)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		if out[i].Range.Start.Line != out[j].Range.Start.Line {
			return out[i].Range.Start.Line < out[j].Range.Start.Line
		}
		return out[i].Range.Start.Character < out[j].Range.Start.Character
	})
	return out
}

// Package analyzer composes LSP primitives into SwiftLens analysis
// operations.
//
// Position convention: the public surface takes one-based lines and
// zero-based characters; the LSP wire uses zero-based for both. Conversion
// happens here and nowhere else.
package analyzer

import (
	"github.com/swiftlens/swiftlens/lsp"
)

// Position is a user-facing position: one-based line, zero-based character.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [start, end) range of user-facing positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// SymbolNode is one node of the document-symbol tree. Children preserve
// source order.
type SymbolNode struct {
	Name           string       `json:"name"`
	Kind           string       `json:"kind"`
	Detail         string       `json:"detail,omitempty"`
	Range          Range        `json:"range"`
	SelectionRange Range        `json:"selection_range"`
	Children       []SymbolNode `json:"children,omitempty"`
}

// FileSymbols is the result of analyze_file_symbols.
type FileSymbols struct {
	Path         string       `json:"path"`
	Symbols      []SymbolNode `json:"symbols"`
	TotalSymbols int          `json:"total_symbols"`
}

// HoverInfo is the result of get_hover_info. Found is false when the server
// had nothing to say at the position.
type HoverInfo struct {
	Path      string `json:"path"`
	Position  Position `json:"position"`
	Found     bool   `json:"found"`
	Text      string `json:"text,omitempty"`
	HoverRange *Range `json:"range,omitempty"`
}

// SymbolLocation is one user-facing location.
type SymbolLocation struct {
	Path  string `json:"path"`
	Range Range  `json:"range"`
}

// References is the result of find_symbol_references.
type References struct {
	Path      string           `json:"path"`
	Symbol    string           `json:"symbol"`
	Locations []SymbolLocation `json:"locations"`
	Total     int              `json:"total"`
}

// Definition is the result of get_symbol_definition.
type Definition struct {
	Path      string           `json:"path"`
	Symbol    string           `json:"symbol"`
	Locations []SymbolLocation `json:"locations"`
}

// DeclarationContext is the result of get_declaration_context: dotted
// declaration paths in depth-first source order.
type DeclarationContext struct {
	Path     string   `json:"path"`
	Contexts []string `json:"contexts"`
}

// toPublic converts a wire position to the public convention.
func toPublic(p lsp.Position) Position {
	return Position{Line: p.Line + 1, Character: p.Character}
}

// toWire converts a public position to the wire convention.
func toWire(p Position) lsp.Position {
	return lsp.Position{Line: p.Line - 1, Character: p.Character}
}

func toPublicRange(r lsp.Range) Range {
	return Range{Start: toPublic(r.Start), End: toPublic(r.End)}
}

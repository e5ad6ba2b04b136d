package lsp

import (
	"encoding/json"
)

// Position represents a position in a text document. Zero-based line and
// character, characters counted in UTF-16 code units per the LSP wire format.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range represents a half-open [start, end) range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location represents a location in a source file
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// DocumentSymbol represents a symbol in a document. Children are ordered in
// source-file order and form a tree rooted at the document.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolKind is the LSP numeric symbol kind.
type SymbolKind int

// Symbol kinds per the LSP specification.
const (
	KindFile          SymbolKind = 1
	KindModule        SymbolKind = 2
	KindNamespace     SymbolKind = 3
	KindPackage       SymbolKind = 4
	KindClass         SymbolKind = 5
	KindMethod        SymbolKind = 6
	KindProperty      SymbolKind = 7
	KindField         SymbolKind = 8
	KindConstructor   SymbolKind = 9
	KindEnum          SymbolKind = 10
	KindInterface     SymbolKind = 11
	KindFunction      SymbolKind = 12
	KindVariable      SymbolKind = 13
	KindConstant      SymbolKind = 14
	KindString        SymbolKind = 15
	KindNumber        SymbolKind = 16
	KindBoolean       SymbolKind = 17
	KindArray         SymbolKind = 18
	KindObject        SymbolKind = 19
	KindKey           SymbolKind = 20
	KindNull          SymbolKind = 21
	KindEnumMember    SymbolKind = 22
	KindStruct        SymbolKind = 23
	KindEvent         SymbolKind = 24
	KindOperator      SymbolKind = 25
	KindTypeParameter SymbolKind = 26
)

var symbolKindNames = map[SymbolKind]string{
	KindFile:          "file",
	KindModule:        "module",
	KindNamespace:     "namespace",
	KindPackage:       "package",
	KindClass:         "class",
	KindMethod:        "method",
	KindProperty:      "property",
	KindField:         "field",
	KindConstructor:   "constructor",
	KindEnum:          "enum",
	KindInterface:     "interface",
	KindFunction:      "function",
	KindVariable:      "variable",
	KindConstant:      "constant",
	KindString:        "string",
	KindNumber:        "number",
	KindBoolean:       "boolean",
	KindArray:         "array",
	KindObject:        "object",
	KindKey:           "key",
	KindNull:          "null",
	KindEnumMember:    "enum-member",
	KindStruct:        "struct",
	KindEvent:         "event",
	KindOperator:      "operator",
	KindTypeParameter: "type-parameter",
}

// String returns the stable kind name, or "unknown" for values outside the
// LSP enumeration.
func (k SymbolKind) String() string {
	if name, ok := symbolKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Hover represents hover information at a position
type Hover struct {
	Contents json.RawMessage `json:"contents"`
	Range    *Range          `json:"range,omitempty"`
}

// GetText extracts text from hover contents. Servers send either a plain
// string, a MarkupContent object, or an array of marked strings.
func (h *Hover) GetText() string {
	if h == nil || len(h.Contents) == 0 {
		return ""
	}

	var markup struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(h.Contents, &markup); err == nil && markup.Value != "" {
		return markup.Value
	}

	var str string
	if err := json.Unmarshal(h.Contents, &str); err == nil {
		return str
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(h.Contents, &parts); err == nil {
		text := ""
		for _, p := range parts {
			var s string
			if json.Unmarshal(p, &s) == nil {
				if text != "" {
					text += "\n"
				}
				text += s
			}
		}
		if text != "" {
			return text
		}
	}

	return string(h.Contents)
}

// ServerCapabilities is the raw capability set returned by initialize.
// SwiftLens only inspects it opportunistically, so it stays unparsed.
type ServerCapabilities = json.RawMessage

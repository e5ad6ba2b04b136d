package analyzer

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"github.com/swiftlens/swiftlens/errors"
	"github.com/swiftlens/swiftlens/lsp"
)

// The textual locator covers the window before the index has absorbed a
// file. It recognizes a fixed subset of declaration forms:
//
//	class|struct|enum|protocol|func|var|let <name>
//	init
//
// and nothing more. Generic parameter lists, operators, and computed
// property clauses are out of its vocabulary on purpose.
var declarationPattern = regexp.MustCompile(
	`\b(?:class|struct|enum|protocol|func|var|let)\s+` + "`?" + `([A-Za-z_][A-Za-z0-9_]*)`,
)

// locateInFile scans the file line by line for a declaration of name and
// returns the zero-based wire position of the name itself.
func locateInFile(path, name string) (lsp.Position, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return lsp.Position{}, false, errors.Wrapf(errors.ErrFileNotFound, "%s", path)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		if pos, ok := matchDeclaration(line, name, lineNo); ok {
			return pos, true, nil
		}
		lineNo++
	}
	if err := scanner.Err(); err != nil {
		return lsp.Position{}, false, errors.Wrapf(err, "scan %s", path)
	}
	return lsp.Position{}, false, nil
}

func matchDeclaration(line, name string, lineNo int) (lsp.Position, bool) {
	if name == "init" {
		if idx := indexOfInit(line); idx >= 0 {
			return lsp.Position{Line: lineNo, Character: utf16Column(line, idx)}, true
		}
		return lsp.Position{}, false
	}

	for _, match := range declarationPattern.FindAllStringSubmatchIndex(line, -1) {
		start, end := match[2], match[3]
		if line[start:end] == name {
			return lsp.Position{Line: lineNo, Character: utf16Column(line, start)}, true
		}
	}
	return lsp.Position{}, false
}

// indexOfInit finds a bare `init` declaration, skipping identifiers that
// merely contain the word.
func indexOfInit(line string) int {
	offset := 0
	for {
		idx := strings.Index(line[offset:], "init")
		if idx < 0 {
			return -1
		}
		abs := offset + idx
		beforeOK := abs == 0 || !isIdentByte(line[abs-1])
		after := abs + len("init")
		afterOK := after >= len(line) || line[after] == '(' || line[after] == '?' || line[after] == ' '
		if beforeOK && afterOK {
			return abs
		}
		offset = abs + len("init")
	}
}

func isIdentByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// utf16Column converts a byte offset in a line to a UTF-16 code unit column,
// matching the LSP wire convention.
func utf16Column(line string, byteOffset int) int {
	col := 0
	for _, r := range line[:byteOffset] {
		if r > 0xFFFF {
			col += 2
		} else {
			col++
		}
	}
	return col
}

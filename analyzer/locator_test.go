package analyzer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSwift(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Fixture.swift")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocateInFileDeclarationForms(t *testing.T) {
	path := writeSwift(t, `import Foundation

class UserService {
    var cache: [String: User] = [:]
    let timeout = 30.0

    func fetchUser(id: String) -> User? {
        return cache[id]
    }
}

struct User {}
enum Role {}
protocol Fetchable {}
`)

	cases := []struct {
		name string
		line int // zero-based
	}{
		{"UserService", 2},
		{"cache", 3},
		{"timeout", 4},
		{"fetchUser", 6},
		{"User", 11},
		{"Role", 12},
		{"Fetchable", 13},
	}
	for _, tc := range cases {
		pos, found, err := locateInFile(path, tc.name)
		require.NoError(t, err)
		require.True(t, found, "symbol %s", tc.name)
		assert.Equal(t, tc.line, pos.Line, "symbol %s", tc.name)
	}
}

func TestLocateInFileInit(t *testing.T) {
	path := writeSwift(t, `class Box {
    var initializeCount = 0

    init(value: Int) {}
}
`)

	pos, found, err := locateInFile(path, "init")
	require.NoError(t, err)
	require.True(t, found)
	// The identifier initializeCount on line 1 must not match.
	assert.Equal(t, 3, pos.Line)
	assert.Equal(t, 4, pos.Character)
}

func TestLocateInFileBacktickedName(t *testing.T) {
	path := writeSwift(t, "let `default` = 1\n")

	pos, found, err := locateInFile(path, "default")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0, pos.Line)
	assert.Equal(t, 5, pos.Character)
}

func TestLocateInFileNotFound(t *testing.T) {
	path := writeSwift(t, "let a = 1\n")

	_, found, err := locateInFile(path, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLocateInFileUTF16Columns(t *testing.T) {
	// The emoji is a surrogate pair on the wire, so the declaration after it
	// lands two UTF-16 units further than its rune index.
	path := writeSwift(t, "/* \U0001F600 */ let marker = 1\n")

	pos, found, err := locateInFile(path, "marker")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0, pos.Line)
	assert.Equal(t, 13, pos.Character)
}

func TestPositionConversionRoundTrip(t *testing.T) {
	pub := Position{Line: 10, Character: 4}
	assert.Equal(t, pub, toPublic(toWire(pub)))

	wire := toWire(Position{Line: 1, Character: 0})
	assert.Equal(t, 0, wire.Line)
	assert.Equal(t, 0, wire.Character)
}

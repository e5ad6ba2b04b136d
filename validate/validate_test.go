package validate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftlens/swiftlens/errors"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSwiftSourcePath(t *testing.T) {
	dir := t.TempDir()

	swift := writeFile(t, filepath.Join(dir, "Main.swift"), "let a = 1")
	abs, err := SwiftSourcePath(swift)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))

	// Extension check is case-insensitive.
	upper := writeFile(t, filepath.Join(dir, "Upper.SWIFT"), "let b = 2")
	_, err = SwiftSourcePath(upper)
	require.NoError(t, err)

	_, err = SwiftSourcePath(filepath.Join(dir, "missing.swift"))
	assert.Equal(t, errors.KindFileNotFound, errors.KindOf(err))

	notSwift := writeFile(t, filepath.Join(dir, "readme.md"), "hi")
	_, err = SwiftSourcePath(notSwift)
	assert.Equal(t, errors.KindNotSwiftFile, errors.KindOf(err))

	_, err = SwiftSourcePath(dir)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = SwiftSourcePath("")
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestSwiftSourcePathResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, filepath.Join(dir, "Real.swift"), "let a = 1")
	link := filepath.Join(dir, "Link.swift")
	require.NoError(t, os.Symlink(target, link))

	abs, err := SwiftSourcePath(link)
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, resolved, abs)
}

func TestFileWithinSize(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "big.swift"), strings.Repeat("x", 100))

	require.NoError(t, FileWithinSize(path, 100))
	err := FileWithinSize(path, 99)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestLineCharacter(t *testing.T) {
	require.NoError(t, LineCharacter(1, 0))
	require.NoError(t, LineCharacter(100, 42))

	assert.Error(t, LineCharacter(0, 0))
	assert.Error(t, LineCharacter(-1, 0))
	assert.Error(t, LineCharacter(1, -1))
}

func TestSchemeNameAccepts(t *testing.T) {
	for _, name := range []string{
		"MyApp",
		"My-App",
		"My_App",
		"MyApp Dev",
		"app2 Release Candidate",
		strings.Repeat("a", MaxSchemeLength),
	} {
		assert.NoError(t, SchemeName(name), "scheme %q", name)
	}
}

func TestSchemeNameRejects(t *testing.T) {
	for _, name := range []string{
		"",
		"app; rm -rf /",
		"app`whoami`",
		"app$(id)",
		"app\nRelease",
		"app\tRelease",
		"app  double",
		" leading",
		"trailing ",
		"quote'd",
		`quote"d`,
		"semi;colon",
		"pipe|it",
		"amp&ersand",
		strings.Repeat("a", MaxSchemeLength+1),
	} {
		err := SchemeName(name)
		require.Error(t, err, "scheme %q should be rejected", name)
		assert.Equal(t, errors.KindValidation, errors.KindOf(err), "scheme %q", name)
	}
}

func TestProjectDir(t *testing.T) {
	dir := t.TempDir()
	abs, err := ProjectDir(dir)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))

	file := writeFile(t, filepath.Join(dir, "f.swift"), "")
	_, err = ProjectDir(file)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = ProjectDir(filepath.Join(dir, "missing"))
	assert.Equal(t, errors.KindFileNotFound, errors.KindOf(err))
}

func TestPathWithin(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, PathWithin(dir, filepath.Join(dir, ".build", "index", "store")))
	require.NoError(t, PathWithin(dir, dir))

	err := PathWithin(dir, filepath.Join(dir, "..", "escape"))
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	err = PathWithin(dir, "/etc/passwd")
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestPathWithinCatchesSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(dir, "sneaky")
	require.NoError(t, os.Symlink(outside, link))

	err := PathWithin(dir, filepath.Join(link, "payload"))
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

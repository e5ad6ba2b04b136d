// Package validate enforces the input preconditions shared by every public
// SwiftLens operation.
package validate

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/swiftlens/swiftlens/errors"
)

// MaxSchemeLength caps scheme names.
const MaxSchemeLength = 100

// Scheme names: alphanumeric words with - and _, single spaces between
// words. Anything else is rejected before it can reach a build command.
var schemePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+( [A-Za-z0-9_-]+)*$`)

// SwiftSourcePath canonicalizes path (absolute, symlinks resolved) and
// verifies it names an existing regular .swift file.
func SwiftSourcePath(path string) (string, error) {
	abs, err := AbsolutePath(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.Wrapf(errors.ErrFileNotFound, "%s", path)
	}
	if info.IsDir() {
		return "", errors.Wrapf(errors.ErrValidation, "%s is a directory", path)
	}
	if !strings.EqualFold(filepath.Ext(abs), ".swift") {
		return "", errors.Wrapf(errors.ErrNotSwiftFile, "%s", path)
	}
	return abs, nil
}

// AbsolutePath resolves path against the process working directory and
// resolves symlinks.
func AbsolutePath(path string) (string, error) {
	if path == "" {
		return "", errors.Wrap(errors.ErrValidation, "empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(errors.ErrValidation, "resolve %s: %v", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrapf(errors.ErrFileNotFound, "%s", path)
		}
		return "", errors.Wrapf(errors.ErrValidation, "resolve symlinks for %s: %v", path, err)
	}
	return resolved, nil
}

// FileWithinSize rejects files larger than maxBytes.
func FileWithinSize(path string, maxBytes int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(errors.ErrFileNotFound, "%s", path)
	}
	if info.Size() > maxBytes {
		return errors.Wrapf(errors.ErrValidation, "%s is %d bytes, cap is %d", path, info.Size(), maxBytes)
	}
	return nil
}

// LineCharacter checks the public position convention: one-based line,
// zero-based character.
func LineCharacter(line, character int) error {
	if line < 1 {
		return errors.Wrapf(errors.ErrValidation, "line %d: lines are one-based", line)
	}
	if character < 0 {
		return errors.Wrapf(errors.ErrValidation, "character %d: characters are zero-based and non-negative", character)
	}
	return nil
}

// SchemeName enforces the scheme grammar: [A-Za-z0-9_-]+ words separated by
// single spaces, at most MaxSchemeLength characters, no control characters.
func SchemeName(name string) error {
	if name == "" {
		return errors.Wrap(errors.ErrValidation, "scheme name is empty")
	}
	if len(name) > MaxSchemeLength {
		return errors.Wrapf(errors.ErrValidation, "scheme name is %d characters, cap is %d", len(name), MaxSchemeLength)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return errors.Wrap(errors.ErrValidation, "scheme name contains control characters")
		}
	}
	if !schemePattern.MatchString(name) {
		return errors.Wrapf(errors.ErrValidation, "scheme name %q does not match allowed grammar", name)
	}
	return nil
}

// ProjectDir verifies path exists and is a directory, returning its
// canonical form.
func ProjectDir(path string) (string, error) {
	abs, err := AbsolutePath(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.Wrapf(errors.ErrFileNotFound, "%s", path)
	}
	if !info.IsDir() {
		return "", errors.Wrapf(errors.ErrValidation, "%s is not a directory", path)
	}
	return abs, nil
}

// PathWithin verifies that child, after canonicalization of the nearest
// existing ancestor, stays inside root. Guards computed build paths against
// escaping the project.
func PathWithin(root, child string) error {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return errors.Wrapf(errors.ErrValidation, "resolve %s: %v", root, err)
	}
	rootResolved, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return errors.Wrapf(errors.ErrValidation, "resolve symlinks for %s: %v", root, err)
	}

	childAbs, err := filepath.Abs(child)
	if err != nil {
		return errors.Wrapf(errors.ErrValidation, "resolve %s: %v", child, err)
	}
	resolved := resolveExistingPrefix(childAbs)

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.Wrapf(errors.ErrValidation, "path %s escapes project root %s", child, root)
	}
	return nil
}

// resolveExistingPrefix resolves symlinks on the longest existing ancestor
// of path and rejoins the remainder.
func resolveExistingPrefix(path string) string {
	remainder := ""
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			return filepath.Join(resolved, remainder)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

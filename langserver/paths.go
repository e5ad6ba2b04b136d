package langserver

import (
	"path/filepath"
	"strings"
)

// isManifest reports whether a path names a package manifest.
func isManifest(path string) bool {
	return filepath.Base(path) == "Package.swift"
}

func parentDir(path string) string {
	return filepath.Dir(path)
}

// FileURI converts an absolute path to a file-scheme URI.
func FileURI(path string) string {
	return "file://" + path
}

// URIPath converts a file-scheme URI back to a path. Non-file URIs are
// returned unchanged.
func URIPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

package langserver

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsManifest(t *testing.T) {
	assert.True(t, isManifest("/a/b/Package.swift"))
	assert.True(t, isManifest("Package.swift"))
	assert.False(t, isManifest("/a/b/Package.resolved"))
	assert.False(t, isManifest("/a/b/MyPackage.swift"))
}

func TestFileURIRoundTrip(t *testing.T) {
	path := "/Users/dev/App/Sources/Main.swift"
	uri := FileURI(path)
	assert.Equal(t, "file://"+path, uri)
	assert.Equal(t, path, URIPath(uri))
}

func TestURIPathPassesThroughNonFileURIs(t *testing.T) {
	assert.Equal(t, "untitled:Untitled-1", URIPath("untitled:Untitled-1"))
}

func TestParentDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/a", "b"), parentDir(filepath.Join("/a", "b", "Package.swift")))
}

// Package project locates and classifies the Swift project enclosing a file.
package project

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/swiftlens/swiftlens/errors"
)

// Kind classifies a discovered project root.
type Kind string

const (
	KindPackage        Kind = "package"
	KindXcodeProject   Kind = "xcode-project"
	KindXcodeWorkspace Kind = "xcode-workspace"
	KindNone           Kind = "none"
)

// Root describes a discovered project root. Immutable after construction.
type Root struct {
	// Path is the absolute, symlink-resolved root directory.
	Path string
	// Kind is the project classification.
	Kind Kind
	// DiscoveredFrom is the file path that discovery started from.
	DiscoveredFrom string
	// Container is the .xcodeproj or .xcworkspace entry for Xcode kinds.
	Container string
}

// RequiresProject reports whether the root can drive cross-file operations.
func (r Root) RequiresProject() error {
	if r.Kind == KindNone {
		return errors.Wrapf(errors.ErrProjectNotFound, "no package manifest or Xcode container above %s", r.DiscoveredFrom)
	}
	return nil
}

// Discoverer finds project roots, memoizing results per absolute path.
type Discoverer struct {
	mu    sync.Mutex
	cache map[string]Root
}

// NewDiscoverer creates a discoverer with an empty memo.
func NewDiscoverer() *Discoverer {
	return &Discoverer{cache: make(map[string]Root)}
}

// Discover walks ancestor directories of path until the filesystem root and
// returns the first match by precedence: Package.swift, then any
// *.xcworkspace entry, then any *.xcodeproj entry. A workspace beats a
// project in the same directory. With no match the file's own directory is
// returned with kind none.
func (d *Discoverer) Discover(path string) (Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Root{}, errors.Wrapf(err, "resolve %s", path)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return Root{}, errors.Wrapf(errors.ErrFileNotFound, "resolve %s: %v", path, err)
	}

	d.mu.Lock()
	cached, ok := d.cache[resolved]
	d.mu.Unlock()
	if ok {
		return cached, nil
	}

	root, err := discover(resolved)
	if err != nil {
		return Root{}, err
	}

	d.mu.Lock()
	d.cache[resolved] = root
	d.mu.Unlock()
	return root, nil
}

// Invalidate drops memoized results under the given root directory. Used
// when a manifest changes on disk.
func (d *Discoverer) Invalidate(rootPath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, root := range d.cache {
		if root.Path == rootPath || strings.HasPrefix(path, rootPath+string(filepath.Separator)) {
			delete(d.cache, path)
		}
	}
}

func discover(path string) (Root, error) {
	start := path
	info, err := os.Stat(path)
	if err != nil {
		return Root{}, errors.Wrapf(errors.ErrFileNotFound, "stat %s: %v", path, err)
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}

	for {
		root, found, err := classify(dir, start)
		if err != nil {
			return Root{}, err
		}
		if found {
			return root, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	fileDir := path
	if !info.IsDir() {
		fileDir = filepath.Dir(path)
	}
	return Root{Path: fileDir, Kind: KindNone, DiscoveredFrom: start}, nil
}

func classify(dir, discoveredFrom string) (Root, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Root{}, false, errors.Wrapf(err, "read directory %s", dir)
	}

	var workspace, xcodeproj string
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case name == "Package.swift" && !entry.IsDir():
			return Root{Path: dir, Kind: KindPackage, DiscoveredFrom: discoveredFrom}, true, nil
		case strings.HasSuffix(name, ".xcworkspace") && workspace == "":
			workspace = filepath.Join(dir, name)
		case strings.HasSuffix(name, ".xcodeproj") && xcodeproj == "":
			xcodeproj = filepath.Join(dir, name)
		}
	}

	// Workspace takes precedence over a project in the same directory.
	if workspace != "" {
		return Root{Path: dir, Kind: KindXcodeWorkspace, DiscoveredFrom: discoveredFrom, Container: workspace}, true, nil
	}
	if xcodeproj != "" {
		return Root{Path: dir, Kind: KindXcodeProject, DiscoveredFrom: discoveredFrom, Container: xcodeproj}, true, nil
	}
	return Root{}, false, nil
}

package indexbuild

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/swiftlens/swiftlens/errors"
	"github.com/swiftlens/swiftlens/project"
)

// DetectScheme picks a scheme for an Xcode container by scanning its shared
// scheme list. Hidden schemes (dot-prefixed) are skipped; the first
// remaining name in sorted order wins.
func DetectScheme(root project.Root) (string, error) {
	containers := []string{root.Container}
	if root.Kind == project.KindXcodeWorkspace {
		// Workspaces usually keep schemes in their member projects.
		if projects, err := filepath.Glob(filepath.Join(root.Path, "*.xcodeproj")); err == nil {
			containers = append(containers, projects...)
		}
	}

	var names []string
	for _, container := range containers {
		if container == "" {
			continue
		}
		pattern := filepath.Join(container, "xcshareddata", "xcschemes", "*.xcscheme")
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, match := range matches {
			name := strings.TrimSuffix(filepath.Base(match), ".xcscheme")
			if strings.HasPrefix(name, ".") {
				continue
			}
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return "", errors.Wrapf(errors.ErrValidation, "no shared scheme found for %s; pass one explicitly", root.Path)
	}
	sort.Strings(names)
	return names[0], nil
}

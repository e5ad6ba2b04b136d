// Package indexbuild builds the on-disk symbol index the language server
// consults for cross-file queries.
package indexbuild

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/swiftlens/swiftlens/errors"
	"github.com/swiftlens/swiftlens/project"
	"github.com/swiftlens/swiftlens/validate"
)

const (
	// DefaultTimeout bounds one index build.
	DefaultTimeout = 60 * time.Second
	// MaxTimeout is the hard cap regardless of configuration.
	MaxTimeout = 300 * time.Second
	// termGrace separates SIGTERM from SIGKILL on cancellation.
	termGrace = 2 * time.Second
)

// indexStoreRel is the index location relative to the project root, shared
// with the language server.
const indexStoreRel = ".build/index/store"

// Result describes a completed index build. Output is sanitized before it
// leaves this package.
type Result struct {
	OK        bool          `json:"ok"`
	IndexPath string        `json:"index_path"`
	Scheme    string        `json:"scheme,omitempty"`
	Output    string        `json:"output"`
	BuildTime time.Duration `json:"build_time"`
}

// Builder runs index builds under the per-project advisory lock.
type Builder struct {
	logger     *zap.SugaredLogger
	discoverer *project.Discoverer
	timeout    time.Duration

	// Overridable for tests.
	swiftName      string
	xcodebuildName string
}

// NewBuilder creates a builder. A zero timeout means DefaultTimeout;
// anything above MaxTimeout is clamped.
func NewBuilder(discoverer *project.Discoverer, timeout time.Duration, logger *zap.SugaredLogger) *Builder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	return &Builder{
		logger:         logger,
		discoverer:     discoverer,
		timeout:        timeout,
		swiftName:      "swift",
		xcodebuildName: "xcodebuild",
	}
}

// Build refreshes the index for the project at rootPath. scheme may be
// empty for packages; for Xcode containers an empty scheme is auto-detected
// from the shared scheme list.
func (b *Builder) Build(ctx context.Context, rootPath, scheme string) (*Result, error) {
	dir, err := validate.ProjectDir(rootPath)
	if err != nil {
		return nil, err
	}
	root, err := b.discoverer.Discover(dir)
	if err != nil {
		return nil, err
	}
	if root.Kind == project.KindNone {
		return nil, errors.Wrapf(errors.ErrValidation, "%s is not a Swift package or Xcode container", rootPath)
	}

	indexPath := filepath.Join(root.Path, indexStoreRel)
	if err := validate.PathWithin(root.Path, indexPath); err != nil {
		return nil, err
	}

	var name string
	var args []string
	env := os.Environ()

	switch root.Kind {
	case project.KindPackage:
		name = b.swiftName
		args = []string{"build", "-Xswiftc", "-index-store-path", "-Xswiftc", indexStoreRel}
		scheme = ""

	case project.KindXcodeProject, project.KindXcodeWorkspace:
		if scheme == "" {
			scheme, err = DetectScheme(root)
			if err != nil {
				return nil, err
			}
		}
		if err := validate.SchemeName(scheme); err != nil {
			return nil, err
		}

		containerFlag := "-project"
		if root.Kind == project.KindXcodeWorkspace {
			containerFlag = "-workspace"
		}
		name = b.xcodebuildName
		args = []string{
			"build",
			containerFlag, root.Container,
			"-scheme", scheme,
			"INDEX_STORE_PATH=" + indexPath,
			"CLANG_INDEX_STORE_PATH=" + indexPath,
			"INDEX_ENABLE_BUILD_ARENA=YES",
		}
	}

	lock, err := acquireLock(root.Path)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	b.logger.Infow("index build starting",
		"root", root.Path,
		"kind", root.Kind,
		"scheme", scheme,
		"timeout", b.timeout,
	)

	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = root.Path
	cmd.Env = env
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = termGrace

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, errors.Wrap(ctx.Err(), "index build cancelled")
		}
		return nil, errors.Wrapf(errors.ErrBuildError, "timed out after %s", b.timeout)
	}

	sanitized := Sanitize(output.String())
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			err := errors.Wrapf(errors.ErrBuildError, "%s exited with status %d", name, exitErr.ExitCode())
			return nil, errors.WithDetail(err, sanitized)
		}
		return nil, errors.Wrapf(errors.ErrEnvironment, "run %s: %v", name, runErr)
	}

	b.logger.Infow("index build finished",
		"root", root.Path,
		"elapsed", elapsed,
	)
	return &Result{
		OK:        true,
		IndexPath: indexPath,
		Scheme:    scheme,
		Output:    sanitized,
		BuildTime: elapsed,
	}, nil
}

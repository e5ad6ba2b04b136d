// Package typecheck drives the Swift compiler for diagnostics.
package typecheck

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/swiftlens/swiftlens/errors"
	"github.com/swiftlens/swiftlens/project"
	"github.com/swiftlens/swiftlens/validate"
)

const (
	// DefaultTimeout bounds one typecheck invocation.
	DefaultTimeout = 30 * time.Second
	// MaxTimeout is the hard cap regardless of configuration.
	MaxTimeout = 60 * time.Second
	// DefaultMaxFileBytes rejects oversized inputs before spawning.
	DefaultMaxFileBytes = 1 << 20
	// probeTTL is how long an environment probe result stays cached.
	probeTTL = 5 * time.Minute
	// termGrace is how long a cancelled compile gets between SIGTERM and
	// SIGKILL.
	termGrace = 2 * time.Second
)

// minSwiftVersion is the oldest toolchain the driver accepts.
var minSwiftVersion = semver.MustParse("5.0.0")

var swiftVersionPattern = regexp.MustCompile(`Swift version (\d+\.\d+(?:\.\d+)?)`)

// Result carries a completed typecheck. OK means the compiler exited zero;
// on diagnostic failures the compiler output is carried in Stderr.
type Result struct {
	OK       bool   `json:"ok"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	// UsedPackageDriver is true when the package-level build path ran.
	UsedPackageDriver bool `json:"used_package_driver"`
}

// Driver invokes the Swift compiler in a sandboxed working directory.
type Driver struct {
	logger       *zap.SugaredLogger
	timeout      time.Duration
	maxFileBytes int64
	discoverer   *project.Discoverer

	// Overridable for tests.
	swiftcName string
	swiftName  string

	probeMu   sync.Mutex
	probedAt  time.Time
	available bool
	probeMsg  string
}

// NewDriver creates a compiler driver. A zero timeout means DefaultTimeout;
// anything above MaxTimeout is clamped.
func NewDriver(discoverer *project.Discoverer, timeout time.Duration, maxFileBytes int64, logger *zap.SugaredLogger) *Driver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}
	return &Driver{
		logger:       logger,
		timeout:      timeout,
		maxFileBytes: maxFileBytes,
		discoverer:   discoverer,
		swiftcName:   "swiftc",
		swiftName:    "swift",
	}
}

// Probe reports whether the Swift toolchain is available, caching the
// answer for five minutes.
func (d *Driver) Probe(ctx context.Context) (bool, string) {
	d.probeMu.Lock()
	defer d.probeMu.Unlock()

	if !d.probedAt.IsZero() && time.Since(d.probedAt) < probeTTL {
		return d.available, d.probeMsg
	}

	d.probedAt = time.Now()
	out, err := exec.CommandContext(ctx, d.swiftName, "--version").CombinedOutput()
	if err != nil {
		d.available = false
		d.probeMsg = "swift toolchain not found: " + err.Error()
		return d.available, d.probeMsg
	}

	match := swiftVersionPattern.FindStringSubmatch(string(out))
	if match == nil {
		d.available = true
		d.probeMsg = strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
		return d.available, d.probeMsg
	}
	version, err := semver.NewVersion(match[1])
	if err == nil && version.LessThan(minSwiftVersion) {
		d.available = false
		d.probeMsg = "swift " + match[1] + " is older than the minimum supported " + minSwiftVersion.String()
		return d.available, d.probeMsg
	}

	d.available = true
	d.probeMsg = "swift " + match[1]
	return d.available, d.probeMsg
}

// Typecheck runs diagnostics for one Swift file. When the file belongs to a
// package, the package driver runs first and the per-file invocation is the
// fallback.
func (d *Driver) Typecheck(ctx context.Context, path string) (*Result, error) {
	abs, err := validate.SwiftSourcePath(path)
	if err != nil {
		return nil, err
	}
	if err := validate.FileWithinSize(abs, d.maxFileBytes); err != nil {
		return nil, err
	}
	if ok, msg := d.Probe(ctx); !ok {
		return nil, errors.Wrapf(errors.ErrEnvironment, "%s", msg)
	}

	if root, err := d.discoverer.Discover(abs); err == nil && root.Kind == project.KindPackage {
		result, err := d.runPackage(ctx, root.Path)
		if err == nil {
			result.UsedPackageDriver = true
			return result, nil
		}
		// A timed-out or cancelled package attempt already consumed the
		// budget; retrying per-file would double the configured cap.
		if errors.KindOf(err) == errors.KindTimeout || ctx.Err() != nil {
			return nil, err
		}
		d.logger.Debugw("package typecheck failed, falling back to per-file",
			"root", root.Path, "error", err)
	}

	return d.runSingleFile(ctx, abs)
}

// runSingleFile compiles one file with a freshly created temp directory as
// cwd so compiler artifacts cannot land in user-controlled paths. The temp
// directory is removed on every exit path.
func (d *Driver) runSingleFile(ctx context.Context, abs string) (*Result, error) {
	workDir, err := os.MkdirTemp("", "swiftlens-typecheck-")
	if err != nil {
		return nil, errors.Wrap(err, "create sandbox directory")
	}
	defer os.RemoveAll(workDir)

	return d.run(ctx, workDir, d.swiftcName, "-typecheck", abs)
}

// runPackage typechecks a whole package from its root.
func (d *Driver) runPackage(ctx context.Context, rootPath string) (*Result, error) {
	return d.run(ctx, rootPath, d.swiftName, "build", "--build-tests", "-Xswiftc", "-typecheck")
}

func (d *Driver) run(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = termGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, errors.Wrap(ctx.Err(), "typecheck cancelled")
		}
		return nil, errors.Wrapf(errors.ErrTimeout, "typecheck exceeded %s", d.timeout)
	}

	result := &Result{
		OK:     true,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Compiler ran to completion; diagnostics live in stderr.
			result.OK = false
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, errors.Wrapf(errors.ErrEnvironment, "run %s: %v", name, err)
		}
	}

	d.logger.Debugw("typecheck completed",
		"command", name,
		"exit_code", result.ExitCode,
		"elapsed", elapsed,
	)
	return result, nil
}

package indexbuild

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/swiftlens/swiftlens/errors"
)

// LockFileName is the advisory lock under the project build directory.
const LockFileName = ".index-build.lock"

// buildLock is an exclusive, non-blocking advisory lock guarding one
// project's index build. Contention fails fast instead of waiting.
type buildLock struct {
	file *os.File
}

// acquireLock takes the advisory lock for rootPath, creating the build
// directory and lock file as needed. A held lock maps to
// build-in-progress.
func acquireLock(rootPath string) (*buildLock, error) {
	buildDir := filepath.Join(rootPath, ".build")
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create build directory %s", buildDir)
	}

	lockPath := filepath.Join(buildDir, LockFileName)
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock file %s", lockPath)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, errors.Wrapf(errors.ErrBuildInProgress, "index build lock held for %s", rootPath)
		}
		return nil, errors.Wrapf(err, "lock %s", lockPath)
	}

	return &buildLock{file: file}, nil
}

// release drops the lock. The zero-length lock file stays behind; only the
// flock matters.
func (l *buildLock) release() {
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
}

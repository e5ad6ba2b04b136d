package langserver

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/swiftlens/swiftlens/errors"
	"github.com/swiftlens/swiftlens/lsp"
	"github.com/swiftlens/swiftlens/project"
)

// killGrace is how long a draining subprocess gets before SIGKILL.
const killGrace = 2 * time.Second

// Session is an initialized language-server subprocess bound to one project
// root. Owned exclusively by the Supervisor; callers borrow it through
// Acquire and never retain it across operations.
type Session struct {
	Root project.Root

	client *lsp.Client
	cmd    *exec.Cmd
	logger *zap.SugaredLogger

	lastUsed atomic.Int64 // unix nanos

	mu       sync.Mutex
	docs     map[string]*docState
	versions map[string]int
}

// docState tracks one announced document. The opened channel closes once the
// owning borrower's didOpen settles; closing is non-nil while the last
// borrower's didClose is in flight. Both let the notification I/O happen
// outside the session mutex without reordering opens and closes.
type docState struct {
	refs    int
	opened  chan struct{}
	openErr error
	closing chan struct{}
}

// Client exposes the LSP client for analysis operations.
func (s *Session) Client() *lsp.Client {
	s.lastUsed.Store(time.Now().UnixNano())
	return s.client
}

// Done is closed when the underlying session dies.
func (s *Session) Done() <-chan struct{} {
	return s.client.Done()
}

// healthy reports whether the session can still take requests.
func (s *Session) healthy() bool {
	if s.client.State() != lsp.StateReady || s.client.TimedOut() {
		return false
	}
	if s.cmd.Process == nil {
		return false
	}
	proc, err := process.NewProcess(int32(s.cmd.Process.Pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	return err == nil && running
}

// idleSince returns how long the session has been unused.
func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastUsed.Load()))
}

// WithDocument runs fn with the document announced to the server. Opens are
// reference-counted so nested and concurrent borrows of the same document
// issue one didOpen, and the matching didClose always runs when the last
// borrower finishes, on success and error paths alike.
func (s *Session) WithDocument(ctx context.Context, path, uri string, fn func(ctx context.Context) error) error {
	if err := s.openDocument(uri, path); err != nil {
		return err
	}
	defer s.closeDocument(uri)
	return fn(ctx)
}

// openDocument announces the document or joins an announcement already in
// flight. The file read and the didOpen write run outside the session mutex
// so a slow transport never stalls unrelated documents.
func (s *Session) openDocument(uri, path string) error {
	st, version := s.reserveDocument(uri)
	if version == 0 {
		<-st.opened
		return st.openErr
	}

	var openErr error
	text, err := os.ReadFile(path)
	if err != nil {
		openErr = errors.Wrapf(errors.ErrFileNotFound, "read %s: %v", path, err)
	} else if err := s.client.DidOpen(uri, "swift", version, string(text)); err != nil {
		openErr = errors.Wrapf(err, "didOpen %s", uri)
	}

	s.mu.Lock()
	st.openErr = openErr
	if openErr != nil {
		delete(s.docs, uri)
	}
	close(st.opened)
	s.mu.Unlock()
	return openErr
}

// reserveDocument takes or joins the document's entry. A nonzero version
// means the caller owns the didOpen; zero means it joined an existing entry
// and must wait on st.opened. An entry mid-close is waited out first so the
// server never sees didOpen before the preceding didClose.
func (s *Session) reserveDocument(uri string) (*docState, int) {
	for {
		s.mu.Lock()
		st, ok := s.docs[uri]
		if !ok {
			st = &docState{refs: 1, opened: make(chan struct{})}
			s.docs[uri] = st
			s.versions[uri]++
			version := s.versions[uri]
			s.mu.Unlock()
			return st, version
		}
		if st.closing != nil {
			closing := st.closing
			s.mu.Unlock()
			<-closing
			continue
		}
		st.refs++
		s.mu.Unlock()
		return st, 0
	}
}

func (s *Session) closeDocument(uri string) {
	s.mu.Lock()
	st, ok := s.docs[uri]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.refs--
	if st.refs > 0 {
		s.mu.Unlock()
		return
	}
	st.closing = make(chan struct{})
	s.mu.Unlock()

	if err := s.client.DidClose(uri); err != nil {
		s.logger.Debugw("didClose failed", "uri", uri, "error", err)
	}

	s.mu.Lock()
	delete(s.docs, uri)
	close(st.closing)
	s.mu.Unlock()
}

// shutdown drains the session, closes any documents still announced, and
// terminates the subprocess, escalating to SIGKILL after the grace period.
func (s *Session) shutdown(ctx context.Context) {
	for _, uri := range s.client.OpenDocuments() {
		if err := s.client.DidClose(uri); err != nil {
			break
		}
	}

	if err := s.client.Shutdown(ctx); err != nil {
		s.logger.Debugw("ordered shutdown failed", "root", s.Root.Path, "error", err)
	}

	if s.cmd.Process == nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(killGrace):
		s.cmd.Process.Kill()
		<-done
	}
}

// kill tears the session down without draining.
func (s *Session) kill() {
	s.client.Kill()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
		go s.cmd.Wait()
	}
}

// stderrLoop consumes subprocess stderr so the server never blocks on a
// full pipe.
func (s *Session) stderrLoop(stderr *bufio.Scanner) {
	for stderr.Scan() {
		if line := stderr.Text(); line != "" {
			s.logger.Debugw("language server stderr", "root", s.Root.Path, "line", line)
		}
	}
}

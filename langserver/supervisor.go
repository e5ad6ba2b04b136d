// Package langserver supervises language-server subprocesses, one per
// project root, and hands out initialized sessions.
package langserver

import (
	"bufio"
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/swiftlens/swiftlens/config"
	"github.com/swiftlens/swiftlens/errors"
	"github.com/swiftlens/swiftlens/lsp"
	"github.com/swiftlens/swiftlens/project"
)

// DefaultServerCommand is the sourcekit-lsp invocation when no override is
// configured.
const DefaultServerCommand = "sourcekit-lsp"

// sessionEntry tracks a session being created or ready. Waiters block on
// ready so concurrent acquires for one root share a single spawn.
type sessionEntry struct {
	ready   chan struct{}
	session *Session
	err     error
}

// Supervisor owns the map of project root to session. Sessions are created
// lazily, reused across tool calls, recycled on failure, and reaped when
// idle past the configured timeout.
type Supervisor struct {
	cfg        config.LSPConfig
	logger     *zap.SugaredLogger
	discoverer *project.Discoverer

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	closed   bool

	// Restarts are throttled so a crash-looping server cannot spin.
	restarts *rate.Limiter

	watcher *fsnotify.Watcher

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// NewSupervisor creates a supervisor and starts its idle reaper and
// manifest watcher.
func NewSupervisor(cfg config.LSPConfig, discoverer *project.Discoverer, logger *zap.SugaredLogger) *Supervisor {
	s := &Supervisor{
		cfg:        cfg,
		logger:     logger,
		discoverer: discoverer,
		sessions:   make(map[string]*sessionEntry),
		restarts:   rate.NewLimiter(rate.Every(time.Second), 3),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	if watcher, err := fsnotify.NewWatcher(); err == nil {
		s.watcher = watcher
		go s.watchLoop()
	} else {
		logger.Warnw("manifest watcher unavailable", "error", err)
	}

	go s.reapLoop()
	return s
}

// Acquire returns an initialized session for the project root, creating one
// if necessary. All concurrent callers on the same root share one session.
func (s *Supervisor) Acquire(ctx context.Context, root project.Root) (*Session, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, errors.New("supervisor is shut down")
		}
		entry, ok := s.sessions[root.Path]
		if !ok {
			entry = &sessionEntry{ready: make(chan struct{})}
			s.sessions[root.Path] = entry
			s.mu.Unlock()
			s.create(ctx, root, entry)
		} else {
			s.mu.Unlock()
		}

		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "waiting for session")
		}

		if entry.err != nil {
			s.drop(root.Path, entry)
			return nil, entry.err
		}
		if entry.session.healthy() {
			entry.session.lastUsed.Store(time.Now().UnixNano())
			return entry.session, nil
		}

		// Stale session: recycle and retry.
		s.logger.Infow("recycling unhealthy session", "root", root.Path)
		s.drop(root.Path, entry)
		entry.session.kill()
	}
}

// Invalidate drops the session for a root so the next acquire spawns a
// fresh one. In-flight requests on the old session fail with session-lost.
func (s *Supervisor) Invalidate(rootPath string) {
	s.mu.Lock()
	entry, ok := s.sessions[rootPath]
	if ok {
		delete(s.sessions, rootPath)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-entry.ready:
		if entry.session != nil {
			entry.session.kill()
		}
	default:
		// Still creating; the creator notices the entry is gone and kills it.
	}
	s.logger.Infow("session invalidated", "root", rootPath)
}

// Shutdown drains every session in parallel and stops the reaper.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for root, entry := range s.sessions {
		delete(s.sessions, root)
		entries = append(entries, entry)
	}
	s.mu.Unlock()

	close(s.reaperStop)
	if s.watcher != nil {
		s.watcher.Close()
	}

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(entry *sessionEntry) {
			defer wg.Done()
			select {
			case <-entry.ready:
			case <-ctx.Done():
				return
			}
			if entry.session != nil {
				entry.session.shutdown(ctx)
			}
		}(entry)
	}
	wg.Wait()
	<-s.reaperDone
}

// create spawns and initializes the language server, resolving entry.ready
// when done. On failure the subprocess is killed so no half-open session
// leaks.
func (s *Supervisor) create(ctx context.Context, root project.Root, entry *sessionEntry) {
	defer close(entry.ready)

	if err := s.restarts.Wait(ctx); err != nil {
		entry.err = errors.Wrap(err, "session spawn throttled")
		return
	}

	name, args, err := s.serverCommand()
	if err != nil {
		entry.err = err
		return
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = root.Path

	stdin, err := cmd.StdinPipe()
	if err != nil {
		entry.err = errors.Wrap(err, "create stdin pipe")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		entry.err = errors.Wrap(err, "create stdout pipe")
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		entry.err = errors.Wrap(err, "create stderr pipe")
		return
	}
	if err := cmd.Start(); err != nil {
		entry.err = errors.Wrapf(errors.ErrEnvironment, "start %s: %v", name, err)
		return
	}

	transport := lsp.NewTransport(stdout, stdin, stdin)
	client := lsp.NewClient(transport, s.logger, lsp.Timeouts{
		Initialize: s.cfg.InitializeTimeout(),
		Request:    s.cfg.RequestTimeout(),
		Heavy:      s.cfg.HeavyTimeout(),
		Quick:      s.cfg.QuickTimeout(),
	}, s.cfg.ConsecutiveTimeoutLimit)

	session := &Session{
		Root:     root,
		client:   client,
		cmd:      cmd,
		logger:   s.logger,
		docs:     make(map[string]*docState),
		versions: make(map[string]int),
	}
	session.lastUsed.Store(time.Now().UnixNano())
	go session.stderrLoop(bufio.NewScanner(stderr))

	initCtx, cancel := context.WithTimeout(ctx, s.cfg.InitializeTimeout())
	defer cancel()
	if _, err := client.Initialize(initCtx, root.Path); err != nil {
		session.kill()
		entry.err = errors.Wrapf(err, "initialize language server for %s", root.Path)
		return
	}

	s.watchManifest(root)
	entry.session = session
	s.logger.Infow("language server session ready",
		"root", root.Path,
		"kind", root.Kind,
		"pid", cmd.Process.Pid,
	)
}

// serverCommand resolves the language-server invocation, honoring the
// configured override with shell quoting rules.
func (s *Supervisor) serverCommand() (string, []string, error) {
	if s.cfg.Command == "" {
		return DefaultServerCommand, nil, nil
	}
	words, err := shellquote.Split(s.cfg.Command)
	if err != nil {
		return "", nil, errors.Wrapf(errors.ErrValidation, "parse lsp.command %q: %v", s.cfg.Command, err)
	}
	if len(words) == 0 {
		return "", nil, errors.Wrap(errors.ErrValidation, "lsp.command is empty after parsing")
	}
	return words[0], words[1:], nil
}

// drop removes the entry if it is still the current one for its root.
func (s *Supervisor) drop(rootPath string, entry *sessionEntry) {
	s.mu.Lock()
	if current, ok := s.sessions[rootPath]; ok && current == entry {
		delete(s.sessions, rootPath)
	}
	s.mu.Unlock()
}

// reapLoop shuts down sessions idle beyond the configured timeout.
func (s *Supervisor) reapLoop() {
	defer close(s.reaperDone)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.reaperStop:
			return
		case now := <-ticker.C:
			s.reapIdle(now)
		}
	}
}

func (s *Supervisor) reapIdle(now time.Time) {
	idleTimeout := s.cfg.IdleTimeout()
	if idleTimeout <= 0 {
		return
	}

	var stale []*Session
	s.mu.Lock()
	for root, entry := range s.sessions {
		select {
		case <-entry.ready:
		default:
			continue
		}
		if entry.session == nil {
			continue
		}
		if entry.session.idleSince(now) > idleTimeout {
			delete(s.sessions, root)
			stale = append(stale, entry.session)
		}
	}
	s.mu.Unlock()

	for _, session := range stale {
		s.logger.Infow("reaping idle session", "root", session.Root.Path)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		session.shutdown(ctx)
		cancel()
	}
}

// watchManifest registers the package manifest for change notifications so
// a manifest edit recycles the session.
func (s *Supervisor) watchManifest(root project.Root) {
	if s.watcher == nil || root.Kind != project.KindPackage {
		return
	}
	if err := s.watcher.Add(root.Path); err != nil {
		s.logger.Debugw("cannot watch project root", "root", root.Path, "error", err)
	}
}

func (s *Supervisor) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if filepath := event.Name; isManifest(filepath) {
				s.logger.Infow("manifest changed, recycling session", "path", filepath)
				if s.discoverer != nil {
					s.discoverer.Invalidate(parentDir(filepath))
				}
				s.Invalidate(parentDir(filepath))
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

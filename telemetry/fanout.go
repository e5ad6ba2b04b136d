package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// observerSendTimeout is how long one observer may take to accept an entry
// before it is dropped from the registry.
const observerSendTimeout = time.Second

// Observer receives serialized telemetry entries. Send must return promptly;
// an observer that misses the deadline is removed.
type Observer interface {
	Send(data []byte) error
}

// Fanout delivers each persisted entry to every registered observer. The
// entry is serialized once and shared.
type Fanout struct {
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	observers map[string]Observer
}

// NewFanout creates an empty registry.
func NewFanout(logger *zap.SugaredLogger) *Fanout {
	return &Fanout{
		logger:    logger,
		observers: make(map[string]Observer),
	}
}

// Register adds an observer under id, replacing any previous one.
func (f *Fanout) Register(id string, o Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers[id] = o
}

// Unregister removes the observer under id.
func (f *Fanout) Unregister(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.observers, id)
}

// Count returns the number of registered observers.
func (f *Fanout) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.observers)
}

// Publish sends the entry to all observers concurrently, so one slow
// observer never delays the rest or the caller beyond the per-observer
// deadline. Failures and timeouts remove the observer; delivery to the rest
// continues.
func (f *Fanout) Publish(entry *Entry) {
	f.mu.RLock()
	if len(f.observers) == 0 {
		f.mu.RUnlock()
		return
	}
	targets := make(map[string]Observer, len(f.observers))
	for id, o := range f.observers {
		targets[id] = o
	}
	f.mu.RUnlock()

	data, err := json.Marshal(entry)
	if err != nil {
		f.logger.Warnw("telemetry entry marshal failed", "id", entry.ID, "error", err)
		return
	}

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   []string
	)
	for id, o := range targets {
		wg.Add(1)
		go func(id string, o Observer) {
			defer wg.Done()
			if err := sendWithTimeout(o, data); err != nil {
				f.logger.Debugw("dropping telemetry observer", "observer", id, "error", err)
				failedMu.Lock()
				failed = append(failed, id)
				failedMu.Unlock()
			}
		}(id, o)
	}
	wg.Wait()

	if len(failed) > 0 {
		f.mu.Lock()
		for _, id := range failed {
			delete(f.observers, id)
		}
		f.mu.Unlock()
	}
}

// sendWithTimeout bounds one observer's Send. The goroutine for a stuck
// observer leaks until its Send returns, which is acceptable because the
// observer is removed and never called again.
func sendWithTimeout(o Observer, data []byte) error {
	done := make(chan error, 1)
	go func() { done <- o.Send(data) }()
	select {
	case err := <-done:
		return err
	case <-time.After(observerSendTimeout):
		return errTimeout{}
	}
}

type errTimeout struct{}

func (errTimeout) Error() string { return "observer send timed out" }

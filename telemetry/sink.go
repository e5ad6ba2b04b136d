// Package telemetry records tool invocations in SQLite and streams them to
// live observers. Producers never block: the sink queues records and a single
// worker drains them, so a slow disk or observer cannot stall tool calls.
package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultQueueCapacity bounds the pending record queue. When full, the
// oldest record is dropped and counted.
const DefaultQueueCapacity = 10000

type recordKind int

const (
	recordStart recordKind = iota
	recordEnd
	recordSessionStart
	recordSessionEnd
)

// record is one queued telemetry operation.
type record struct {
	kind recordKind

	entry     *Entry
	status    string
	result    *string
	errorText *string
	duration  time.Duration
	entryID   string

	session *Session
	endedAt time.Time
}

// Sink is the producer-facing surface. LogStart and LogEnd return
// immediately; persistence and fan-out happen on the worker goroutine.
type Sink struct {
	store  *Store
	fanout *Fanout
	logger *zap.SugaredLogger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*record
	cap     int
	dropped int64
	closed  bool

	done chan struct{}
}

// NewSink starts the worker. capacity <= 0 means DefaultQueueCapacity.
func NewSink(store *Store, fanout *Fanout, capacity int, logger *zap.SugaredLogger) *Sink {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	s := &Sink{
		store:  store,
		fanout: fanout,
		logger: logger,
		cap:    capacity,
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.worker()
	return s
}

// LogStart records the beginning of a tool call and returns the entry id the
// caller passes back to LogEnd.
func (s *Sink) LogStart(sessionID, clientID, toolName string, params any) string {
	id := uuid.NewString()

	paramsJSON := "{}"
	if params != nil {
		if b, err := json.Marshal(params); err == nil {
			paramsJSON = string(b)
		}
	}

	s.enqueue(&record{
		kind: recordStart,
		entry: &Entry{
			ID:        id,
			SessionID: sessionID,
			ClientID:  clientID,
			ToolName:  toolName,
			Params:    paramsJSON,
			Status:    StatusInProgress,
			StartedAt: time.Now().UTC(),
		},
	})
	return id
}

// LogEnd records the completion of the call started under id.
func (s *Sink) LogEnd(id string, duration time.Duration, result *string, callErr error) {
	status := StatusSuccess
	var errorText *string
	if callErr != nil {
		status = StatusError
		text := callErr.Error()
		errorText = &text
	}
	s.enqueue(&record{
		kind:      recordEnd,
		entryID:   id,
		status:    status,
		result:    result,
		errorText: errorText,
		duration:  duration,
	})
}

// LogSessionStart records a new client session.
func (s *Sink) LogSessionStart(sessionID, clientInfo string) {
	s.enqueue(&record{
		kind: recordSessionStart,
		session: &Session{
			ID:         sessionID,
			ClientInfo: clientInfo,
			StartedAt:  time.Now().UTC(),
		},
	})
}

// LogSessionEnd closes a client session.
func (s *Sink) LogSessionEnd(sessionID string) {
	s.enqueue(&record{
		kind:    recordSessionEnd,
		entryID: sessionID,
		endedAt: time.Now().UTC(),
	})
}

// Dropped reports how many records were discarded because the queue was full.
func (s *Sink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close flushes the queue and stops the worker. Records enqueued after Close
// are discarded.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
	<-s.done
}

// enqueue appends a record, dropping the oldest when at capacity. A channel
// cannot shed its head, hence the slice queue.
func (s *Sink) enqueue(r *record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped++
		return
	}
	if len(s.queue) >= s.cap {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, r)
	s.cond.Signal()
}

func (s *Sink) worker() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		r := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.process(r)
	}
}

func (s *Sink) process(r *record) {
	switch r.kind {
	case recordStart:
		if err := s.store.InsertStart(r.entry); err != nil {
			s.logger.Warnw("telemetry insert failed", "id", r.entry.ID, "error", err)
			return
		}
		s.fanout.Publish(r.entry)

	case recordEnd:
		if err := s.store.UpdateEnd(r.entryID, r.status, r.result, r.errorText, r.duration); err != nil {
			s.logger.Warnw("telemetry update failed", "id", r.entryID, "error", err)
			return
		}
		entry, err := s.store.GetEntry(r.entryID)
		if err != nil {
			s.logger.Warnw("telemetry reload failed", "id", r.entryID, "error", err)
			return
		}
		s.fanout.Publish(entry)

	case recordSessionStart:
		if err := s.store.StartSession(r.session); err != nil {
			s.logger.Warnw("telemetry session insert failed", "id", r.session.ID, "error", err)
		}

	case recordSessionEnd:
		if err := s.store.EndSession(r.entryID, r.endedAt); err != nil {
			s.logger.Warnw("telemetry session end failed", "id", r.entryID, "error", err)
		}
	}
}

package runner

import (
	"sync"

	"github.com/entrhq/reprise/pkg/types"
)

// Event is one item on a run's live stream: either a log line or, exactly
// once at the end, the terminal status.
type Event struct {
	RunID string `json:"runId"`

	// Log is set on log events.
	Log *types.RunLog `json:"log,omitempty"`

	// Done marks the stream's final event; Status carries the run's
	// terminal status.
	Done   bool            `json:"done,omitempty"`
	Status types.RunStatus `json:"status,omitempty"`
}

// Stream fans a run's events out to any number of subscribers. Publishing
// never blocks: each subscriber gets its own buffered channel, and events
// are dropped for a subscriber whose buffer is full. Execution speed is
// never tied to the slowest listener. Subscribers attached mid-run receive
// only subsequent events.
type Stream struct {
	runID   string
	bufSize int

	mu        sync.Mutex
	subs      map[int]chan Event
	nextSubID int
	closed    bool
}

// NewStream creates a stream for one run with the given per-subscriber
// buffer size.
func NewStream(runID string, bufSize int) *Stream {
	if bufSize <= 0 {
		bufSize = 128
	}
	return &Stream{
		runID:   runID,
		bufSize: bufSize,
		subs:    make(map[int]chan Event),
	}
}

// Subscribe attaches a listener. The returned cancel function detaches it
// and closes its channel. Subscribing to a finished stream returns an
// already-closed channel.
func (s *Stream) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, s.bufSize)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

// publish delivers an event to every subscriber without blocking.
func (s *Stream) publish(ev Event) {
	ev.RunID = s.runID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; drop rather than stall the run.
		}
	}
}

// finish publishes the terminal event and closes all subscriber channels.
// Safe to call once; later publishes are no-ops.
func (s *Stream) finish(status types.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	terminal := Event{RunID: s.runID, Done: true, Status: status}
	for id, ch := range s.subs {
		select {
		case ch <- terminal:
		default:
		}
		delete(s.subs, id)
		close(ch)
	}
	s.closed = true
}

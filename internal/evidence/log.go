package evidence

import (
	"errors"
	"fmt"
	"sync"
)

// ErrLogFinalized is returned when appending to a finalized log.
var ErrLogFinalized = errors.New("evidence log is finalized")

// Log is the read side of an Evidence Log: an ordered, append-only sequence
// of events. It has no update or delete operations.
type Log struct {
	mu        sync.RWMutex
	events    []Event
	finalized bool
}

// Writer is the single write side of a Log.
type Writer struct {
	log   *Log
	clock *Clock
}

// NewLog creates an empty log and its writer.
func NewLog() (*Log, *Writer) {
	l := &Log{events: make([]Event, 0, 64)}
	return l, &Writer{log: l, clock: NewClock()}
}

// Append stamps e with the next log position and appends a deep copy of it.
// The returned event is another copy of what was stored.
//
// Append rejects events whose payload does not match their kind, and any
// event once the log is finalized.
func (w *Writer) Append(e Event) (Event, error) {
	if err := e.Validate(); err != nil {
		return Event{}, fmt.Errorf("append: %w", err)
	}

	l := w.log
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalized {
		return Event{}, ErrLogFinalized
	}

	// Seq is assigned under the lock so log position and slice index agree.
	e.Seq = w.clock.Next()
	// UTC without the monotonic reading, so exports and stored copies agree.
	e.Timestamp = e.Timestamp.UTC().Round(0)
	if e.Provenance.Frames == nil {
		e.Provenance.Frames = []Frame{}
	}
	e = e.clone()
	l.events = append(l.events, e)
	return e.clone(), nil
}

// Finalize makes the log read-only. Calling it more than once is harmless.
func (w *Writer) Finalize() {
	w.log.mu.Lock()
	defer w.log.mu.Unlock()
	w.log.finalized = true
}

// Log returns the read side this writer appends to.
func (w *Writer) Log() *Log {
	return w.log
}

// Events returns a deep copy of all events in log order. Changing the
// returned events never changes the log.
func (l *Log) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, len(l.events))
	for i, e := range l.events {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Finalized reports whether the writer has sealed the log.
func (l *Log) Finalized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.finalized
}

// CountByKind returns how many events of each kind the log holds.
func (l *Log) CountByKind() map[Kind]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[Kind]int, len(Kinds()))
	for _, e := range l.events {
		counts[e.Kind]++
	}
	return counts
}

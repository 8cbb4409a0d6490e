package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/roach88/wec/internal/evidence"
)

// origin distinguishes the two streams that feed the correlator.
type origin int

const (
	// originPage is a report from the in-page monitor.
	originPage origin = iota + 1
	// originNetwork is a record from the network observer.
	originNetwork
)

// message is one observation waiting to be normalized.
//
// Page messages carry the undecoded binding payload; network messages carry
// their fields already split out.
type message struct {
	origin     origin
	receivedAt time.Time

	// page
	binding string

	// network
	kind      evidence.Kind
	url       string
	header    string
	sourceURL string
	filterID  string
}

// pageReport is the JSON shape the monitor script sends over the binding.
type pageReport struct {
	Kind    string          `json:"kind"`
	Stack   *string         `json:"stack"`
	Payload json.RawMessage `json:"payload"`
}

// messageQueue is a thread-safe FIFO of pending messages.
//
// The queue is unbounded so that producers (the CDP event loop and the binding
// callback) never block on the consumer.
//
// The signal channel enables context-aware waiting in the Run loop.
type messageQueue struct {
	mu       sync.Mutex
	messages []message
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		messages: make([]message, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue stamps m with now and adds it to the back of the queue. Stamping
// under the lock keeps receipt times in queue order across producers.
// Returns false if the queue is closed.
func (q *messageQueue) Enqueue(m message, now func() time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	m.receivedAt = now()
	if q.closed {
		return false
	}

	q.messages = append(q.messages, m)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front message without blocking.
func (q *messageQueue) TryDequeue() (message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return message{}, false
	}

	m := q.messages[0]
	q.messages[0] = message{}
	if len(q.messages) == 1 {
		q.messages = q.messages[:0]
	} else {
		q.messages = q.messages[1:]
	}
	return m, true
}

// Wait returns a channel that fires when messages may be available. It is
// closed once the queue is closed.
func (q *messageQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending messages.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Close stops intake and wakes any waiter.
func (q *messageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

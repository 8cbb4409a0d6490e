// Package bridge funnels observations from the page and from the network
// layer into the Evidence Log.
//
// The Correlator is the single writer of a run's log. Producers hand it raw
// observations (HandleBinding for monitor reports, RecordSetCookie and
// RecordTracking for the network observer); each is stamped with its receipt
// time and queued without blocking. One consumer goroutine (Run) normalizes
// queued messages into canonical events and appends them in receipt order.
//
// Steady-state failures never leave this package: a malformed message is
// logged and discarded, and the run continues.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/wec/internal/cookie"
	"github.com/roach88/wec/internal/evidence"
	"github.com/roach88/wec/internal/monitor"
	"github.com/roach88/wec/internal/stack"
)

// DefaultFilterListName is how tracking provenance refers to the filter list.
const DefaultFilterListName = "easyprivacy.txt"

// Stats counts what happened to the messages a correlator received.
type Stats struct {
	Received  int64 `json:"received" yaml:"received"`
	Appended  int64 `json:"appended" yaml:"appended"`
	Discarded int64 `json:"discarded" yaml:"discarded"`
}

// Correlator normalizes observations and appends them to one Evidence Log.
//
// Thread-safety model:
//   - HandleBinding, RecordSetCookie, RecordTracking: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - Close: called once, by the run owner
type Correlator struct {
	writer   *evidence.Writer
	queue    *messageQueue
	now      func() time.Time
	logger   *slog.Logger
	listName string

	mu      sync.Mutex
	started bool
	closing bool
	done    chan struct{}

	received  atomic.Int64
	appended  atomic.Int64
	discarded atomic.Int64
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock sets the source of receipt timestamps. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) {
		c.now = now
	}
}

// WithLogger sets the logger for discarded messages. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Correlator) {
		c.logger = l
	}
}

// WithFilterListName sets the list name quoted in tracking provenance.
func WithFilterListName(name string) Option {
	return func(c *Correlator) {
		c.listName = name
	}
}

// New creates a correlator that owns w until Close.
func New(w *evidence.Writer, opts ...Option) *Correlator {
	c := &Correlator{
		writer:   w,
		queue:    newMessageQueue(),
		now:      time.Now,
		logger:   slog.Default(),
		listName: DefaultFilterListName,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleBinding receives one bridge message from the page. It never blocks
// and never fails; invalid messages are discarded by the consumer.
func (c *Correlator) HandleBinding(payload string) {
	c.enqueue(message{origin: originPage, binding: payload})
}

// RecordSetCookie receives the Set-Cookie header of one HTTP response. The
// header may hold several directives joined by newlines.
func (c *Correlator) RecordSetCookie(url, header string) {
	c.enqueue(message{origin: originNetwork, kind: evidence.KindCookieHTTP, url: url, header: header})
}

// RecordTracking receives one request matched by the tracker filter.
func (c *Correlator) RecordTracking(sourceURL, url, filterID string) {
	c.enqueue(message{
		origin:    originNetwork,
		kind:      evidence.KindRequestTracking,
		url:       url,
		sourceURL: sourceURL,
		filterID:  filterID,
	})
}

func (c *Correlator) enqueue(m message) {
	c.received.Add(1)
	if !c.queue.Enqueue(m, c.now) {
		c.discarded.Add(1)
		c.logger.Debug("observation after close dropped", "origin", m.origin)
	}
}

// Run is the single consumer loop. It returns nil once Close has been called
// and every queued message is appended, or ctx.Err() if ctx ends first.
func (c *Correlator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()
	defer close(c.done)

	for {
		if m, ok := c.queue.TryDequeue(); ok {
			c.process(m)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.queue.Wait():
			// The signal channel is closed with the queue.
			if c.queue.Len() == 0 && c.isClosed() {
				return nil
			}
		}
	}
}

func (c *Correlator) isClosed() bool {
	c.queue.mu.Lock()
	defer c.queue.mu.Unlock()
	return c.queue.closed
}

// Close stops intake, waits until every received message has been appended
// and finalizes the log.
func (c *Correlator) Close() {
	c.queue.Close()

	c.mu.Lock()
	started := c.started
	c.closing = true
	c.mu.Unlock()

	if started {
		<-c.done
	}
	// Whatever Run left behind (ctx ended early, or Run never started) is
	// drained here; Run has exited so there is still a single consumer.
	for {
		m, ok := c.queue.TryDequeue()
		if !ok {
			break
		}
		c.process(m)
	}
	c.writer.Finalize()
}

// Stats returns a snapshot of the message counters.
func (c *Correlator) Stats() Stats {
	return Stats{
		Received:  c.received.Load(),
		Appended:  c.appended.Load(),
		Discarded: c.discarded.Load(),
	}
}

// Decode is the structured decode applied to stored values. It never fails:
// a value that is not JSON comes back opaque.
func Decode(raw string) evidence.StorageValue {
	return evidence.DecodeStorageValue(raw)
}

func (c *Correlator) process(m message) {
	ev, err := c.normalize(m)
	if err != nil {
		c.discarded.Add(1)
		c.logger.Warn("observation discarded", "error", err)
		return
	}
	stored, err := c.writer.Append(ev)
	if err != nil {
		c.discarded.Add(1)
		c.logger.Warn("append failed", "kind", ev.Kind, "error", err)
		return
	}
	c.appended.Add(1)
	c.logger.Debug("event appended", "seq", stored.Seq, "kind", stored.Kind)
}

func (c *Correlator) normalize(m message) (evidence.Event, error) {
	switch m.origin {
	case originPage:
		return c.normalizePage(m)
	case originNetwork:
		return c.normalizeNetwork(m)
	default:
		return evidence.Event{}, fmt.Errorf("unknown origin %d", m.origin)
	}
}

func (c *Correlator) normalizePage(m message) (evidence.Event, error) {
	var r pageReport
	if err := json.Unmarshal([]byte(m.binding), &r); err != nil {
		return evidence.Event{}, fmt.Errorf("decode bridge message: %w", err)
	}

	ev := evidence.Event{
		Kind:       evidence.Kind(r.Kind),
		Timestamp:  m.receivedAt,
		Provenance: stack.Provenance(r.Stack, monitor.SourceURL),
	}

	switch ev.Kind {
	case evidence.KindCookieJS:
		var assigned string
		if err := json.Unmarshal(r.Payload, &assigned); err != nil {
			return evidence.Event{}, fmt.Errorf("decode cookie payload: %w", err)
		}
		ev.RawPayload = assigned
		ev.ParsedPayload = evidence.CookiePayload{Records: []cookie.Record{cookie.Parse(assigned)}}

	case evidence.KindStorageLocalStorage:
		var write struct {
			Key   *string `json:"key"`
			Value *string `json:"value"`
		}
		if err := json.Unmarshal(r.Payload, &write); err != nil {
			return evidence.Event{}, fmt.Errorf("decode storage payload: %w", err)
		}
		if write.Key == nil || write.Value == nil {
			return evidence.Event{}, fmt.Errorf("storage payload missing key or value")
		}
		ev.RawPayload = *write.Value
		ev.ParsedPayload = evidence.StoragePayload{*write.Key: Decode(*write.Value)}

	default:
		return evidence.Event{}, fmt.Errorf("unknown page event kind %q", r.Kind)
	}
	return ev, nil
}

func (c *Correlator) normalizeNetwork(m message) (evidence.Event, error) {
	switch m.kind {
	case evidence.KindCookieHTTP:
		records := cookie.ParseHeader(m.header)
		if len(records) == 0 {
			return evidence.Event{}, fmt.Errorf("empty Set-Cookie header from %s", m.url)
		}
		return evidence.Event{
			Kind:      evidence.KindCookieHTTP,
			Timestamp: m.receivedAt,
			Provenance: evidence.SyntheticProvenance(m.url,
				"set in Set-Cookie HTTP response header for "+m.url),
			RawPayload:    m.header,
			ParsedPayload: evidence.CookiePayload{Records: records},
		}, nil

	case evidence.KindRequestTracking:
		return evidence.Event{
			Kind:      evidence.KindRequestTracking,
			Timestamp: m.receivedAt,
			Provenance: evidence.SyntheticProvenance(m.url,
				fmt.Sprintf("requested from %s and matched with %s filter %s", m.sourceURL, c.listName, m.filterID)),
			RawPayload:    m.url,
			ParsedPayload: evidence.TrackingPayload{FilterID: m.filterID, URL: m.url},
		}, nil

	default:
		return evidence.Event{}, fmt.Errorf("unknown network event kind %q", m.kind)
	}
}

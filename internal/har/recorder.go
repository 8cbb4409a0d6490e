// Package har records a run's network traffic as an HTTP Archive (HAR 1.2).
//
// The Recorder is a CDP listener bracketed by Start and Stop. It captures
// request and response metadata only; bodies are never fetched.
package har

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/har"
	"github.com/chromedp/cdproto/network"
)

const (
	creatorName = "wec"
	harVersion  = "1.2"
)

// Recorder accumulates HAR entries between Start and Stop.
//
// Thread-safety: all methods are safe for concurrent use.
type Recorder struct {
	path    string
	version string
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	entries []*har.Entry
	current map[network.RequestID]*pending
}

type pending struct {
	entry *har.Entry
	begin time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the time source for entry timestamps. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = l
	}
}

// WithVersion sets the creator version written into the archive.
func WithVersion(v string) Option {
	return func(r *Recorder) {
		r.version = v
	}
}

// New creates a recorder that writes to path on Stop.
func New(path string, opts ...Option) *Recorder {
	r := &Recorder{
		path:    path,
		version: "dev",
		now:     time.Now,
		logger:  slog.Default(),
		current: make(map[network.RequestID]*pending),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins recording. Events before Start are ignored.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
}

// HandleEvent is the CDP listener.
func (r *Recorder) HandleEvent(ev any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.stopped {
		return
	}

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		r.onRequest(e)
	case *network.EventResponseReceived:
		if p, ok := r.current[e.RequestID]; ok && e.Response != nil {
			p.entry.Response = convertResponse(e.Response)
		}
	case *network.EventLoadingFinished:
		if p, ok := r.current[e.RequestID]; ok {
			if p.entry.Response != nil && p.entry.Response.Content != nil {
				p.entry.Response.Content.Size = int64(e.EncodedDataLength)
				p.entry.Response.BodySize = int64(e.EncodedDataLength)
			}
			r.finish(e.RequestID, p)
		}
	case *network.EventLoadingFailed:
		if p, ok := r.current[e.RequestID]; ok {
			p.entry.Comment = e.ErrorText
			r.finish(e.RequestID, p)
		}
	}
}

func (r *Recorder) onRequest(e *network.EventRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	if p, ok := r.current[e.RequestID]; ok && e.RedirectResponse != nil {
		p.entry.Response = convertResponse(e.RedirectResponse)
		p.entry.Response.RedirectURL = e.Request.URL
		r.finish(e.RequestID, p)
	}

	begin := r.now()
	entry := &har.Entry{
		StartedDateTime: begin.UTC().Format(time.RFC3339Nano),
		Request: &har.Request{
			Method:      e.Request.Method,
			URL:         e.Request.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     nameValues(e.Request.Headers),
			HeadersSize: -1,
			BodySize:    -1,
		},
		Cache:   &har.Cache{},
		Timings: &har.Timings{},
	}
	r.entries = append(r.entries, entry)
	r.current[e.RequestID] = &pending{entry: entry, begin: begin}
}

func (r *Recorder) finish(id network.RequestID, p *pending) {
	p.entry.Time = float64(r.now().Sub(p.begin)) / float64(time.Millisecond)
	p.entry.Timings.Wait = p.entry.Time
	delete(r.current, id)
}

// Entries returns the number of entries recorded so far.
func (r *Recorder) Entries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Archive returns the archive as it would be written now.
func (r *Recorder) Archive() *har.HAR {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.archive()
}

func (r *Recorder) archive() *har.HAR {
	entries := make([]*har.Entry, len(r.entries))
	copy(entries, r.entries)
	for _, e := range entries {
		if e.Response == nil {
			// Unanswered requests still need a response object to be valid HAR.
			e.Response = &har.Response{
				Headers:     []*har.NameValuePair{},
				Content:     &har.Content{MimeType: "x-unknown"},
				HeadersSize: -1,
				BodySize:    -1,
			}
		}
	}
	return &har.HAR{
		Log: &har.Log{
			Version: harVersion,
			Creator: &har.Creator{Name: creatorName, Version: r.version},
			Entries: entries,
		},
	}
}

// Stop ends recording and writes the archive. Calling Stop again is a no-op.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	r.stopped = true

	data, err := json.MarshalIndent(r.archive(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal har: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write har %s: %w", r.path, err)
	}
	r.logger.Info("har written", "path", r.path, "entries", len(r.entries))
	return nil
}

func convertResponse(resp *network.Response) *har.Response {
	return &har.Response{
		Status:      resp.Status,
		StatusText:  resp.StatusText,
		HTTPVersion: httpVersion(resp.Protocol),
		Headers:     nameValues(resp.Headers),
		Content:     &har.Content{MimeType: resp.MimeType},
		HeadersSize: -1,
		BodySize:    -1,
	}
}

func httpVersion(protocol string) string {
	switch protocol {
	case "h2":
		return "HTTP/2"
	case "h3":
		return "HTTP/3"
	case "":
		return "HTTP/1.1"
	default:
		return protocol
	}
}

func nameValues(h network.Headers) []*har.NameValuePair {
	out := make([]*har.NameValuePair, 0, len(h))
	for k, v := range h {
		out = append(out, &har.NameValuePair{Name: k, Value: fmt.Sprint(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

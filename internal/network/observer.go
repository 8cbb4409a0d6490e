// Package network observes browser network activity for a run.
//
// The Observer is registered as a CDP event listener. For every outgoing
// request it asks the tracker filter for a classification and reports
// matches; for every response carrying Set-Cookie it reports the header. It
// also feeds an IdleTracker so the run can wait for network quiet.
//
// Handlers only record and enqueue. They run on the CDP event loop and must
// never block it.
package network

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/network"

	"github.com/roach88/wec/internal/cookie"
	"github.com/roach88/wec/internal/tracker"
)

// Sink receives the observer's findings. bridge.Correlator implements it.
type Sink interface {
	RecordSetCookie(url, header string)
	RecordTracking(sourceURL, url, filterID string)
}

// Stats counts what the observer saw.
type Stats struct {
	Requests           int64 `json:"requests" yaml:"requests"`
	TrackingMatches    int64 `json:"trackingMatches" yaml:"trackingMatches"`
	SetCookieResponses int64 `json:"setCookieResponses" yaml:"setCookieResponses"`
	DuplicateHeaders   int64 `json:"duplicateHeaders" yaml:"duplicateHeaders"`
}

// Observer turns CDP network events into tracking and cookie observations.
type Observer struct {
	matcher tracker.Matcher
	sink    Sink
	idle    *IdleTracker
	logger  *slog.Logger

	mu   sync.Mutex
	urls map[network.RequestID]string
	hops map[network.RequestID]int
	seen map[hopKey]map[string]struct{}

	requests  atomic.Int64
	tracking  atomic.Int64
	cookies   atomic.Int64
	duplicate atomic.Int64
}

// hopKey names one response: a redirect chain shares its request ID and
// counts a hop per redirect.
type hopKey struct {
	id  network.RequestID
	hop int
}

// Option configures an Observer.
type Option func(*Observer)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Observer) {
		o.logger = l
	}
}

// WithIdleTracker sets the tracker fed with request lifecycle events.
// Default: NewIdleTracker(DefaultMaxInflight, DefaultQuiet).
func WithIdleTracker(t *IdleTracker) Option {
	return func(o *Observer) {
		o.idle = t
	}
}

// NewObserver creates an observer that classifies with matcher and reports
// to sink.
func NewObserver(matcher tracker.Matcher, sink Sink, opts ...Option) *Observer {
	o := &Observer{
		matcher: matcher,
		sink:    sink,
		logger:  slog.Default(),
		urls:    make(map[network.RequestID]string),
		hops:    make(map[network.RequestID]int),
		seen:    make(map[hopKey]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.idle == nil {
		o.idle = NewIdleTracker(DefaultMaxInflight, DefaultQuiet)
	}
	return o
}

// Idle returns the observer's idle tracker.
func (o *Observer) Idle() *IdleTracker {
	return o.idle
}

// Stats returns a snapshot of the observer counters.
func (o *Observer) Stats() Stats {
	return Stats{
		Requests:           o.requests.Load(),
		TrackingMatches:    o.tracking.Load(),
		SetCookieResponses: o.cookies.Load(),
		DuplicateHeaders:   o.duplicate.Load(),
	}
}

// HandleEvent is the CDP listener. Events it does not know are ignored.
func (o *Observer) HandleEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		o.onRequest(e)
	case *network.EventResponseReceived:
		if e.Response != nil {
			o.onSetCookie(e.RequestID, e.Response.URL, e.Response.Headers)
		}
	case *network.EventResponseReceivedExtraInfo:
		o.onSetCookie(e.RequestID, o.urlOf(e.RequestID), e.Headers)
	case *network.EventLoadingFinished:
		o.idle.Finished(string(e.RequestID))
	case *network.EventLoadingFailed:
		o.idle.Finished(string(e.RequestID))
	}
}

func (o *Observer) onRequest(e *network.EventRequestWillBeSent) {
	if e.Request == nil {
		return
	}

	// A redirect reuses the request ID; the hop's response arrives here and
	// later responses belong to the next hop.
	if e.RedirectResponse != nil {
		o.onSetCookie(e.RequestID, e.RedirectResponse.URL, e.RedirectResponse.Headers)
	}

	o.mu.Lock()
	if e.RedirectResponse != nil {
		o.hops[e.RequestID]++
	}
	o.urls[e.RequestID] = e.Request.URL
	o.mu.Unlock()

	o.idle.Started(string(e.RequestID))
	o.requests.Add(1)

	if !classifiable(e.Request.URL) {
		return
	}
	res := o.matcher.Match(tracker.Request{
		SourceURL: e.DocumentURL,
		URL:       e.Request.URL,
		Kind:      tracker.KindFromCDP(e.Type),
	})
	if !res.Matched {
		return
	}
	o.tracking.Add(1)
	o.logger.Debug("tracking request", "url", e.Request.URL, "filter", res.FilterID)
	o.sink.RecordTracking(e.DocumentURL, e.Request.URL, res.FilterID)
}

func (o *Observer) onSetCookie(id network.RequestID, responseURL string, headers network.Headers) {
	header, ok := SetCookieHeader(headers)
	if !ok {
		return
	}

	// Chrome reports one response through both responseReceived and
	// responseReceivedExtraInfo, in either order, and the extra info copy
	// can carry directives the other omits. Within a hop only directives
	// not yet recorded are reported.
	directives := cookie.SplitHeader(header)
	o.mu.Lock()
	key := hopKey{id: id, hop: o.hops[id]}
	recorded := o.seen[key]
	if recorded == nil {
		recorded = make(map[string]struct{})
		o.seen[key] = recorded
	}
	var fresh []string
	for _, d := range directives {
		if _, dup := recorded[d]; !dup {
			fresh = append(fresh, d)
		}
	}
	for _, d := range fresh {
		recorded[d] = struct{}{}
	}
	o.mu.Unlock()

	if len(fresh) == 0 {
		o.duplicate.Add(1)
		return
	}
	if len(fresh) < len(directives) {
		header = strings.Join(fresh, "\n")
	}

	o.cookies.Add(1)
	o.logger.Debug("set-cookie recorded", "url", responseURL, "hop", key.hop)
	o.sink.RecordSetCookie(responseURL, header)
}

func (o *Observer) urlOf(id network.RequestID) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.urls[id]
}

// SetCookieHeader looks up Set-Cookie in headers, ignoring case. Several
// directives come back joined by newlines, as the browser reports them.
func SetCookieHeader(headers network.Headers) (string, bool) {
	for k, v := range headers {
		if !strings.EqualFold(k, "set-cookie") {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			s = strings.Join(parts, "\n")
		default:
			s = fmt.Sprint(val)
		}
		if strings.TrimSpace(s) == "" {
			return "", false
		}
		return s, true
	}
	return "", false
}

// classifiable reports whether the filter list can say anything about u.
func classifiable(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "http", "https", "ws", "wss":
		return true
	}
	return false
}

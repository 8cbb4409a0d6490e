package network

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wec/internal/tracker"
)

type recordedCookie struct {
	url, header string
}

type recordedTracking struct {
	sourceURL, url, filterID string
}

type fakeSink struct {
	mu       sync.Mutex
	cookies  []recordedCookie
	tracking []recordedTracking
}

func (s *fakeSink) RecordSetCookie(url, header string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = append(s.cookies, recordedCookie{url, header})
}

func (s *fakeSink) RecordTracking(sourceURL, url, filterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking = append(s.tracking, recordedTracking{sourceURL, url, filterID})
}

// hostMatcher matches any URL containing one of its hosts.
type hostMatcher struct {
	hosts []string
	mu    sync.Mutex
	seen  []tracker.Request
}

func (m *hostMatcher) Match(r tracker.Request) tracker.Result {
	m.mu.Lock()
	m.seen = append(m.seen, r)
	m.mu.Unlock()
	for _, h := range m.hosts {
		if strings.Contains(r.URL, h) {
			return tracker.Result{Matched: true, FilterID: "||" + h + "^"}
		}
	}
	return tracker.Result{}
}

func newTestObserver(hosts ...string) (*Observer, *fakeSink, *hostMatcher) {
	sink := &fakeSink{}
	m := &hostMatcher{hosts: hosts}
	o := NewObserver(m, sink, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return o, sink, m
}

func requestEvent(id, docURL, reqURL string, typ network.ResourceType) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID:   network.RequestID(id),
		DocumentURL: docURL,
		Request:     &network.Request{URL: reqURL, Method: "GET"},
		Type:        typ,
	}
}

func TestObserver_TrackingRequest(t *testing.T) {
	o, sink, m := newTestObserver("tracker.test")

	o.HandleEvent(requestEvent("1", "https://shop.test/", "https://shop.test/", network.ResourceTypeDocument))
	o.HandleEvent(requestEvent("2", "https://shop.test/", "https://tracker.test/p.gif", network.ResourceTypeImage))

	require.Len(t, sink.tracking, 1)
	assert.Equal(t, recordedTracking{
		sourceURL: "https://shop.test/",
		url:       "https://tracker.test/p.gif",
		filterID:  "||tracker.test^",
	}, sink.tracking[0])

	require.Len(t, m.seen, 2)
	assert.Equal(t, tracker.KindMainFrame, m.seen[0].Kind)
	assert.Equal(t, tracker.KindImage, m.seen[1].Kind)
	assert.Equal(t, Stats{Requests: 2, TrackingMatches: 1}, o.Stats())
}

func TestObserver_SkipsNonHTTPSchemes(t *testing.T) {
	o, sink, m := newTestObserver("tracker.test")

	o.HandleEvent(requestEvent("1", "https://shop.test/", "data:image/gif;base64,R0lGOD", network.ResourceTypeImage))
	o.HandleEvent(requestEvent("2", "https://shop.test/", "blob:https://tracker.test/abc", network.ResourceTypeOther))

	assert.Empty(t, sink.tracking)
	assert.Empty(t, m.seen)
}

func TestObserver_SetCookieFromResponse(t *testing.T) {
	o, sink, _ := newTestObserver()

	o.HandleEvent(requestEvent("1", "https://shop.test/", "https://shop.test/", network.ResourceTypeDocument))
	o.HandleEvent(&network.EventResponseReceived{
		RequestID: "1",
		Response: &network.Response{
			URL:     "https://shop.test/",
			Status:  200,
			Headers: network.Headers{"Content-Type": "text/html", "set-cookie": "a=1; Path=/\nb=2"},
		},
	})

	require.Len(t, sink.cookies, 1)
	assert.Equal(t, recordedCookie{"https://shop.test/", "a=1; Path=/\nb=2"}, sink.cookies[0])
}

func TestObserver_SetCookieDeduplicatedAcrossNotifications(t *testing.T) {
	o, sink, _ := newTestObserver()

	o.HandleEvent(requestEvent("7", "https://shop.test/", "https://shop.test/api", network.ResourceTypeFetch))
	o.HandleEvent(&network.EventResponseReceivedExtraInfo{
		RequestID: "7",
		Headers:   network.Headers{"Set-Cookie": "sid=abc; HttpOnly"},
	})
	o.HandleEvent(&network.EventResponseReceived{
		RequestID: "7",
		Response: &network.Response{
			URL:     "https://shop.test/api",
			Headers: network.Headers{"Set-Cookie": "sid=abc; HttpOnly"},
		},
	})

	require.Len(t, sink.cookies, 1)
	assert.Equal(t, "https://shop.test/api", sink.cookies[0].url, "extra info uses the request URL")
	assert.Equal(t, int64(1), o.Stats().DuplicateHeaders)
}

func TestObserver_SetCookieOnRedirect(t *testing.T) {
	o, sink, _ := newTestObserver()

	o.HandleEvent(requestEvent("9", "https://shop.test/", "https://shop.test/login", network.ResourceTypeDocument))
	redirect := requestEvent("9", "https://shop.test/", "https://shop.test/home", network.ResourceTypeDocument)
	redirect.RedirectResponse = &network.Response{
		URL:     "https://shop.test/login",
		Status:  302,
		Headers: network.Headers{"Set-Cookie": "session=1", "Location": "/home"},
	}
	o.HandleEvent(redirect)

	require.Len(t, sink.cookies, 1)
	assert.Equal(t, recordedCookie{"https://shop.test/login", "session=1"}, sink.cookies[0])
	assert.Equal(t, 1, o.Idle().Inflight(), "a redirect hop is the same request")
}

func TestObserver_SetCookieRepeatedAlongRedirectChain(t *testing.T) {
	o, sink, _ := newTestObserver()

	o.HandleEvent(requestEvent("5", "https://shop.test/", "https://ads.test/a", network.ResourceTypeImage))
	hop := requestEvent("5", "https://shop.test/", "https://ads.test/b", network.ResourceTypeImage)
	hop.RedirectResponse = &network.Response{
		URL:     "https://ads.test/a",
		Status:  302,
		Headers: network.Headers{"Set-Cookie": "uid=42; Path=/"},
	}
	o.HandleEvent(hop)
	o.HandleEvent(&network.EventResponseReceived{
		RequestID: "5",
		Response: &network.Response{
			URL:     "https://ads.test/b",
			Status:  200,
			Headers: network.Headers{"Set-Cookie": "uid=42; Path=/"},
		},
	})
	o.HandleEvent(&network.EventResponseReceivedExtraInfo{
		RequestID: "5",
		Headers:   network.Headers{"Set-Cookie": "uid=42; Path=/"},
	})

	require.Len(t, sink.cookies, 2, "each hop is its own response")
	assert.Equal(t, recordedCookie{"https://ads.test/a", "uid=42; Path=/"}, sink.cookies[0])
	assert.Equal(t, recordedCookie{"https://ads.test/b", "uid=42; Path=/"}, sink.cookies[1])
	assert.Equal(t, int64(2), o.Stats().SetCookieResponses)
	assert.Equal(t, int64(1), o.Stats().DuplicateHeaders)
}

func TestObserver_SetCookieExtraInfoAddsMissingDirectives(t *testing.T) {
	tests := []struct {
		name       string
		extraFirst bool
		want       []recordedCookie
		duplicates int64
	}{
		{
			name:       "extra info first",
			extraFirst: true,
			want:       []recordedCookie{{"https://shop.test/", "a=1\nsid=2; HttpOnly"}},
			duplicates: 1,
		},
		{
			name: "response first",
			want: []recordedCookie{
				{"https://shop.test/", "a=1"},
				{"https://shop.test/", "sid=2; HttpOnly"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, sink, _ := newTestObserver()
			o.HandleEvent(requestEvent("1", "https://shop.test/", "https://shop.test/", network.ResourceTypeDocument))

			response := &network.EventResponseReceived{
				RequestID: "1",
				Response: &network.Response{
					URL:     "https://shop.test/",
					Headers: network.Headers{"Set-Cookie": "a=1"},
				},
			}
			extra := &network.EventResponseReceivedExtraInfo{
				RequestID: "1",
				Headers:   network.Headers{"Set-Cookie": "a=1\nsid=2; HttpOnly"},
			}
			if tt.extraFirst {
				o.HandleEvent(extra)
				o.HandleEvent(response)
			} else {
				o.HandleEvent(response)
				o.HandleEvent(extra)
			}

			assert.Equal(t, tt.want, sink.cookies)
			assert.Equal(t, tt.duplicates, o.Stats().DuplicateHeaders)
		})
	}
}

func TestObserver_SetCookieRepeatedDirectiveInOneHeaderKept(t *testing.T) {
	o, sink, _ := newTestObserver()

	o.HandleEvent(&network.EventResponseReceived{
		RequestID: "1",
		Response: &network.Response{
			URL:     "https://shop.test/",
			Headers: network.Headers{"Set-Cookie": "a=1\na=1"},
		},
	})

	require.Len(t, sink.cookies, 1)
	assert.Equal(t, "a=1\na=1", sink.cookies[0].header)
}

func TestObserver_NoSetCookie(t *testing.T) {
	o, sink, _ := newTestObserver()

	o.HandleEvent(&network.EventResponseReceived{
		RequestID: "1",
		Response:  &network.Response{URL: "https://shop.test/", Headers: network.Headers{"Content-Type": "text/html"}},
	})
	o.HandleEvent(&network.EventResponseReceived{RequestID: "2"})
	o.HandleEvent(&network.EventResponseReceivedExtraInfo{RequestID: "3", Headers: network.Headers{"set-cookie": "  "}})

	assert.Empty(t, sink.cookies)
}

func TestObserver_IgnoresUnknownEvents(t *testing.T) {
	o, sink, _ := newTestObserver()

	o.HandleEvent(&network.EventDataReceived{RequestID: "1"})
	o.HandleEvent("not an event")
	o.HandleEvent(nil)

	assert.Empty(t, sink.cookies)
	assert.Empty(t, sink.tracking)
}

func TestObserver_InflightLifecycle(t *testing.T) {
	o, _, _ := newTestObserver()

	o.HandleEvent(requestEvent("1", "https://shop.test/", "https://shop.test/a", network.ResourceTypeScript))
	o.HandleEvent(requestEvent("2", "https://shop.test/", "https://shop.test/b", network.ResourceTypeScript))
	assert.Equal(t, 2, o.Idle().Inflight())

	o.HandleEvent(&network.EventLoadingFinished{RequestID: "1"})
	o.HandleEvent(&network.EventLoadingFailed{RequestID: "2", ErrorText: "net::ERR_BLOCKED"})
	o.HandleEvent(&network.EventLoadingFinished{RequestID: "unknown"})
	assert.Equal(t, 0, o.Idle().Inflight())
}

func TestSetCookieHeader(t *testing.T) {
	tests := []struct {
		name    string
		headers network.Headers
		want    string
		ok      bool
	}{
		{"canonical case", network.Headers{"Set-Cookie": "a=1"}, "a=1", true},
		{"lower case", network.Headers{"set-cookie": "a=1"}, "a=1", true},
		{"upper case", network.Headers{"SET-COOKIE": "a=1"}, "a=1", true},
		{"list value", network.Headers{"set-cookie": []any{"a=1", "b=2"}}, "a=1\nb=2", true},
		{"absent", network.Headers{"Content-Type": "text/html"}, "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SetCookieHeader(tt.headers)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func TestIdleTracker_QuietPeriod(t *testing.T) {
	clock := &fakeNow{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	idle := newIdleTracker(2, 500*time.Millisecond, clock.Now)

	assert.False(t, idle.Idle(), "quiet period has not elapsed yet")
	clock.Advance(500 * time.Millisecond)
	assert.True(t, idle.Idle())

	idle.Started("a")
	idle.Started("b")
	assert.True(t, idle.Idle(), "two in flight still counts as idle")

	idle.Started("c")
	assert.False(t, idle.Idle())
	clock.Advance(time.Second)
	assert.False(t, idle.Idle(), "three in flight is never idle")

	idle.Finished("c")
	assert.False(t, idle.Idle(), "quiet restarts when the count drops")
	clock.Advance(499 * time.Millisecond)
	assert.False(t, idle.Idle())
	clock.Advance(time.Millisecond)
	assert.True(t, idle.Idle())
}

func TestIdleTracker_WaitReturnsWhenIdle(t *testing.T) {
	idle := NewIdleTracker(0, 20*time.Millisecond)
	idle.Started("a")

	go func() {
		time.Sleep(30 * time.Millisecond)
		idle.Finished("a")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, idle.Wait(ctx))
	assert.Equal(t, 0, idle.Inflight())
}

func TestIdleTracker_WaitHonoursContext(t *testing.T) {
	idle := NewIdleTracker(0, 20*time.Millisecond)
	idle.Started("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := idle.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

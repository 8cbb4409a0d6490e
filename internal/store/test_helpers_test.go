package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/wec/internal/cookie"
	"github.com/roach88/wec/internal/evidence"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEvents returns one event of every kind, numbered from 1.
func createTestEvents() []evidence.Event {
	frame := evidence.Frame{FunctionName: "setPrefs", FileName: "https://shop.test/app.js", LineNumber: 12, ColumnNumber: 7}
	events := []evidence.Event{
		{
			Kind:          evidence.KindCookieJS,
			Timestamp:     testTime.Add(time.Millisecond),
			Provenance:    evidence.Provenance{Frames: []evidence.Frame{frame}},
			RawPayload:    "consent=yes; path=/",
			ParsedPayload: evidence.CookiePayload{Records: []cookie.Record{cookie.Parse("consent=yes; path=/")}},
		},
		{
			Kind:       evidence.KindStorageLocalStorage,
			Timestamp:  testTime.Add(2 * time.Millisecond),
			Provenance: evidence.UnavailableProvenance(),
			RawPayload: `{"key":"prefs","value":"{\"theme\":\"dark\",\"n\":2}"}`,
			ParsedPayload: evidence.StoragePayload{
				"prefs": evidence.DecodeStorageValue(`{"theme":"dark","n":2}`),
			},
		},
		{
			Kind:       evidence.KindStorageLocalStorage,
			Timestamp:  testTime.Add(3 * time.Millisecond),
			Provenance: evidence.Provenance{Frames: []evidence.Frame{frame}},
			RawPayload: `{"key":"sid","value":"not json"}`,
			ParsedPayload: evidence.StoragePayload{
				"sid": evidence.DecodeStorageValue("not json"),
			},
		},
		{
			Kind:          evidence.KindCookieHTTP,
			Timestamp:     testTime.Add(4 * time.Millisecond),
			Provenance:    evidence.SyntheticProvenance("https://shop.test/", "set in Set-Cookie HTTP response header for https://shop.test/"),
			RawPayload:    "sid=1; HttpOnly",
			ParsedPayload: evidence.CookiePayload{Records: cookie.ParseHeader("sid=1; HttpOnly")},
		},
		{
			Kind:       evidence.KindRequestTracking,
			Timestamp:  testTime.Add(5 * time.Millisecond),
			Provenance: evidence.SyntheticProvenance("https://shop.test/", "requested from https://shop.test/ and matched with easyprivacy.txt filter ||tracker.test^"),
			RawPayload: "https://tracker.test/p.gif",
			ParsedPayload: evidence.TrackingPayload{
				FilterID: "||tracker.test^",
				URL:      "https://tracker.test/p.gif",
			},
		},
	}
	for i := range events {
		events[i].Seq = int64(i + 1)
	}
	return events
}

// createTestRun creates a complete run holding events, with a matching digest.
func createTestRun(t *testing.T, id string, started time.Time, events []evidence.Event) Run {
	t.Helper()
	digest, err := evidence.Digest(events)
	if err != nil {
		t.Fatalf("Digest() failed: %v", err)
	}
	return Run{
		ID:         id,
		URL:        "https://shop.test/",
		FinalURL:   "https://shop.test/home",
		Title:      "Shop",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Status:     StatusComplete,
		Digest:     digest,
		Snapshot:   []byte(`{"cookies":[],"links":[]}`),
		Events:     events,
	}
}

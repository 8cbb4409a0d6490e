package evidence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/wec/internal/cookie"
)

// Kind identifies what an Event records.
type Kind string

const (
	// KindCookieJS is a write to document.cookie made by page script.
	KindCookieJS Kind = "Cookie.JS"

	// KindCookieHTTP is one HTTP response carrying Set-Cookie.
	KindCookieHTTP Kind = "Cookie.HTTP"

	// KindStorageLocalStorage is a write through the localStorage API.
	KindStorageLocalStorage Kind = "Storage.LocalStorage"

	// KindRequestTracking is an outgoing request matched by the tracker filter list.
	KindRequestTracking Kind = "Request.Tracking"
)

// Kinds returns every Kind, in declaration order.
func Kinds() []Kind {
	return []Kind{KindCookieJS, KindCookieHTTP, KindStorageLocalStorage, KindRequestTracking}
}

// Valid reports whether k is one of Kinds().
func (k Kind) Valid() bool {
	switch k {
	case KindCookieJS, KindCookieHTTP, KindStorageLocalStorage, KindRequestTracking:
		return true
	}
	return false
}

// Frame is one entry of a captured call stack.
type Frame struct {
	FunctionName string `json:"functionName,omitempty" yaml:"functionName,omitempty"`
	FileName     string `json:"fileName,omitempty" yaml:"fileName,omitempty"`
	LineNumber   int    `json:"lineNumber,omitempty" yaml:"lineNumber,omitempty"`
	ColumnNumber int    `json:"columnNumber,omitempty" yaml:"columnNumber,omitempty"`
	Source       string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Provenance attributes an event to a location.
//
// For page-originated events Frames holds at most two frames, innermost first,
// with the instrumentation's own frames removed. Unavailable is set when the
// stack could not be captured; the event is recorded regardless.
type Provenance struct {
	Frames      []Frame `json:"frames" yaml:"frames"`
	Unavailable bool    `json:"unavailable,omitempty" yaml:"unavailable,omitempty"`
}

// UnavailableProvenance is the marker recorded when stack capture failed.
func UnavailableProvenance() Provenance {
	return Provenance{Frames: []Frame{}, Unavailable: true}
}

// SyntheticProvenance is the single-frame provenance of network-derived events.
func SyntheticProvenance(url, source string) Provenance {
	return Provenance{Frames: []Frame{{FileName: url, Source: source}}}
}

// Payload is the kind-specific structured content of an Event. The set of
// implementations is closed: CookiePayload, StoragePayload, TrackingPayload.
type Payload interface {
	payloadKind() []Kind
}

// CookiePayload is the ParsedPayload of cookie kinds: one record per directive.
type CookiePayload struct {
	Records []cookie.Record `json:"records" yaml:"records"`
}

func (CookiePayload) payloadKind() []Kind { return []Kind{KindCookieJS, KindCookieHTTP} }

// StoragePayload is the ParsedPayload of storage kinds: written key to value.
type StoragePayload map[string]StorageValue

func (StoragePayload) payloadKind() []Kind { return []Kind{KindStorageLocalStorage} }

// TrackingPayload is the ParsedPayload of Request.Tracking.
type TrackingPayload struct {
	FilterID string `json:"filterId" yaml:"filterId"`
	URL      string `json:"url" yaml:"url"`
}

func (TrackingPayload) payloadKind() []Kind { return []Kind{KindRequestTracking} }

// StorageValue is a stored value after best-effort structured decoding.
//
// When Raw is syntactically JSON, Decoded holds the decoded value. Otherwise
// Opaque is set and the value is kept as the raw string. Either way Raw is the
// string that was written.
type StorageValue struct {
	Raw     string
	Decoded any
	Opaque  bool
}

// Value returns what the value serializes as: the decoded form, or the raw
// string when opaque.
func (v StorageValue) Value() any {
	if v.Opaque {
		return v.Raw
	}
	return v.Decoded
}

// MarshalJSON serializes the value as Value().
func (v StorageValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Value())
}

// MarshalYAML serializes the value as Value().
func (v StorageValue) MarshalYAML() (any, error) {
	return v.Value(), nil
}

// Event is one entry of the Evidence Log. Events are immutable once appended.
type Event struct {
	Seq           int64      `json:"seq" yaml:"seq"`
	Kind          Kind       `json:"kind" yaml:"kind"`
	Timestamp     time.Time  `json:"timestamp" yaml:"timestamp"`
	Provenance    Provenance `json:"provenance" yaml:"provenance"`
	RawPayload    string     `json:"rawPayload" yaml:"rawPayload"`
	ParsedPayload Payload    `json:"parsedPayload" yaml:"parsedPayload"`
}

// Validate checks that Kind is known and ParsedPayload has the matching type.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.ParsedPayload == nil {
		return fmt.Errorf("%s event without payload", e.Kind)
	}
	for _, k := range e.ParsedPayload.payloadKind() {
		if k == e.Kind {
			return nil
		}
	}
	return fmt.Errorf("%s event carries %T", e.Kind, e.ParsedPayload)
}

// Cookies returns the cookie records of a cookie-kind event.
func (e Event) Cookies() ([]cookie.Record, bool) {
	if e.Kind != KindCookieJS && e.Kind != KindCookieHTTP {
		return nil, false
	}
	p, ok := e.ParsedPayload.(CookiePayload)
	return p.Records, ok
}

// Storage returns the key/value writes of a storage-kind event.
func (e Event) Storage() (StoragePayload, bool) {
	if e.Kind != KindStorageLocalStorage {
		return nil, false
	}
	p, ok := e.ParsedPayload.(StoragePayload)
	return p, ok
}

// Tracking returns the matched filter and URL of a tracking event.
func (e Event) Tracking() (TrackingPayload, bool) {
	if e.Kind != KindRequestTracking {
		return TrackingPayload{}, false
	}
	p, ok := e.ParsedPayload.(TrackingPayload)
	return p, ok
}

// clone returns a copy of e that shares no slices or maps with it.
func (e Event) clone() Event {
	if e.Provenance.Frames != nil {
		e.Provenance.Frames = append([]Frame{}, e.Provenance.Frames...)
	}
	switch p := e.ParsedPayload.(type) {
	case CookiePayload:
		e.ParsedPayload = p.clone()
	case StoragePayload:
		e.ParsedPayload = p.clone()
	}
	return e
}

func (p CookiePayload) clone() CookiePayload {
	if p.Records == nil {
		return p
	}
	records := make([]cookie.Record, len(p.Records))
	for i, r := range p.Records {
		if r.Attributes.Unparsed != nil {
			r.Attributes.Unparsed = append([]string{}, r.Attributes.Unparsed...)
		}
		records[i] = r
	}
	return CookiePayload{Records: records}
}

func (p StoragePayload) clone() StoragePayload {
	if p == nil {
		return nil
	}
	out := make(StoragePayload, len(p))
	for k, v := range p {
		v.Decoded = cloneDecoded(v.Decoded)
		out[k] = v
	}
	return out
}

// cloneDecoded copies the containers encoding/json decodes into. Every other
// decoded value is immutable.
func cloneDecoded(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneDecoded(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneDecoded(e)
		}
		return out
	default:
		return v
	}
}

// Package cookie turns raw cookie directive strings into structured records.
//
// A directive is the text of one cookie as it appears in a Set-Cookie header
// or in an assignment to document.cookie:
//
//	name=value; Path=/; Domain=example.com; Secure
//
// Parsing never fails from the caller's point of view. A directive a browser
// would not store still yields a Record: Invalid is set, Error says why, and
// Raw keeps the original text so no evidence is lost.
//
// The name-value pair is split the way browsers split it (RFC 6265bis section
// 5.2), so anything a page can store is recorded with its name and value.
// The attribute list goes through net/http's Set-Cookie parser. Chrome DevTools
// Protocol framing, where several Set-Cookie headers of one response arrive
// joined by newlines, is handled by SplitHeader.
package cookie

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// MaxPairSize is the largest name plus value, in bytes, a browser stores.
const MaxPairSize = 4096

var (
	errEmptyPair    = errors.New("cookie has neither name nor value")
	errPairTooLarge = errors.New("cookie name and value exceed 4096 bytes")
)

// Attributes holds the standard cookie attributes of a directive.
type Attributes struct {
	Domain      string    `json:"domain,omitempty" yaml:"domain,omitempty"`
	Path        string    `json:"path,omitempty" yaml:"path,omitempty"`
	Expires     time.Time `json:"expires,omitzero" yaml:"expires,omitempty"`
	MaxAge      int       `json:"maxAge,omitempty" yaml:"maxAge,omitempty"`
	Secure      bool      `json:"secure,omitempty" yaml:"secure,omitempty"`
	HTTPOnly    bool      `json:"httpOnly,omitempty" yaml:"httpOnly,omitempty"`
	SameSite    string    `json:"sameSite,omitempty" yaml:"sameSite,omitempty"`
	Partitioned bool      `json:"partitioned,omitempty" yaml:"partitioned,omitempty"`

	// Unparsed lists attribute pairs the grammar does not know, verbatim.
	Unparsed []string `json:"unparsed,omitempty" yaml:"unparsed,omitempty"`
}

// Record is one parsed cookie directive.
type Record struct {
	Name       string     `json:"name" yaml:"name"`
	Value      string     `json:"value" yaml:"value"`
	Attributes Attributes `json:"attributes" yaml:"attributes"`

	// Raw is the directive exactly as observed.
	Raw string `json:"raw" yaml:"raw"`

	// Invalid marks a directive a browser would not store: an empty pair or
	// one over MaxPairSize. Name, Value and Attributes are empty in that case.
	Invalid bool   `json:"invalid,omitempty" yaml:"invalid,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// SameSite attribute spellings used in Records.
const (
	SameSiteLax    = "Lax"
	SameSiteStrict = "Strict"
	SameSiteNone   = "None"
)

// Parse parses a single cookie directive. It never panics and always returns a
// Record; see Record.Invalid.
//
// The pair ends at the first ";" and splits at its first "="; a pair without
// "=" is a value with an empty name. Name and value are kept as written,
// quotes and non-ASCII bytes included.
func Parse(directive string) Record {
	rec := Record{Raw: directive}

	pair, attrs, _ := strings.Cut(directive, ";")
	name, value, ok := strings.Cut(pair, "=")
	if !ok {
		name, value = "", name
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)

	switch {
	case name == "" && value == "":
		rec.Invalid = true
		rec.Error = errEmptyPair.Error()
		return rec
	case len(name)+len(value) > MaxPairSize:
		rec.Invalid = true
		rec.Error = errPairTooLarge.Error()
		return rec
	}

	rec.Name = name
	rec.Value = value
	rec.Attributes = parseAttributes(attrs)
	return rec
}

// parseAttributes reads the attribute list after the pair. net/http never
// rejects a directive over its attributes, so a placeholder pair is enough.
func parseAttributes(attrs string) Attributes {
	c, err := http.ParseSetCookie("x=y;" + attrs)
	if err != nil {
		return Attributes{}
	}
	a := Attributes{
		Domain:      c.Domain,
		Path:        c.Path,
		MaxAge:      c.MaxAge,
		Secure:      c.Secure,
		HTTPOnly:    c.HttpOnly,
		SameSite:    sameSiteName(c.SameSite),
		Partitioned: c.Partitioned,
		Unparsed:    c.Unparsed,
	}
	if !c.Expires.IsZero() {
		a.Expires = c.Expires.UTC()
	}
	return a
}

// SplitHeader splits a Set-Cookie header value as delivered by the DevTools
// protocol into its directives. Chrome joins repeated Set-Cookie headers with
// "\n"; that is a transport artifact, not RFC 6265 syntax. Blank lines are
// dropped.
func SplitHeader(header string) []string {
	lines := strings.Split(header, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// ParseHeader splits a newline-joined Set-Cookie header and parses every
// directive independently. The result has one Record per directive, in order.
func ParseHeader(header string) []Record {
	directives := SplitHeader(header)
	records := make([]Record, 0, len(directives))
	for _, d := range directives {
		records = append(records, Parse(d))
	}
	return records
}

// Encode re-serializes a record into Set-Cookie directive syntax. Invalid
// records encode to their raw text.
func Encode(r Record) string {
	if r.Invalid {
		return r.Raw
	}
	c := &http.Cookie{
		Name:        "x",
		Domain:      r.Attributes.Domain,
		Path:        r.Attributes.Path,
		Expires:     r.Attributes.Expires,
		MaxAge:      r.Attributes.MaxAge,
		Secure:      r.Attributes.Secure,
		HttpOnly:    r.Attributes.HTTPOnly,
		SameSite:    sameSiteMode(r.Attributes.SameSite),
		Partitioned: r.Attributes.Partitioned,
	}
	attrs := strings.TrimPrefix(c.String(), "x=")

	if r.Name == "" && !strings.Contains(r.Value, "=") {
		return r.Value + attrs
	}
	return r.Name + "=" + r.Value + attrs
}

// Equivalent reports whether two records describe the same cookie: same name,
// value and attributes. Raw text is not compared.
func Equivalent(a, b Record) bool {
	if a.Invalid || b.Invalid {
		return a.Invalid == b.Invalid && a.Raw == b.Raw
	}
	aa, ba := a.Attributes, b.Attributes
	return a.Name == b.Name &&
		a.Value == b.Value &&
		strings.EqualFold(strings.TrimPrefix(aa.Domain, "."), strings.TrimPrefix(ba.Domain, ".")) &&
		aa.Path == ba.Path &&
		aa.Expires.Equal(ba.Expires) &&
		aa.MaxAge == ba.MaxAge &&
		aa.Secure == ba.Secure &&
		aa.HTTPOnly == ba.HTTPOnly &&
		aa.SameSite == ba.SameSite &&
		aa.Partitioned == ba.Partitioned
}

func sameSiteName(m http.SameSite) string {
	switch m {
	case http.SameSiteLaxMode:
		return SameSiteLax
	case http.SameSiteStrictMode:
		return SameSiteStrict
	case http.SameSiteNoneMode:
		return SameSiteNone
	default:
		return ""
	}
}

func sameSiteMode(s string) http.SameSite {
	switch s {
	case SameSiteLax:
		return http.SameSiteLaxMode
	case SameSiteStrict:
		return http.SameSiteStrictMode
	case SameSiteNone:
		return http.SameSiteNoneMode
	default:
		return 0
	}
}

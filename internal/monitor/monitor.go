// Package monitor provides the in-page Storage Mutation Monitor.
//
// The monitor is a script injected into every document before any page script
// runs. It intercepts writes to a closed set of storage surfaces and reports
// each one to the host through a page binding, then lets the write proceed
// unchanged. Reads pass through untouched.
//
// Each report is a single JSON string:
//
//	{"kind": "Cookie.JS", "stack": "<Error.stack or null>", "payload": "a=1; Path=/"}
//	{"kind": "Storage.LocalStorage", "stack": "...", "payload": {"key": "k", "value": "v"}}
//
// The script never throws into the page. A surface it cannot redefine (for
// example because the page froze the property) is skipped silently while the
// remaining surfaces are still instrumented.
package monitor

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

// BindingName is the page global the host exposes for reports.
const BindingName = "reportEvent"

// SourceURL names the monitor script in stack traces. Frames from this file
// belong to the interception layer and are dropped from provenance.
const SourceURL = "__wec_monitor__.js"

// Surface names one interceptable storage surface.
type Surface string

const (
	SurfaceCookie       Surface = "cookie"
	SurfaceLocalStorage Surface = "localStorage"
)

// DefaultSurfaces is every surface the monitor knows how to intercept.
var DefaultSurfaces = []Surface{SurfaceCookie, SurfaceLocalStorage}

//go:embed monitor.js
var source string

// Script returns the monitor ready for injection, registered for the given
// surfaces. With no arguments every default surface is registered.
func Script(surfaces ...Surface) (string, error) {
	if len(surfaces) == 0 {
		surfaces = DefaultSurfaces
	}

	seen := make(map[Surface]bool, len(surfaces))
	names := make([]string, 0, len(surfaces))
	for _, s := range surfaces {
		if !s.Valid() {
			return "", fmt.Errorf("unknown monitor surface %q", s)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		names = append(names, string(s))
	}

	arg, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("encode surfaces: %w", err)
	}

	var b strings.Builder
	b.WriteString(strings.ReplaceAll(strings.TrimRight(source, "\n"), "{{BINDING}}", BindingName))
	b.WriteString("(")
	b.Write(arg)
	b.WriteString(");\n//# sourceURL=")
	b.WriteString(SourceURL)
	b.WriteString("\n")
	return b.String(), nil
}

// Valid reports whether s is a known surface.
func (s Surface) Valid() bool {
	for _, d := range DefaultSurfaces {
		if s == d {
			return true
		}
	}
	return false
}

// ParseSurfaces converts configuration strings to surfaces.
func ParseSurfaces(names []string) ([]Surface, error) {
	out := make([]Surface, 0, len(names))
	for _, n := range names {
		s := Surface(strings.TrimSpace(n))
		if !s.Valid() {
			return nil, fmt.Errorf("unknown monitor surface %q", n)
		}
		out = append(out, s)
	}
	return out, nil
}

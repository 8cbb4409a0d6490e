package collector

import (
	"context"
	"time"
)

// Launcher starts a browser for one run.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is one browser tab under instrumentation.
//
// The collector calls Listen and Install before Navigate, Snapshot after the
// page has settled, and Close exactly once on every path.
type Session interface {
	// Listen registers a handler for every CDP event of the tab.
	Listen(handler func(ev any))

	// Install registers script to run in every new document before page
	// scripts, and routes calls of the page binding to onBinding.
	Install(ctx context.Context, script string, onBinding func(payload string)) error

	// Navigate loads url and returns once the load event fired.
	Navigate(ctx context.Context, url string) error

	// Snapshot captures the final state of the page.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Close releases the tab and the browser process.
	Close() error
}

// Snapshot is the end-of-run state of the page.
type Snapshot struct {
	// URL is the document URL after redirects.
	URL string
	// Title is the document title.
	Title string
	// HTML is the serialized final DOM.
	HTML string
	// Cookies is the browser cookie jar.
	Cookies []Cookie
}

// Cookie is one entry of the browser cookie jar at the end of a run.
type Cookie struct {
	Name     string    `json:"name" yaml:"name"`
	Value    string    `json:"value" yaml:"value"`
	Domain   string    `json:"domain" yaml:"domain"`
	Path     string    `json:"path" yaml:"path"`
	Expires  time.Time `json:"expires,omitzero" yaml:"expires,omitempty"`
	Session  bool      `json:"session,omitempty" yaml:"session,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty" yaml:"httpOnly,omitempty"`
	Secure   bool      `json:"secure,omitempty" yaml:"secure,omitempty"`
	SameSite string    `json:"sameSite,omitempty" yaml:"sameSite,omitempty"`
}

// Package browser drives a headless Chrome through chromedp.
//
// It implements collector.Launcher and collector.Session: one Launch starts
// one browser process with one tab, and Session.Close kills both.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/roach88/wec/internal/collector"
	"github.com/roach88/wec/internal/monitor"
)

// dntScript makes navigator.doNotTrack report the DNT preference to scripts.
const dntScript = `Object.defineProperty(Navigator.prototype, 'doNotTrack', { get: function () { return '1'; }, configurable: true });`

// Options configures the browser process.
type Options struct {
	Headless     bool
	ExecPath     string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// Lang is the browser UI and Accept-Language tag, e.g. "en".
	Lang string
	// Args are extra command-line switches, "--name" or "--name=value".
	Args []string
	// DNT sends the "DNT: 1" request header.
	DNT bool
	// DNTJS makes navigator.doNotTrack return "1".
	DNTJS bool
}

// Launcher starts Chrome instances.
type Launcher struct {
	opts   Options
	logger *slog.Logger
}

// NewLauncher creates a launcher. A nil logger means slog.Default().
func NewLauncher(opts Options, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{opts: opts, logger: logger}
}

// Launch starts a browser and opens its first tab.
func (l *Launcher) Launch(ctx context.Context) (collector.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(l.opts)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			l.logger.Debug(fmt.Sprintf(format, args...), "source", "chromedp")
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			l.logger.Warn(fmt.Sprintf(format, args...), "source", "chromedp")
		}),
	)

	// The first Run starts the process.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	s := &Session{
		opts:        l.opts,
		logger:      l.logger,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
	}
	chromedp.ListenTarget(tabCtx, s.dispatch)
	return s, nil
}

// Session is one instrumented tab.
type Session struct {
	opts        Options
	logger      *slog.Logger
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	mu        sync.RWMutex
	handlers  []func(ev any)
	onBinding func(string)

	closeOnce sync.Once
	closeErr  error
}

// Listen registers handler for every CDP event of the tab.
func (s *Session) Listen(handler func(ev any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// dispatch runs on chromedp's event goroutine; handlers must not block.
func (s *Session) dispatch(ev any) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := ev.(*runtime.EventBindingCalled); ok {
		if b.Name == monitor.BindingName && s.onBinding != nil {
			s.onBinding(b.Payload)
		}
		return
	}
	for _, h := range s.handlers {
		h(ev)
	}
}

// Install enables the domains the run needs, exposes the binding and
// registers script for every new document.
func (s *Session) Install(ctx context.Context, script string, onBinding func(string)) error {
	s.mu.Lock()
	s.onBinding = onBinding
	s.mu.Unlock()

	actions := chromedp.Tasks{
		network.Enable(),
		runtime.Enable(),
		runtime.AddBinding(monitor.BindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
	}
	if s.opts.DNT {
		actions = append(actions, network.SetExtraHTTPHeaders(network.Headers{"DNT": "1"}))
	}
	if s.opts.DNTJS {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(dntScript).Do(ctx)
			return err
		}))
	}

	if err := s.run(ctx, actions); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	return nil
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Snapshot captures the final URL, title, DOM and the whole cookie jar.
func (s *Session) Snapshot(ctx context.Context) (collector.Snapshot, error) {
	var snap collector.Snapshot
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.Tasks{
		chromedp.Location(&snap.URL),
		chromedp.Title(&snap.Title),
		chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	})
	if err != nil {
		return collector.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	snap.Cookies = convertCookies(cookies)
	return snap, nil
}

// Close kills the tab and the browser process. It is safe to call twice.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = chromedp.Cancel(s.tabCtx)
		s.tabCancel()
		s.allocCancel()
	})
	return s.closeErr
}

// run executes actions on the tab, aborting when either the tab or ctx ends.
func (s *Session) run(ctx context.Context, actions chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func allocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", o.Headless))
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	if o.WindowWidth > 0 && o.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(o.WindowWidth, o.WindowHeight))
	}
	if o.Lang != "" {
		opts = append(opts, chromedp.Flag("lang", o.Lang))
	}
	for _, a := range o.Args {
		name, value := parseArg(a)
		if name == "" {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// parseArg splits "--name=value" into a chromedp flag. A bare "--name" is true.
func parseArg(arg string) (string, any) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil
	}
	name, value, ok := strings.Cut(arg, "=")
	if !ok {
		return name, true
	}
	return name, value
}

func convertCookies(in []*network.Cookie) []collector.Cookie {
	out := make([]collector.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		jc := collector.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Session:  c.Session,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		}
		if !c.Session && c.Expires > 0 {
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
			jc.Expires = time.Unix(sec, nsec).UTC()
		}
		out = append(out, jc)
	}
	return out
}

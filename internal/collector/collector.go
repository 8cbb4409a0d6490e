// Package collector runs one evidence collection: one browser, one
// navigation, one Evidence Log.
//
// A run acquires a browser, instruments it (network observer, optional HAR
// recorder, in-page monitor), navigates to the target under the page timeout,
// waits for network quiet, snapshots the final page and finalizes the log.
// The browser is released on every path, including failures.
//
// Events from the page and events from the network reach the log through
// different paths; the log makes no ordering promise across the two.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/wec/internal/bridge"
	"github.com/roach88/wec/internal/evidence"
	"github.com/roach88/wec/internal/har"
	"github.com/roach88/wec/internal/monitor"
	"github.com/roach88/wec/internal/network"
	"github.com/roach88/wec/internal/tracker"
)

// Result is the outcome of a successful run.
type Result struct {
	RunID      string           `json:"runId" yaml:"runId"`
	URL        string           `json:"url" yaml:"url"`
	FinalURL   string           `json:"finalUrl,omitempty" yaml:"finalUrl,omitempty"`
	Title      string           `json:"title,omitempty" yaml:"title,omitempty"`
	StartedAt  time.Time        `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt" yaml:"finishedAt"`
	Events     []evidence.Event `json:"events" yaml:"events"`
	Digest     string           `json:"digest" yaml:"digest"`
	Cookies    []Cookie         `json:"cookies" yaml:"cookies"`
	Links      []Link           `json:"links" yaml:"links"`
	Stats      Stats            `json:"stats" yaml:"stats"`
}

// Stats summarizes the run's observation pipeline.
type Stats struct {
	Bridge     bridge.Stats  `json:"bridge" yaml:"bridge"`
	Network    network.Stats `json:"network" yaml:"network"`
	HAREntries int           `json:"harEntries,omitempty" yaml:"harEntries,omitempty"`
}

// Collector runs collections. It holds no per-run state and may be reused.
type Collector struct {
	launcher    Launcher
	matcher     tracker.Matcher
	logger      *slog.Logger
	now         func() time.Time
	ids         RunIDGenerator
	surfaces    []monitor.Surface
	pageTimeout time.Duration
	settle      time.Duration
	maxInflight int
	quiet       time.Duration
	harPath     string
	listName    string
	version     string
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// WithClock sets the time source for timestamps. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithRunIDs sets the run ID generator. Default: UUIDv7Generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(c *Collector) { c.ids = g }
}

// WithSurfaces selects the storage surfaces the monitor intercepts.
// Default: monitor.DefaultSurfaces.
func WithSurfaces(s ...monitor.Surface) Option {
	return func(c *Collector) { c.surfaces = s }
}

// WithPageTimeout bounds navigation plus the network-idle wait. Zero means
// unbounded.
func WithPageTimeout(d time.Duration) Option {
	return func(c *Collector) { c.pageTimeout = d }
}

// WithSettle adds a fixed delay after network idle, for late scripts.
func WithSettle(d time.Duration) Option {
	return func(c *Collector) { c.settle = d }
}

// WithIdle sets the network-idle thresholds.
// Default: network.DefaultMaxInflight, network.DefaultQuiet.
func WithIdle(maxInflight int, quiet time.Duration) Option {
	return func(c *Collector) {
		c.maxInflight = maxInflight
		c.quiet = quiet
	}
}

// WithHAR records the run's traffic to path.
func WithHAR(path string) Option {
	return func(c *Collector) { c.harPath = path }
}

// WithFilterListName sets the list name quoted in tracking provenance.
func WithFilterListName(name string) Option {
	return func(c *Collector) { c.listName = name }
}

// WithVersion sets the tool version recorded in artifacts.
func WithVersion(v string) Option {
	return func(c *Collector) { c.version = v }
}

// New creates a collector.
func New(launcher Launcher, matcher tracker.Matcher, opts ...Option) *Collector {
	c := &Collector{
		launcher:    launcher,
		matcher:     matcher,
		logger:      slog.Default(),
		now:         time.Now,
		ids:         UUIDv7Generator{},
		surfaces:    monitor.DefaultSurfaces,
		maxInflight: network.DefaultMaxInflight,
		quiet:       network.DefaultQuiet,
		listName:    bridge.DefaultFilterListName,
		version:     "dev",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run performs one collection against target.
//
// Launch, instrumentation, navigation and page-timeout failures end the run
// with a *RunError. Failures after the page settled (snapshot, HAR write) are
// logged and the run still succeeds.
func (c *Collector) Run(ctx context.Context, target string) (*Result, error) {
	runID := c.ids.Generate()
	logger := c.logger.With("run", runID, "url", target)
	startedAt := c.now()
	logger.Info("run started")

	script, err := monitor.Script(c.surfaces...)
	if err != nil {
		return nil, &RunError{Code: ErrCodeInstrumentationFailed, RunID: runID, URL: target, Err: err}
	}

	log, writer := evidence.NewLog()
	corr := bridge.New(writer,
		bridge.WithClock(c.now),
		bridge.WithLogger(logger),
		bridge.WithFilterListName(c.listName),
	)
	observer := network.NewObserver(c.matcher, corr,
		network.WithLogger(logger),
		network.WithIdleTracker(network.NewIdleTracker(c.maxInflight, c.quiet)),
	)

	corrCtx, stopCorr := context.WithCancel(context.Background())
	defer stopCorr()
	corrDone := make(chan error, 1)
	go func() { corrDone <- corr.Run(corrCtx) }()
	closed := false
	defer func() {
		if !closed {
			corr.Close()
		}
	}()

	session, err := c.launcher.Launch(ctx)
	if err != nil {
		logger.Error("browser launch failed", "error", err)
		return nil, &RunError{Code: ErrCodeLaunchFailed, RunID: runID, URL: target, Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("browser close failed", "error", err)
		}
		logger.Debug("browser released")
	}()

	session.Listen(observer.HandleEvent)

	var recorder *har.Recorder
	if c.harPath != "" {
		recorder = har.New(c.harPath, har.WithClock(c.now), har.WithLogger(logger), har.WithVersion(c.version))
		session.Listen(recorder.HandleEvent)
		recorder.Start()
		defer func() {
			if err := recorder.Stop(); err != nil {
				logger.Warn("har not written", "error", err)
			}
		}()
	}

	if err := session.Install(ctx, script, corr.HandleBinding); err != nil {
		logger.Error("instrumentation failed", "error", err)
		return nil, &RunError{Code: ErrCodeInstrumentationFailed, RunID: runID, URL: target, Err: err}
	}

	pageCtx := ctx
	if c.pageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, c.pageTimeout)
		defer cancel()
	} else {
		logger.Warn("page timeout disabled, run is unbounded")
	}

	if err := session.Navigate(pageCtx, target); err != nil {
		return nil, c.pageError(logger, ctx, pageCtx, runID, target, ErrCodeNavigationFailed, err)
	}
	logger.Debug("page loaded")

	if err := observer.Idle().Wait(pageCtx); err != nil {
		return nil, c.pageError(logger, ctx, pageCtx, runID, target, ErrCodePageTimeout, err)
	}
	logger.Debug("network idle", "inflight", observer.Idle().Inflight())

	if c.settle > 0 {
		select {
		case <-ctx.Done():
			return nil, c.pageError(logger, ctx, pageCtx, runID, target, ErrCodeNavigationFailed, ctx.Err())
		case <-time.After(c.settle):
		}
	}

	res := &Result{
		RunID:     runID,
		URL:       target,
		StartedAt: startedAt,
		Cookies:   []Cookie{},
		Links:     []Link{},
	}

	snap, err := session.Snapshot(ctx)
	if err != nil {
		logger.Warn("snapshot failed", "error", err)
	} else {
		res.FinalURL = snap.URL
		res.Title = snap.Title
		if snap.Cookies != nil {
			res.Cookies = snap.Cookies
		}
		base := snap.URL
		if base == "" {
			base = target
		}
		links, title, err := ExtractLinks(snap.HTML, base)
		if err != nil {
			logger.Warn("link extraction failed", "error", err)
		} else {
			res.Links = links
			if res.Title == "" {
				res.Title = title
			}
		}
	}

	corr.Close()
	closed = true
	if err := <-corrDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("correlator stopped early", "error", err)
	}

	res.Events = log.Events()
	res.Digest, err = evidence.Digest(res.Events)
	if err != nil {
		return nil, fmt.Errorf("digest: %w", err)
	}
	res.Stats = Stats{Bridge: corr.Stats(), Network: observer.Stats()}
	if recorder != nil {
		res.Stats.HAREntries = recorder.Entries()
	}
	res.FinishedAt = c.now()

	logger.Info("run finished",
		"events", len(res.Events),
		"cookies", len(res.Cookies),
		"links", len(res.Links),
		"discarded", res.Stats.Bridge.Discarded,
	)
	return res, nil
}

// pageError classifies a navigation, idle-wait or settle failure. A cancelled
// parent context is a navigation failure; otherwise an expired page timeout
// is PAGE_TIMEOUT.
func (c *Collector) pageError(logger *slog.Logger, parent, page context.Context, runID, target string, code RunErrorCode, err error) error {
	switch {
	case parent.Err() != nil:
		code = ErrCodeNavigationFailed
		err = parent.Err()
	case errors.Is(page.Err(), context.DeadlineExceeded):
		code = ErrCodePageTimeout
	}
	logger.Error("run aborted", "code", code, "error", err)
	return &RunError{Code: code, RunID: runID, URL: target, Err: err}
}

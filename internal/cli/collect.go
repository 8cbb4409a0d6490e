package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/wec/internal/browser"
	"github.com/roach88/wec/internal/collector"
	"github.com/roach88/wec/internal/config"
	"github.com/roach88/wec/internal/evidence"
	"github.com/roach88/wec/internal/report"
	"github.com/roach88/wec/internal/store"
	"github.com/roach88/wec/internal/tracker"
)

// CollectOptions holds flags for the collect command.
type CollectOptions struct {
	*RootOptions

	Report       string
	ReportFormat string
	HAR          string
	Database     string
	FilterList   string
	PageTimeout  time.Duration
	Settle       time.Duration
	Headless     bool
	DNT          bool
	Lang         string
	UserAgent    string
	Surfaces     []string
}

// CollectSummary is what collect prints once the report is written.
type CollectSummary struct {
	RunID     string                `json:"run_id"`
	URL       string                `json:"url"`
	Events    int                   `json:"events"`
	ByKind    map[evidence.Kind]int `json:"by_kind"`
	Cookies   int                   `json:"cookies"`
	Links     int                   `json:"links"`
	Discarded int64                 `json:"discarded"`
	Digest    string                `json:"digest"`
	Report    string                `json:"report,omitempty"`
	Stored    bool                  `json:"stored"`
}

// Text renders the summary for humans.
func (s CollectSummary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", s.RunID, s.URL)
	fmt.Fprintf(&b, "  events:    %d\n", s.Events)
	for _, k := range evidence.Kinds() {
		if n := s.ByKind[k]; n > 0 {
			fmt.Fprintf(&b, "    %-22s %d\n", k, n)
		}
	}
	fmt.Fprintf(&b, "  cookies:   %d\n", s.Cookies)
	fmt.Fprintf(&b, "  links:     %d\n", s.Links)
	if s.Discarded > 0 {
		fmt.Fprintf(&b, "  discarded: %d\n", s.Discarded)
	}
	fmt.Fprintf(&b, "  digest:    %s\n", s.Digest)
	if s.Report != "" {
		fmt.Fprintf(&b, "  report:    %s\n", s.Report)
	}
	return b.String()
}

// NewCollectCommand creates the collect command.
func NewCollectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CollectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "collect <url>",
		Short: "Collect privacy evidence from one page",
		Long: `Load one page in an instrumented browser and record its evidence log.

The report is written to --output (stdout if unset). With --db the run is also
stored for later list/show/verify. Settings come from defaults, the --config
profile, WEC_* environment variables and finally these flags.

Example:
  wec collect https://example.com
  wec collect --db runs.db -o report.json --har run.har https://example.com
  wec collect --config profile.yaml --report-format yaml https://example.com`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(opts, args[0], cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Report, "output", "o", "", "report file (default stdout)")
	f.StringVar(&opts.ReportFormat, "report-format", "json", "report format (json|yaml)")
	f.StringVar(&opts.HAR, "har", "", "write a HAR file of the page traffic")
	f.StringVar(&opts.Database, "db", "", "store the run in this SQLite database")
	f.StringVar(&opts.FilterList, "filter-list", "", "EasyPrivacy-format filter list")
	f.DurationVar(&opts.PageTimeout, "page-timeout", 30*time.Second, "bound on navigation plus network idle (0 disables)")
	f.DurationVar(&opts.Settle, "settle", 0, "extra wait after network idle")
	f.BoolVar(&opts.Headless, "headless", true, "run the browser headless")
	f.BoolVar(&opts.DNT, "dnt", false, "send the DNT: 1 header")
	f.StringVar(&opts.Lang, "lang", "", "browser language, e.g. en or de-DE")
	f.StringVar(&opts.UserAgent, "user-agent", "", "override the browser user agent")
	f.StringSliceVar(&opts.Surfaces, "surface", nil, "storage surfaces to monitor (cookie, localStorage)")

	return cmd
}

func runCollect(opts *CollectOptions, target string, cmd *cobra.Command) error {
	if err := validateTarget(target); err != nil {
		return WrapExitError(ExitCommandError, "invalid url", err)
	}

	cfg, err := config.Load(config.Sources{Profile: opts.Config, DotEnv: opts.EnvFile})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	applyCollectFlags(cmd, opts, cfg)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	format, err := report.ParseFormat(cfg.Output.Format)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid report format", err)
	}

	logger := slog.Default()

	matcher, err := tracker.Load(cfg.Filter.List)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load filter list", err)
	}
	logger.Info("filter list loaded", "path", cfg.Filter.List, "rules", matcher.RuleCount())

	launcher := opts.Launcher
	if launcher == nil {
		launcher = browser.NewLauncher(browser.Options{
			Headless:     cfg.Browser.Headless,
			ExecPath:     cfg.Browser.ExecPath,
			UserAgent:    cfg.Browser.UserAgent,
			WindowWidth:  cfg.Browser.WindowWidth,
			WindowHeight: cfg.Browser.WindowHeight,
			Lang:         cfg.Browser.Lang,
			Args:         cfg.Browser.Args,
			DNT:          cfg.Browser.DNT,
			DNTJS:        cfg.Browser.DNTJS,
		}, logger)
	}

	collectorOpts := []collector.Option{
		collector.WithLogger(logger),
		collector.WithSurfaces(cfg.MonitorSurfaces()...),
		collector.WithPageTimeout(cfg.Network.PageTimeout),
		collector.WithSettle(cfg.Network.Settle),
		collector.WithIdle(cfg.Network.MaxInflight, cfg.Network.Quiet),
		collector.WithFilterListName(cfg.FilterName()),
		collector.WithVersion(Version),
	}
	if cfg.Output.HAR != "" {
		collectorOpts = append(collectorOpts, collector.WithHAR(cfg.Output.HAR))
	}
	if opts.RunIDs != nil {
		collectorOpts = append(collectorOpts, collector.WithRunIDs(opts.RunIDs))
	}
	if opts.Clock != nil {
		collectorOpts = append(collectorOpts, collector.WithClock(opts.Clock))
	}
	c := collector.New(launcher, matcher, collectorOpts...)

	// Open the store before the run so a bad path fails fast.
	var st *store.Store
	if cfg.Output.Store != "" {
		st, err = store.Open(cfg.Output.Store)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	started := time.Now()
	if opts.Clock != nil {
		started = opts.Clock()
	}
	res, err := c.Run(ctx, target)
	if err != nil {
		if st != nil {
			recordFailure(ctx, st, logger, target, started, err)
		}
		return &ExitError{Code: ExitFailure, Message: "collection failed: " + string(collector.Code(err)), Err: err}
	}

	doc := report.FromResult(res, Version)
	if err := writeReport(cmd.OutOrStdout(), cfg.Output.Report, doc, format); err != nil {
		return WrapExitError(ExitFailure, "failed to write report", err)
	}

	summary := CollectSummary{
		RunID:     res.RunID,
		URL:       res.URL,
		Events:    len(res.Events),
		ByKind:    countKinds(res.Events),
		Cookies:   len(res.Cookies),
		Links:     len(res.Links),
		Discarded: res.Stats.Bridge.Discarded,
		Digest:    res.Digest,
		Report:    cfg.Output.Report,
	}

	if st != nil {
		run, err := storedRun(res)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to store run", err)
		}
		if err := st.WriteRun(ctx, run); err != nil {
			return WrapExitError(ExitFailure, "failed to store run", err)
		}
		summary.Stored = true
		logger.Info("run stored", "run", res.RunID, "db", cfg.Output.Store)
	}

	// With the report on stdout the summary goes to stderr.
	out := cmd.OutOrStdout()
	if cfg.Output.Report == "" {
		out = cmd.ErrOrStderr()
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: out, Verbose: opts.Verbose}
	return formatter.Success(summary)
}

// applyCollectFlags overlays explicitly set flags on cfg.
func applyCollectFlags(cmd *cobra.Command, opts *CollectOptions, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("output") {
		cfg.Output.Report = opts.Report
	}
	if f.Changed("report-format") {
		cfg.Output.Format = opts.ReportFormat
	}
	if f.Changed("har") {
		cfg.Output.HAR = opts.HAR
	}
	if f.Changed("db") {
		cfg.Output.Store = opts.Database
	}
	if f.Changed("filter-list") {
		cfg.Filter.List = opts.FilterList
	}
	if f.Changed("page-timeout") {
		cfg.Network.PageTimeout = opts.PageTimeout
	}
	if f.Changed("settle") {
		cfg.Network.Settle = opts.Settle
	}
	if f.Changed("headless") {
		cfg.Browser.Headless = opts.Headless
	}
	if f.Changed("dnt") {
		cfg.Browser.DNT = opts.DNT
	}
	if f.Changed("lang") {
		cfg.Browser.Lang = opts.Lang
	}
	if f.Changed("user-agent") {
		cfg.Browser.UserAgent = opts.UserAgent
	}
	if f.Changed("surface") {
		cfg.Browser.Surfaces = opts.Surfaces
	}
}

func validateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q: scheme must be http or https", target)
	}
	if u.Host == "" {
		return fmt.Errorf("%q: missing host", target)
	}
	return nil
}

// writeReport writes doc to path, or to stdout when path is empty. A partial
// file is removed on error.
func writeReport(stdout io.Writer, path string, doc report.Document, format report.Format) error {
	if path == "" {
		return report.Write(stdout, doc, format)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.Write(f, doc, format); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// recordFailure stores a failed run so the attempt stays on record.
func recordFailure(ctx context.Context, st *store.Store, logger *slog.Logger, target string, started time.Time, runErr error) {
	var re *collector.RunError
	id := ""
	if errors.As(runErr, &re) {
		id = re.RunID
	}
	if id == "" {
		return
	}
	err := st.WriteRun(context.WithoutCancel(ctx), store.Run{
		ID:         id,
		URL:        target,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Status:     store.StatusFailed,
		Error:      runErr.Error(),
	})
	if err != nil {
		logger.Warn("failed run not stored", "run", id, "error", err)
	}
}

func countKinds(events []evidence.Event) map[evidence.Kind]int {
	counts := make(map[evidence.Kind]int)
	for _, e := range events {
		counts[e.Kind]++
	}
	return counts
}

// signalContext cancels on SIGINT/SIGTERM. It uses the command's context if
// one is set (for testing).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

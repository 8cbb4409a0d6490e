package cli

import (
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/spf13/cobra"

	"github.com/roach88/wec/internal/config"
	"github.com/roach88/wec/internal/tracker"
)

// MatchOptions holds flags for the match command.
type MatchOptions struct {
	*RootOptions
	FilterList string
	Source     string
	Type       string
}

// MatchResult is the match command's result.
type MatchResult struct {
	URL      string `json:"url"`
	Matched  bool   `json:"matched"`
	FilterID string `json:"filter_id,omitempty"`
	List     string `json:"list"`
}

// Text renders the result for humans.
func (r MatchResult) Text() string {
	if !r.Matched {
		return fmt.Sprintf("%s: no match in %s\n", r.URL, r.List)
	}
	return fmt.Sprintf("%s: matched %s filter %s\n", r.URL, r.List, r.FilterID)
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "match <url>",
		Short: "Check a request URL against the tracker filter list",
		Long: `Classify one request the way collect does, without a browser.

Example:
  wec match https://www.google-analytics.com/analytics.js --type Script
  wec match --source https://shop.example/ https://px.example/p.gif --type Image`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.Sources{Profile: opts.Config, DotEnv: opts.EnvFile})
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			if cmd.Flags().Changed("filter-list") {
				cfg.Filter.List = opts.FilterList
			}

			engine, err := tracker.Load(cfg.Filter.List)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load filter list", err)
			}

			source := opts.Source
			if source == "" {
				source = args[0]
			}
			res := engine.Match(tracker.Request{
				SourceURL: source,
				URL:       args[0],
				Kind:      tracker.KindFromCDP(network.ResourceType(opts.Type)),
			})

			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			return formatter.Success(MatchResult{
				URL:      args[0],
				Matched:  res.Matched,
				FilterID: res.FilterID,
				List:     cfg.FilterName(),
			})
		},
	}

	cmd.Flags().StringVar(&opts.FilterList, "filter-list", "", "EasyPrivacy-format filter list")
	cmd.Flags().StringVar(&opts.Source, "source", "", "document that issues the request (default: the url itself)")
	cmd.Flags().StringVar(&opts.Type, "type", "Other", "DevTools resource type (Document, Script, Image, XHR, ...)")

	return cmd
}

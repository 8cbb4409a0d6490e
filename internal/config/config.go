// Package config assembles the settings of a collection run.
//
// Precedence, lowest first: built-in defaults, a YAML profile file, the
// environment (WEC_* variables, optionally from a .env file), and finally
// command-line flags, which the cli package applies on top of Load's result.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/roach88/wec/internal/monitor"
	"github.com/roach88/wec/internal/network"
)

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "WEC_"

// Config is the complete run configuration.
type Config struct {
	Browser Browser `yaml:"browser" envPrefix:"BROWSER_"`
	Network Network `yaml:"network" envPrefix:"NETWORK_"`
	Filter  Filter  `yaml:"filter" envPrefix:"FILTER_"`
	Output  Output  `yaml:"output" envPrefix:"OUTPUT_"`
}

// Browser configures the browser process and the in-page monitor.
type Browser struct {
	Headless     bool     `yaml:"headless" env:"HEADLESS"`
	ExecPath     string   `yaml:"execPath" env:"EXEC_PATH"`
	UserAgent    string   `yaml:"userAgent" env:"USER_AGENT"`
	WindowWidth  int      `yaml:"windowWidth" env:"WINDOW_WIDTH"`
	WindowHeight int      `yaml:"windowHeight" env:"WINDOW_HEIGHT"`
	Lang         string   `yaml:"lang" env:"LANG"`
	Args         []string `yaml:"args" env:"ARGS"`
	DNT          bool     `yaml:"dnt" env:"DNT"`
	DNTJS        bool     `yaml:"dntJs" env:"DNT_JS"`
	Surfaces     []string `yaml:"surfaces" env:"SURFACES"`
}

// Network configures page timing.
type Network struct {
	PageTimeout time.Duration `yaml:"pageTimeout" env:"PAGE_TIMEOUT"`
	Settle      time.Duration `yaml:"settle" env:"SETTLE"`
	MaxInflight int           `yaml:"maxInflight" env:"MAX_INFLIGHT"`
	Quiet       time.Duration `yaml:"quiet" env:"QUIET"`
}

// Filter selects the tracker filter list.
type Filter struct {
	// List is the path of an EasyPrivacy-format list.
	List string `yaml:"list" env:"LIST"`
	// Name is how tracking provenance refers to the list.
	Name string `yaml:"name" env:"NAME"`
}

// Output selects where results go.
type Output struct {
	// Format is json or yaml.
	Format string `yaml:"format" env:"FORMAT"`
	// Report is the report file path. Empty means stdout.
	Report string `yaml:"report" env:"REPORT"`
	// HAR is the HAR file path. Empty disables HAR recording.
	HAR string `yaml:"har" env:"HAR"`
	// Store is the SQLite database path. Empty disables persistence.
	Store string `yaml:"store" env:"STORE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	surfaces := make([]string, 0, len(monitor.DefaultSurfaces))
	for _, s := range monitor.DefaultSurfaces {
		surfaces = append(surfaces, string(s))
	}
	return &Config{
		Browser: Browser{
			Headless:     true,
			WindowWidth:  1920,
			WindowHeight: 1080,
			Lang:         "en",
			Surfaces:     surfaces,
		},
		Network: Network{
			PageTimeout: 30 * time.Second,
			MaxInflight: network.DefaultMaxInflight,
			Quiet:       network.DefaultQuiet,
		},
		Filter: Filter{
			List: "easyprivacy.txt",
			Name: "easyprivacy.txt",
		},
		Output: Output{
			Format: "json",
		},
	}
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Browser.WindowWidth < 0 || c.Browser.WindowHeight < 0 {
		errs = append(errs, errors.New("browser window size must not be negative"))
	}
	if c.Browser.Lang != "" {
		if _, err := language.Parse(c.Browser.Lang); err != nil {
			errs = append(errs, fmt.Errorf("browser lang %q: %w", c.Browser.Lang, err))
		}
	}
	if _, err := monitor.ParseSurfaces(c.Browser.Surfaces); err != nil {
		errs = append(errs, err)
	}
	if len(c.Browser.Surfaces) == 0 {
		errs = append(errs, errors.New("at least one monitor surface is required"))
	}

	if c.Network.PageTimeout < 0 {
		errs = append(errs, errors.New("network pageTimeout must not be negative"))
	}
	if c.Network.Settle < 0 {
		errs = append(errs, errors.New("network settle must not be negative"))
	}
	if c.Network.Quiet < 0 {
		errs = append(errs, errors.New("network quiet must not be negative"))
	}
	if c.Network.MaxInflight < 0 {
		errs = append(errs, errors.New("network maxInflight must not be negative"))
	}

	if strings.TrimSpace(c.Filter.List) == "" {
		errs = append(errs, errors.New("filter list path is required"))
	}

	switch strings.ToLower(c.Output.Format) {
	case "json", "yaml", "yml":
	default:
		errs = append(errs, fmt.Errorf("output format %q: want json or yaml", c.Output.Format))
	}

	return errors.Join(errs...)
}

// MonitorSurfaces returns the configured surfaces. Call Validate first.
func (c *Config) MonitorSurfaces() []monitor.Surface {
	s, _ := monitor.ParseSurfaces(c.Browser.Surfaces)
	return s
}

// FilterName returns the list name for provenance, defaulting to the file name
// of the list.
func (c *Config) FilterName() string {
	if c.Filter.Name != "" {
		return c.Filter.Name
	}
	name := c.Filter.List
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

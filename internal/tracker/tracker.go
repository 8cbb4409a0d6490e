// Package tracker classifies outgoing requests against an EasyPrivacy-style
// filter list.
//
// The list is compiled once at startup into an immutable Engine. Matching is
// read-only and safe for concurrent use by every network observer of a run.
package tracker

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/AdguardTeam/urlfilter"
	"github.com/AdguardTeam/urlfilter/filterlist"
	"github.com/AdguardTeam/urlfilter/rules"
)

// Request is one outgoing request to classify.
type Request struct {
	// SourceURL is the document that issued the request.
	SourceURL string
	// URL is the destination.
	URL string
	// Kind is the filter-list resource kind (see KindFromCDP).
	Kind ResourceKind
}

// Result is the outcome of matching one request.
type Result struct {
	Matched bool
	// FilterID identifies the matching rule. Empty unless Matched.
	FilterID string
}

// Matcher classifies requests. Engine is the production implementation.
type Matcher interface {
	Match(Request) Result
}

// Engine is a compiled, immutable filter list.
type Engine struct {
	name    string
	rules   int
	network *urlfilter.NetworkEngine
}

// LoadError reports a filter list that could not be turned into an Engine.
// It is fatal at startup.
type LoadError struct {
	// Source is the file path or list name.
	Source string
	// Reason is a short human-readable description.
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load filter list %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("load filter list %s: %s", e.Source, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsLoadError reports whether err is (or wraps) a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// Load reads and compiles the filter list at path.
func Load(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Source: path, Reason: "read failed", Err: err}
	}
	return Parse(path, string(data))
}

// Parse compiles filter list text. Cosmetic (element hiding) rules are
// ignored; a list with no network rules is rejected.
func Parse(name, text string) (*Engine, error) {
	n := countNetworkRules(text)
	if n == 0 {
		return nil, &LoadError{Source: name, Reason: "no network rules"}
	}

	list := &filterlist.StringRuleList{
		ID:             1,
		RulesText:      text,
		IgnoreCosmetic: true,
	}
	storage, err := filterlist.NewRuleStorage([]filterlist.RuleList{list})
	if err != nil {
		return nil, &LoadError{Source: name, Reason: "compile failed", Err: err}
	}

	return &Engine{
		name:    name,
		rules:   n,
		network: urlfilter.NewNetworkEngine(storage),
	}, nil
}

// Match classifies r. Exception (@@) rules never produce a match.
func (e *Engine) Match(r Request) Result {
	req := rules.NewRequest(r.URL, r.SourceURL, r.Kind.requestType())
	rule, ok := e.network.Match(req)
	if !ok || rule == nil {
		return Result{}
	}
	if strings.HasPrefix(rule.RuleText, "@@") {
		return Result{}
	}
	return Result{Matched: true, FilterID: rule.RuleText}
}

// Name returns the list name (its path when loaded from a file).
func (e *Engine) Name() string {
	return e.name
}

// RuleCount returns how many network rules the list declared.
func (e *Engine) RuleCount() int {
	return e.rules
}

// countNetworkRules counts lines that are neither blank, comments, headers
// nor cosmetic rules.
func countNetworkRules(text string) int {
	n := 0
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "!"), strings.HasPrefix(line, "["):
		case isCosmetic(line):
		default:
			n++
		}
	}
	return n
}

func isCosmetic(line string) bool {
	for _, marker := range []string{"##", "#@#", "#?#", "#$#", "#%#"} {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

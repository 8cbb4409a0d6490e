// Package report writes the exported form of a run.
//
// A Document is what leaves the process: the ordered evidence log together
// with the end-of-run snapshot. Every writer validates the document against
// the embedded JSON Schema first, so a malformed export is never produced.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/wec/internal/collector"
	"github.com/roach88/wec/internal/evidence"
)

// ToolName is recorded in every document.
const ToolName = "wec"

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want json or yaml)", s)
	}
}

// Document is the export of one run.
type Document struct {
	Tool       string             `json:"tool" yaml:"tool"`
	Version    string             `json:"version" yaml:"version"`
	RunID      string             `json:"runId" yaml:"runId"`
	URL        string             `json:"url" yaml:"url"`
	FinalURL   string             `json:"finalUrl,omitempty" yaml:"finalUrl,omitempty"`
	Title      string             `json:"title,omitempty" yaml:"title,omitempty"`
	StartedAt  time.Time          `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt" yaml:"finishedAt"`
	Digest     string             `json:"digest" yaml:"digest"`
	Events     []evidence.Event   `json:"events" yaml:"events"`
	Cookies    []collector.Cookie `json:"cookies" yaml:"cookies"`
	Links      []collector.Link   `json:"links" yaml:"links"`
	Stats      collector.Stats    `json:"stats" yaml:"stats"`
}

// FromResult builds the document of a finished run.
func FromResult(res *collector.Result, version string) Document {
	doc := Document{
		Tool:       ToolName,
		Version:    version,
		RunID:      res.RunID,
		URL:        res.URL,
		FinalURL:   res.FinalURL,
		Title:      res.Title,
		StartedAt:  res.StartedAt.UTC(),
		FinishedAt: res.FinishedAt.UTC(),
		Digest:     res.Digest,
		Events:     res.Events,
		Cookies:    res.Cookies,
		Links:      res.Links,
		Stats:      res.Stats,
	}
	doc.normalize()
	return doc
}

// normalize replaces nil slices so they export as [] rather than null.
func (d *Document) normalize() {
	if d.Events == nil {
		d.Events = []evidence.Event{}
	}
	if d.Cookies == nil {
		d.Cookies = []collector.Cookie{}
	}
	if d.Links == nil {
		d.Links = []collector.Link{}
	}
}

// Write validates doc and encodes it to w.
func Write(w io.Writer, doc Document, format Format) error {
	doc.normalize()
	if err := Validate(doc); err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("write json report: %w", err)
		}
		return nil

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("write yaml report: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("write yaml report: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("write report: unknown format %q", format)
	}
}

// VerifyDigest recomputes the digest of doc's events and compares it with
// doc.Digest.
func VerifyDigest(doc Document) error {
	got, err := evidence.Digest(doc.Events)
	if err != nil {
		return fmt.Errorf("verify digest: %w", err)
	}
	if got != doc.Digest {
		return fmt.Errorf("verify digest: document says %s, events hash to %s", doc.Digest, got)
	}
	return nil
}

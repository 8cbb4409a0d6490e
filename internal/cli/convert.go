package cli

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/wec/internal/collector"
	"github.com/roach88/wec/internal/report"
	"github.com/roach88/wec/internal/store"
)

// runSnapshot is the stored end-of-run state (runs.snapshot).
type runSnapshot struct {
	Version string             `json:"version"`
	Cookies []collector.Cookie `json:"cookies"`
	Links   []collector.Link   `json:"links"`
	Stats   collector.Stats    `json:"stats"`
}

// storedRun converts a finished collection to its store form.
func storedRun(res *collector.Result) (store.Run, error) {
	snap, err := json.Marshal(runSnapshot{
		Version: Version,
		Cookies: res.Cookies,
		Links:   res.Links,
		Stats:   res.Stats,
	})
	if err != nil {
		return store.Run{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	return store.Run{
		ID:         res.RunID,
		URL:        res.URL,
		FinalURL:   res.FinalURL,
		Title:      res.Title,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Status:     store.StatusComplete,
		Digest:     res.Digest,
		Snapshot:   snap,
		Events:     res.Events,
	}, nil
}

// documentFromRun rebuilds the report of a stored run.
func documentFromRun(r *store.Run) (report.Document, error) {
	var snap runSnapshot
	if len(r.Snapshot) > 0 {
		if err := json.Unmarshal(r.Snapshot, &snap); err != nil {
			return report.Document{}, fmt.Errorf("run %s snapshot: %w", r.ID, err)
		}
	}
	res := &collector.Result{
		RunID:      r.ID,
		URL:        r.URL,
		FinalURL:   r.FinalURL,
		Title:      r.Title,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Events:     r.Events,
		Digest:     r.Digest,
		Cookies:    snap.Cookies,
		Links:      snap.Links,
		Stats:      snap.Stats,
	}
	version := snap.Version
	if version == "" {
		version = Version
	}
	return report.FromResult(res, version), nil
}

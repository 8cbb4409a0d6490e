package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/wec/internal/evidence"
)

// ErrRunNotFound is returned when a run ID is not in the store.
var ErrRunNotFound = errors.New("run not found")

// ErrDigestMismatch is returned by VerifyRun when the stored events no longer
// hash to the digest recorded with the run.
var ErrDigestMismatch = errors.New("digest mismatch")

// RunSummary is one row of ListRuns.
type RunSummary struct {
	ID         string    `json:"id" yaml:"id"`
	URL        string    `json:"url" yaml:"url"`
	StartedAt  time.Time `json:"startedAt" yaml:"startedAt"`
	Status     RunStatus `json:"status" yaml:"status"`
	EventCount int       `json:"eventCount" yaml:"eventCount"`
	Digest     string    `json:"digest" yaml:"digest"`
}

// ReadRun returns the run with id and its events in log order.
func (s *Store) ReadRun(ctx context.Context, id string) (*Run, error) {
	var (
		r                 Run
		started, finished string
		status, snapshot  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, url, final_url, title, started_at, finished_at, status, error, digest, snapshot
		FROM runs
		WHERE id = ?
	`, id).Scan(&r.ID, &r.URL, &r.FinalURL, &r.Title, &started, &finished, &status, &r.Error, &r.Digest, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}

	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}
	if r.FinishedAt, err = parseTime(finished); err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}
	r.Status = RunStatus(status)
	r.Snapshot = json.RawMessage(snapshot)

	r.Events, err = s.ReadEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ReadEvents returns the events of a run ordered by seq.
func (s *Store) ReadEvents(ctx context.Context, runID string) ([]evidence.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, ts, provenance, raw_payload, parsed_payload
		FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read events %s: %w", runID, err)
	}
	defer rows.Close()

	events := make([]evidence.Event, 0, 64)
	for rows.Next() {
		var (
			e                      evidence.Event
			kind, ts, prov, parsed string
		)
		if err := rows.Scan(&e.Seq, &kind, &ts, &prov, &e.RawPayload, &parsed); err != nil {
			return nil, fmt.Errorf("read events %s: scan: %w", runID, err)
		}
		e.Kind = evidence.Kind(kind)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("read events %s: seq %d: %w", runID, e.Seq, err)
		}
		if e.Provenance, err = unmarshalProvenance(prov); err != nil {
			return nil, fmt.Errorf("read events %s: seq %d: %w", runID, e.Seq, err)
		}
		if e.ParsedPayload, err = unmarshalPayload(e.Kind, parsed); err != nil {
			return nil, fmt.Errorf("read events %s: seq %d: %w", runID, e.Seq, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events %s: %w", runID, err)
	}
	return events, nil
}

// ListRuns returns every run, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.url, r.started_at, r.status, r.digest,
		       (SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at ASC, r.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunSummary, 0, 16)
	for rows.Next() {
		var (
			rs              RunSummary
			started, status string
		)
		if err := rows.Scan(&rs.ID, &rs.URL, &started, &status, &rs.Digest, &rs.EventCount); err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		if rs.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		rs.Status = RunStatus(status)
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// VerifyRun recomputes the digest of a stored run's events and compares it
// with the digest recorded at write time.
func (s *Store) VerifyRun(ctx context.Context, id string) error {
	r, err := s.ReadRun(ctx, id)
	if err != nil {
		return err
	}
	got, err := evidence.Digest(r.Events)
	if err != nil {
		return fmt.Errorf("verify run %s: %w", id, err)
	}
	if got != r.Digest {
		return fmt.Errorf("verify run %s: %w (stored %s, computed %s)", id, ErrDigestMismatch, r.Digest, got)
	}
	return nil
}

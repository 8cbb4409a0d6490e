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

// RunStatus is the outcome recorded for a run.
type RunStatus string

const (
	StatusComplete RunStatus = "complete"
	StatusFailed   RunStatus = "failed"
)

// Run is one collection run with its finalized evidence log.
type Run struct {
	ID         string
	URL        string
	FinalURL   string
	Title      string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	// Error is the run error message of a failed run.
	Error  string
	Digest string
	// Snapshot is an opaque JSON document describing the final page state
	// (cookie jar, links). Empty means "{}".
	Snapshot json.RawMessage
	Events   []evidence.Event
}

// WriteRun stores r and all of its events in one transaction. A run ID can be
// written only once.
func (s *Store) WriteRun(ctx context.Context, r Run) (err error) {
	if r.ID == "" {
		return errors.New("write run: empty run id")
	}
	if r.Status == "" {
		r.Status = StatusComplete
	}
	snapshot := "{}"
	if len(r.Snapshot) > 0 {
		snapshot = string(r.Snapshot)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, url, final_url, title, started_at, finished_at, status, error, digest, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.URL,
		r.FinalURL,
		r.Title,
		formatTime(r.StartedAt),
		formatTime(r.FinishedAt),
		string(r.Status),
		r.Error,
		r.Digest,
		snapshot,
	)
	if err != nil {
		return fmt.Errorf("write run %s: %w", r.ID, err)
	}

	if err = writeEvents(ctx, tx, r.ID, r.Events); err != nil {
		return fmt.Errorf("write run %s: %w", r.ID, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("write run %s: commit: %w", r.ID, err)
	}
	return nil
}

func writeEvents(ctx context.Context, tx *sql.Tx, runID string, events []evidence.Event) error {
	if len(events) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
		(run_id, seq, kind, ts, provenance, raw_payload, parsed_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare events: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", e.Seq, err)
		}
		prov, err := marshalProvenance(e.Provenance)
		if err != nil {
			return fmt.Errorf("event %d: %w", e.Seq, err)
		}
		payload, err := marshalPayload(e)
		if err != nil {
			return fmt.Errorf("event %d: %w", e.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx,
			runID,
			e.Seq,
			string(e.Kind),
			formatTime(e.Timestamp),
			prov,
			e.RawPayload,
			payload,
		); err != nil {
			return fmt.Errorf("event %d: %w", e.Seq, err)
		}
	}
	return nil
}

// Package store provides SQLite-backed durable storage for finalized
// evidence logs.
//
// Each collection run is written once, together with its whole log, in a
// single transaction:
//   - runs: one row per run (target, timing, status, digest, page snapshot)
//   - events: the run's evidence log, one row per event
//
// # Invariants
//
// Append-only:
//   - Triggers abort every UPDATE or DELETE on events, and every UPDATE on runs
//   - A run ID can be written only once (PRIMARY KEY)
//
// Logical ordering:
//   - Events are keyed by (run_id, seq) and always read ORDER BY seq ASC
//   - Timestamps are informational; they never order anything
//
// Lossless payloads:
//   - parsed_payload is stored as RFC 8785 canonical JSON
//   - storage values are stored as the raw written strings and decoded again
//     on read, so the structured/opaque distinction survives a round trip
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

// Package evidence defines the canonical Event model and the append-only
// Evidence Log of one collection run.
//
// # Events
//
// An Event is the atomic unit of evidence. Its Kind is one of a closed set
// (see Kinds) and determines the concrete type of ParsedPayload:
//
//	Cookie.JS, Cookie.HTTP   -> CookiePayload
//	Storage.LocalStorage     -> StoragePayload
//	Request.Tracking         -> TrackingPayload
//
// Consumers must check Kind (or use the typed accessors on Event) before
// inspecting ParsedPayload.
//
// # Ordering
//
// Every appended event receives a Seq from the log's logical clock. Seq is the
// log position: strictly increasing in append order and never reused.
//
// Timestamps are taken when the host receives an observation, not when the page
// performed the action. Events coming from the page (cookie and storage writes)
// and events coming from the network layer travel different paths to the host,
// so there is NO ordering guarantee across those two streams: a cookie written
// by a script just before it fires a tracking request may appear after that
// request in the log. Within one stream, order is causal.
//
// # Ownership
//
// NewLog returns the read side (*Log) and the only write side (*Writer). The
// correlator holds the Writer for the duration of a run and finalizes it when
// the run ends; afterwards the log is read-only and belongs to the caller.
package evidence

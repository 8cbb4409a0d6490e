// Package harness replays scripted observations through the evidence
// pipeline without a browser.
//
// A scenario lists what the page reports over the binding and what the
// network delivers, in order. The harness feeds page reports to a
// bridge.Correlator and network events to a network.Observer wired to the
// same correlator, closes the run and checks assertions against the
// resulting Evidence Log.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	filter_rules: |
//	  ||tracker.test^
//	steps:
//	  - page:
//	      kind: Cookie.JS
//	      stack: "Error\n    at setConsent (https://shop.test/app.js:10:3)"
//	      payload: "consent=yes"
//	  - binding: "not a bridge message"
//	  - request: { id: "1", url: "https://tracker.test/p.gif", document: "https://shop.test/", type: Image }
//	  - response: { id: "1", url: "https://shop.test/", set_cookie: "sid=1" }
//	  - extra_info: { id: "1", set_cookie: "sid=1" }
//	  - finished: "1"
//	assertions:
//	  - type: event_count
//	    kind: Cookie.JS
//	    count: 1
//
// # Assertion Types
//
//   - event_contains: some event of kind has a raw payload containing raw
//   - event_order: the listed kinds appear in log order (gaps allowed)
//   - event_count: exactly count events of kind
//   - provenance: the event at seq has the given first frame, or is unavailable
//   - discarded: exactly count observations were discarded
//
// # Deterministic Testing
//
// Receipt times come from a testutil.StepClock starting at testutil.Epoch,
// so a replayed scenario produces the same log every time and can be
// compared against a golden rendering (see RunWithGolden).
package harness

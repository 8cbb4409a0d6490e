package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/wec/internal/evidence"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string           // Assertion type for categorization
	Expected string           // Human-readable expected outcome
	Actual   string           // Human-readable actual outcome
	Events   []evidence.Event // Full log for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull log:\n")
	for _, ev := range e.Events {
		fmt.Fprintf(&buf, "  [%d] %s %q\n", ev.Seq, ev.Kind, ev.RawPayload)
	}

	return buf.String()
}

func assertEventContains(events []evidence.Event, a Assertion) error {
	for _, ev := range events {
		if string(ev.Kind) == a.Kind && strings.Contains(ev.RawPayload, a.Raw) {
			return nil
		}
	}

	expected := a.Kind
	if a.Raw != "" {
		expected = fmt.Sprintf("%s with raw payload containing %q", a.Kind, a.Raw)
	}
	return &AssertionError{
		Type:     AssertEventContains,
		Expected: expected,
		Actual:   "not found",
		Events:   events,
	}
}

// assertEventOrder checks that the kinds appear in log order. Other events
// may sit between them.
func assertEventOrder(events []evidence.Event, a Assertion) error {
	next := 0
	for _, ev := range events {
		if next < len(a.Kinds) && string(ev.Kind) == a.Kinds[next] {
			next++
		}
	}
	if next == len(a.Kinds) {
		return nil
	}

	var found string
	if next == 0 {
		found = "none of the sequence"
	} else {
		found = fmt.Sprintf("%s, then no %s", strings.Join(a.Kinds[:next], " -> "), a.Kinds[next])
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: strings.Join(a.Kinds, " -> "),
		Actual:   found,
		Events:   events,
	}
}

func assertEventCount(events []evidence.Event, a Assertion) error {
	count := 0
	for _, ev := range events {
		if string(ev.Kind) == a.Kind {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%d %s events", a.Count, a.Kind),
		Actual:   fmt.Sprintf("%d", count),
		Events:   events,
	}
}

func assertProvenance(events []evidence.Event, a Assertion) error {
	var ev *evidence.Event
	for i := range events {
		if events[i].Seq == a.Seq {
			ev = &events[i]
			break
		}
	}
	if ev == nil {
		return &AssertionError{
			Type:     AssertProvenance,
			Expected: fmt.Sprintf("event with seq %d", a.Seq),
			Actual:   fmt.Sprintf("log has %d events", len(events)),
			Events:   events,
		}
	}

	fail := func(expected, actual string) error {
		return &AssertionError{
			Type:     AssertProvenance,
			Expected: fmt.Sprintf("seq %d: %s", a.Seq, expected),
			Actual:   actual,
			Events:   events,
		}
	}

	if a.Unavailable {
		if !ev.Provenance.Unavailable {
			return fail("provenance unavailable", fmt.Sprintf("%d frames", len(ev.Provenance.Frames)))
		}
		return nil
	}
	if ev.Provenance.Unavailable || len(ev.Provenance.Frames) == 0 {
		return fail("a first frame", "provenance unavailable")
	}

	f := ev.Provenance.Frames[0]
	if a.File != "" && f.FileName != a.File {
		return fail("file "+a.File, "file "+f.FileName)
	}
	if a.Function != "" && f.FunctionName != a.Function {
		return fail("function "+a.Function, "function "+f.FunctionName)
	}
	if a.Source != "" && !strings.Contains(f.Source, a.Source) {
		return fail(fmt.Sprintf("source containing %q", a.Source), fmt.Sprintf("source %q", f.Source))
	}
	return nil
}

func assertDiscarded(result *Result, a Assertion) error {
	if result.Bridge.Discarded == int64(a.Count) {
		return nil
	}
	return &AssertionError{
		Type:     AssertDiscarded,
		Expected: fmt.Sprintf("%d discarded observations", a.Count),
		Actual:   fmt.Sprintf("%d", result.Bridge.Discarded),
		Events:   result.Events,
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventContains:
			err = assertEventContains(result.Events, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result.Events, assertion)
		case AssertEventCount:
			err = assertEventCount(result.Events, assertion)
		case AssertProvenance:
			err = assertProvenance(result.Events, assertion)
		case AssertDiscarded:
			err = assertDiscarded(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

package harness

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/wec/internal/evidence"
	"github.com/roach88/wec/internal/testutil"
)

// Render writes a result as a line-oriented trace. Times are offsets from
// testutil.Epoch so the rendering is stable across replays.
func Render(name string, result *Result) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "scenario: %s\n", name)
	fmt.Fprintf(&b, "bridge: received=%d appended=%d discarded=%d\n",
		result.Bridge.Received, result.Bridge.Appended, result.Bridge.Discarded)
	fmt.Fprintf(&b, "network: requests=%d tracking=%d set_cookie=%d duplicate=%d\n",
		result.Network.Requests, result.Network.TrackingMatches,
		result.Network.SetCookieResponses, result.Network.DuplicateHeaders)

	for _, ev := range result.Events {
		fmt.Fprintf(&b, "#%d %s t+%dms\n", ev.Seq, ev.Kind, ev.Timestamp.Sub(testutil.Epoch).Milliseconds())
		fmt.Fprintf(&b, "  raw: %q\n", ev.RawPayload)
		fmt.Fprintf(&b, "  parsed: %s\n", summarize(ev))
		if ev.Provenance.Unavailable {
			b.WriteString("  provenance: unavailable\n")
			continue
		}
		for _, f := range ev.Provenance.Frames {
			b.WriteString(renderFrame(f))
		}
	}
	return []byte(b.String())
}

func summarize(ev evidence.Event) string {
	if records, ok := ev.Cookies(); ok {
		names := make([]string, 0, len(records))
		for _, r := range records {
			if r.Invalid {
				names = append(names, "!invalid")
				continue
			}
			names = append(names, r.Name)
		}
		return "cookies " + strings.Join(names, ", ")
	}
	if storage, ok := ev.Storage(); ok {
		keys := make([]string, 0, len(storage))
		for k := range storage {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			form := "json"
			if storage[k].Opaque {
				form = "opaque"
			}
			parts = append(parts, fmt.Sprintf("%s (%s)", k, form))
		}
		return "storage " + strings.Join(parts, ", ")
	}
	if t, ok := ev.Tracking(); ok {
		return "tracking " + t.FilterID
	}
	return "-"
}

func renderFrame(f evidence.Frame) string {
	if f.LineNumber == 0 {
		return fmt.Sprintf("  from %s: %s\n", f.FileName, f.Source)
	}
	name := f.FunctionName
	if name == "" {
		name = "<anonymous>"
	}
	return fmt.Sprintf("  at %s (%s:%d:%d)\n", name, f.FileName, f.LineNumber, f.ColumnNumber)
}

// RunWithGolden executes a scenario and compares its rendering against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. A mismatch fails t via goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Render(name, result))
}

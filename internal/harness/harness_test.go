package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wec/internal/evidence"
	"github.com/roach88/wec/internal/testutil"
)

func strPtr(s string) *string { return &s }

func TestRun_PageReport(t *testing.T) {
	scenario := &Scenario{
		Name:        "single_cookie",
		Description: "one document.cookie write",
		Steps: []Step{
			{Page: &PageReport{
				Kind:    "Cookie.JS",
				Stack:   strPtr("Error\n    at track (https://cdn.test/t.js:4:2)"),
				Payload: "uid=42; max-age=60",
			}},
		},
		Assertions: []Assertion{
			{Type: AssertEventCount, Kind: "Cookie.JS", Count: 1},
			{Type: AssertProvenance, Seq: 1, File: "https://cdn.test/t.js", Function: "track"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Events, 1)

	ev := result.Events[0]
	assert.Equal(t, int64(1), ev.Seq)
	assert.True(t, testutil.Epoch.Equal(ev.Timestamp))
	records, ok := ev.Cookies()
	require.True(t, ok)
	assert.Equal(t, "uid", records[0].Name)

	digest, err := evidence.Digest(result.Events)
	require.NoError(t, err)
	assert.Equal(t, digest, result.Digest)
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing",
		Description: "assertions that do not hold",
		Steps: []Step{
			{Binding: strPtr("{")},
		},
		Assertions: []Assertion{
			{Type: AssertEventCount, Kind: "Cookie.JS", Count: 1},
			{Type: AssertDiscarded, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "1 Cookie.JS events")
	assert.Empty(t, result.Events)
	assert.Equal(t, int64(1), result.Bridge.Discarded)
}

func TestRun_FilterListName(t *testing.T) {
	scenario := &Scenario{
		Name:           "named_list",
		Description:    "tracking provenance quotes the configured list name",
		FilterRules:    "||ads.test^\n",
		FilterListName: "custom.txt",
		Steps: []Step{
			{Request: &RequestStep{ID: "7", URL: "https://ads.test/x.js", Document: "https://news.test/", Type: "Script"}},
		},
		Assertions: []Assertion{
			{Type: AssertProvenance, Seq: 1, Source: "matched with custom.txt filter ||ads.test^"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, int64(1), result.Network.Requests)
	assert.Equal(t, int64(1), result.Network.TrackingMatches)
}

func TestRun_NoFilterRulesNeverTracks(t *testing.T) {
	scenario := &Scenario{
		Name:        "no_rules",
		Description: "without a list nothing is tracking",
		Steps: []Step{
			{Request: &RequestStep{ID: "1", URL: "https://tracker.test/p.gif", Document: "https://shop.test/"}},
			{Finished: "1"},
		},
		Assertions: []Assertion{
			{Type: AssertEventCount, Kind: "Request.Tracking", Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, int64(1), result.Network.Requests)
}

func TestRun_BadFilterRules(t *testing.T) {
	scenario := &Scenario{
		Name:        "comments_only",
		Description: "a list without network rules is rejected",
		FilterRules: "! nothing here\n",
		Steps:       []Step{{Finished: "1"}},
		Assertions:  []Assertion{{Type: AssertDiscarded}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile filter rules")
}

func TestRun_UnencodablePayload(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_payload",
		Description: "a payload JSON cannot encode stops the replay",
		Steps: []Step{
			{Page: &PageReport{Kind: "Cookie.JS", Payload: make(chan int)}},
		},
		Assertions: []Assertion{{Type: AssertDiscarded}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1: encode page report")
}

func TestRun_ScenarioFilesPass(t *testing.T) {
	for _, name := range []string{"page_reports", "network"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/network.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, Render(scenario.Name, first), Render(scenario.Name, second))
}

package tracker

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageURL = "https://shop.test/products"

func loadSample(t *testing.T) *Engine {
	t.Helper()
	e, err := Load(filepath.Join("testdata", "easyprivacy-sample.txt"))
	require.NoError(t, err)
	return e
}

func TestLoad_CountsNetworkRules(t *testing.T) {
	e := loadSample(t)
	assert.Equal(t, 6, e.RuleCount(), "comments, header and cosmetic rules are not counted")
	assert.Equal(t, filepath.Join("testdata", "easyprivacy-sample.txt"), e.Name())
}

func TestEngine_Match(t *testing.T) {
	e := loadSample(t)

	tests := []struct {
		name     string
		req      Request
		matched  bool
		filterID string
	}{
		{
			name:     "blocked domain",
			req:      Request{SourceURL: pageURL, URL: "https://tracker.test/collect?id=1", Kind: KindXHR},
			matched:  true,
			filterID: "||tracker.test^",
		},
		{
			name:     "path pattern",
			req:      Request{SourceURL: pageURL, URL: "https://cdn.other.test/lib/analytics.js", Kind: KindScript},
			matched:  true,
			filterID: "/analytics.js",
		},
		{
			name:    "exception rule",
			req:     Request{SourceURL: pageURL, URL: "https://tracker.test/consent-check", Kind: KindXHR},
			matched: false,
		},
		{
			name:    "type restricted rule, wrong type",
			req:     Request{SourceURL: pageURL, URL: "https://scripts.test/logo.png", Kind: KindImage},
			matched: false,
		},
		{
			name:     "type restricted rule, right type",
			req:      Request{SourceURL: pageURL, URL: "https://scripts.test/t.js", Kind: KindScript},
			matched:  true,
			filterID: "||scripts.test^$script",
		},
		{
			name:    "third-party rule, first-party request",
			req:     Request{SourceURL: "https://beacon.test/", URL: "https://beacon.test/b", Kind: KindImage},
			matched: false,
		},
		{
			name:     "third-party rule, third-party request",
			req:      Request{SourceURL: pageURL, URL: "https://beacon.test/b", Kind: KindImage},
			matched:  true,
			filterID: "||beacon.test^$third-party",
		},
		{
			name:    "ordinary first-party asset",
			req:     Request{SourceURL: pageURL, URL: "https://shop.test/app.js", Kind: KindScript},
			matched: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Match(tt.req)
			assert.Equal(t, tt.matched, got.Matched)
			assert.Equal(t, tt.filterID, got.FilterID)
		})
	}
}

func TestEngine_MatchConcurrent(t *testing.T) {
	e := loadSample(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got := e.Match(Request{SourceURL: pageURL, URL: "https://tracker.test/p", Kind: KindImage})
				assert.True(t, got.Matched)
			}
		}()
	}
	wg.Wait()
}

func TestParse_RejectsEmptyRuleSet(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"comments only", "! Title: nothing\n! more\n"},
		{"cosmetic only", "[Adblock Plus 2.0]\nshop.test##.ad\n##.banner\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("inline", tt.text)
			require.Error(t, err)
			assert.True(t, IsLoadError(err))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.True(t, IsLoadError(err))

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "read failed", le.Reason)
	assert.NotNil(t, le.Unwrap())
}

func TestKindFromCDP(t *testing.T) {
	tests := []struct {
		in   network.ResourceType
		want ResourceKind
	}{
		{network.ResourceTypeDocument, KindMainFrame},
		{network.ResourceTypeEventSource, KindOther},
		{network.ResourceTypeFetch, KindXHR},
		{network.ResourceTypeFont, KindFont},
		{network.ResourceTypeImage, KindImage},
		{network.ResourceTypeManifest, KindOther},
		{network.ResourceTypeMedia, KindMedia},
		{network.ResourceTypeOther, KindOther},
		{network.ResourceTypeScript, KindScript},
		{network.ResourceTypeStylesheet, KindStylesheet},
		{network.ResourceTypeTextTrack, KindOther},
		{network.ResourceTypeWebSocket, KindWebSocket},
		{network.ResourceTypeXHR, KindXHR},
		{network.ResourceTypePing, KindPing},
		{network.ResourceType("SomethingNew"), KindOther},
		{network.ResourceType(""), KindOther},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, KindFromCDP(tt.in))
		})
	}
}

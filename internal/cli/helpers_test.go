package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wec/internal/collector"
	"github.com/roach88/wec/internal/testutil"
)

const sampleList = `! test list
||tracker.test^
@@||tracker.test/consent-check^
`

const shopURL = "https://shop.test/"

// fakeSession plays one page load: a document with a Set-Cookie header, one
// tracker request and one document.cookie write.
type fakeSession struct {
	listeners []func(ev any)
	binding   func(string)
	navErr    error
}

func (s *fakeSession) Listen(h func(ev any)) { s.listeners = append(s.listeners, h) }

func (s *fakeSession) Install(_ context.Context, _ string, onBinding func(string)) error {
	s.binding = onBinding
	return nil
}

func (s *fakeSession) Navigate(context.Context, string) error {
	if s.navErr != nil {
		return s.navErr
	}
	events := []any{
		&network.EventRequestWillBeSent{
			RequestID:   "1",
			DocumentURL: shopURL,
			Request:     &network.Request{URL: shopURL, Method: "GET"},
			Type:        network.ResourceTypeDocument,
		},
		&network.EventResponseReceived{
			RequestID: "1",
			Response:  &network.Response{URL: shopURL, Status: 200, Headers: network.Headers{"set-cookie": "sid=1; HttpOnly"}},
		},
		&network.EventLoadingFinished{RequestID: "1"},
		&network.EventRequestWillBeSent{
			RequestID:   "2",
			DocumentURL: shopURL,
			Request:     &network.Request{URL: "https://tracker.test/p.gif", Method: "GET"},
			Type:        network.ResourceTypeImage,
		},
		&network.EventLoadingFinished{RequestID: "2"},
	}
	for _, ev := range events {
		for _, l := range s.listeners {
			l(ev)
		}
	}
	report, _ := json.Marshal(map[string]any{
		"kind":    "Cookie.JS",
		"stack":   "Error\n    at report (__wec_monitor__.js:1:1)\n    at setConsent (https://shop.test/app.js:3:9)",
		"payload": "consent=yes",
	})
	s.binding(string(report))
	return nil
}

func (s *fakeSession) Snapshot(context.Context) (collector.Snapshot, error) {
	return collector.Snapshot{
		URL:     shopURL,
		Title:   "Shop",
		HTML:    `<html><body><a href="https://partner.test/">Partner</a></body></html>`,
		Cookies: []collector.Cookie{{Name: "sid", Value: "1", Domain: "shop.test", Path: "/", HTTPOnly: true}},
	}, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeLauncher struct{ session *fakeSession }

func (l fakeLauncher) Launch(context.Context) (collector.Session, error) { return l.session, nil }

// testEnv is a working directory with a filter list and a fast profile.
type testEnv struct {
	dir     string
	list    string
	profile string
	db      string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:     dir,
		list:    filepath.Join(dir, "list.txt"),
		profile: filepath.Join(dir, "profile.yaml"),
		db:      filepath.Join(dir, "runs.db"),
	}
	require.NoError(t, os.WriteFile(env.list, []byte(sampleList), 0o644))
	profile := "network:\n  quiet: 10ms\n  pageTimeout: 5s\nfilter:\n  list: " + env.list + "\n"
	require.NoError(t, os.WriteFile(env.profile, []byte(profile), 0o644))
	return env
}

func testRootOptions(sess *fakeSession) *RootOptions {
	return &RootOptions{
		Launcher: fakeLauncher{session: sess},
		RunIDs:   testutil.NewSequentialRunIDs("run"),
		Clock:    testutil.NewStepClock(testutil.Epoch, time.Millisecond).Now,
	}
}

// execute runs the CLI with args and returns stdout, stderr and the error.
func execute(t *testing.T, opts *RootOptions, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(opts)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

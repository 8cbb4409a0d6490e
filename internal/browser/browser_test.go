package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wec/internal/monitor"
)

func TestParseArg(t *testing.T) {
	tests := []struct {
		in    string
		name  string
		value any
	}{
		{"--no-sandbox", "no-sandbox", true},
		{"--proxy-server=http://127.0.0.1:8080", "proxy-server", "http://127.0.0.1:8080"},
		{"  --lang=de ", "lang", "de"},
		{"disable-gpu", "disable-gpu", true},
		{"--", "", nil},
		{"", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, value := parseArg(tt.in)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.value, value)
		})
	}
}

func TestAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions) + 1

	assert.Len(t, allocatorOptions(Options{Headless: true}), base)

	full := allocatorOptions(Options{
		Headless:     false,
		ExecPath:     "/usr/bin/chromium",
		UserAgent:    "wec-test",
		WindowWidth:  1280,
		WindowHeight: 800,
		Lang:         "de",
		Args:         []string{"--no-sandbox", "--"},
	})
	assert.Len(t, full, base+5, "the empty switch is skipped")
}

func TestConvertCookies(t *testing.T) {
	in := []*network.Cookie{
		{
			Name:     "sid",
			Value:    "abc",
			Domain:   ".shop.test",
			Path:     "/",
			Expires:  1709294400.5,
			HTTPOnly: true,
			Secure:   true,
			SameSite: network.CookieSameSiteLax,
		},
		{Name: "tmp", Value: "1", Domain: "shop.test", Path: "/", Expires: -1, Session: true},
		nil,
	}

	out := convertCookies(in)
	require.Len(t, out, 2)

	assert.Equal(t, "sid", out[0].Name)
	assert.Equal(t, "Lax", out[0].SameSite)
	assert.True(t, out[0].HTTPOnly)
	assert.Equal(t, time.Unix(1709294400, 500_000_000).UTC(), out[0].Expires)

	assert.True(t, out[1].Session)
	assert.True(t, out[1].Expires.IsZero())
	assert.Equal(t, "", out[1].SameSite)
}

func TestSession_Dispatch(t *testing.T) {
	s := &Session{}

	var events []any
	var payloads []string
	s.Listen(func(ev any) { events = append(events, ev) })
	s.onBinding = func(p string) { payloads = append(payloads, p) }

	s.dispatch(&runtime.EventBindingCalled{Name: monitor.BindingName, Payload: `{"kind":"Cookie.JS"}`})
	s.dispatch(&runtime.EventBindingCalled{Name: "somethingElse", Payload: "x"})
	s.dispatch(&network.EventLoadingFinished{RequestID: "1"})

	assert.Equal(t, []string{`{"kind":"Cookie.JS"}`}, payloads)
	require.Len(t, events, 1, "binding calls are not forwarded to listeners")
	assert.IsType(t, &network.EventLoadingFinished{}, events[0])
}

package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	cdpnetwork "github.com/chromedp/cdproto/network"

	"github.com/roach88/wec/internal/bridge"
	"github.com/roach88/wec/internal/evidence"
	"github.com/roach88/wec/internal/network"
	"github.com/roach88/wec/internal/testutil"
	"github.com/roach88/wec/internal/tracker"
)

// ClockStep is how far the receipt clock advances per observation.
const ClockStep = time.Millisecond

// Result is the outcome of one scenario.
type Result struct {
	Pass    bool
	Events  []evidence.Event
	Digest  string
	Bridge  bridge.Stats
	Network network.Stats
	Errors  []string
}

// AddError records a failed assertion and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// noTracking is the matcher of scenarios without filter rules.
type noTracking struct{}

func (noTracking) Match(tracker.Request) tracker.Result { return tracker.Result{} }

// Run replays a scenario and evaluates its assertions.
//
// Each scenario gets a fresh log, correlator and observer. The correlator's
// consumer runs on its own goroutine as it does in a real collection; Close
// waits for it to drain before the log is read.
func Run(scenario *Scenario) (*Result, error) {
	var matcher tracker.Matcher = noTracking{}
	if scenario.FilterRules != "" {
		eng, err := tracker.Parse(scenario.Name, scenario.FilterRules)
		if err != nil {
			return nil, fmt.Errorf("failed to compile filter rules: %w", err)
		}
		matcher = eng
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewStepClock(testutil.Epoch, ClockStep)

	log, writer := evidence.NewLog()
	opts := []bridge.Option{bridge.WithClock(clock.Now), bridge.WithLogger(logger)}
	if scenario.FilterListName != "" {
		opts = append(opts, bridge.WithFilterListName(scenario.FilterListName))
	}
	corr := bridge.New(writer, opts...)
	observer := network.NewObserver(matcher, corr, network.WithLogger(logger))

	done := make(chan error, 1)
	go func() { done <- corr.Run(context.Background()) }()

	for i, step := range scenario.Steps {
		if err := replay(step, corr, observer); err != nil {
			corr.Close()
			<-done
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	corr.Close()
	if err := <-done; err != nil {
		return nil, fmt.Errorf("correlator: %w", err)
	}

	result := &Result{
		Pass:    true,
		Events:  log.Events(),
		Bridge:  corr.Stats(),
		Network: observer.Stats(),
	}
	digest, err := evidence.Digest(result.Events)
	if err != nil {
		return nil, fmt.Errorf("digest: %w", err)
	}
	result.Digest = digest

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func replay(step Step, corr *bridge.Correlator, observer *network.Observer) error {
	switch {
	case step.Page != nil:
		payload, err := encodePageReport(step.Page)
		if err != nil {
			return err
		}
		corr.HandleBinding(payload)

	case step.Binding != nil:
		corr.HandleBinding(*step.Binding)

	case step.Request != nil:
		r := step.Request
		typ := r.Type
		if typ == "" {
			typ = string(cdpnetwork.ResourceTypeOther)
		}
		ev := &cdpnetwork.EventRequestWillBeSent{
			RequestID:   cdpnetwork.RequestID(r.ID),
			DocumentURL: r.Document,
			Request:     &cdpnetwork.Request{URL: r.URL, Method: "GET"},
			Type:        cdpnetwork.ResourceType(typ),
		}
		if r.RedirectFrom != nil {
			ev.RedirectResponse = response(r.RedirectFrom)
		}
		observer.HandleEvent(ev)

	case step.Response != nil:
		observer.HandleEvent(&cdpnetwork.EventResponseReceived{
			RequestID: cdpnetwork.RequestID(step.Response.ID),
			Response:  response(step.Response),
		})

	case step.ExtraInfo != nil:
		observer.HandleEvent(&cdpnetwork.EventResponseReceivedExtraInfo{
			RequestID: cdpnetwork.RequestID(step.ExtraInfo.ID),
			Headers:   setCookieHeaders(step.ExtraInfo.SetCookie),
		})

	case step.Finished != "":
		observer.HandleEvent(&cdpnetwork.EventLoadingFinished{RequestID: cdpnetwork.RequestID(step.Finished)})

	default:
		return fmt.Errorf("empty step")
	}
	return nil
}

// encodePageReport renders a report the way the monitor script sends it.
func encodePageReport(p *PageReport) (string, error) {
	msg := struct {
		Kind    string  `json:"kind"`
		Stack   *string `json:"stack"`
		Payload any     `json:"payload"`
	}{Kind: p.Kind, Stack: p.Stack, Payload: p.Payload}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode page report: %w", err)
	}
	return string(data), nil
}

func response(r *ResponseStep) *cdpnetwork.Response {
	status := r.Status
	if status == 0 {
		status = 200
	}
	return &cdpnetwork.Response{
		URL:     r.URL,
		Status:  status,
		Headers: setCookieHeaders(r.SetCookie),
	}
}

func setCookieHeaders(setCookie string) cdpnetwork.Headers {
	if setCookie == "" {
		return cdpnetwork.Headers{}
	}
	return cdpnetwork.Headers{"Set-Cookie": setCookie}
}

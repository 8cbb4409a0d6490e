// Package stack turns a JavaScript Error.stack string into provenance frames.
//
// The monitor script ships the raw stack text across the page binding and all
// parsing happens here, so the in-page footprint stays small and a malformed
// stack can only ever cost the event its provenance, never the event itself.
package stack

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/wec/internal/evidence"
)

// MaxFrames is how many frames of the caller's stack are kept.
const MaxFrames = 2

// frameRe matches one V8-style frame line after the leading "at ":
//
//	fn (file:line:col)
//	file:line:col
//	fn (file:line:col(pc))      goja appends the program counter
var frameRe = regexp.MustCompile(`^(?:(.+?) \()?(.+?):(\d+):(\d+)(?:\(\d+\))?\)?$`)

// Parse extracts frames from a stack string, innermost first.
//
// Lines that are not frames (the "Error" header, "at native" and the like)
// are skipped. Frames whose file equals any of skipFiles are dropped, which is
// how the instrumentation hides its own wrapper frames.
func Parse(raw string, skipFiles ...string) []evidence.Frame {
	frames := make([]evidence.Frame, 0, 4)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "at ") {
			continue
		}
		f, ok := parseFrame(strings.TrimPrefix(line, "at "))
		if !ok || skipped(f.FileName, skipFiles) {
			continue
		}
		frames = append(frames, f)
	}
	return frames
}

// Provenance builds the provenance of a page event from its raw stack.
//
// A nil stack, or one with no frames left after filtering, yields the
// unavailable marker. Otherwise at most MaxFrames frames are kept.
func Provenance(raw *string, skipFiles ...string) evidence.Provenance {
	if raw == nil {
		return evidence.UnavailableProvenance()
	}
	frames := Parse(*raw, skipFiles...)
	if len(frames) == 0 {
		return evidence.UnavailableProvenance()
	}
	if len(frames) > MaxFrames {
		frames = frames[:MaxFrames]
	}
	return evidence.Provenance{Frames: frames}
}

func parseFrame(s string) (evidence.Frame, bool) {
	m := frameRe.FindStringSubmatch(s)
	if m == nil {
		return evidence.Frame{}, false
	}
	line, err := strconv.Atoi(m[3])
	if err != nil {
		return evidence.Frame{}, false
	}
	col, err := strconv.Atoi(m[4])
	if err != nil {
		return evidence.Frame{}, false
	}

	file := m[2]
	// "at async fn (file)" and "at new Foo (file)" keep the bare name.
	fn := strings.TrimPrefix(strings.TrimPrefix(m[1], "async "), "new ")
	return evidence.Frame{
		FunctionName: fn,
		FileName:     file,
		LineNumber:   line,
		ColumnNumber: col,
		Source:       s,
	}, true
}

func skipped(file string, skipFiles []string) bool {
	for _, s := range skipFiles {
		if file == s {
			return true
		}
	}
	return false
}

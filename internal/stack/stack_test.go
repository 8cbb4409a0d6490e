package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wec/internal/evidence"
)

const monitorFile = "__wec_monitor__.js"

func strp(s string) *string { return &s }

func TestParse_V8Stack(t *testing.T) {
	raw := "Error\n" +
		"    at Object.set [as cookie] (__wec_monitor__.js:12:20)\n" +
		"    at setConsent (https://shop.test/js/consent.js:41:17)\n" +
		"    at HTMLButtonElement.<anonymous> (https://shop.test/js/consent.js:88:5)\n" +
		"    at https://shop.test/js/boot.js:3:1"

	frames := Parse(raw, monitorFile)
	require.Len(t, frames, 3)

	assert.Equal(t, evidence.Frame{
		FunctionName: "setConsent",
		FileName:     "https://shop.test/js/consent.js",
		LineNumber:   41,
		ColumnNumber: 17,
		Source:       "setConsent (https://shop.test/js/consent.js:41:17)",
	}, frames[0])
	assert.Equal(t, "HTMLButtonElement.<anonymous>", frames[1].FunctionName)
	assert.Equal(t, "", frames[2].FunctionName)
	assert.Equal(t, "https://shop.test/js/boot.js", frames[2].FileName)
	assert.Equal(t, 3, frames[2].LineNumber)
}

func TestParse_GojaStack(t *testing.T) {
	raw := "Error\n\tat report (__wec_monitor__.js:20:15(12))\n\tat setTheme (app.js:4:3(8))\n\tat app.js:9:1(20)\n"

	frames := Parse(raw, monitorFile)
	require.Len(t, frames, 2)
	assert.Equal(t, "setTheme", frames[0].FunctionName)
	assert.Equal(t, "app.js", frames[0].FileName)
	assert.Equal(t, 4, frames[0].LineNumber)
	assert.Equal(t, 3, frames[0].ColumnNumber)
	assert.Equal(t, "app.js", frames[1].FileName)
	assert.Equal(t, 9, frames[1].LineNumber)
}

func TestParse_PortInURL(t *testing.T) {
	frames := Parse("at load (http://localhost:8080/a.js:7:2)")
	require.Len(t, frames, 1)
	assert.Equal(t, "http://localhost:8080/a.js", frames[0].FileName)
	assert.Equal(t, 7, frames[0].LineNumber)
	assert.Equal(t, 2, frames[0].ColumnNumber)
}

func TestParse_SkipsNonFrames(t *testing.T) {
	raw := "TypeError: boom\n    at native\n    at <anonymous>\n    not a frame"
	assert.Empty(t, Parse(raw))
}

func TestParse_AsyncAndConstructor(t *testing.T) {
	raw := "at async loadUser (https://a.test/u.js:1:2)\nat new Tracker (https://a.test/t.js:3:4)"
	frames := Parse(raw)
	require.Len(t, frames, 2)
	assert.Equal(t, "loadUser", frames[0].FunctionName)
	assert.Equal(t, "Tracker", frames[1].FunctionName)
}

func TestProvenance_TruncatesToTwoFrames(t *testing.T) {
	raw := "Error\n at a (x.js:1:1)\n at b (y.js:2:2)\n at c (z.js:3:3)"
	p := Provenance(strp(raw))

	assert.False(t, p.Unavailable)
	require.Len(t, p.Frames, MaxFrames)
	assert.Equal(t, "a", p.Frames[0].FunctionName)
	assert.Equal(t, "b", p.Frames[1].FunctionName)
}

func TestProvenance_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		raw  *string
	}{
		{"nil stack", nil},
		{"empty stack", strp("")},
		{"only instrumentation frames", strp("Error\n at set (__wec_monitor__.js:1:1)")},
		{"garbage", strp("undefined")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Provenance(tt.raw, monitorFile)
			assert.True(t, p.Unavailable)
			assert.Empty(t, p.Frames)
		})
	}
}

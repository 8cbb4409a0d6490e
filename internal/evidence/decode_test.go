package evidence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStorageValue(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		opaque  bool
		decoded any
	}{
		{"object", `{"visits":3}`, false, map[string]any{"visits": float64(3)}},
		{"array", `[1,"x"]`, false, []any{float64(1), "x"}},
		{"number", `42`, false, float64(42)},
		{"quoted string", `"hello"`, false, "hello"},
		{"boolean", `true`, false, true},
		{"null", `null`, false, nil},
		{"surrounding whitespace", "  {\"a\":1}\n", false, map[string]any{"a": float64(1)}},
		{"plain text", `hello`, true, nil},
		{"truncated object", `{"a":`, true, nil},
		{"trailing garbage", `{} x`, true, nil},
		{"two values", `1 2`, true, nil},
		{"stray close", `{}}`, true, nil},
		{"empty", ``, true, nil},
		{"blank", `   `, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := DecodeStorageValue(tt.raw)
			assert.Equal(t, tt.raw, v.Raw, "raw is always preserved")
			assert.Equal(t, tt.opaque, v.Opaque)
			if tt.opaque {
				assert.Equal(t, tt.raw, v.Value())
			} else {
				assert.Equal(t, tt.decoded, v.Value())
			}
		})
	}
}

func TestStoragePayload_MarshalJSON(t *testing.T) {
	p := StoragePayload{
		"prefs": DecodeStorageValue(`{"theme":"dark"}`),
		"token": DecodeStorageValue(`abc123`),
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prefs":{"theme":"dark"},"token":"abc123"}`, string(data))
}

package evidence

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// DecodeStorageValue attempts a structured (JSON) decode of a stored string.
// It never fails: input that is not a single well-formed JSON value comes back
// as an opaque StorageValue holding the raw string.
func DecodeStorageValue(raw string) StorageValue {
	if strings.TrimSpace(raw) == "" {
		return StorageValue{Raw: raw, Opaque: true}
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	var v any
	if err := dec.Decode(&v); err != nil {
		return StorageValue{Raw: raw, Opaque: true}
	}
	// Trailing content ("1 2", "{} x") means it was not one JSON value.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return StorageValue{Raw: raw, Opaque: true}
	}
	return StorageValue{Raw: raw, Decoded: v}
}

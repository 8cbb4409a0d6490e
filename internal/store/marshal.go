package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/roach88/wec/internal/evidence"
)

// timeLayout is how timestamps are stored. Fixed width keeps TEXT ordering
// chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// canonical marshals v to RFC 8785 canonical JSON TEXT.
func canonical(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	out, err := jcs.Transform(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// marshalProvenance converts provenance to canonical JSON TEXT.
func marshalProvenance(p evidence.Provenance) (string, error) {
	if p.Frames == nil {
		p.Frames = []evidence.Frame{}
	}
	s, err := canonical(p)
	if err != nil {
		return "", fmt.Errorf("marshal provenance: %w", err)
	}
	return s, nil
}

func unmarshalProvenance(data string) (evidence.Provenance, error) {
	var p evidence.Provenance
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return evidence.Provenance{}, fmt.Errorf("unmarshal provenance: %w", err)
	}
	if p.Frames == nil {
		p.Frames = []evidence.Frame{}
	}
	return p, nil
}

// marshalPayload converts a parsed payload to canonical JSON TEXT.
//
// Storage payloads are stored as key -> raw string rather than their decoded
// form: decoding is deterministic, so the raw string is the lossless record.
func marshalPayload(e evidence.Event) (string, error) {
	var v any
	switch p := e.ParsedPayload.(type) {
	case evidence.StoragePayload:
		raw := make(map[string]string, len(p))
		for k, sv := range p {
			raw[k] = sv.Raw
		}
		v = raw
	case nil:
		return "", fmt.Errorf("marshal payload: %s event without payload", e.Kind)
	default:
		v = p
	}
	s, err := canonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return s, nil
}

// unmarshalPayload rebuilds the typed payload of an event of kind.
func unmarshalPayload(kind evidence.Kind, data string) (evidence.Payload, error) {
	switch kind {
	case evidence.KindCookieJS, evidence.KindCookieHTTP:
		var p evidence.CookiePayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("unmarshal cookie payload: %w", err)
		}
		return p, nil

	case evidence.KindStorageLocalStorage:
		var raw map[string]string
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			return nil, fmt.Errorf("unmarshal storage payload: %w", err)
		}
		p := make(evidence.StoragePayload, len(raw))
		for k, v := range raw {
			p[k] = evidence.DecodeStorageValue(v)
		}
		return p, nil

	case evidence.KindRequestTracking:
		var p evidence.TrackingPayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("unmarshal tracking payload: %w", err)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unmarshal payload: unknown kind %q", kind)
	}
}

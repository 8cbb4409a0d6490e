package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Digest returns a content hash of events: SHA-256 over the RFC 8785
// canonical JSON of the slice, hex encoded.
//
// Two logs with the same events in the same order always share a digest,
// independent of map iteration order or encoder whitespace.
func Digest(events []Event) (string, error) {
	if events == nil {
		events = []Event{}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshal events: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize events: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Digest returns the content hash of the log's current events.
func (l *Log) Digest() (string, error) {
	return Digest(l.Events())
}

package memstate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"snapfeed/pkg/feed"
)

// EncodeSnapshot renders a snapshot document for the given version and typed
// record sets. Used by publishers and tests.
func EncodeSnapshot(version feed.Version, types map[string][]Record) ([]byte, error) {
	if version == feed.VersionNone {
		return nil, fmt.Errorf("snapshot requires a version")
	}
	doc := snapshotDoc{Version: version, Types: types}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeDelta renders a forward delta document between two adjacent versions.
func EncodeDelta(from, to feed.Version, changes map[string]Change) ([]byte, error) {
	if to <= from {
		return nil, fmt.Errorf("delta %d->%d does not move forward", from, to)
	}
	return encodeTransition(from, to, changes)
}

// EncodeReverseDelta renders a backward delta document between two adjacent
// versions.
func EncodeReverseDelta(from, to feed.Version, changes map[string]Change) ([]byte, error) {
	if to >= from {
		return nil, fmt.Errorf("reverse delta %d->%d does not move backward", from, to)
	}
	return encodeTransition(from, to, changes)
}

func encodeTransition(from, to feed.Version, changes map[string]Change) ([]byte, error) {
	doc := deltaDoc{From: from, To: to, Changes: changes}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode delta: %w", err)
	}
	return buf.Bytes(), nil
}

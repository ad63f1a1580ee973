// Package memstate is the default in-memory state engine for the feed
// client: typed record sets keyed by a pluggable record hash, populated from
// JSON snapshot and delta documents.
package memstate

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"snapfeed/pkg/feed"
)

// Record is one dataset row within a typed record set.
type Record struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields,omitempty"`
}

// snapshotDoc is the wire form of a full dataset state.
type snapshotDoc struct {
	Version feed.Version        `json:"version"`
	Types   map[string][]Record `json:"types"`
}

// Change lists the per-type mutations of a delta document.
type Change struct {
	Upserts []Record `json:"upserts,omitempty"`
	Removes []string `json:"removes,omitempty"`
}

// deltaDoc is the wire form of an incremental transition between two
// adjacent versions. Reverse deltas share the shape with To < From.
type deltaDoc struct {
	From    feed.Version      `json:"from"`
	To      feed.Version      `json:"to"`
	Changes map[string]Change `json:"changes"`
}

// Engine implements feed.StateEngine over per-type record maps. The live
// instance is read-only by contract; the refresh engine mutates copies.
type Engine struct {
	mu      sync.RWMutex
	version feed.Version
	types   map[string]map[uint64]Record
	hasher  Hasher
}

// New returns an empty engine using the default record hasher.
func New() *Engine { return NewWithHasher(DefaultHasher()) }

// NewWithHasher returns an empty engine with a custom record hashing
// strategy.
func NewWithHasher(h Hasher) *Engine {
	return &Engine{types: make(map[string]map[uint64]Record), hasher: h}
}

// NewState adapts New to the constructor shape feed.Config expects.
func NewState() feed.StateEngine { return New() }

// Version returns the version of the held dataset state.
func (e *Engine) Version() feed.Version {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Load fully repopulates the engine from a snapshot document. The filter
// drops excluded types and fields before anything becomes visible. On error
// the previously held state is unchanged.
func (e *Engine) Load(r io.Reader, filter feed.FilterSpec) error {
	var doc snapshotDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Version == feed.VersionNone {
		return fmt.Errorf("snapshot missing version")
	}
	next := make(map[string]map[uint64]Record, len(doc.Types))
	for typeName, records := range doc.Types {
		if filter.ExcludesType(typeName) {
			continue
		}
		set := make(map[uint64]Record, len(records))
		for _, rec := range records {
			set[e.hasher.Hash(typeName, rec.Key)] = filterRecord(typeName, rec, filter)
		}
		next[typeName] = set
	}
	e.mu.Lock()
	e.version = doc.Version
	e.types = next
	e.mu.Unlock()
	return nil
}

// ApplyDelta mutates the engine forward between two adjacent versions. The
// document is fully decoded and validated before any mutation, so a failure
// leaves the visible version untouched.
func (e *Engine) ApplyDelta(r io.Reader, filter feed.FilterSpec) error {
	return e.applyTransition(r, filter, false)
}

// ApplyReverseDelta mutates the engine backward between two adjacent
// versions, with the same atomicity guarantee as ApplyDelta.
func (e *Engine) ApplyReverseDelta(r io.Reader, filter feed.FilterSpec) error {
	return e.applyTransition(r, filter, true)
}

func (e *Engine) applyTransition(r io.Reader, filter feed.FilterSpec, reverse bool) error {
	var doc deltaDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("decode delta: %w", err)
	}
	if reverse {
		if doc.To >= doc.From {
			return fmt.Errorf("reverse delta %d->%d does not move backward", doc.From, doc.To)
		}
	} else if doc.To <= doc.From {
		return fmt.Errorf("delta %d->%d does not move forward", doc.From, doc.To)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if doc.From != e.version {
		return fmt.Errorf("delta starts at %d but engine holds %d", doc.From, e.version)
	}
	for typeName, change := range doc.Changes {
		if filter.ExcludesType(typeName) {
			continue
		}
		set, ok := e.types[typeName]
		if !ok {
			set = make(map[uint64]Record)
			e.types[typeName] = set
		}
		for _, rec := range change.Upserts {
			set[e.hasher.Hash(typeName, rec.Key)] = filterRecord(typeName, rec, filter)
		}
		for _, key := range change.Removes {
			delete(set, e.hasher.Hash(typeName, key))
		}
	}
	e.version = doc.To
	return nil
}

// Copy returns an independent deep copy, used to seed a staging state.
func (e *Engine) Copy() feed.StateEngine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	dup := &Engine{
		version: e.version,
		types:   make(map[string]map[uint64]Record, len(e.types)),
		hasher:  e.hasher,
	}
	for typeName, set := range e.types {
		dupSet := make(map[uint64]Record, len(set))
		for h, rec := range set {
			if len(rec.Fields) > 0 {
				fields := make(map[string]any, len(rec.Fields))
				for k, v := range rec.Fields {
					fields[k] = v
				}
				rec.Fields = fields
			}
			dupSet[h] = rec
		}
		dup.types[typeName] = dupSet
	}
	return dup
}

// Get returns the record of the given type and key.
func (e *Engine) Get(typeName, key string) (Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.types[typeName][e.hasher.Hash(typeName, key)]
	return rec, ok
}

// Count returns the number of records held for the type.
func (e *Engine) Count(typeName string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.types[typeName])
}

// Types returns the names of all held record types.
func (e *Engine) Types() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.types))
	for name := range e.types {
		out = append(out, name)
	}
	return out
}

// filterRecord strips excluded fields from a record before it is stored.
func filterRecord(typeName string, rec Record, filter feed.FilterSpec) Record {
	if len(filter.Fields[typeName]) == 0 || len(rec.Fields) == 0 {
		return rec
	}
	fields := make(map[string]any, len(rec.Fields))
	for name, v := range rec.Fields {
		if filter.ExcludesField(typeName, name) {
			continue
		}
		fields[name] = v
	}
	rec.Fields = fields
	return rec
}

// Package transitions maps the refresh engine's blob capabilities onto a
// driver-neutral blob store. Snapshot blobs are keyed by their version, delta
// and reverse delta blobs by their departing version, with the destination
// carried in blob metadata. That metadata is what makes the transition graph
// discoverable with Head calls alone.
package transitions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"snapfeed/internal/blob/core"
	"snapfeed/pkg/feed"
)

const (
	snapshotPrefix = "snapshot/"
	deltaPrefix    = "delta/"
	reversePrefix  = "reversedelta/"
	announcePrefix = "announce/"

	// metaTo is the blob metadata key carrying a transition's destination.
	metaTo = "to"
)

// Retriever resolves transition blobs and the transition graph from a blob
// store. It implements feed.BlobRetriever and feed.TransitionGraph.
type Retriever struct {
	store core.Store
}

// NewRetriever returns a retriever reading from the supplied store.
func NewRetriever(store core.Store) *Retriever { return &Retriever{store: store} }

// FetchSnapshot streams the snapshot blob for the version.
func (r *Retriever) FetchSnapshot(ctx context.Context, to feed.Version) (io.ReadCloser, error) {
	_, rc, err := r.store.Get(ctx, snapshotKey(to))
	return rc, err
}

// FetchDelta streams the delta blob departing from. The blob's recorded
// destination must match to; a mismatch means the published graph and the
// plan disagree.
func (r *Retriever) FetchDelta(ctx context.Context, from, to feed.Version) (io.ReadCloser, error) {
	return r.fetchTransition(ctx, deltaKey(from), from, to)
}

// FetchReverseDelta streams the reverse delta blob departing from.
func (r *Retriever) FetchReverseDelta(ctx context.Context, from, to feed.Version) (io.ReadCloser, error) {
	return r.fetchTransition(ctx, reverseKey(from), from, to)
}

func (r *Retriever) fetchTransition(ctx context.Context, key string, from, to feed.Version) (io.ReadCloser, error) {
	info, rc, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	got, err := versionMeta(info)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("transition %s: %w", key, err)
	}
	if got != to {
		_ = rc.Close()
		return nil, fmt.Errorf("transition %s leads to %d, plan expects %d", key, got, to)
	}
	return rc, nil
}

// NextVersion returns the destination of the delta departing from, or false
// when no forward transition is published.
func (r *Retriever) NextVersion(ctx context.Context, from feed.Version) (feed.Version, bool, error) {
	return r.peek(ctx, deltaKey(from))
}

// PrevVersion returns the destination of the reverse delta departing from,
// or false when no backward transition is published.
func (r *Retriever) PrevVersion(ctx context.Context, from feed.Version) (feed.Version, bool, error) {
	return r.peek(ctx, reverseKey(from))
}

func (r *Retriever) peek(ctx context.Context, key string) (feed.Version, bool, error) {
	info, err := r.store.Head(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return feed.VersionNone, false, nil
	}
	if err != nil {
		return feed.VersionNone, false, err
	}
	to, err := versionMeta(info)
	if err != nil {
		return feed.VersionNone, false, fmt.Errorf("transition %s: %w", key, err)
	}
	return to, true, nil
}

// LatestAnnounced returns the highest announced version, or VersionNone when
// nothing has been announced yet. Announcements are immutable blobs whose
// keys order by version.
func (r *Retriever) LatestAnnounced(ctx context.Context) (feed.Version, error) {
	infos, err := r.store.List(ctx, announcePrefix)
	if err != nil {
		return feed.VersionNone, err
	}
	if len(infos) == 0 {
		return feed.VersionNone, nil
	}
	return parseVersionKey(infos[len(infos)-1].Key, announcePrefix)
}

func versionMeta(info core.Info) (feed.Version, error) {
	raw, ok := info.Metadata[metaTo]
	if !ok {
		return feed.VersionNone, fmt.Errorf("missing %q metadata", metaTo)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return feed.VersionNone, fmt.Errorf("bad %q metadata %q", metaTo, raw)
	}
	return feed.Version(n), nil
}

func parseVersionKey(key, prefix string) (feed.Version, error) {
	n, err := strconv.ParseInt(key[len(prefix):], 10, 64)
	if err != nil {
		return feed.VersionNone, fmt.Errorf("bad version key %q", key)
	}
	return feed.Version(n), nil
}

// Zero-padded keys keep lexicographic and numeric ordering aligned for List.
func snapshotKey(to feed.Version) string     { return fmt.Sprintf("%s%020d", snapshotPrefix, to) }
func deltaKey(from feed.Version) string      { return fmt.Sprintf("%s%020d", deltaPrefix, from) }
func reverseKey(from feed.Version) string    { return fmt.Sprintf("%s%020d", reversePrefix, from) }
func announceKey(v feed.Version) string      { return fmt.Sprintf("%s%020d", announcePrefix, v) }

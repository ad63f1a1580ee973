package transitions

import (
	"context"
	"fmt"
	"io"

	"snapfeed/internal/blob/core"
	"snapfeed/pkg/feed"
)

const blobContentType = "application/json"

// Publisher writes transition blobs and announcements with the key scheme
// the Retriever reads. Used by tests and the CLI's seed mode; real dataset
// production lives outside this module.
type Publisher struct {
	store core.Store
}

// NewPublisher returns a publisher writing to the supplied store.
func NewPublisher(store core.Store) *Publisher { return &Publisher{store: store} }

// PublishSnapshot stores a snapshot blob for the version.
func (p *Publisher) PublishSnapshot(ctx context.Context, to feed.Version, r io.Reader) error {
	if to == feed.VersionNone {
		return fmt.Errorf("snapshot requires a version")
	}
	opts := core.PutOptions{ContentType: blobContentType, Metadata: map[string]string{metaTo: fmt.Sprintf("%d", to)}}
	_, err := p.store.Put(ctx, snapshotKey(to), r, opts)
	return err
}

// PublishDelta stores the forward delta departing from.
func (p *Publisher) PublishDelta(ctx context.Context, from, to feed.Version, r io.Reader) error {
	if to <= from {
		return fmt.Errorf("delta %d->%d does not move forward", from, to)
	}
	opts := core.PutOptions{ContentType: blobContentType, Metadata: map[string]string{metaTo: fmt.Sprintf("%d", to)}}
	_, err := p.store.Put(ctx, deltaKey(from), r, opts)
	return err
}

// PublishReverseDelta stores the backward delta departing from.
func (p *Publisher) PublishReverseDelta(ctx context.Context, from, to feed.Version, r io.Reader) error {
	if to >= from {
		return fmt.Errorf("reverse delta %d->%d does not move backward", from, to)
	}
	opts := core.PutOptions{ContentType: blobContentType, Metadata: map[string]string{metaTo: fmt.Sprintf("%d", to)}}
	_, err := p.store.Put(ctx, reverseKey(from), r, opts)
	return err
}

// Announce records that version is published. Announcements are create-only
// blobs, so re-announcing an existing version fails.
func (p *Publisher) Announce(ctx context.Context, v feed.Version) error {
	if v == feed.VersionNone {
		return fmt.Errorf("cannot announce the empty version")
	}
	_, err := p.store.Put(ctx, announceKey(v), nilReader{}, core.PutOptions{ContentType: blobContentType})
	return err
}

// nilReader is an empty body for marker blobs.
type nilReader struct{}

func (nilReader) Read([]byte) (int, error) { return 0, io.EOF }

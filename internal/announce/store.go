package announce

import (
	"context"
	"time"

	"snapfeed/internal/transitions"
	"snapfeed/pkg/feed"
)

// defaultPollInterval paces the blob-store watch loop.
const defaultPollInterval = 10 * time.Second

// StoreWatcher announces versions from the announcement blobs a publisher
// writes next to the transition data. It deliberately does not support
// pinning: the store is the source of truth.
type StoreWatcher struct {
	retriever *transitions.Retriever
	interval  time.Duration
}

// NewStoreWatcher returns a watcher polling the retriever's announcement
// prefix. A non-positive interval falls back to the default.
func NewStoreWatcher(retriever *transitions.Retriever, interval time.Duration) *StoreWatcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &StoreWatcher{retriever: retriever, interval: interval}
}

// Latest returns the highest announced version in the store.
func (w *StoreWatcher) Latest(ctx context.Context) (feed.Version, error) {
	return w.retriever.LatestAnnounced(ctx)
}

// Watch polls for announcements and invokes fn whenever the latest version
// advances, until ctx is done.
func (w *StoreWatcher) Watch(ctx context.Context, fn func(feed.Version)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	var last feed.Version
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v, err := w.retriever.LatestAnnounced(ctx)
			if err != nil || v == feed.VersionNone || v == last {
				continue
			}
			last = v
			fn(v)
		}
	}
}

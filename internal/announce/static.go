// Package announce provides version oracle implementations: in-process,
// blob-store polled, fsnotify-watched file, and SQL announcement logs.
package announce

import (
	"context"
	"sync"

	"snapfeed/pkg/feed"
)

// Static is an in-process announcer driven by explicit Announce calls. It
// supports pinning and watch subscriptions, making it the default choice for
// tests and embedded publishers.
type Static struct {
	mu     sync.Mutex
	latest feed.Version
	pinned feed.Version
	subs   []func(feed.Version)
}

// NewStatic returns a static announcer starting at v.
func NewStatic(v feed.Version) *Static { return &Static{latest: v} }

// Latest returns the pinned version when set, otherwise the last announced.
func (s *Static) Latest(context.Context) (feed.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned != feed.VersionNone {
		return s.pinned, nil
	}
	return s.latest, nil
}

// Announce publishes a new latest version and notifies watchers.
func (s *Static) Announce(v feed.Version) {
	s.mu.Lock()
	s.latest = v
	subs := append(make([]func(feed.Version), 0, len(s.subs)), s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(v)
	}
}

// Pin fixes the announced version at v; VersionNone clears the pin.
func (s *Static) Pin(v feed.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = v
	return nil
}

// Watch invokes fn for every announcement until ctx is done.
func (s *Static) Watch(ctx context.Context, fn func(feed.Version)) error {
	s.mu.Lock()
	s.subs = append(s.subs, func(v feed.Version) {
		if ctx.Err() == nil {
			fn(v)
		}
	})
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}
